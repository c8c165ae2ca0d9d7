// Package llm defines the boundary to the language-model gateway. The
// orchestrator only depends on this interface; the concrete transport lives
// outside the module.
package llm

import (
	"context"
	"errors"
)

// Capability selects a model tier rather than a concrete model, so the
// gateway can route by latency and cost.
type Capability string

const (
	CapabilityFast      Capability = "fast"      // classification, extraction
	CapabilityReasoning Capability = "reasoning" // judging, planning
	CapabilityCreative  Capability = "creative"  // query generation
)

// ErrUnavailable is returned when the gateway cannot serve the request at
// all, as opposed to a malformed response.
var ErrUnavailable = errors.New("llm gateway unavailable")

// Request is one completion call.
type Request struct {
	System     string
	Prompt     string
	Capability Capability
	MaxTokens  int
}

// Response carries the completion text and token accounting for cost guards.
type Response struct {
	Text       string
	TokensUsed int
	CostUSD    float64
}

// Client is implemented by the gateway adapter.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Func adapts a plain function to Client.
type Func func(ctx context.Context, req Request) (*Response, error)

// Complete implements Client.
func (f Func) Complete(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
