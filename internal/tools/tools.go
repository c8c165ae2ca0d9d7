// Package tools names the scrape-tool vocabulary and defines the invocation
// boundary. Concrete tool transports are provided by the host process.
package tools

import (
	"context"

	"github.com/trendradar/orchestrator/internal/models"
)

// Tool names. These are wire identifiers, shared with the tool host.
const (
	WebSearch       = "web_search"
	YouTubeSearch   = "youtube_search"
	BilibiliSearch  = "bilibili_search"
	YouTubeMonitor  = "youtube_monitor"
	BilibiliMonitor = "bilibili_monitor"
)

// Result is one tool execution outcome. Records carries the normalized
// content rows; Summary is a short human-readable digest for the scratchpad.
type Result struct {
	Status  string          `json:"status"` // success | error
	Records []models.Record `json:"records"`
	Summary string          `json:"summary,omitempty"`
	Err     string          `json:"error,omitempty"`
}

// OK reports whether the execution succeeded.
func (r *Result) OK() bool { return r != nil && r.Status == "success" }

// Invoker executes named tools. Implementations must honor ctx cancellation.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) (*Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, name string, args map[string]any) (*Result, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, name string, args map[string]any) (*Result, error) {
	return f(ctx, name, args)
}

// IsSearch reports whether the tool is a keyword-search tool, which gets the
// fast-path relevance check instead of the LLM judge.
func IsSearch(name string) bool {
	switch name {
	case WebSearch, YouTubeSearch, BilibiliSearch:
		return true
	}
	return false
}

// IsMonitor reports whether the tool watches a known author.
func IsMonitor(name string) bool {
	return name == YouTubeMonitor || name == BilibiliMonitor
}

// PlatformFor maps a tool to the platform it touches.
func PlatformFor(name string) models.Platform {
	switch name {
	case YouTubeSearch, YouTubeMonitor:
		return models.PlatformYouTube
	case BilibiliSearch, BilibiliMonitor:
		return models.PlatformBilibili
	case WebSearch:
		return models.PlatformWeb
	}
	return ""
}

// EngineFor maps a tool to the discovery engine it serves: monitors follow
// known authors, searches hunt broadly.
func EngineFor(name string) models.Engine {
	if IsMonitor(name) {
		return models.EngineMonitor
	}
	return models.EngineHunter
}

// DefaultParams returns the baseline arguments merged under explicit task
// arguments before invocation.
func DefaultParams(name string) map[string]any {
	switch name {
	case WebSearch:
		return map[string]any{"max_results": 10}
	case YouTubeSearch, BilibiliSearch:
		return map[string]any{"max_results": 20, "period_days": 60}
	case YouTubeMonitor, BilibiliMonitor:
		return map[string]any{"max_videos": 10, "days_back": 30}
	}
	return map[string]any{}
}

// MergeParams overlays task arguments on the tool defaults without mutating
// either map.
func MergeParams(name string, args map[string]any) map[string]any {
	merged := DefaultParams(name)
	for k, v := range args {
		merged[k] = v
	}
	return merged
}
