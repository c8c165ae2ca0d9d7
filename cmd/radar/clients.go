package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/tools"
)

// gatewayClient talks to the LLM gateway over HTTP: POST /v1/complete with
// the request body, JSON response back.
type gatewayClient struct {
	baseURL string
	http    *http.Client
}

func newGatewayClient(baseURL string) *gatewayClient {
	return &gatewayClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *gatewayClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/complete", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", llm.ErrUnavailable, resp.StatusCode, data)
	}

	var out llm.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	return &out, nil
}

// toolHostClient invokes scrape tools over HTTP: POST /v1/invoke with
// {"tool": .., "arguments": ..}.
type toolHostClient struct {
	baseURL string
	http    *http.Client
}

func newToolHostClient(baseURL string) *toolHostClient {
	return &toolHostClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 90 * time.Second},
	}
}

type invokeRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

func (c *toolHostClient) Invoke(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
	body, err := json.Marshal(invokeRequest{Tool: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode invoke request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("invoke %s: status %d: %s", name, resp.StatusCode, data)
	}

	var out tools.Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode invoke response: %w", err)
	}
	return &out, nil
}
