// Package quality judges tool executions and drives the retry feedback
// loop: a relevance fast path for search tools, an LLM judge for the rest,
// a per-task guard against runaway retries, and a controller that decides
// whether a failed verdict becomes a retry task.
package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/relevance"
	"github.com/trendradar/orchestrator/internal/tools"
)

const judgeSystemPrompt = `You are a quality judge for a content discovery pipeline.
Given a tool execution, decide whether its output serves the research topic.
Respond with JSON only:
{"passed": bool, "confidence": 0-1, "score": 0-1, "issues": [..], "root_cause": "..",
 "suggested_action": "continue|retry|adjust_params|change_strategy|skip",
 "adjustment_plan": {..}, "reasoning": ".."}`

// Gate evaluates one tool execution and produces a QualityVerdict.
type Gate struct {
	validator *relevance.Validator
	client    llm.Client
	logger    *zap.Logger
	now       func() time.Time
}

// NewGate creates a gate. A nil client forces the fail-open path for
// non-search tools.
func NewGate(validator *relevance.Validator, client llm.Client, logger *zap.Logger) *Gate {
	return &Gate{
		validator: validator,
		client:    client,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate judges one execution. Search tools take the deterministic
// relevance fast path and never reach the LLM; everything else is judged by
// the model, failing open to a pass when the gateway is unavailable.
func (g *Gate) Evaluate(ctx context.Context, topic, tool string, args map[string]any, records []models.Record) models.QualityVerdict {
	var verdict models.QualityVerdict
	if tools.IsSearch(tool) {
		verdict = g.evaluateSearch(tool, args, records)
	} else {
		verdict = g.evaluateWithJudge(ctx, topic, tool, args, records)
	}

	verdict.Tool = tool
	verdict.Args = args
	verdict.Timestamp = g.now()
	metrics.QualityVerdicts.WithLabelValues(
		fmt.Sprintf("%t", verdict.Passed), string(verdict.Action)).Inc()
	return verdict
}

// evaluateSearch scores search output against the query it was produced by.
func (g *Gate) evaluateSearch(tool string, args map[string]any, records []models.Record) models.QualityVerdict {
	query, _ := args["query"].(string)
	rv := g.validator.Validate(query, records)
	if rv.IsValid {
		return models.QualityVerdict{
			Passed:     true,
			Confidence: 0.9,
			Score:      rv.Score,
			Action:     models.ActionContinue,
			Reasoning:  fmt.Sprintf("%d/%d results match query terms", rv.MatchedCount, rv.TotalChecked),
		}
	}

	verdict := models.QualityVerdict{
		Passed:     false,
		Confidence: 0.9,
		Score:      rv.Score,
		Issues:     rv.Issues,
		RootCause:  "search results drifted from the query topic",
		Action:     models.ActionAdjustParams,
		Reasoning:  "relevance below threshold, degrade the query",
	}
	layers := relevance.GenerateFallbackLayers(query, tools.PlatformFor(tool))
	if alt := firstQuery(layers); alt != "" && alt != query {
		verdict.AdjustmentPlan = map[string]any{"query": alt}
	}
	return verdict
}

func firstQuery(layers relevance.Layers) string {
	for _, group := range [][]string{layers.Precise, layers.Functional, layers.Generic} {
		for _, q := range group {
			if q != "" {
				return q
			}
		}
	}
	return ""
}

// evaluateWithJudge asks the model to grade the execution. Any gateway or
// parse failure yields a moderate pass so one flaky judge call cannot stall
// the pipeline.
func (g *Gate) evaluateWithJudge(ctx context.Context, topic, tool string, args map[string]any, records []models.Record) models.QualityVerdict {
	if g.client == nil {
		return failOpenVerdict("no judge configured")
	}

	prompt := buildJudgePrompt(topic, tool, args, records)
	resp, err := g.client.Complete(ctx, llm.Request{
		System:     judgeSystemPrompt,
		Prompt:     prompt,
		Capability: llm.CapabilityReasoning,
		MaxTokens:  800,
	})
	if err != nil {
		g.logger.Warn("Quality judge unavailable, failing open",
			zap.String("tool", tool),
			zap.Error(err),
		)
		return failOpenVerdict("judge unavailable: " + err.Error())
	}

	verdict, err := parseJudgeResponse(resp.Text)
	if err != nil {
		g.logger.Warn("Quality judge returned unparseable verdict, failing open",
			zap.String("tool", tool),
			zap.Error(err),
		)
		return failOpenVerdict("unparseable judge response")
	}
	return verdict
}

func failOpenVerdict(reason string) models.QualityVerdict {
	return models.QualityVerdict{
		Passed:     true,
		Confidence: 0.5,
		Score:      0.7,
		Action:     models.ActionContinue,
		Issues:     []string{reason},
		Reasoning:  reason,
	}
}

func buildJudgePrompt(topic, tool string, args map[string]any, records []models.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\nTool: %s\nArguments: %v\nResults (%d):\n", topic, tool, args, len(records))
	limit := len(records)
	if limit > 10 {
		limit = 10
	}
	for i := 0; i < limit; i++ {
		r := records[i]
		fmt.Fprintf(&b, "- %s | %s | views=%d author=%s\n", r.Title, r.URL, r.ViewCount, r.AuthorName)
	}
	return b.String()
}

// parseJudgeResponse decodes the model's JSON, tolerating a fenced code
// block, and normalizes out-of-vocabulary actions to continue.
func parseJudgeResponse(text string) (models.QualityVerdict, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}
	if idx := strings.LastIndex(text, "}"); idx >= 0 {
		text = text[:idx+1]
	}

	var verdict models.QualityVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return models.QualityVerdict{}, fmt.Errorf("decode judge verdict: %w", err)
	}
	if !verdict.Action.Valid() {
		verdict.Action = models.ActionContinue
	}
	return verdict, nil
}
