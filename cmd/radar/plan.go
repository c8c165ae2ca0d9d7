package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/models"
)

const queryPlanPrompt = `You generate search query plans for trend discovery.
For each topic produce four queries: an English and a Chinese discovery query
(for finding creators and roundups on the open web) and an English and a
Chinese content query (for platform keyword search). Respond with a JSON
array only:
[{"topic": "..", "discovery_query_en": "..", "discovery_query_zh": "..",
  "content_query_en": "..", "content_query_zh": ".."}]`

// loadPlan reads a prepared query plan file.
func loadPlan(path string) ([]models.TopicQueries, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	var plan []models.TopicQueries
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", path, err)
	}
	return plan, nil
}

// buildPlan asks the gateway for bilingual queries per topic, falling back
// to template queries when no gateway is configured or it fails.
func buildPlan(ctx context.Context, client llm.Client, topics []string, logger *zap.Logger) []models.TopicQueries {
	if client != nil {
		resp, err := client.Complete(ctx, llm.Request{
			System:     queryPlanPrompt,
			Prompt:     "Topics: " + strings.Join(topics, ", "),
			Capability: llm.CapabilityCreative,
			MaxTokens:  800,
		})
		if err == nil {
			if plan, perr := parsePlan(resp.Text); perr == nil && len(plan) > 0 {
				return plan
			} else if perr != nil {
				logger.Warn("Query plan unparseable, using templates", zap.Error(perr))
			}
		} else {
			logger.Warn("Query plan generation unavailable, using templates", zap.Error(err))
		}
	}

	plan := make([]models.TopicQueries, 0, len(topics))
	for _, topic := range topics {
		plan = append(plan, models.TopicQueries{
			Topic:            topic,
			DiscoveryQueryEN: topic + " top creators channels",
			DiscoveryQueryZH: topic + " 热门创作者 推荐",
			ContentQueryEN:   topic + " tutorial",
			ContentQueryZH:   topic + " 教程",
		})
	}
	return plan
}

func parsePlan(text string) ([]models.TopicQueries, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "["); idx > 0 {
		text = text[idx:]
	}
	if idx := strings.LastIndex(text, "]"); idx >= 0 {
		text = text[:idx+1]
	}
	var plan []models.TopicQueries
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		return nil, fmt.Errorf("decode query plan: %w", err)
	}
	return plan, nil
}
