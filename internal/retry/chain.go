// Package retry runs a search through progressively degraded query layers
// until one returns relevant results, with exponential backoff between
// attempts and a circuit breaker around the whole chain.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/circuitbreaker"
	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/relevance"
)

// ErrRetriesExhausted means every query layer was tried without producing
// relevant results.
var ErrRetriesExhausted = errors.New("retry chain exhausted")

// SearchFunc performs one search invocation for a single query.
type SearchFunc func(ctx context.Context, query string) ([]models.Record, error)

// Config controls attempt count and backoff shape.
type Config struct {
	MaxAttempts    int
	BackoffBase    float64       // exponential growth factor
	BackoffCap     time.Duration // ceiling per wait
	JitterFraction float64       // extra random wait, as a fraction of the base wait
}

// DefaultConfig returns the standard chain settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		BackoffBase:    1.8,
		BackoffCap:     16 * time.Second,
		JitterFraction: 0.10,
	}
}

// Attempt is one executed query in the chain.
type Attempt struct {
	Index       int
	Layer       string
	Query       string
	ResultCount int
	Score       float64
	Valid       bool
	Err         string
	Waited      time.Duration
}

// History records every attempt of one chain run. It is returned whether or
// not the run succeeded, so callers can report what was tried.
type History struct {
	Attempts   []Attempt
	Succeeded  bool
	FinalQuery string
	FinalLayer string
}

// Summary renders the history as a short human-readable trace.
func (h *History) Summary() string {
	if len(h.Attempts) == 0 {
		return "no attempts"
	}
	s := fmt.Sprintf("%d attempts", len(h.Attempts))
	if h.Succeeded {
		s += fmt.Sprintf(", succeeded at %s with %q", h.FinalLayer, h.FinalQuery)
	} else {
		s += ", all failed"
	}
	for _, a := range h.Attempts {
		s += fmt.Sprintf("; [%d] %s %q -> %d results, score %.2f, valid=%t",
			a.Index, a.Layer, a.Query, a.ResultCount, a.Score, a.Valid)
	}
	return s
}

// Chain executes searches through degraded query layers.
type Chain struct {
	cfg       Config
	validator *relevance.Validator
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	rng       *rand.Rand
}

// NewChain creates a chain. The breaker is optional; a nil breaker disables
// the pre-check.
func NewChain(cfg Config, validator *relevance.Validator, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Chain {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 1 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = def.BackoffCap
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = def.JitterFraction
	}
	return &Chain{
		cfg:       cfg,
		validator: validator,
		breaker:   breaker,
		logger:    logger,
		sleep:     sleepContext,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSleep replaces the inter-attempt wait. Test hook.
func (c *Chain) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Chain {
	c.sleep = fn
	return c
}

type plannedQuery struct {
	layer string
	query string
}

// plan builds the ordered query sequence: the original first, then up to two
// precise variants, two functional variants, and one generic variant, capped
// at MaxAttempts.
func (c *Chain) plan(query string, platform models.Platform) []plannedQuery {
	out := []plannedQuery{{layer: relevance.LayerOriginal, query: query}}
	layers := relevance.GenerateFallbackLayers(query, platform)

	seen := map[string]struct{}{query: {}}
	appendLayer := func(tag string, queries []string, limit int) {
		for _, q := range queries {
			if len(out) >= c.cfg.MaxAttempts || limit == 0 {
				return
			}
			if _, dup := seen[q]; dup {
				continue
			}
			seen[q] = struct{}{}
			out = append(out, plannedQuery{layer: tag, query: q})
			limit--
		}
	}
	appendLayer(relevance.LayerPrecise, layers.Precise, 2)
	appendLayer(relevance.LayerFunctional, layers.Functional, 2)
	appendLayer(relevance.LayerGeneric, layers.Generic, 1)
	return out
}

// Execute runs the chain for one query. The returned History is never nil.
// On success the results of the first valid attempt are returned; on
// exhaustion the caller gets ErrRetriesExhausted along with whatever the
// last attempt produced.
func (c *Chain) Execute(ctx context.Context, platform models.Platform, query string, search SearchFunc) ([]models.Record, *History, error) {
	history := &History{}

	if c.breaker != nil && c.breaker.IsOpen() {
		c.logger.Warn("Search retry chain rejected, circuit open",
			zap.String("platform", string(platform)),
			zap.String("query", query),
		)
		return nil, history, circuitbreaker.ErrCircuitBreakerOpen
	}

	var lastResults []models.Record
	for i, pq := range c.plan(query, platform) {
		var waited time.Duration
		if i > 0 {
			waited = c.backoff(i)
			if err := c.sleep(ctx, waited); err != nil {
				return lastResults, history, err
			}
		}

		attempt := Attempt{Index: i, Layer: pq.layer, Query: pq.query, Waited: waited}
		results, err := search(ctx, pq.query)
		if err != nil {
			attempt.Err = err.Error()
			history.Attempts = append(history.Attempts, attempt)
			metrics.RetryAttempts.WithLabelValues(pq.layer, "false").Inc()
			c.logger.Debug("Search attempt failed",
				zap.Int("attempt", i),
				zap.String("query", pq.query),
				zap.Error(err),
			)
			continue
		}

		verdict := c.validator.Validate(pq.query, results)
		attempt.ResultCount = len(results)
		attempt.Score = verdict.Score
		attempt.Valid = verdict.IsValid
		history.Attempts = append(history.Attempts, attempt)
		metrics.RetryAttempts.WithLabelValues(pq.layer, strconv.FormatBool(verdict.IsValid)).Inc()
		lastResults = results

		if verdict.IsValid {
			history.Succeeded = true
			history.FinalQuery = pq.query
			history.FinalLayer = pq.layer
			if c.breaker != nil {
				c.breaker.RecordSuccess()
			}
			c.logger.Info("Search retry chain succeeded",
				zap.String("platform", string(platform)),
				zap.String("layer", pq.layer),
				zap.String("query", pq.query),
				zap.Int("attempt", i),
				zap.Float64("score", verdict.Score),
			)
			return results, history, nil
		}
	}

	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
	c.logger.Warn("Search retry chain exhausted",
		zap.String("platform", string(platform)),
		zap.String("query", query),
		zap.Int("attempts", len(history.Attempts)),
	)
	return lastResults, history, fmt.Errorf("%w: %s", ErrRetriesExhausted, query)
}

// backoff computes the wait before attempt n: base^n seconds capped, plus up
// to JitterFraction extra.
func (c *Chain) backoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(c.cfg.BackoffBase, float64(attempt)) * float64(time.Second))
	if base > c.cfg.BackoffCap {
		base = c.cfg.BackoffCap
	}
	jitter := time.Duration(c.rng.Float64() * c.cfg.JitterFraction * float64(base))
	return base + jitter
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
