package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trendradar/orchestrator/internal/circuitbreaker"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/relevance"
)

func newTestChain(t *testing.T, breaker *circuitbreaker.CircuitBreaker) *Chain {
	t.Helper()
	logger := zaptest.NewLogger(t)
	validator := relevance.NewValidator(relevance.DefaultConfig(), logger)
	chain := NewChain(DefaultConfig(), validator, breaker, logger)
	return chain.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
}

func relevantRecords(term string, n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.Record{Title: term + " walkthrough", URL: "https://example.com"}
	}
	return out
}

func irrelevantRecords(n int) []models.Record {
	out := make([]models.Record, n)
	for i := range out {
		out[i] = models.Record{Title: "cooking pasta at home", URL: "https://example.com"}
	}
	return out
}

func TestExecuteFirstAttemptSucceeds(t *testing.T) {
	chain := newTestChain(t, nil)

	calls := 0
	results, history, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus agent",
		func(ctx context.Context, query string) ([]models.Record, error) {
			calls++
			return relevantRecords("manus", 5), nil
		})

	require.NoError(t, err)
	assert.Len(t, results, 5)
	assert.Equal(t, 1, calls)
	require.Len(t, history.Attempts, 1)
	assert.True(t, history.Succeeded)
	assert.Equal(t, relevance.LayerOriginal, history.FinalLayer)
}

func TestExecuteDegradesThroughLayers(t *testing.T) {
	chain := newTestChain(t, nil)

	// The first three planned queries return junk; the fourth returns
	// results matching its own terms.
	calls := 0
	results, history, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			calls++
			if calls <= 3 {
				return irrelevantRecords(3), nil
			}
			return relevantRecords(strings.Fields(query)[0], 4), nil
		})

	require.NoError(t, err)
	assert.NotEmpty(t, results)
	assert.Equal(t, 4, calls)
	require.Len(t, history.Attempts, 4)
	assert.True(t, history.Succeeded)
	for _, a := range history.Attempts[:3] {
		assert.False(t, a.Valid)
	}
	assert.True(t, history.Attempts[3].Valid)
}

func TestExecuteExhaustion(t *testing.T) {
	chain := newTestChain(t, nil)

	_, history, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			return irrelevantRecords(3), nil
		})

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.False(t, history.Succeeded)
	assert.Len(t, history.Attempts, chain.cfg.MaxAttempts)
}

func TestExecuteSearchErrorsContinueChain(t *testing.T) {
	chain := newTestChain(t, nil)

	boom := errors.New("rate limited")
	calls := 0
	_, history, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			calls++
			if calls == 1 {
				return nil, boom
			}
			return relevantRecords(strings.Fields(query)[0], 4), nil
		})

	require.NoError(t, err)
	require.Len(t, history.Attempts, 2)
	assert.Equal(t, boom.Error(), history.Attempts[0].Err)
	assert.True(t, history.Attempts[1].Valid)
}

func TestExecuteBreakerOpensAfterRepeatedExhaustion(t *testing.T) {
	breaker := circuitbreaker.New("test-search", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	chain := newTestChain(t, breaker)

	fail := func(ctx context.Context, query string) ([]models.Record, error) {
		return irrelevantRecords(2), nil
	}
	for i := 0; i < 3; i++ {
		_, _, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough", fail)
		require.ErrorIs(t, err, ErrRetriesExhausted)
	}

	calls := 0
	_, history, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			calls++
			return nil, nil
		})
	require.ErrorIs(t, err, circuitbreaker.ErrCircuitBreakerOpen)
	assert.Zero(t, calls)
	assert.Empty(t, history.Attempts)
}

func TestExecuteSuccessResetsBreaker(t *testing.T) {
	breaker := circuitbreaker.New("test-search", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	chain := newTestChain(t, breaker)

	for i := 0; i < 2; i++ {
		_, _, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
			func(ctx context.Context, query string) ([]models.Record, error) {
				return irrelevantRecords(2), nil
			})
		require.ErrorIs(t, err, ErrRetriesExhausted)
	}

	_, _, err := chain.Execute(context.Background(), models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			return relevantRecords("manus", 4), nil
		})
	require.NoError(t, err)
	assert.False(t, breaker.IsOpen())
}

func TestBackoffShape(t *testing.T) {
	chain := newTestChain(t, nil)

	first := chain.backoff(1)
	assert.GreaterOrEqual(t, first, 1800*time.Millisecond)
	assert.Less(t, first, 2*time.Second)

	deep := chain.backoff(10)
	assert.GreaterOrEqual(t, deep, 16*time.Second)
	assert.Less(t, deep, 18*time.Second)
}

func TestExecuteRespectsContextDuringBackoff(t *testing.T) {
	logger := zaptest.NewLogger(t)
	validator := relevance.NewValidator(relevance.DefaultConfig(), logger)
	chain := NewChain(DefaultConfig(), validator, nil, logger)
	chain.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, history, err := chain.Execute(ctx, models.PlatformYouTube, "manus walkthrough",
		func(ctx context.Context, query string) ([]models.Record, error) {
			return irrelevantRecords(2), nil
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, history.Attempts, 1)
}

func TestHistorySummary(t *testing.T) {
	h := &History{
		Attempts:   []Attempt{{Index: 0, Layer: relevance.LayerOriginal, Query: "manus", ResultCount: 3, Score: 1, Valid: true}},
		Succeeded:  true,
		FinalQuery: "manus",
		FinalLayer: relevance.LayerOriginal,
	}
	s := h.Summary()
	assert.Contains(t, s, "1 attempts")
	assert.Contains(t, s, "succeeded")

	empty := &History{}
	assert.Equal(t, "no attempts", empty.Summary())
}
