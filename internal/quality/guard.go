package quality

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// GuardConfig bounds the feedback loop per tool invocation signature.
type GuardConfig struct {
	MaxRetries     int
	MaxCostUSD     float64
	MaxAttemptKeep int
}

// DefaultGuardConfig returns the standard guard limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		MaxRetries:     2,
		MaxCostUSD:     1.0,
		MaxAttemptKeep: 10,
	}
}

type guardEntry struct {
	attempts []time.Time
	costUSD  float64
}

// Guard tracks retry attempts and judge cost per invocation signature, so a
// single stubborn tool call cannot burn the session budget.
type Guard struct {
	mu      sync.Mutex
	cfg     GuardConfig
	entries map[string]*guardEntry
	logger  *zap.Logger
}

// NewGuard creates a guard.
func NewGuard(cfg GuardConfig, logger *zap.Logger) *Guard {
	def := DefaultGuardConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxCostUSD <= 0 {
		cfg.MaxCostUSD = def.MaxCostUSD
	}
	if cfg.MaxAttemptKeep <= 0 {
		cfg.MaxAttemptKeep = def.MaxAttemptKeep
	}
	return &Guard{cfg: cfg, entries: make(map[string]*guardEntry), logger: logger}
}

// CanRetry reports whether another retry of this signature is within the
// attempt and cost limits.
func (g *Guard) CanRetry(signature string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[signature]
	if !ok {
		return true
	}
	if len(entry.attempts) >= g.cfg.MaxRetries {
		g.logger.Debug("Retry guard: attempt cap reached",
			zap.String("signature", signature),
			zap.Int("attempts", len(entry.attempts)),
		)
		return false
	}
	if entry.costUSD >= g.cfg.MaxCostUSD {
		g.logger.Debug("Retry guard: cost cap reached",
			zap.String("signature", signature),
			zap.Float64("cost_usd", entry.costUSD),
		)
		return false
	}
	return true
}

// RecordAttempt charges one retry attempt and its judge cost against the
// signature. Attempt history is bounded.
func (g *Guard) RecordAttempt(signature string, costUSD float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[signature]
	if !ok {
		entry = &guardEntry{}
		g.entries[signature] = entry
	}
	entry.attempts = append(entry.attempts, time.Now())
	if len(entry.attempts) > g.cfg.MaxAttemptKeep {
		entry.attempts = entry.attempts[len(entry.attempts)-g.cfg.MaxAttemptKeep:]
	}
	entry.costUSD += costUSD
}

// Attempts returns how many retries this signature has consumed.
func (g *Guard) Attempts(signature string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.entries[signature]; ok {
		return len(entry.attempts)
	}
	return 0
}
