package quality

import (
	"strings"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/models"
)

// Decision is the controller's call on a failed verdict.
type Decision struct {
	Retry  bool
	Reason string
}

// Controller decides whether a failed quality verdict becomes a retry task.
// It combines the guard limits with a loop breaker that stops retries once
// the same issue recurs across consecutive attempts.
type Controller struct {
	guard  *Guard
	logger *zap.Logger
}

// NewController creates a controller over the given guard.
func NewController(guard *Guard, logger *zap.Logger) *Controller {
	return &Controller{guard: guard, logger: logger}
}

// ShouldRetry applies, in order: the pass check, the action vocabulary, the
// guard limits, and the repeated-issue loop breaker against the previous
// verdict for the same signature.
func (c *Controller) ShouldRetry(verdict, previous *models.QualityVerdict) Decision {
	if verdict.Passed {
		return Decision{Reason: "verdict passed"}
	}
	switch verdict.Action {
	case models.ActionContinue, models.ActionSkip:
		return Decision{Reason: "judge asked to " + string(verdict.Action)}
	}

	signature := models.InvocationSignature(verdict.Tool, verdict.Args)
	if !c.guard.CanRetry(signature) {
		return Decision{Reason: "retry guard limit reached"}
	}

	if previous != nil && repeatedIssue(verdict.Issues, previous.Issues) {
		c.logger.Warn("Breaking retry loop, same issue recurred",
			zap.String("tool", verdict.Tool),
			zap.Strings("issues", verdict.Issues),
		)
		return Decision{Reason: "same issue recurred across attempts"}
	}

	return Decision{Retry: true, Reason: "actionable failure within limits"}
}

// RecordRetry charges the attempt against the guard.
func (c *Controller) RecordRetry(verdict *models.QualityVerdict, costUSD float64) {
	c.guard.RecordAttempt(models.InvocationSignature(verdict.Tool, verdict.Args), costUSD)
}

// repeatedIssue reports whether any current issue is a case-insensitive
// substring match against a previous issue, in either direction.
func repeatedIssue(current, previous []string) bool {
	for _, cur := range current {
		lc := strings.ToLower(strings.TrimSpace(cur))
		if lc == "" {
			continue
		}
		for _, prev := range previous {
			lp := strings.ToLower(strings.TrimSpace(prev))
			if lp == "" {
				continue
			}
			if strings.Contains(lc, lp) || strings.Contains(lp, lc) {
				return true
			}
		}
	}
	return false
}

// ApplyAdjustment overlays the verdict's adjustment plan on the original
// arguments, returning a new map.
func ApplyAdjustment(args, plan map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+len(plan))
	for k, v := range args {
		merged[k] = v
	}
	for k, v := range plan {
		merged[k] = v
	}
	return merged
}
