package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/quality"
	"github.com/trendradar/orchestrator/internal/tools"
)

// SynthesizeRetries turns unprocessed failed verdicts into retry tasks. A
// session-wide cap bounds the whole feedback loop: once reached, feedback is
// disabled for the rest of the run.
func (s *Scheduler) SynthesizeRetries() int {
	if !s.feedback.Enabled || !s.session.FeedbackEnabled() {
		return 0
	}

	added := 0
	for _, verdict := range s.session.Verdicts() {
		v := verdict
		if v.Passed {
			continue
		}
		if !s.session.MarkVerdictProcessed(&v) {
			continue
		}

		previous := s.session.LastVerdictFor(models.InvocationSignature(v.Tool, v.Args), v.Timestamp)
		decision := s.controller.ShouldRetry(&v, previous)
		if !decision.Retry {
			s.logger.Debug("Failed verdict not retried",
				zap.String("tool", v.Tool),
				zap.String("reason", decision.Reason),
			)
			continue
		}

		if s.session.RetryCount() >= s.feedback.GlobalRetryCap {
			s.session.DisableFeedback(fmt.Sprintf("global retry cap %d reached", s.feedback.GlobalRetryCap))
			return added
		}

		task := s.retryTaskFor(&v)
		if !s.session.Enqueue(task) {
			continue
		}
		s.session.IncrementRetry()
		s.controller.RecordRetry(&v, 0)
		metrics.RetriesSynthesized.Inc()
		added++
		s.logger.Info("Quality retry synthesized",
			zap.String("task_id", task.ID),
			zap.String("tool", task.Tool),
			zap.String("root_cause", v.RootCause),
			zap.Int("session_retries", s.session.RetryCount()),
		)
	}
	return added
}

// retryTaskFor builds the retry task: same tool, adjusted arguments, top
// priority, platform and engine re-derived from the tool.
func (s *Scheduler) retryTaskFor(v *models.QualityVerdict) models.Task {
	args := v.Args
	if len(v.AdjustmentPlan) > 0 {
		args = quality.ApplyAdjustment(v.Args, v.AdjustmentPlan)
	}
	reason := v.RootCause
	if reason == "" {
		reason = "quality gate failure"
	}
	return models.Task{
		ID:        uuid.NewString(),
		Kind:      models.TaskQualityRetry,
		Priority:  priorityRetry,
		Engine:    tools.EngineFor(v.Tool),
		Platform:  tools.PlatformFor(v.Tool),
		Tool:      v.Tool,
		Args:      args,
		Reason:    "retry: " + reason,
		CreatedAt: time.Now(),
	}
}
