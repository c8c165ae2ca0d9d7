package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/state"
)

// TaskExecutor runs one selected task against the tool host.
type TaskExecutor interface {
	Execute(ctx context.Context, task *models.Task) error
}

// Run drives the session loop until the candidate target, the step cap, or
// an empty queue that the planner cannot refill. Each pass synthesizes
// pending quality retries before selecting; chase tasks and generated tasks
// are added only once the queue drains, so discovery output is fully
// processed before leads are pursued.
func (s *Scheduler) Run(ctx context.Context, exec TaskExecutor) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done, why := s.Done(); done {
			s.session.SetPhase(state.PhaseFiltering)
			s.logger.Info("Session loop finished", zap.String("why", why))
			return nil
		}

		s.session.NextStep()
		s.SynthesizeRetries()

		task, ok := s.SelectNext()
		if !ok {
			if s.ScheduleChaseTasks() == 0 && s.GenerateTasks(ctx) == 0 {
				s.session.SetPhase(state.PhaseFiltering)
				s.logger.Info("Session loop finished", zap.String("why", "queue empty"))
				return nil
			}
			continue
		}

		if task.Kind != models.TaskDiscovery && s.session.Phase() == state.PhaseDiscovery {
			s.session.SetPhase(state.PhaseCollection)
		}

		if err := exec.Execute(ctx, &task); err != nil {
			if ctx.Err() != nil {
				return err
			}
			s.logger.Warn("Task execution failed",
				zap.String("task_id", task.ID),
				zap.String("tool", task.Tool),
				zap.Error(err),
			)
		}
	}
}
