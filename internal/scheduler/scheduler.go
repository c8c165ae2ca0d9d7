// Package scheduler owns the task queue decisions for a discovery session:
// seeding the initial plan, picking the next task under platform balancing
// and engine fairness, synthesizing quality retries, chasing extracted
// authors, and deciding when the session is done.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/balance"
	"github.com/trendradar/orchestrator/internal/config"
	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/quality"
	"github.com/trendradar/orchestrator/internal/skills"
	"github.com/trendradar/orchestrator/internal/state"
	"github.com/trendradar/orchestrator/internal/tools"
)

// Priorities for seeded and synthesized tasks. Retries outrank everything so
// a failed call is repaired before the plan moves on.
const (
	priorityDiscovery = 100
	priorityContent   = 90
	priorityChaseBase = 60
	priorityRetry     = 999
	chaseHighBonus    = 10
	chaseLowPenalty   = -15
)

// Scheduler makes queue decisions over one session.
type Scheduler struct {
	cfg        config.SessionConfig
	feedback   config.FeedbackConfig
	session    *state.Session
	balance    *balance.Tracker
	controller *quality.Controller
	client     llm.Client
	skills     *skills.Registry
	logger     *zap.Logger

	skillSnippets int
}

// New creates a scheduler bound to one session. The client may be nil, which
// disables dynamic task generation.
func New(cfg config.SessionConfig, feedback config.FeedbackConfig, session *state.Session, tracker *balance.Tracker, controller *quality.Controller, client llm.Client, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		feedback:   feedback,
		session:    session,
		balance:    tracker,
		controller: controller,
		client:     client,
		logger:     logger,
	}
}

// WithSkills attaches operator playbooks that enrich planner prompts with up
// to maxSnippets matching playbook bodies.
func (s *Scheduler) WithSkills(registry *skills.Registry, maxSnippets int) *Scheduler {
	s.skills = registry
	if maxSnippets <= 0 {
		maxSnippets = 2
	}
	s.skillSnippets = maxSnippets
	return s
}

// InitializeQueue seeds the task queue from the per-topic query plan: two
// discovery searches and two platform content searches per topic, discovery
// first. Priorities descend across topics so earlier topics run first.
func (s *Scheduler) InitializeQueue(topics []models.TopicQueries) int {
	added := 0
	for i, topic := range topics {
		offset := -i // later topics rank slightly lower
		seeds := []models.Task{
			{
				Kind:     models.TaskDiscovery,
				Priority: priorityDiscovery + offset,
				Engine:   models.EngineHunter,
				Platform: models.PlatformWeb,
				Tool:     tools.WebSearch,
				Args:     map[string]any{"query": topic.DiscoveryQueryEN},
				Reason:   fmt.Sprintf("seed discovery for topic %q", topic.Topic),
			},
			{
				Kind:     models.TaskDiscovery,
				Priority: priorityDiscovery + offset,
				Engine:   models.EngineHunter,
				Platform: models.PlatformWeb,
				Tool:     tools.WebSearch,
				Args:     map[string]any{"query": topic.DiscoveryQueryZH},
				Reason:   fmt.Sprintf("seed discovery for topic %q (zh)", topic.Topic),
			},
			{
				Kind:     models.TaskContentSearch,
				Priority: priorityContent + offset,
				Engine:   models.EngineHunter,
				Platform: models.PlatformYouTube,
				Tool:     tools.YouTubeSearch,
				Args:     map[string]any{"query": topic.ContentQueryEN},
				Reason:   fmt.Sprintf("seed youtube content search for topic %q", topic.Topic),
			},
			{
				Kind:     models.TaskContentSearch,
				Priority: priorityContent + offset,
				Engine:   models.EngineHunter,
				Platform: models.PlatformBilibili,
				Tool:     tools.BilibiliSearch,
				Args:     map[string]any{"query": topic.ContentQueryZH},
				Reason:   fmt.Sprintf("seed bilibili content search for topic %q", topic.Topic),
			},
		}
		for _, task := range seeds {
			if q, _ := task.Args["query"].(string); q == "" {
				continue
			}
			task.ID = uuid.NewString()
			task.CreatedAt = time.Now()
			if s.session.Enqueue(task) {
				added++
			}
		}
	}
	s.session.SetPhase(state.PhaseDiscovery)
	s.logger.Info("Task queue initialized",
		zap.Int("topics", len(topics)),
		zap.Int("tasks", added),
	)
	return added
}

// Done reports whether the session should stop, and why.
func (s *Scheduler) Done() (bool, string) {
	if n := s.session.CandidateCount(); n >= s.cfg.TargetItems {
		return true, fmt.Sprintf("target reached: %d candidates", n)
	}
	if steps := s.session.StepCount(); steps >= s.cfg.MaxPlanSteps {
		return true, fmt.Sprintf("plan step cap reached: %d", steps)
	}
	return false, ""
}

// SelectNext picks the task to run. Order of concerns: retry tasks always
// win, then platform balance, then engine fairness when one engine lags,
// then plain priority. The chosen task is removed from the queue.
func (s *Scheduler) SelectNext() (models.Task, bool) {
	pending := s.session.Pending()
	if len(pending) == 0 {
		return models.Task{}, false
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Priority > pending[j].Priority
	})

	if pending[0].Kind == models.TaskQualityRetry {
		return s.take(pending[0], "quality retry outranks plan")
	}

	stats := s.balance.ComputeStats(s.session.Candidates(), pending)
	if platform := s.balance.SelectPlatform(stats, availablePlatforms(pending)); platform != "" {
		if task, ok := highestFor(pending, func(t *models.Task) bool { return t.Platform == platform }); ok {
			return s.take(task, "platform balance")
		}
	}

	if engine := s.laggingEngine(); engine != "" {
		if task, ok := highestFor(pending, func(t *models.Task) bool { return t.Engine == engine }); ok {
			return s.take(task, "engine fairness")
		}
	}

	return s.take(pending[0], "priority order")
}

func (s *Scheduler) take(task models.Task, why string) (models.Task, bool) {
	taken, ok := s.session.Take(task.ID)
	if !ok {
		return models.Task{}, false
	}
	if !taken.Platform.Other() {
		s.balance.RecordExecution(taken.Platform)
	}
	s.logger.Debug("Task selected",
		zap.String("task_id", taken.ID),
		zap.String("kind", string(taken.Kind)),
		zap.String("platform", string(taken.Platform)),
		zap.String("tool", taken.Tool),
		zap.String("why", why),
	)
	return taken, true
}

// laggingEngine returns the engine trailing the other by more than the lag
// threshold, or empty when both keep pace.
func (s *Scheduler) laggingEngine() models.Engine {
	progress := s.session.EngineProgress()
	monitor := progress[models.EngineMonitor]
	hunter := progress[models.EngineHunter]
	switch {
	case hunter-monitor > s.cfg.EngineLag:
		return models.EngineMonitor
	case monitor-hunter > s.cfg.EngineLag:
		return models.EngineHunter
	}
	return ""
}

func availablePlatforms(pending []models.Task) []models.Platform {
	var out []models.Platform
	seen := map[models.Platform]struct{}{}
	for i := range pending {
		p := pending[i].Platform
		if p.Other() {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func highestFor(sorted []models.Task, match func(*models.Task) bool) (models.Task, bool) {
	for i := range sorted {
		if match(&sorted[i]) {
			return sorted[i], true
		}
	}
	return models.Task{}, false
}
