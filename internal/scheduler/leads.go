package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/tools"
)

// ScheduleChaseTasks turns extracted authors into monitor tasks, best
// authors first, capped per cycle so one good web search cannot crowd out
// the rest of the plan. Chasing waits until the queue has drained, so every
// discovery result is processed before its leads are pursued.
func (s *Scheduler) ScheduleChaseTasks() int {
	if s.session.PendingCount() > 0 {
		return 0
	}
	authors := s.session.Influencers()
	if len(authors) == 0 {
		return 0
	}

	sort.SliceStable(authors, func(i, j int) bool {
		if authors[i].ConfidenceRank() != authors[j].ConfidenceRank() {
			return authors[i].ConfidenceRank() > authors[j].ConfidenceRank()
		}
		return authors[i].MentionCount > authors[j].MentionCount
	})

	added := 0
	for i := range authors {
		if added >= s.cfg.MaxChasePerCyc {
			break
		}
		a := authors[i]
		tool := monitorToolFor(a.Platform)
		if tool == "" {
			continue
		}
		if s.session.AuthorSearched(a.Platform, a.Identifier, a.Name) {
			continue
		}

		task := models.Task{
			ID:       uuid.NewString(),
			Kind:     models.TaskAuthorChase,
			Priority: chasePriority(a.Confidence),
			Engine:   models.EngineMonitor,
			Platform: a.Platform,
			Tool:     tool,
			Args:     chaseArgs(&a),
			Reason:   fmt.Sprintf("chase author %q (%s confidence, %d mentions)", a.Name, a.Confidence, a.MentionCount),
			CreatedAt: time.Now(),
		}
		if !s.session.Enqueue(task) {
			continue
		}
		s.session.MarkAuthorSearched(a.Platform, a.Identifier, a.Name)
		added++
		s.logger.Info("Chase-the-lead task scheduled",
			zap.String("author", a.Name),
			zap.String("platform", string(a.Platform)),
			zap.String("confidence", a.Confidence),
			zap.Int("priority", task.Priority),
		)
	}
	return added
}

func chasePriority(confidence string) int {
	switch confidence {
	case "high":
		return priorityChaseBase + chaseHighBonus
	case "medium":
		return priorityChaseBase
	default:
		return priorityChaseBase + chaseLowPenalty
	}
}

func monitorToolFor(platform models.Platform) string {
	switch platform {
	case models.PlatformYouTube:
		return tools.YouTubeMonitor
	case models.PlatformBilibili:
		return tools.BilibiliMonitor
	}
	return ""
}

func chaseArgs(a *models.Influencer) map[string]any {
	args := map[string]any{"author_name": a.Name}
	if a.Identifier != "" {
		args["author_id"] = a.Identifier
	}
	return args
}
