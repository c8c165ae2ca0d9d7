package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/tools"
)

const priorityGenerated = 70

const plannerSystemPrompt = `You plan search tasks for a content discovery pipeline.
Given the topic and progress so far, propose 2 to 4 new tool calls that would
surface fresh trending content. Respond with a JSON array only:
[{"tool": "web_search|youtube_search|bilibili_search", "query": "..", "reasoning": ".."}]`

type generatedTask struct {
	Tool      string `json:"tool"`
	Query     string `json:"query"`
	Reasoning string `json:"reasoning"`
}

// GenerateTasks asks the planner model for fresh search tasks when the
// queue has run dry before the target is met. Duplicate invocations are
// dropped by the queue dedup rule; a gateway failure just yields no tasks.
func (s *Scheduler) GenerateTasks(ctx context.Context) int {
	if s.client == nil {
		return 0
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		System:     plannerSystemPrompt,
		Prompt:     s.plannerPrompt(),
		Capability: llm.CapabilityCreative,
		MaxTokens:  600,
	})
	if err != nil {
		s.logger.Warn("Dynamic task generation unavailable", zap.Error(err))
		return 0
	}

	proposals, err := parseGeneratedTasks(resp.Text)
	if err != nil {
		s.logger.Warn("Planner returned unparseable tasks", zap.Error(err))
		return 0
	}

	added := 0
	for _, p := range proposals {
		if p.Query == "" || !tools.IsSearch(p.Tool) {
			continue
		}
		task := models.Task{
			ID:        uuid.NewString(),
			Kind:      models.TaskContentSearch,
			Priority:  priorityGenerated,
			Engine:    tools.EngineFor(p.Tool),
			Platform:  tools.PlatformFor(p.Tool),
			Tool:      p.Tool,
			Args:      map[string]any{"query": p.Query},
			Reason:    p.Reasoning,
			CreatedAt: time.Now(),
		}
		if s.session.Enqueue(task) {
			added++
		}
	}
	s.logger.Info("Dynamic tasks generated",
		zap.Int("proposed", len(proposals)),
		zap.Int("accepted", added),
	)
	return added
}

func (s *Scheduler) plannerPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", s.session.Topic)
	fmt.Fprintf(&b, "Candidates collected: %d of %d target\n", s.session.CandidateCount(), s.cfg.TargetItems)
	progress := s.session.EngineProgress()
	fmt.Fprintf(&b, "Engine progress: monitor=%d hunter=%d\n",
		progress[models.EngineMonitor], progress[models.EngineHunter])

	notes := s.session.Scratchpad()
	if tail := 5; len(notes) > 0 {
		if len(notes) > tail {
			notes = notes[len(notes)-tail:]
		}
		b.WriteString("Recent notes:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}
	if s.skills != nil {
		if extra := s.skills.GetContext(s.session.Topic, s.skillSnippets); extra != "" {
			b.WriteString("Playbooks:\n")
			b.WriteString(extra)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func parseGeneratedTasks(text string) ([]generatedTask, error) {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "["); idx > 0 {
		text = text[idx:]
	}
	if idx := strings.LastIndex(text, "]"); idx >= 0 {
		text = text[:idx+1]
	}
	var out []generatedTask
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("decode planner tasks: %w", err)
	}
	if len(out) > 4 {
		out = out[:4]
	}
	return out, nil
}
