package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trendradar/orchestrator/internal/models"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	return NewSession("sess-1", "manus", DefaultLimits(), zaptest.NewLogger(t))
}

func task(id, tool, query string) models.Task {
	return models.Task{
		ID:   id,
		Kind: models.TaskContentSearch,
		Tool: tool,
		Args: map[string]any{"query": query},
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	s := newTestSession(t)

	require.True(t, s.Enqueue(task("t1", "youtube_search", "manus")))

	// Same id.
	assert.False(t, s.Enqueue(task("t1", "youtube_search", "other")))
	// Different id, identical invocation.
	assert.False(t, s.Enqueue(task("t2", "youtube_search", "manus")))
	// Completed id can never come back.
	s.MarkCompleted("t9")
	assert.False(t, s.Enqueue(task("t9", "web_search", "unique")))

	assert.Equal(t, 1, s.PendingCount())
}

func TestTakeRemovesFromQueue(t *testing.T) {
	s := newTestSession(t)
	s.Enqueue(task("t1", "youtube_search", "a"))
	s.Enqueue(task("t2", "bilibili_search", "b"))

	got, ok := s.Take("t1")
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, 1, s.PendingCount())

	_, ok = s.Take("t1")
	assert.False(t, ok)
}

func TestTakeMarksInProgress(t *testing.T) {
	s := newTestSession(t)
	s.Enqueue(task("t1", "youtube_search", "a"))

	got, ok := s.Take("t1")
	require.True(t, ok)
	assert.Equal(t, models.TaskInProgress, got.Status)
}

func TestCloseTaskRetainsBoundedHistory(t *testing.T) {
	s := NewSession("sess-1", "manus", Limits{MaxTaskHistory: 2}, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		tk := task(fmt.Sprintf("t%d", i), "youtube_search", fmt.Sprintf("q%d", i))
		require.True(t, s.Enqueue(tk))
		got, ok := s.Take(tk.ID)
		require.True(t, ok)
		status := models.TaskCompleted
		if i == 2 {
			status = models.TaskFailed
		}
		s.CloseTask(&got, status)
	}

	history := s.TaskHistory()
	require.Len(t, history, 2, "oldest entry evicted")
	assert.Equal(t, "t1", history[0].ID)
	assert.Equal(t, models.TaskCompleted, history[0].Status)
	assert.Equal(t, "t2", history[1].ID)
	assert.Equal(t, models.TaskFailed, history[1].Status)

	// Closed ids can never come back.
	assert.False(t, s.Enqueue(task("t2", "web_search", "again")))
}

func TestPhaseTransition(t *testing.T) {
	s := newTestSession(t)
	assert.Equal(t, PhaseInit, s.Phase())

	s.SetPhase(PhaseDiscovery)
	assert.Equal(t, PhaseDiscovery, s.Phase())
}

func TestCandidateExternalization(t *testing.T) {
	s := newTestSession(t)
	s.AddCandidates([]models.CollectedItem{{Title: "a", URL: "u1"}, {Title: "b", URL: "u2"}})
	assert.Equal(t, 2, s.CandidateCount())

	s.ReplaceCandidates([]models.ItemRef{{RefID: "r1", URL: "u1"}, {RefID: "r2", URL: "u2"}})
	assert.Empty(t, s.Candidates())
	assert.Len(t, s.Refs(), 2)
	assert.Equal(t, 2, s.CandidateCount())
}

func TestAddInfluencersMergesMentions(t *testing.T) {
	s := newTestSession(t)
	s.AddInfluencers([]models.Influencer{
		{Name: "TechGuru", Platform: models.PlatformYouTube, Identifier: "UC1", MentionCount: 1},
	})
	s.AddInfluencers([]models.Influencer{
		{Name: "TechGuru", Platform: models.PlatformYouTube, Identifier: "UC1", MentionCount: 2},
		{Name: "Other", Platform: models.PlatformBilibili, MentionCount: 1},
	})

	authors := s.Influencers()
	require.Len(t, authors, 2)
	assert.Equal(t, 3, authors[0].MentionCount)
}

func TestPendingMonitorsCapped(t *testing.T) {
	s := NewSession("sess-1", "manus", Limits{MaxPendingWatch: 2}, zaptest.NewLogger(t))

	assert.True(t, s.AddPendingMonitor(models.Influencer{Name: "a", Platform: models.PlatformYouTube}))
	assert.False(t, s.AddPendingMonitor(models.Influencer{Name: "a", Platform: models.PlatformYouTube}), "duplicate")
	assert.True(t, s.AddPendingMonitor(models.Influencer{Name: "b", Platform: models.PlatformYouTube}))
	assert.False(t, s.AddPendingMonitor(models.Influencer{Name: "c", Platform: models.PlatformYouTube}), "over cap")

	drained := s.TakePendingMonitors()
	assert.Len(t, drained, 2)
	assert.Empty(t, s.TakePendingMonitors())
	// Drained authors stay known and cannot be re-queued.
	assert.False(t, s.AddPendingMonitor(models.Influencer{Name: "a", Platform: models.PlatformYouTube}))
}

func TestVerdictHistoryBounded(t *testing.T) {
	s := NewSession("sess-1", "manus", Limits{MaxVerdicts: 3}, zaptest.NewLogger(t))
	for i := 0; i < 5; i++ {
		s.RecordVerdict(models.QualityVerdict{Tool: "t", Reasoning: fmt.Sprintf("v%d", i)})
	}
	got := s.Verdicts()
	require.Len(t, got, 3)
	assert.Equal(t, "v2", got[0].Reasoning)
	assert.Equal(t, "v4", got[2].Reasoning)
}

func TestMarkVerdictProcessedOnce(t *testing.T) {
	s := newTestSession(t)
	v := &models.QualityVerdict{Tool: "youtube_search", Timestamp: time.Now()}

	assert.True(t, s.MarkVerdictProcessed(v))
	assert.False(t, s.MarkVerdictProcessed(v))
}

func TestLastVerdictFor(t *testing.T) {
	s := newTestSession(t)
	args := map[string]any{"query": "manus"}
	first := models.QualityVerdict{Tool: "youtube_search", Args: args, Timestamp: time.Now(), Reasoning: "first"}
	second := models.QualityVerdict{Tool: "youtube_search", Args: args, Timestamp: first.Timestamp.Add(time.Second), Reasoning: "second"}
	s.RecordVerdict(first)
	s.RecordVerdict(second)

	prev := s.LastVerdictFor(models.InvocationSignature("youtube_search", args), second.Timestamp)
	require.NotNil(t, prev)
	assert.Equal(t, "first", prev.Reasoning)

	assert.Nil(t, s.LastVerdictFor(models.InvocationSignature("web_search", nil), time.Time{}))
}

func TestFeedbackDisable(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.FeedbackEnabled())

	assert.Equal(t, 1, s.IncrementRetry())
	assert.Equal(t, 2, s.IncrementRetry())

	s.DisableFeedback("retry cap")
	assert.False(t, s.FeedbackEnabled())
	s.DisableFeedback("again") // idempotent
	assert.False(t, s.FeedbackEnabled())
}

func TestErrorHistoryBounded(t *testing.T) {
	s := NewSession("sess-1", "manus", Limits{MaxErrors: 2}, zaptest.NewLogger(t))
	for i := 0; i < 4; i++ {
		s.RecordError(ErrorEvent{Tool: "t", Message: fmt.Sprintf("e%d", i)})
	}
	got := s.Errors()
	require.Len(t, got, 2)
	assert.Equal(t, "e2", got[0].Message)
}

func TestAuthorSearchedTracking(t *testing.T) {
	s := newTestSession(t)
	assert.False(t, s.AuthorSearched(models.PlatformYouTube, "UC1", "TechGuru"))

	s.MarkAuthorSearched(models.PlatformYouTube, "UC1", "TechGuru")
	assert.True(t, s.AuthorSearched(models.PlatformYouTube, "UC1", "TechGuru"))
	// Identifier wins over name in the key.
	assert.False(t, s.AuthorSearched(models.PlatformYouTube, "UC2", "TechGuru"))
}

func TestEngineProgress(t *testing.T) {
	s := newTestSession(t)
	s.RecordEngineResult(models.EngineMonitor, 3)
	s.RecordEngineResult(models.EngineMonitor, 2)
	s.RecordEngineResult(models.EngineHunter, 1)
	s.RecordEngineResult("", 5) // ignored

	progress := s.EngineProgress()
	assert.Equal(t, 5, progress[models.EngineMonitor])
	assert.Equal(t, 1, progress[models.EngineHunter])
}
