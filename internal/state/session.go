// Package state holds the mutable session record for one discovery run. All
// mutation goes through named helpers so the scheduler loop remains the only
// writer and every merge rule lives in one place.
package state

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
)

// Phase is the coarse lifecycle position of a session.
type Phase string

const (
	PhaseInit       Phase = "init"
	PhaseDiscovery  Phase = "discovery"
	PhaseCollection Phase = "collection"
	PhaseFiltering  Phase = "filtering"
	PhaseDone       Phase = "done"
)

// ErrorEvent is one recorded tool failure.
type ErrorEvent struct {
	Tool      string    `json:"tool"`
	Message   string    `json:"message"`
	Class     string    `json:"class"`
	Timestamp time.Time `json:"timestamp"`
}

// Limits bounds the unbounded-growth fields.
type Limits struct {
	MaxErrors       int
	MaxVerdicts     int
	MaxPendingWatch int
	MaxScratchpad   int
	MaxTaskHistory  int
}

// DefaultLimits returns the standard session bounds.
func DefaultLimits() Limits {
	return Limits{MaxErrors: 20, MaxVerdicts: 50, MaxPendingWatch: 10, MaxScratchpad: 200, MaxTaskHistory: 100}
}

// Session is the full working state of one discovery run.
type Session struct {
	mu sync.RWMutex

	ID     string
	Topic  string
	Topics []models.TopicQueries

	phase     Phase
	stepCount int

	candidates []models.CollectedItem
	refs       []models.ItemRef

	queue        []models.Task
	completedIDs map[string]struct{}
	taskHistory  []models.Task

	leads       []models.Lead
	influencers []models.Influencer

	searchedAuthors  map[string]struct{}
	pendingMonitors  []models.Influencer
	monitoredSources map[string]struct{}

	engineProgress map[models.Engine]int

	verdicts          []models.QualityVerdict
	processedVerdicts map[string]struct{}
	retryCount        int
	feedbackEnabled   bool

	errors     []ErrorEvent
	scratchpad []string

	limits Limits
	logger *zap.Logger
}

// NewSession creates an empty session in the init phase.
func NewSession(id, topic string, limits Limits, logger *zap.Logger) *Session {
	def := DefaultLimits()
	if limits.MaxErrors <= 0 {
		limits.MaxErrors = def.MaxErrors
	}
	if limits.MaxVerdicts <= 0 {
		limits.MaxVerdicts = def.MaxVerdicts
	}
	if limits.MaxPendingWatch <= 0 {
		limits.MaxPendingWatch = def.MaxPendingWatch
	}
	if limits.MaxScratchpad <= 0 {
		limits.MaxScratchpad = def.MaxScratchpad
	}
	if limits.MaxTaskHistory <= 0 {
		limits.MaxTaskHistory = def.MaxTaskHistory
	}
	return &Session{
		ID:                id,
		Topic:             topic,
		phase:             PhaseInit,
		completedIDs:      make(map[string]struct{}),
		searchedAuthors:   make(map[string]struct{}),
		monitoredSources:  make(map[string]struct{}),
		engineProgress:    make(map[models.Engine]int),
		processedVerdicts: make(map[string]struct{}),
		feedbackEnabled:   true,
		limits:            limits,
		logger:            logger,
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase transitions the session phase. No-op when unchanged.
func (s *Session) SetPhase(to Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == to {
		return
	}
	metrics.PhaseTransitions.WithLabelValues(string(s.phase), string(to)).Inc()
	s.logger.Info("Session phase transition",
		zap.String("session_id", s.ID),
		zap.String("from", string(s.phase)),
		zap.String("to", string(to)),
	)
	s.phase = to
}

// NextStep increments and returns the plan step counter.
func (s *Session) NextStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepCount++
	metrics.PlanSteps.Inc()
	return s.stepCount
}

// StepCount returns how many plan steps have run.
func (s *Session) StepCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stepCount
}

// AddCandidates appends collected items.
func (s *Session) AddCandidates(items []models.CollectedItem) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, items...)
}

// Candidates returns a copy of the in-memory candidate list.
func (s *Session) Candidates() []models.CollectedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CollectedItem, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// CandidateCount counts in-memory plus externalized candidates.
func (s *Session) CandidateCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candidates) + len(s.refs)
}

// ReplaceCandidates swaps the in-memory candidates for refs after
// externalization to the blob store.
func (s *Session) ReplaceCandidates(refs []models.ItemRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs = append(s.refs, refs...)
	s.candidates = s.candidates[:0]
}

// Refs returns the externalized item handles.
func (s *Session) Refs() []models.ItemRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ItemRef, len(s.refs))
	copy(out, s.refs)
	return out
}

// Enqueue adds a task unless it duplicates a completed task id, a queued
// task id, or a queued task with the same tool invocation. Reports whether
// the task was accepted.
func (s *Session) Enqueue(task models.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.completedIDs[task.ID]; done {
		metrics.TasksDeduplicated.Inc()
		return false
	}
	for i := range s.queue {
		if s.queue[i].ID == task.ID || s.queue[i].SameInvocation(&task) {
			metrics.TasksDeduplicated.Inc()
			return false
		}
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	s.queue = append(s.queue, task)
	metrics.TasksScheduled.WithLabelValues(string(task.Platform), string(task.Engine), string(task.Kind)).Inc()
	return true
}

// Pending returns a copy of the queued tasks.
func (s *Session) Pending() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, len(s.queue))
	copy(out, s.queue)
	return out
}

// PendingCount returns the queue length.
func (s *Session) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// Take removes and returns the queued task with the given id, marked
// in progress.
func (s *Session) Take(taskID string) (models.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == taskID {
			task := s.queue[i]
			task.Status = models.TaskInProgress
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return task, true
		}
	}
	return models.Task{}, false
}

// MarkCompleted records a finished task id so it can never be re-enqueued.
func (s *Session) MarkCompleted(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedIDs[taskID] = struct{}{}
}

// CloseTask records a task's terminal status and retains it in the bounded
// task history for auditing. The id can never be re-enqueued afterwards.
func (s *Session) CloseTask(task *models.Task, status models.TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completedIDs[task.ID] = struct{}{}

	done := *task
	done.Status = status
	s.taskHistory = append(s.taskHistory, done)
	if len(s.taskHistory) > s.limits.MaxTaskHistory {
		s.taskHistory = s.taskHistory[len(s.taskHistory)-s.limits.MaxTaskHistory:]
	}
}

// TaskHistory returns the retained finished tasks, oldest first.
func (s *Session) TaskHistory() []models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Task, len(s.taskHistory))
	copy(out, s.taskHistory)
	return out
}

// Completed reports whether the task id already ran.
func (s *Session) Completed(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completedIDs[taskID]
	return ok
}

// CompletedCount returns how many tasks have finished.
func (s *Session) CompletedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.completedIDs)
}

// AddLeads appends harvested leads.
func (s *Session) AddLeads(leads []models.Lead) {
	if len(leads) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, leads...)
}

// Leads returns a copy of the harvested leads.
func (s *Session) Leads() []models.Lead {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Lead, len(s.leads))
	copy(out, s.leads)
	return out
}

// AddInfluencers appends extracted authors, skipping ones already recorded
// under the same platform and identifier.
func (s *Session) AddInfluencers(authors []models.Influencer) {
	if len(authors) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range authors {
		key := authorKey(a.Platform, a.Identifier, a.Name)
		dup := false
		for i := range s.influencers {
			if authorKey(s.influencers[i].Platform, s.influencers[i].Identifier, s.influencers[i].Name) == key {
				s.influencers[i].MentionCount += a.MentionCount
				dup = true
				break
			}
		}
		if !dup {
			s.influencers = append(s.influencers, a)
		}
	}
}

// Influencers returns a copy of the extracted authors.
func (s *Session) Influencers() []models.Influencer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Influencer, len(s.influencers))
	copy(out, s.influencers)
	return out
}

// MarkAuthorSearched records that a chase task was issued for the author.
func (s *Session) MarkAuthorSearched(platform models.Platform, identifier, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchedAuthors[authorKey(platform, identifier, name)] = struct{}{}
}

// AuthorSearched reports whether the author was already chased.
func (s *Session) AuthorSearched(platform models.Platform, identifier, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.searchedAuthors[authorKey(platform, identifier, name)]
	return ok
}

// AddPendingMonitor queues an author for future monitoring, capped so lead
// harvesting cannot flood the watch list.
func (s *Session) AddPendingMonitor(author models.Influencer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingMonitors) >= s.limits.MaxPendingWatch {
		return false
	}
	key := authorKey(author.Platform, author.Identifier, author.Name)
	if _, seen := s.monitoredSources[key]; seen {
		return false
	}
	for i := range s.pendingMonitors {
		if authorKey(s.pendingMonitors[i].Platform, s.pendingMonitors[i].Identifier, s.pendingMonitors[i].Name) == key {
			return false
		}
	}
	s.pendingMonitors = append(s.pendingMonitors, author)
	return true
}

// TakePendingMonitors drains the pending watch list.
func (s *Session) TakePendingMonitors() []models.Influencer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pendingMonitors
	s.pendingMonitors = nil
	for _, a := range out {
		s.monitoredSources[authorKey(a.Platform, a.Identifier, a.Name)] = struct{}{}
	}
	return out
}

// RecordEngineResult adds collected-item credit to an engine's progress.
func (s *Session) RecordEngineResult(engine models.Engine, items int) {
	if engine == "" || items <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engineProgress[engine] += items
}

// EngineProgress returns items collected per engine.
func (s *Session) EngineProgress() map[models.Engine]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Engine]int, len(s.engineProgress))
	for k, v := range s.engineProgress {
		out[k] = v
	}
	return out
}

// RecordVerdict appends a quality verdict, bounded to the newest entries.
func (s *Session) RecordVerdict(v models.QualityVerdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdicts = append(s.verdicts, v)
	if len(s.verdicts) > s.limits.MaxVerdicts {
		s.verdicts = s.verdicts[len(s.verdicts)-s.limits.MaxVerdicts:]
	}
}

// Verdicts returns a copy of the recorded verdicts, oldest first.
func (s *Session) Verdicts() []models.QualityVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.QualityVerdict, len(s.verdicts))
	copy(out, s.verdicts)
	return out
}

// LastVerdictFor returns the most recent verdict for a tool signature,
// excluding the given one.
func (s *Session) LastVerdictFor(signature string, excluding time.Time) *models.QualityVerdict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.verdicts) - 1; i >= 0; i-- {
		v := s.verdicts[i]
		if v.Timestamp.Equal(excluding) {
			continue
		}
		if models.InvocationSignature(v.Tool, v.Args) == signature {
			out := v
			return &out
		}
	}
	return nil
}

// MarkVerdictProcessed records that a verdict already produced a retry task.
// Reports false when it was seen before.
func (s *Session) MarkVerdictProcessed(v *models.QualityVerdict) bool {
	key := verdictKey(v)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.processedVerdicts[key]; seen {
		return false
	}
	s.processedVerdicts[key] = struct{}{}
	return true
}

// RetryCount returns how many feedback retries the session has synthesized.
func (s *Session) RetryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.retryCount
}

// IncrementRetry bumps the global retry counter and returns the new value.
func (s *Session) IncrementRetry() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryCount++
	return s.retryCount
}

// FeedbackEnabled reports whether the quality feedback loop is still active.
func (s *Session) FeedbackEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedbackEnabled
}

// DisableFeedback turns the feedback loop off for the rest of the session.
func (s *Session) DisableFeedback(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.feedbackEnabled {
		return
	}
	s.feedbackEnabled = false
	metrics.FeedbackDisabled.Inc()
	s.logger.Warn("Quality feedback loop disabled",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
	)
}

// RecordError appends a tool failure, bounded to the newest entries.
func (s *Session) RecordError(ev ErrorEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, ev)
	if len(s.errors) > s.limits.MaxErrors {
		s.errors = s.errors[len(s.errors)-s.limits.MaxErrors:]
	}
}

// Errors returns a copy of the recorded failures.
func (s *Session) Errors() []ErrorEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ErrorEvent, len(s.errors))
	copy(out, s.errors)
	return out
}

// AppendScratchpad adds a note to the scratchpad, dropping the oldest note
// once the bound is reached.
func (s *Session) AppendScratchpad(note string) {
	if note == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scratchpad = append(s.scratchpad, note)
	if len(s.scratchpad) > s.limits.MaxScratchpad {
		s.scratchpad = s.scratchpad[len(s.scratchpad)-s.limits.MaxScratchpad:]
	}
}

// Scratchpad returns the notes in insertion order.
func (s *Session) Scratchpad() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.scratchpad))
	copy(out, s.scratchpad)
	return out
}

func authorKey(platform models.Platform, identifier, name string) string {
	if identifier != "" {
		return string(platform) + ":" + identifier
	}
	return string(platform) + ":" + name
}

func verdictKey(v *models.QualityVerdict) string {
	return fmt.Sprintf("%s@%d", v.Tool, v.Timestamp.UnixNano())
}
