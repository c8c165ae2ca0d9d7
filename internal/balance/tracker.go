// Package balance keeps collection spread across the two video platforms.
// The tracker is purely advisory: it suggests which platform the scheduler
// should favor next and records what was actually executed.
package balance

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
)

// Mode selects how aggressively the tracker enforces balance.
type Mode string

const (
	// ModeStrict forces alternation after a short run of same-platform picks.
	ModeStrict Mode = "strict"
	// ModeSoft only intervenes when the count difference exceeds a threshold.
	ModeSoft Mode = "soft"
	// ModeAdaptive combines both, scaled by how imbalanced the session is.
	ModeAdaptive Mode = "adaptive"
)

// Stats is a derived view over the candidate set and task queue. Never
// stored; recomputed on demand.
type Stats struct {
	YouTubeCount    int
	BilibiliCount   int
	YouTubePending  int
	BilibiliPending int
	LastPlatform    models.Platform
}

// Total is the number of items counted on both platforms.
func (s Stats) Total() int { return s.YouTubeCount + s.BilibiliCount }

// Ratio is the YouTube share of the total; 0.5 is perfect balance.
func (s Stats) Ratio() float64 {
	if s.Total() == 0 {
		return 0.5
	}
	return float64(s.YouTubeCount) / float64(s.Total())
}

// ImbalanceDegree is |ratio-0.5|*2, bounded to [0,1].
func (s Stats) ImbalanceDegree() float64 {
	d := math.Abs(s.Ratio()-0.5) * 2
	if d > 1 {
		return 1
	}
	return d
}

// Balanced reports whether the imbalance is within the given tolerance.
func (s Stats) Balanced(threshold float64) bool {
	return s.ImbalanceDegree() <= threshold
}

// Alert is an advisory observation; it never blocks execution.
type Alert struct {
	Type            string
	YouTubeCount    int
	BilibiliCount   int
	ImbalanceDegree float64
	Action          models.Platform
}

// Options configure a Tracker.
type Options struct {
	Mode           Mode
	SoftThreshold  int // count difference tolerated in soft mode
	StrictInterval int // max consecutive same-platform picks in strict mode
	MinItems       int // items required before adaptive mode intervenes
	HistorySize    int // rolling execution log length
}

// DefaultOptions mirror the tuning the session runs with out of the box.
func DefaultOptions() Options {
	return Options{
		Mode:           ModeAdaptive,
		SoftThreshold:  5,
		StrictInterval: 2,
		MinItems:       4,
		HistorySize:    20,
	}
}

// Tracker decides which platform should be favored next.
type Tracker struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	history []models.Platform
	alerts  []Alert
}

// NewTracker creates a tracker. Zero option fields fall back to defaults.
func NewTracker(opts Options, logger *zap.Logger) *Tracker {
	def := DefaultOptions()
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.SoftThreshold <= 0 {
		opts.SoftThreshold = def.SoftThreshold
	}
	if opts.StrictInterval <= 0 {
		opts.StrictInterval = def.StrictInterval
	}
	if opts.MinItems <= 0 {
		opts.MinItems = def.MinItems
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = def.HistorySize
	}
	return &Tracker{opts: opts, logger: logger}
}

// ComputeStats derives platform statistics from the candidate set and the
// pending portion of the task queue.
func (t *Tracker) ComputeStats(candidates []models.CollectedItem, queue []models.Task) Stats {
	var s Stats
	for i := range candidates {
		switch candidates[i].Platform {
		case models.PlatformYouTube:
			s.YouTubeCount++
		case models.PlatformBilibili:
			s.BilibiliCount++
		}
	}
	for i := range queue {
		if queue[i].Status != models.TaskPending {
			continue
		}
		switch queue[i].Platform {
		case models.PlatformYouTube:
			s.YouTubePending++
		case models.PlatformBilibili:
			s.BilibiliPending++
		}
	}
	t.mu.Lock()
	if len(t.history) > 0 {
		s.LastPlatform = t.history[len(t.history)-1]
	}
	t.mu.Unlock()

	metrics.ImbalanceDegree.Set(s.ImbalanceDegree())
	return s
}

// SelectPlatform suggests the platform the next task should come from, or
// empty when the tracker has no preference and priority ordering applies.
func (t *Tracker) SelectPlatform(stats Stats, available []models.Platform) models.Platform {
	if len(available) == 0 {
		return ""
	}
	if len(available) == 1 {
		return available[0]
	}

	switch t.opts.Mode {
	case ModeStrict:
		return t.strictSelect(stats, available)
	case ModeSoft:
		return t.softSelect(stats, available)
	default:
		return t.adaptiveSelect(stats, available)
	}
}

func (t *Tracker) strictSelect(stats Stats, available []models.Platform) models.Platform {
	if last, n := t.recentRun(); n >= t.opts.StrictInterval {
		if other := last.Opposite(); contains(available, other) {
			t.logger.Info("Forcing platform switch",
				zap.String("mode", "strict"),
				zap.String("from", string(last)),
				zap.String("to", string(other)),
			)
			return other
		}
	}

	if other := stats.LastPlatform.Opposite(); other != "" && contains(available, other) {
		return other
	}
	return available[0]
}

func (t *Tracker) softSelect(stats Stats, available []models.Platform) models.Platform {
	diff := stats.YouTubeCount - stats.BilibiliCount

	if diff > t.opts.SoftThreshold && contains(available, models.PlatformBilibili) {
		t.logger.Info("Soft balance override",
			zap.Int("youtube_lead", diff),
			zap.String("preferred", string(models.PlatformBilibili)),
		)
		return models.PlatformBilibili
	}
	if -diff > t.opts.SoftThreshold && contains(available, models.PlatformYouTube) {
		t.logger.Info("Soft balance override",
			zap.Int("bilibili_lead", -diff),
			zap.String("preferred", string(models.PlatformYouTube)),
		)
		return models.PlatformYouTube
	}
	return ""
}

func (t *Tracker) adaptiveSelect(stats Stats, available []models.Platform) models.Platform {
	if stats.Total() < t.opts.MinItems {
		return ""
	}

	if stats.ImbalanceDegree() > 0.5 {
		weak := models.PlatformBilibili
		if stats.BilibiliCount > stats.YouTubeCount {
			weak = models.PlatformYouTube
		}
		if contains(available, weak) {
			t.addAlert("severe_imbalance", stats, weak)
			return weak
		}
		return ""
	}

	if stats.ImbalanceDegree() > 0.2 {
		return t.softSelect(stats, available)
	}

	if last, n := t.recentRun(); n >= 3 {
		if other := last.Opposite(); contains(available, other) {
			return other
		}
	}
	return ""
}

// RecordExecution appends to the rolling execution log.
func (t *Tracker) RecordExecution(platform models.Platform) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, platform)
	if len(t.history) > t.opts.HistorySize {
		t.history = t.history[len(t.history)-t.opts.HistorySize:]
	}
}

// History returns a copy of the rolling execution log.
func (t *Tracker) History() []models.Platform {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Platform, len(t.history))
	copy(out, t.history)
	return out
}

// Alerts returns the advisory alerts recorded so far.
func (t *Tracker) Alerts() []Alert {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Alert, len(t.alerts))
	copy(out, t.alerts)
	return out
}

// recentRun returns the length of the trailing run of identical platforms.
func (t *Tracker) recentRun() (models.Platform, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return "", 0
	}
	last := t.history[len(t.history)-1]
	n := 0
	for i := len(t.history) - 1; i >= 0 && t.history[i] == last; i-- {
		n++
	}
	return last, n
}

func (t *Tracker) addAlert(alertType string, stats Stats, action models.Platform) {
	t.mu.Lock()
	t.alerts = append(t.alerts, Alert{
		Type:            alertType,
		YouTubeCount:    stats.YouTubeCount,
		BilibiliCount:   stats.BilibiliCount,
		ImbalanceDegree: stats.ImbalanceDegree(),
		Action:          action,
	})
	t.mu.Unlock()

	metrics.BalanceAlerts.WithLabelValues(alertType).Inc()
	t.logger.Warn("Balance alert",
		zap.String("type", alertType),
		zap.Int("youtube", stats.YouTubeCount),
		zap.Int("bilibili", stats.BilibiliCount),
		zap.Float64("imbalance", stats.ImbalanceDegree()),
		zap.String("action", string(action)),
	)
}

func contains(platforms []models.Platform, p models.Platform) bool {
	for _, e := range platforms {
		if e == p {
			return true
		}
	}
	return false
}

// Report summarizes the tracker for logs and the dynamic task generator.
type Report struct {
	Mode            Mode
	YouTubeCount    int
	BilibiliCount   int
	Ratio           float64
	ImbalanceDegree float64
	Balanced        bool
	Recent          []models.Platform
	AlertCount      int
}

// BuildReport produces an observability snapshot.
func (t *Tracker) BuildReport(stats Stats) Report {
	hist := t.History()
	if len(hist) > 5 {
		hist = hist[len(hist)-5:]
	}
	t.mu.Lock()
	alerts := len(t.alerts)
	t.mu.Unlock()
	return Report{
		Mode:            t.opts.Mode,
		YouTubeCount:    stats.YouTubeCount,
		BilibiliCount:   stats.BilibiliCount,
		Ratio:           stats.Ratio(),
		ImbalanceDegree: stats.ImbalanceDegree(),
		Balanced:        stats.Balanced(0.3),
		Recent:          hist,
		AlertCount:      alerts,
	}
}
