// Package outlier implements the statistical anomaly filter that decides
// which collected items survive into the output set. Two detection modes:
// vertical (an item outperforming its own author's baseline) for the
// monitor pool, horizontal (an item outperforming its peer batch) for the
// hunter pool.
package outlier

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
)

// Detection types annotated on accepted items.
const (
	DetectVertical    = "vertical_anomaly"
	DetectAbsoluteHit = "absolute_hit"
	DetectBaseline    = "absolute_baseline"
	DetectHorizontal  = "horizontal_anomaly"
	DetectTextValue   = "high_value_text"
)

// Config carries the filter thresholds. Defaults preserve the product
// heuristics the pipeline was tuned with; all remain configurable.
type Config struct {
	TopN              int
	MonitorWindowDays int
	HunterWindowDays  int
	VerticalRatio     float64 // author-relative outperformance multiple
	AbsoluteHitViews  int64   // views that pass regardless of ratio
	BaselineViews     int64   // no-baseline fallback view floor
	BaselineInteract  int64   // no-baseline fallback interaction floor
	MedianMultiple    float64 // peer-median outperformance multiple
	EngagementRate    float64 // engagement-rate acceptance floor
	NormalizedView    float64 // normalized-view acceptance floor
	TextOverrideMin   int64   // forum-item interaction override floor
	DefaultFans       int64   // assumed fans when unknown
	EstimatedEngage   float64 // interaction estimate as a share of views
	DefaultMedian     float64 // peer median when no views are known
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		TopN:              10,
		MonitorWindowDays: 30,
		HunterWindowDays:  60,
		VerticalRatio:     1.2,
		AbsoluteHitViews:  500000,
		BaselineViews:     1000,
		BaselineInteract:  50,
		MedianMultiple:    1.5,
		EngagementRate:    0.01,
		NormalizedView:    2.0,
		TextOverrideMin:   50,
		DefaultFans:       5000,
		EstimatedEngage:   0.02,
		DefaultMedian:     1000,
	}
}

// Filter scores and ranks collected items.
type Filter struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewFilter creates a filter with the given thresholds.
func NewFilter(cfg Config, logger *zap.Logger) *Filter {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConfig().TopN
	}
	if cfg.DefaultFans <= 0 {
		cfg.DefaultFans = DefaultConfig().DefaultFans
	}
	if cfg.DefaultMedian <= 0 {
		cfg.DefaultMedian = DefaultConfig().DefaultMedian
	}
	return &Filter{cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the filter's time source. Test hook.
func (f *Filter) WithClock(clock func() time.Time) *Filter {
	f.now = clock
	return f
}

// Filter deduplicates, enriches, detects anomalies in both pools, and
// returns the top-N by score. The input slice is not modified; returned
// items carry score and detection annotations.
func (f *Filter) Filter(items []models.CollectedItem) []models.CollectedItem {
	metrics.FilterInputSize.Observe(float64(len(items)))
	if len(items) == 0 {
		return nil
	}

	deduped := Deduplicate(items)
	enrich(deduped, f.cfg)

	monitor, hunter := partition(deduped)
	f.logger.Info("Outlier filter input",
		zap.Int("total", len(items)),
		zap.Int("deduped", len(deduped)),
		zap.Int("monitor_pool", len(monitor)),
		zap.Int("hunter_pool", len(hunter)),
	)

	now := f.now()
	accepted := f.detectVertical(monitor, now)
	accepted = append(accepted, f.detectHorizontal(hunter, now)...)

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Score > accepted[j].Score
	})
	if len(accepted) > f.cfg.TopN {
		accepted = accepted[:f.cfg.TopN]
	}

	f.logger.Info("Outlier filter output", zap.Int("accepted", len(accepted)))
	return accepted
}

// Deduplicate collapses items sharing a dedup key (URL, falling back to
// title, falling back to platform+identity). The record with the higher
// view count survives; provenance tags from both are unioned into the
// source chain. Input order of first appearance is preserved.
func Deduplicate(items []models.CollectedItem) []models.CollectedItem {
	type slot struct {
		item  models.CollectedItem
		order int
	}
	byKey := make(map[string]*slot, len(items))
	order := 0

	for i := range items {
		item := items[i]
		item.CloneAnnotations()
		key := dedupKey(&item)
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = &slot{item: item, order: order}
			order++
			continue
		}
		merged := mergeChains(&existing.item, &item)
		if item.ViewCount > existing.item.ViewCount {
			existing.item = item
		}
		existing.item.Annotate(models.AnnotSourceChain, merged)
	}

	out := make([]models.CollectedItem, len(byKey))
	for _, s := range byKey {
		out[s.order] = s.item
	}
	return out
}

func dedupKey(item *models.CollectedItem) string {
	key := item.URL
	if key == "" {
		key = item.Title
	}
	if key == "" {
		key = fmt.Sprintf("%s-%s-%s", item.Platform, item.AuthorID, item.AuthorName)
	}
	return strings.ToLower(strings.TrimSpace(key))
}

// mergeChains unions source types and existing chains of both records.
func mergeChains(a, b *models.CollectedItem) []string {
	set := make(map[string]struct{})
	for _, item := range []*models.CollectedItem{a, b} {
		if item.SourceType != "" {
			set[item.SourceType] = struct{}{}
		}
		for _, tag := range item.SourceChain() {
			set[tag] = struct{}{}
		}
	}
	chain := make([]string, 0, len(set))
	for tag := range set {
		chain = append(chain, tag)
	}
	sort.Strings(chain)
	return chain
}

// enrich attaches cross-platform normalization annotations to every item:
// normalized_view (views over the per-platform median, global median as
// fallback) and engagement_rate (interaction over fans, with estimates for
// unknown values).
func enrich(items []models.CollectedItem, cfg Config) {
	if len(items) == 0 {
		return
	}
	perPlatform := make(map[models.Platform][]float64)
	var all []float64
	for i := range items {
		if items[i].ViewCount > 0 {
			v := float64(items[i].ViewCount)
			perPlatform[items[i].Platform] = append(perPlatform[items[i].Platform], v)
			all = append(all, v)
		}
	}
	platformMedian := make(map[models.Platform]float64, len(perPlatform))
	for p, views := range perPlatform {
		platformMedian[p] = median(views)
	}
	globalMedian := median(all)
	if globalMedian == 0 {
		globalMedian = 1
	}

	for i := range items {
		base := platformMedian[items[i].Platform]
		if base == 0 {
			base = globalMedian
		}
		normalized := float64(items[i].ViewCount) / base

		fans := items[i].AuthorFans
		if fans <= 0 {
			fans = cfg.DefaultFans
		}
		interaction := float64(items[i].Interaction)
		if interaction <= 0 {
			interaction = float64(items[i].ViewCount) * cfg.EstimatedEngage
		}

		items[i].Annotate(models.AnnotNormalizedView, round(normalized, 2))
		items[i].Annotate(models.AnnotEngagementRate, round(interaction/float64(fans), 4))
	}
}

// partition splits items into the monitor and hunter detection pools by
// provenance. An ambiguous item is processed once, under the pool its
// engine tag indicates.
func partition(items []models.CollectedItem) (monitor, hunter []models.CollectedItem) {
	for i := range items {
		item := items[i]
		switch {
		case item.Engine() == models.EngineMonitor,
			item.FromAuthorTask(),
			item.SourceType == "youtube_monitor",
			item.SourceType == "bilibili_monitor":
			monitor = append(monitor, item)
		case item.Engine() == models.EngineHunter:
			hunter = append(hunter, item)
		}
	}
	return monitor, hunter
}

// detectVertical accepts monitor-pool items that outperform their own
// author's historical baseline.
func (f *Filter) detectVertical(pool []models.CollectedItem, now time.Time) []models.CollectedItem {
	var accepted []models.CollectedItem
	for i := range pool {
		item := pool[i]
		if !withinWindow(item.PublishTime, now, f.cfg.MonitorWindowDays) {
			continue
		}

		if item.AuthorAvgViews > 0 {
			ratio := float64(item.ViewCount) / float64(item.AuthorAvgViews)
			switch {
			case ratio > f.cfg.VerticalRatio:
				item.Score = 80 + ratio*10
				item.Annotate(models.AnnotDetectionType, DetectVertical)
				item.Annotate(models.AnnotAnalysisNote, fmt.Sprintf("%.1fx above author baseline", ratio))
			case item.ViewCount > f.cfg.AbsoluteHitViews:
				// Strong authors whose every upload clears their own bar
				// still surface when the absolute numbers are huge.
				item.Score = 75
				item.Annotate(models.AnnotDetectionType, DetectAbsoluteHit)
				item.Annotate(models.AnnotAnalysisNote, "absolute traffic hit")
			default:
				continue
			}
		} else {
			if item.ViewCount <= f.cfg.BaselineViews && item.Interaction <= f.cfg.BaselineInteract {
				continue
			}
			item.Score = 70
			item.Annotate(models.AnnotDetectionType, DetectBaseline)
			item.Annotate(models.AnnotAnalysisNote, "monitor data without historical baseline")
		}

		metrics.FilterAccepted.WithLabelValues(detection(&item)).Inc()
		accepted = append(accepted, item)
	}
	return accepted
}

// detectHorizontal accepts hunter-pool items that outperform their peer
// batch from the same search session.
func (f *Filter) detectHorizontal(pool []models.CollectedItem, now time.Time) []models.CollectedItem {
	if len(pool) == 0 {
		return nil
	}

	var views []float64
	for i := range pool {
		if pool[i].ViewCount > 0 {
			views = append(views, float64(pool[i].ViewCount))
		}
	}
	med := median(views)
	if med == 0 {
		med = f.cfg.DefaultMedian
	}

	var accepted []models.CollectedItem
	for i := range pool {
		item := pool[i]
		if !withinWindow(item.PublishTime, now, f.cfg.HunterWindowDays) {
			continue
		}

		fans := item.AuthorFans
		if fans <= 0 {
			fans = f.cfg.DefaultFans
		}
		interaction := float64(item.Interaction)
		if interaction == 0 {
			interaction = float64(item.ViewCount) * f.cfg.EstimatedEngage
		}
		rate := interaction / float64(fans)
		normalized := item.AnnotationFloat(models.AnnotNormalizedView)

		viewOutlier := float64(item.ViewCount) > med*f.cfg.MedianMultiple
		engOutlier := rate > f.cfg.EngagementRate

		if viewOutlier || engOutlier || normalized > f.cfg.NormalizedView {
			boost := normalized * 5
			if normalized == 0 {
				boost = float64(item.ViewCount) / med * 5
			}
			item.Score = 60 + boost
			item.Annotate(models.AnnotDetectionType, DetectHorizontal)
			note := "peer outlier"
			if normalized > 0 {
				note = fmt.Sprintf("peer outlier | %.1fx normalized views", normalized)
			}
			item.Annotate(models.AnnotAnalysisNote, note)
		} else if item.Platform == models.PlatformReddit && item.Interaction > f.cfg.TextOverrideMin {
			// Text platforms carry no view counts worth comparing; heavily
			// discussed threads are kept as high-value text.
			item.Score = 65
			item.Annotate(models.AnnotDetectionType, DetectTextValue)
			item.Annotate(models.AnnotAnalysisNote, "high-value text thread")
		} else {
			continue
		}

		metrics.FilterAccepted.WithLabelValues(detection(&item)).Inc()
		accepted = append(accepted, item)
	}
	return accepted
}

func detection(item *models.CollectedItem) string {
	if v, ok := item.Annotation(models.AnnotDetectionType).(string); ok {
		return v
	}
	return "unknown"
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func round(v float64, places int) float64 {
	scale := math.Pow10(places)
	return math.Round(v*scale) / scale
}
