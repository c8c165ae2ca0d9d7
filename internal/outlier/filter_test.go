package outlier

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trendradar/orchestrator/internal/models"
)

func newTestFilter(t *testing.T) *Filter {
	return NewFilter(DefaultConfig(), zaptest.NewLogger(t))
}

func monitorItem(url string, views, avgViews int64, published string) models.CollectedItem {
	item := models.CollectedItem{
		Platform:       models.PlatformYouTube,
		SourceType:     "youtube_monitor",
		Title:          "video " + url,
		URL:            url,
		AuthorName:     "author",
		AuthorAvgViews: avgViews,
		ViewCount:      views,
		PublishTime:    published,
	}
	item.Annotate(models.AnnotEngine, string(models.EngineMonitor))
	return item
}

func hunterItem(url string, views int64, published string) models.CollectedItem {
	item := models.CollectedItem{
		Platform:    models.PlatformYouTube,
		SourceType:  "youtube_search",
		Title:       "video " + url,
		URL:         url,
		ViewCount:   views,
		PublishTime: published,
	}
	item.Annotate(models.AnnotEngine, string(models.EngineHunter))
	return item
}

func recentDate() string {
	return time.Now().AddDate(0, 0, -3).Format("2006-01-02")
}

func TestFilterEmptyInput(t *testing.T) {
	assert.Empty(t, newTestFilter(t).Filter(nil))
}

func TestDeduplicateByURL(t *testing.T) {
	a := hunterItem("https://example.com/v1", 100, recentDate())
	a.SourceType = "youtube_search"
	b := hunterItem("https://example.com/v1", 500, recentDate())
	b.SourceType = "youtube_monitor"

	out := Deduplicate([]models.CollectedItem{a, b})
	require.Len(t, out, 1)
	// Higher view count wins, provenance unioned.
	assert.Equal(t, int64(500), out[0].ViewCount)
	assert.ElementsMatch(t, []string{"youtube_search", "youtube_monitor"}, out[0].SourceChain())
}

func TestDeduplicateFallsBackToTitle(t *testing.T) {
	a := models.CollectedItem{Title: "Same Title", ViewCount: 10}
	b := models.CollectedItem{Title: "same title ", ViewCount: 20}
	out := Deduplicate([]models.CollectedItem{a, b})
	assert.Len(t, out, 1)
}

func TestDeduplicateIdempotent(t *testing.T) {
	items := []models.CollectedItem{
		hunterItem("https://example.com/a", 100, recentDate()),
		hunterItem("https://example.com/a", 200, recentDate()),
		hunterItem("https://example.com/b", 300, recentDate()),
	}
	once := Deduplicate(items)
	twice := Deduplicate(once)
	assert.Equal(t, once, twice)
}

func TestVerticalAnomalyScenario(t *testing.T) {
	// 10 items at 2x their author baseline within the window must pass at
	// score >= 80; 5 items at or below the ratio threshold must not.
	f := newTestFilter(t)
	var items []models.CollectedItem
	for i := 0; i < 10; i++ {
		items = append(items, monitorItem(fmt.Sprintf("https://example.com/hot%d", i), 20000, 10000, recentDate()))
	}
	for i := 0; i < 5; i++ {
		items = append(items, monitorItem(fmt.Sprintf("https://example.com/flat%d", i), 11000, 10000, recentDate()))
	}

	out := f.Filter(items)
	require.Len(t, out, 10)
	for _, item := range out {
		assert.GreaterOrEqual(t, item.Score, 80.0)
		assert.Contains(t, item.URL, "hot")
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	f := newTestFilter(t)
	items := []models.CollectedItem{
		monitorItem("https://example.com/hot", 20000, 10000, recentDate()),
	}

	out := f.Filter(items)
	require.Len(t, out, 1)
	assert.NotNil(t, out[0].Annotation(models.AnnotDetectionType))

	assert.Nil(t, items[0].Annotation(models.AnnotDetectionType))
	assert.Nil(t, items[0].Annotation(models.AnnotNormalizedView))
	assert.Zero(t, items[0].Score)
}

func TestVerticalScoreMonotonicity(t *testing.T) {
	f := newTestFilter(t)
	hi := monitorItem("https://example.com/hi", 30000, 10000, recentDate())
	lo := monitorItem("https://example.com/lo", 20000, 10000, recentDate())

	out := f.Filter([]models.CollectedItem{lo, hi})
	require.Len(t, out, 2)
	assert.Equal(t, "https://example.com/hi", out[0].URL)
	assert.Greater(t, out[0].Score, out[1].Score)
}

func TestVerticalAbsoluteHit(t *testing.T) {
	f := newTestFilter(t)
	// Ratio below threshold but views above the absolute-hit bar.
	item := monitorItem("https://example.com/mega", 600000, 550000, recentDate())
	out := f.Filter([]models.CollectedItem{item})
	require.Len(t, out, 1)
	assert.Equal(t, 75.0, out[0].Score)
	assert.Equal(t, DetectAbsoluteHit, out[0].Annotation(models.AnnotDetectionType))
}

func TestVerticalNoBaselineFallback(t *testing.T) {
	f := newTestFilter(t)
	pass := monitorItem("https://example.com/nb1", 2000, 0, recentDate())
	fail := monitorItem("https://example.com/nb2", 500, 0, recentDate())

	out := f.Filter([]models.CollectedItem{pass, fail})
	require.Len(t, out, 1)
	assert.Equal(t, "https://example.com/nb1", out[0].URL)
	assert.Equal(t, 70.0, out[0].Score)
}

func TestVerticalTimeWindow(t *testing.T) {
	f := newTestFilter(t)
	old := monitorItem("https://example.com/old", 50000, 10000,
		time.Now().AddDate(0, 0, -45).Format("2006-01-02"))
	out := f.Filter([]models.CollectedItem{old})
	assert.Empty(t, out)
}

func TestUnparseableDatePasses(t *testing.T) {
	f := newTestFilter(t)
	item := monitorItem("https://example.com/odd", 20000, 10000, "a while ago")
	out := f.Filter([]models.CollectedItem{item})
	assert.Len(t, out, 1)
}

func TestHorizontalPeerOutlier(t *testing.T) {
	f := newTestFilter(t)
	items := []models.CollectedItem{
		hunterItem("https://example.com/p1", 1000, recentDate()),
		hunterItem("https://example.com/p2", 1000, recentDate()),
		hunterItem("https://example.com/p3", 1000, recentDate()),
		hunterItem("https://example.com/spike", 10000, recentDate()),
	}
	out := f.Filter(items)
	require.NotEmpty(t, out)
	assert.Equal(t, "https://example.com/spike", out[0].URL)
	assert.Equal(t, DetectHorizontal, out[0].Annotation(models.AnnotDetectionType))
	assert.Greater(t, out[0].Score, 60.0)
}

func TestHorizontalRedditOverride(t *testing.T) {
	f := newTestFilter(t)
	thread := models.CollectedItem{
		Platform:    models.PlatformReddit,
		SourceType:  "web_search",
		Title:       "discussion",
		URL:         "https://reddit.com/r/x/1",
		AuthorFans:  50000,
		Interaction: 120,
		PublishTime: recentDate(),
	}
	thread.Annotate(models.AnnotEngine, string(models.EngineHunter))
	// Peers with many more views so the thread fails every numeric gate.
	peers := []models.CollectedItem{
		hunterItem("https://example.com/q1", 50000, recentDate()),
		hunterItem("https://example.com/q2", 60000, recentDate()),
		hunterItem("https://example.com/q3", 70000, recentDate()),
	}

	out := f.Filter(append(peers, thread))
	var found bool
	for _, item := range out {
		if item.URL == "https://reddit.com/r/x/1" {
			found = true
			assert.Equal(t, 65.0, item.Score)
			assert.Equal(t, DetectTextValue, item.Annotation(models.AnnotDetectionType))
		}
	}
	assert.True(t, found, "high-interaction text thread should survive")
}

func TestTopNTruncation(t *testing.T) {
	f := newTestFilter(t)
	var items []models.CollectedItem
	for i := 0; i < 25; i++ {
		items = append(items, monitorItem(fmt.Sprintf("https://example.com/t%d", i), 30000, 10000, recentDate()))
	}
	out := f.Filter(items)
	assert.Len(t, out, 10)
}

func TestFilterIdempotentOnOwnOutput(t *testing.T) {
	f := newTestFilter(t)
	var items []models.CollectedItem
	for i := 0; i < 6; i++ {
		items = append(items, monitorItem(fmt.Sprintf("https://example.com/i%d", i), 25000, 10000, recentDate()))
	}
	once := f.Filter(items)
	twice := f.Filter(once)
	require.Len(t, twice, len(once))
	for i := range once {
		assert.Equal(t, once[i].URL, twice[i].URL)
		assert.Equal(t, once[i].Score, twice[i].Score)
	}
}

func TestParsePublishTimeFormats(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"1700000000", true},
		{"20240601", true},
		{"2024-06-01", true},
		{"2024/06/01", true},
		{"2024-06-01T10:30:00Z", true},
		{"June sometime", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, ok := parsePublishTime(tt.raw)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 3.0, median([]float64{1, 3, 5}))
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
}
