package memory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/trendradar/orchestrator/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func sampleItem(url string) models.CollectedItem {
	return models.CollectedItem{
		Platform:  models.PlatformYouTube,
		Title:     "Manus walkthrough",
		URL:       url,
		ViewCount: 120000,
	}
}

func TestPutAndGetRoundtrip(t *testing.T) {
	s := newTestStore(t)
	item := sampleItem("https://youtube.com/watch?v=abc")

	ref, err := s.Put(&item)
	require.NoError(t, err)
	assert.Len(t, ref.RefID, 12)
	assert.Equal(t, item.URL, ref.URL)

	got, err := s.Get(ref.RefID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, item.ViewCount, got.ViewCount)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("doesnotexist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutSameURLKeepsSingleIndexEntry(t *testing.T) {
	s := newTestStore(t)
	item := sampleItem("https://youtube.com/watch?v=abc")

	_, err := s.Put(&item)
	require.NoError(t, err)

	item.ViewCount = 500000
	ref, err := s.Put(&item)
	require.NoError(t, err)

	refs := s.Refs()
	require.Len(t, refs, 1)
	assert.Equal(t, int64(500000), refs[0].ViewCount)

	got, err := s.Get(ref.RefID)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), got.ViewCount)
}

func TestRefIDStable(t *testing.T) {
	a := sampleItem("https://youtube.com/watch?v=abc")
	b := sampleItem("https://youtube.com/watch?v=abc")
	assert.Equal(t, RefID(&a), RefID(&b))

	c := sampleItem("https://youtube.com/watch?v=def")
	assert.NotEqual(t, RefID(&a), RefID(&c))

	noURL := models.CollectedItem{Title: "title only"}
	assert.Len(t, RefID(&noURL), 12)
}

func TestIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	s, err := NewStore(dir, logger)
	require.NoError(t, err)
	item := sampleItem("https://youtube.com/watch?v=abc")
	ref, err := s.Put(&item)
	require.NoError(t, err)

	reopened, err := NewStore(dir, logger)
	require.NoError(t, err)
	refs := reopened.Refs()
	require.Len(t, refs, 1)
	assert.Equal(t, ref.RefID, refs[0].RefID)

	got, err := reopened.Get(ref.RefID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
}

func TestPutAll(t *testing.T) {
	s := newTestStore(t)
	items := []models.CollectedItem{
		sampleItem("https://youtube.com/watch?v=a"),
		sampleItem("https://youtube.com/watch?v=b"),
		sampleItem("https://youtube.com/watch?v=c"),
	}

	refs := s.PutAll(items)
	assert.Len(t, refs, 3)
	assert.Len(t, s.Refs(), 3)
}

func TestAppendScratchpad(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.AppendScratchpad("first note"))
	require.NoError(t, s.AppendScratchpad("second note"))

	data, err := os.ReadFile(filepath.Join(dir, scratchpadFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "first note")
	assert.Contains(t, string(data), "second note")
}
