package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/time/rate"

	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/quality"
	"github.com/trendradar/orchestrator/internal/relevance"
	"github.com/trendradar/orchestrator/internal/retry"
	"github.com/trendradar/orchestrator/internal/state"
	"github.com/trendradar/orchestrator/internal/tools"
)

type fakeStore struct {
	puts  int
	notes []string
}

func (f *fakeStore) PutAll(items []models.CollectedItem) []models.ItemRef {
	f.puts += len(items)
	refs := make([]models.ItemRef, len(items))
	for i := range items {
		refs[i] = models.ItemRef{RefID: items[i].URL, URL: items[i].URL}
	}
	return refs
}

func (f *fakeStore) AppendScratchpad(note string) error {
	f.notes = append(f.notes, note)
	return nil
}

func newTestExecutor(t *testing.T, invoker tools.Invoker, store BlobStore, externalizeAt int) (*Executor, *state.Session) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	session := state.NewSession("sess-1", "manus", state.DefaultLimits(), logger)
	gate := quality.NewGate(relevance.NewValidator(relevance.DefaultConfig(), logger), nil, logger)
	opts := Options{ExternalizeAt: externalizeAt, RateLimit: rate.Inf, RateBurst: 1}
	return New(opts, session, invoker, gate, store, logger), session
}

func searchTask(id, tool, query string) *models.Task {
	return &models.Task{
		ID:       id,
		Kind:     models.TaskContentSearch,
		Platform: tools.PlatformFor(tool),
		Engine:   tools.EngineFor(tool),
		Tool:     tool,
		Args:     map[string]any{"query": query},
	}
}

func successInvoker(records []models.Record) tools.Invoker {
	return tools.InvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
		return &tools.Result{Status: "success", Records: records}, nil
	})
}

func TestExecuteIngestsAndAnnotates(t *testing.T) {
	records := []models.Record{
		{Title: "manus deep dive", URL: "https://youtube.com/watch?v=1", ViewCount: 1000},
		{Title: "manus review", URL: "https://youtube.com/watch?v=2", ViewCount: 2000},
	}
	e, session := newTestExecutor(t, successInvoker(records), nil, 100)

	task := searchTask("t1", tools.YouTubeSearch, "manus")
	require.NoError(t, e.Execute(context.Background(), task))

	items := session.Candidates()
	require.Len(t, items, 2)
	assert.Equal(t, models.PlatformYouTube, items[0].Platform, "platform filled from task")
	assert.Equal(t, models.EngineHunter, items[0].Engine())
	assert.True(t, session.Completed("t1"))
	assert.Equal(t, 2, session.EngineProgress()[models.EngineHunter])

	verdicts := session.Verdicts()
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Passed)

	history := session.TaskHistory()
	require.Len(t, history, 1)
	assert.Equal(t, models.TaskCompleted, history[0].Status)
}

func TestExecuteSkipsInvalidRecordsIndividually(t *testing.T) {
	records := []models.Record{
		{Title: "", URL: ""}, // invalid
		{Title: "manus guide", URL: "https://youtube.com/watch?v=3", ViewCount: 10},
		{Title: "manus talk", URL: "https://youtube.com/watch?v=4", ViewCount: -1}, // negative
	}
	e, session := newTestExecutor(t, successInvoker(records), nil, 100)

	require.NoError(t, e.Execute(context.Background(), searchTask("t1", tools.YouTubeSearch, "manus")))
	assert.Len(t, session.Candidates(), 1)
}

func TestExecuteChaseAnnotations(t *testing.T) {
	records := []models.Record{{Title: "new upload", URL: "https://youtube.com/watch?v=5", ViewCount: 50}}
	e, session := newTestExecutor(t, successInvoker(records), nil, 100)

	task := &models.Task{
		ID:       "chase1",
		Kind:     models.TaskAuthorChase,
		Platform: models.PlatformYouTube,
		Engine:   models.EngineMonitor,
		Tool:     tools.YouTubeMonitor,
		Args:     map[string]any{"author_name": "TechGuru", "author_id": "UC1"},
	}
	require.NoError(t, e.Execute(context.Background(), task))

	items := session.Candidates()
	require.Len(t, items, 1)
	assert.True(t, items[0].FromAuthorTask())
	assert.Equal(t, "TechGuru", items[0].Annotation(models.AnnotSourceAuthor))
	assert.Equal(t, models.EngineMonitor, items[0].Engine())
}

func TestExecuteToolErrorRecordsClassifiedVerdict(t *testing.T) {
	invoker := tools.InvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
		return nil, errors.New("HTTP 429 too many requests")
	})
	e, session := newTestExecutor(t, invoker, nil, 100)

	require.NoError(t, e.Execute(context.Background(), searchTask("t1", tools.BilibiliSearch, "manus")))

	errs := session.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, string(quality.ErrorRateLimit), errs[0].Class)

	verdicts := session.Verdicts()
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Passed)
	assert.Equal(t, models.ActionRetry, verdicts[0].Action)
	assert.True(t, session.Completed("t1"))

	history := session.TaskHistory()
	require.Len(t, history, 1)
	assert.Equal(t, models.TaskFailed, history[0].Status)
}

func TestExecuteErrorStatusResult(t *testing.T) {
	invoker := tools.InvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
		return &tools.Result{Status: "error", Err: "401 unauthorized"}, nil
	})
	e, session := newTestExecutor(t, invoker, nil, 100)

	require.NoError(t, e.Execute(context.Background(), searchTask("t1", tools.YouTubeSearch, "manus")))

	verdicts := session.Verdicts()
	require.Len(t, verdicts, 1)
	assert.Equal(t, models.ActionSkip, verdicts[0].Action, "auth errors are not retryable")
}

func TestExecuteExternalizesAtThreshold(t *testing.T) {
	var records []models.Record
	for i := 0; i < 5; i++ {
		records = append(records, models.Record{
			Title: "manus video", URL: "https://youtube.com/watch?v=" + string(rune('a'+i)), ViewCount: 100,
		})
	}
	store := &fakeStore{}
	e, session := newTestExecutor(t, successInvoker(records), store, 4)

	require.NoError(t, e.Execute(context.Background(), searchTask("t1", tools.YouTubeSearch, "manus")))

	assert.Equal(t, 5, store.puts)
	assert.Empty(t, session.Candidates())
	assert.Len(t, session.Refs(), 5)
	assert.Equal(t, 5, session.CandidateCount())
}

func TestExecuteDiscoveryHarvestsLeadsAndAuthors(t *testing.T) {
	records := []models.Record{
		{
			Title:   "Top Manus creators to watch #manus #ai",
			URL:     "https://blog.example.com/manus-creators",
			Snippet: "See youtube.com/@manusguru and space.bilibili.com/12345 for demos",
		},
		{
			Title: "Manus channel",
			URL:   "https://youtube.com/channel/UCabcdefghij123",
		},
	}
	e, session := newTestExecutor(t, successInvoker(records), nil, 100)

	task := &models.Task{
		ID:       "d1",
		Kind:     models.TaskDiscovery,
		Platform: models.PlatformWeb,
		Engine:   models.EngineHunter,
		Tool:     tools.WebSearch,
		Args:     map[string]any{"query": "manus creators"},
	}
	require.NoError(t, e.Execute(context.Background(), task))

	assert.Empty(t, session.Candidates(), "discovery rows are not candidates")

	leads := session.Leads()
	require.Len(t, leads, 2)
	assert.Equal(t, "blog.example.com", leads[0].Source)
	assert.Equal(t, "manus creators", leads[0].TopicHint)
	assert.ElementsMatch(t, []string{"manus", "ai"}, leads[0].Tags)

	authors := session.Influencers()
	require.NotEmpty(t, authors)
	byID := map[string]models.Influencer{}
	for _, a := range authors {
		byID[a.Identifier] = a
	}
	assert.Contains(t, byID, "@manusguru")
	assert.Equal(t, "medium", byID["@manusguru"].Confidence)
	assert.Contains(t, byID, "12345")
	assert.Contains(t, byID, "UCabcdefghij123")
	assert.Equal(t, "high", byID["UCabcdefghij123"].Confidence)
}

func TestExecuteSearchChainDegradesQuery(t *testing.T) {
	logger := zaptest.NewLogger(t)
	validator := relevance.NewValidator(relevance.DefaultConfig(), logger)
	chain := retry.NewChain(retry.DefaultConfig(), validator, nil, logger).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	// The original query only finds junk; the degraded exact-entity query
	// finds matching uploads.
	invoker := tools.InvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
		query, _ := args["query"].(string)
		if query == "manus walkthrough" {
			return &tools.Result{Status: "success", Records: []models.Record{
				{Title: "cooking pasta", URL: "https://youtube.com/watch?v=x", ViewCount: 10},
			}}, nil
		}
		return &tools.Result{Status: "success", Records: []models.Record{
			{Title: "manus hands-on", URL: "https://youtube.com/watch?v=y", ViewCount: 100},
			{Title: "manus setup", URL: "https://youtube.com/watch?v=z", ViewCount: 200},
		}}, nil
	})

	e, session := newTestExecutor(t, invoker, nil, 100)
	e.WithRetryChain(chain)

	task := searchTask("t1", tools.YouTubeSearch, "manus walkthrough")
	require.NoError(t, e.Execute(context.Background(), task))

	assert.Len(t, session.Candidates(), 2, "winning attempt's records ingested")
	verdicts := session.Verdicts()
	require.Len(t, verdicts, 1)
	assert.True(t, verdicts[0].Passed)
	assert.NotEqual(t, "manus walkthrough", verdicts[0].Args["query"], "verdict carries the query that worked")

	notes := session.Scratchpad()
	require.NotEmpty(t, notes)
	assert.Contains(t, notes[0], "manus walkthrough")
}

func TestExecuteSearchChainExhaustionRecordsFailure(t *testing.T) {
	logger := zaptest.NewLogger(t)
	validator := relevance.NewValidator(relevance.DefaultConfig(), logger)
	chain := retry.NewChain(retry.DefaultConfig(), validator, nil, logger).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	invoker := tools.InvokerFunc(func(ctx context.Context, name string, args map[string]any) (*tools.Result, error) {
		return &tools.Result{Status: "success", Records: []models.Record{
			{Title: "cooking pasta", URL: "https://youtube.com/watch?v=x", ViewCount: 10},
		}}, nil
	})

	e, session := newTestExecutor(t, invoker, nil, 100)
	e.WithRetryChain(chain)

	require.NoError(t, e.Execute(context.Background(), searchTask("t1", tools.YouTubeSearch, "manus walkthrough")))

	assert.Empty(t, session.Candidates())
	verdicts := session.Verdicts()
	require.Len(t, verdicts, 1)
	assert.False(t, verdicts[0].Passed)
	assert.True(t, session.Completed("t1"))
}

func TestExtractTagsDedupedAndCapped(t *testing.T) {
	tags := extractTags("#AI #ai #one #two #three #four #five #six")
	assert.Equal(t, []string{"ai", "one", "two", "three", "four"}, tags)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "youtube.com", domainOf("https://www.youtube.com/watch?v=1"))
	assert.Equal(t, "blog.example.com", domainOf("http://blog.example.com/post"))
	assert.Equal(t, "example.com", domainOf("example.com"))
}
