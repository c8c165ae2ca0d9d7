// Package executor runs scheduled tasks against the tool host: it merges
// default arguments, paces invocations, normalizes and annotates results,
// harvests leads and author sources from discovery output, records quality
// verdicts, and externalizes candidates once the in-memory set grows large.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/trendradar/orchestrator/internal/metrics"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/quality"
	"github.com/trendradar/orchestrator/internal/retry"
	"github.com/trendradar/orchestrator/internal/state"
	"github.com/trendradar/orchestrator/internal/tools"
)

// BlobStore externalizes candidate items out of session memory.
type BlobStore interface {
	PutAll(items []models.CollectedItem) []models.ItemRef
	AppendScratchpad(note string) error
}

// Options tunes the executor.
type Options struct {
	ExternalizeAt int        // in-memory candidates before spilling to the store
	RateLimit     rate.Limit // tool invocations per second
	RateBurst     int
}

// DefaultOptions returns the standard executor settings.
func DefaultOptions() Options {
	return Options{ExternalizeAt: 100, RateLimit: 2, RateBurst: 2}
}

// Executor runs one task at a time against the tool invoker.
type Executor struct {
	opts    Options
	session *state.Session
	invoker tools.Invoker
	gate    *quality.Gate
	store   BlobStore
	chain   *retry.Chain
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates an executor. The store may be nil, which disables
// externalization.
func New(opts Options, session *state.Session, invoker tools.Invoker, gate *quality.Gate, store BlobStore, logger *zap.Logger) *Executor {
	def := DefaultOptions()
	if opts.ExternalizeAt <= 0 {
		opts.ExternalizeAt = def.ExternalizeAt
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = def.RateLimit
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}
	return &Executor{
		opts:    opts,
		session: session,
		invoker: invoker,
		gate:    gate,
		store:   store,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		logger:  logger,
	}
}

// WithRetryChain routes search tools through the layered retry chain
// instead of a single invocation.
func (e *Executor) WithRetryChain(chain *retry.Chain) *Executor {
	e.chain = chain
	return e
}

// Execute runs one task end to end. Tool failures are recorded as classified
// errors and failed verdicts so the feedback loop can repair them; they do
// not return an error unless the context is gone.
func (e *Executor) Execute(ctx context.Context, task *models.Task) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	args := tools.MergeParams(task.Tool, task.Args)

	var records []models.Record
	if e.chain != nil && tools.IsSearch(task.Tool) {
		got, ok := e.runSearchChain(ctx, task, args)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !ok {
			return nil
		}
		records = got
	} else {
		result, err := e.invoker.Invoke(ctx, task.Tool, args)
		if err != nil || !result.OK() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.recordFailure(task, args, err, result)
			return nil
		}
		records = result.Records
		if result.Summary != "" {
			e.note(result.Summary)
		}
	}
	metrics.ToolExecutions.WithLabelValues(task.Tool, "success").Inc()

	if task.Tool == tools.WebSearch {
		e.harvestDiscovery(task, args, records)
	} else {
		e.ingestRecords(task, records)
	}

	verdict := e.gate.Evaluate(ctx, e.session.Topic, task.Tool, args, records)
	e.session.RecordVerdict(verdict)

	e.session.CloseTask(task, models.TaskCompleted)
	e.maybeExternalize()

	e.logger.Info("Task executed",
		zap.String("task_id", task.ID),
		zap.String("tool", task.Tool),
		zap.Int("records", len(records)),
		zap.Bool("passed", verdict.Passed),
	)
	return nil
}

// runSearchChain drives the layered retry chain for one search task. On
// success the winning attempt's records come back with the task's query
// updated to the query that worked, so the quality gate judges the right
// pair. On failure the task is closed out with a classified verdict.
func (e *Executor) runSearchChain(ctx context.Context, task *models.Task, args map[string]any) ([]models.Record, bool) {
	query, _ := args["query"].(string)
	records, history, err := e.chain.Execute(ctx, task.Platform, query,
		func(ctx context.Context, q string) ([]models.Record, error) {
			callArgs := make(map[string]any, len(args))
			for k, v := range args {
				callArgs[k] = v
			}
			callArgs["query"] = q
			result, err := e.invoker.Invoke(ctx, task.Tool, callArgs)
			if err != nil {
				return nil, err
			}
			if !result.OK() {
				return nil, errors.New(result.Err)
			}
			return result.Records, nil
		})

	if len(history.Attempts) > 1 || !history.Succeeded {
		e.note(fmt.Sprintf("search %q: %s", query, history.Summary()))
	}
	if err != nil {
		if ctx.Err() == nil {
			e.recordFailure(task, args, err, nil)
		}
		return nil, false
	}
	if history.FinalQuery != "" && history.FinalQuery != query {
		args["query"] = history.FinalQuery
	}
	return records, true
}

// recordFailure classifies a tool failure, stores the error, and records a
// failed verdict carrying the classifier's adjustments so retry synthesis
// has something to act on.
func (e *Executor) recordFailure(task *models.Task, args map[string]any, err error, result *tools.Result) {
	message := ""
	switch {
	case err != nil:
		message = err.Error()
	case result != nil:
		message = result.Err
	}
	metrics.ToolExecutions.WithLabelValues(task.Tool, "error").Inc()

	class := quality.Classify(message, task.Platform)
	e.session.RecordError(state.ErrorEvent{
		Tool:    task.Tool,
		Message: message,
		Class:   string(class.Class),
	})

	action := models.ActionSkip
	if class.Retryable {
		action = models.ActionRetry
		if len(class.Adjustments) > 0 {
			action = models.ActionAdjustParams
		}
	}
	verdict := models.QualityVerdict{
		Passed:         false,
		Confidence:     0.9,
		Issues:         []string{message},
		RootCause:      string(class.Class),
		Action:         action,
		AdjustmentPlan: class.Adjustments,
		Reasoning:      class.Hint,
		Tool:           task.Tool,
		Args:           args,
	}
	e.session.RecordVerdict(e.stamp(verdict))
	e.session.CloseTask(task, models.TaskFailed)

	e.logger.Warn("Tool execution failed",
		zap.String("task_id", task.ID),
		zap.String("tool", task.Tool),
		zap.String("class", string(class.Class)),
		zap.String("error", message),
	)
}

func (e *Executor) stamp(v models.QualityVerdict) models.QualityVerdict {
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now()
	}
	return v
}

// ingestRecords converts tool records into annotated candidates. Malformed
// records are skipped individually so one bad row cannot sink a batch.
func (e *Executor) ingestRecords(task *models.Task, records []models.Record) {
	engine := task.Engine
	if engine == "" {
		engine = tools.EngineFor(task.Tool)
	}

	items := make([]models.CollectedItem, 0, len(records))
	for i := range records {
		if records[i].Platform == "" {
			records[i].Platform = task.Platform
		}
		item, err := models.ItemFromRecord(records[i])
		if err != nil {
			metrics.RecordsSkipped.Inc()
			e.logger.Debug("Record skipped",
				zap.String("tool", task.Tool),
				zap.Error(err),
			)
			continue
		}
		item.Annotate(models.AnnotEngine, string(engine))
		if task.Kind == models.TaskAuthorChase {
			item.Annotate(models.AnnotFromAuthorTask, true)
			if name, ok := task.Args["author_name"].(string); ok && name != "" {
				item.Annotate(models.AnnotSourceAuthor, name)
			}
		}
		items = append(items, item)
		metrics.ItemsIngested.WithLabelValues(string(item.Platform), string(engine)).Inc()
	}
	if len(items) == 0 {
		return
	}
	e.session.AddCandidates(items)
	e.session.RecordEngineResult(engine, len(items))
}

// maybeExternalize spills in-memory candidates to the blob store once they
// pass the threshold, leaving only refs in the session.
func (e *Executor) maybeExternalize() {
	if e.store == nil {
		return
	}
	candidates := e.session.Candidates()
	if len(candidates) < e.opts.ExternalizeAt {
		return
	}
	refs := e.store.PutAll(candidates)
	e.session.ReplaceCandidates(refs)
	e.logger.Info("Candidates externalized",
		zap.Int("items", len(candidates)),
		zap.Int("refs", len(refs)),
	)
}

func (e *Executor) note(text string) {
	e.session.AppendScratchpad(text)
	if e.store != nil {
		if err := e.store.AppendScratchpad(text); err != nil {
			e.logger.Warn("Scratchpad write failed", zap.Error(err))
		}
	}
}
