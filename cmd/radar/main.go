// Command radar runs one content discovery session: it seeds a task plan
// for the given topics, drives the scheduler loop against the tool host,
// then filters the collected candidates down to the trending outliers and
// writes a report.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trendradar/orchestrator/internal/balance"
	"github.com/trendradar/orchestrator/internal/circuitbreaker"
	"github.com/trendradar/orchestrator/internal/config"
	"github.com/trendradar/orchestrator/internal/executor"
	"github.com/trendradar/orchestrator/internal/llm"
	"github.com/trendradar/orchestrator/internal/memory"
	"github.com/trendradar/orchestrator/internal/models"
	"github.com/trendradar/orchestrator/internal/outlier"
	"github.com/trendradar/orchestrator/internal/quality"
	"github.com/trendradar/orchestrator/internal/relevance"
	"github.com/trendradar/orchestrator/internal/retry"
	"github.com/trendradar/orchestrator/internal/scheduler"
	"github.com/trendradar/orchestrator/internal/skills"
	"github.com/trendradar/orchestrator/internal/state"
)

func main() {
	var (
		topicsFlag = flag.String("topics", "", "comma-separated research topics")
		planPath   = flag.String("plan", "", "path to a prepared query plan JSON file")
		outPath    = flag.String("out", "", "report output path (default stdout)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger, *topicsFlag, *planPath, *outPath); err != nil {
		logger.Fatal("Session failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, topicsFlag, planPath, outPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Port, logger)
	}

	toolsURL := os.Getenv("RADAR_TOOLS_URL")
	if toolsURL == "" {
		return fmt.Errorf("RADAR_TOOLS_URL must point at the tool host")
	}
	invoker := newToolHostClient(toolsURL)

	var client llm.Client
	if gatewayURL := os.Getenv("RADAR_LLM_URL"); gatewayURL != "" {
		client = newGatewayClient(gatewayURL)
	} else {
		logger.Warn("No LLM gateway configured; planner and judge run degraded")
	}

	plan, topic, err := resolvePlan(ctx, client, topicsFlag, planPath, logger)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	session := state.NewSession(sessionID, topic, state.Limits{
		MaxErrors:      cfg.Session.MaxErrors,
		MaxVerdicts:    cfg.Feedback.MaxVerdicts,
		MaxScratchpad:  cfg.Memory.ScratchpadKeep,
		MaxTaskHistory: cfg.Session.MaxTaskHistory,
	}, logger)

	store, err := memory.NewStore(filepath.Join(cfg.Memory.Dir, sessionID), logger)
	if err != nil {
		return err
	}

	validator := relevance.NewValidator(relevance.Config{
		Threshold:      cfg.Relevance.Threshold,
		TopK:           cfg.Relevance.TopK,
		FuzzySimilar:   cfg.Relevance.FuzzySimilar,
		MinTokenLength: cfg.Relevance.MinTokenLength,
	}, logger)
	gate := quality.NewGate(validator, client, logger)
	guard := quality.NewGuard(quality.GuardConfig{
		MaxRetries: cfg.Feedback.MaxGuardRetry,
		MaxCostUSD: cfg.Feedback.MaxGuardCost,
	}, logger)
	controller := quality.NewController(guard, logger)

	tracker := balance.NewTracker(balance.Options{
		Mode:           balance.Mode(cfg.Balance.Mode),
		SoftThreshold:  cfg.Balance.SoftThreshold,
		StrictInterval: cfg.Balance.StrictInterval,
		MinItems:       cfg.Balance.MinItems,
		HistorySize:    cfg.Balance.HistorySize,
	}, logger)

	breaker := circuitbreaker.New("search", circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, logger)
	chain := retry.NewChain(retry.Config{
		MaxAttempts:    cfg.Retry.MaxRetries,
		BackoffBase:    cfg.Retry.BackoffFactor,
		BackoffCap:     cfg.Retry.MaxBackoff,
		JitterFraction: 0.10,
	}, validator, breaker, logger)
	if !cfg.Retry.EnableBackoff {
		chain.WithSleep(func(context.Context, time.Duration) error { return nil })
	}

	registry := skills.Load(cfg.Skills.Dir, logger)

	sched := scheduler.New(cfg.Session, cfg.Feedback, session, tracker, controller, client, logger).
		WithSkills(registry, cfg.Skills.MaxSnippets)
	exec := executor.New(executor.Options{
		ExternalizeAt: cfg.Memory.ExternalizeAt,
	}, session, invoker, gate, store, logger).
		WithRetryChain(chain)

	logger.Info("Session starting",
		zap.String("session_id", sessionID),
		zap.String("topic", topic),
		zap.Int("topics", len(plan)),
		zap.Int("target_items", cfg.Session.TargetItems),
	)

	sched.InitializeQueue(plan)
	if err := sched.Run(ctx, exec); err != nil {
		return err
	}

	report := buildReport(cfg, session, store, tracker, logger)
	session.SetPhase(state.PhaseDone)

	if err := store.Cleanup(time.Duration(cfg.Memory.RetentionDays) * 24 * time.Hour); err != nil {
		logger.Warn("Blob cleanup failed", zap.Error(err))
	}
	return writeReport(report, outPath)
}

func resolvePlan(ctx context.Context, client llm.Client, topicsFlag, planPath string, logger *zap.Logger) ([]models.TopicQueries, string, error) {
	if planPath != "" {
		plan, err := loadPlan(planPath)
		if err != nil {
			return nil, "", err
		}
		return plan, planTopic(plan), nil
	}
	var topics []string
	for _, t := range strings.Split(topicsFlag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		return nil, "", fmt.Errorf("either -topics or -plan is required")
	}
	return buildPlan(ctx, client, topics, logger), strings.Join(topics, ", "), nil
}

func planTopic(plan []models.TopicQueries) string {
	names := make([]string, 0, len(plan))
	for _, p := range plan {
		names = append(names, p.Topic)
	}
	return strings.Join(names, ", ")
}

// Report is the session output: the filtered winners plus run diagnostics.
type Report struct {
	SessionID   string                 `json:"session_id"`
	Topic       string                 `json:"topic"`
	GeneratedAt time.Time              `json:"generated_at"`
	Items       []models.CollectedItem `json:"items"`
	Candidates  int                    `json:"candidates_considered"`
	Steps       int                    `json:"plan_steps"`
	Balance     balance.Report         `json:"balance"`
	Verdicts    int                    `json:"quality_verdicts"`
	Retries     int                    `json:"feedback_retries"`
	Errors      []state.ErrorEvent     `json:"errors,omitempty"`
	Leads       []models.Lead          `json:"leads,omitempty"`
	Influencers []models.Influencer    `json:"influencers,omitempty"`
}

func buildReport(cfg *config.Config, session *state.Session, store *memory.Store, tracker *balance.Tracker, logger *zap.Logger) *Report {
	candidates := session.Candidates()
	for _, ref := range session.Refs() {
		item, err := store.Get(ref.RefID)
		if err != nil {
			logger.Warn("Externalized item unreadable", zap.String("ref_id", ref.RefID), zap.Error(err))
			continue
		}
		candidates = append(candidates, *item)
	}

	filter := outlier.NewFilter(outlier.Config{
		TopN:              cfg.Outlier.TopN,
		MonitorWindowDays: cfg.Outlier.MonitorWindowDays,
		HunterWindowDays:  cfg.Outlier.HunterWindowDays,
		VerticalRatio:     cfg.Outlier.VerticalRatio,
		AbsoluteHitViews:  cfg.Outlier.AbsoluteHitViews,
		BaselineViews:     cfg.Outlier.BaselineViews,
		BaselineInteract:  cfg.Outlier.BaselineInteract,
		MedianMultiple:    cfg.Outlier.MedianMultiple,
		EngagementRate:    cfg.Outlier.EngagementRate,
		NormalizedView:    cfg.Outlier.NormalizedView,
		TextOverrideMin:   cfg.Outlier.TextOverrideMin,
		DefaultFans:       cfg.Outlier.DefaultFans,
		EstimatedEngage:   cfg.Outlier.EstimatedEngage,
		DefaultMedian:     cfg.Outlier.DefaultMedian,
	}, logger)
	winners := filter.Filter(candidates)

	stats := tracker.ComputeStats(candidates, nil)
	logger.Info("Session report built",
		zap.Int("candidates", len(candidates)),
		zap.Int("winners", len(winners)),
		zap.Int("steps", session.StepCount()),
	)
	return &Report{
		SessionID:   session.ID,
		Topic:       session.Topic,
		GeneratedAt: time.Now(),
		Items:       winners,
		Candidates:  len(candidates),
		Steps:       session.StepCount(),
		Balance:     tracker.BuildReport(stats),
		Verdicts:    len(session.Verdicts()),
		Retries:     session.RetryCount(),
		Errors:      session.Errors(),
		Leads:       session.Leads(),
		Influencers: session.Influencers(),
	}
}

func writeReport(report *Report, outPath string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if outPath == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

func serveMetrics(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	logger.Info("Metrics listener started", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics listener stopped", zap.Error(err))
	}
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
