// Package engine wires the frontier scheduler, the atlas writer, the
// optional analytics and event-bus sinks, and the checkpoint cadence into
// one crawl lifecycle: Start, Pause, Resume, Cancel, Progress.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/common/redis"
	"github.com/atlascrawl/engine/internal/engine/analytics"
	"github.com/atlascrawl/engine/internal/engine/checkpoint"
	"github.com/atlascrawl/engine/internal/engine/eventbus"
	"github.com/atlascrawl/engine/internal/engine/fetch"
	"github.com/atlascrawl/engine/internal/engine/frontier"
	"github.com/atlascrawl/engine/internal/engine/render"
	"github.com/atlascrawl/engine/pkg/types"
)

// ExitCode mirrors the contract in spec.md §6: the process's exit status
// tells the caller, without parsing logs, what class of outcome occurred.
type ExitCode int

const (
	ExitSuccess           ExitCode = 0
	ExitArgError          ExitCode = 1
	ExitErrorBudget       ExitCode = 2
	ExitRenderFatal       ExitCode = 3
	ExitWriteFatal        ExitCode = 4
	ExitValidationFailed  ExitCode = 5
	ExitUnclassifiedFatal ExitCode = 10
)

// ErrRenderInit and ErrWriteInit let cmd/atlascrawl classify a New failure
// into the right exit code without parsing error strings.
var (
	ErrRenderInit = errors.New("render pool initialization failed")
	ErrWriteInit  = errors.New("atlas writer initialization failed")
)

// Engine owns one crawl's full lifecycle: constructing the subsystems a
// CrawlConfig describes, running them to completion, and finalizing the
// atlas archive.
type Engine struct {
	cfg    *config.CrawlConfig
	logger *zap.Logger

	job       *types.CrawlJob
	scheduler *frontier.Scheduler
	writer    *atlas.Writer
	pool      *render.ContextPool
	bus       *eventbus.Bus
	analytics *analytics.Exporter
	redisConn *redis.Client

	checkpointer *checkpoint.Writer
	stats        *statsAccumulator

	stagingDir string
	resumedOf  string
	startedAt  time.Time
	summary    *types.AtlasSummary
}

// New constructs an Engine from a loaded CrawlConfig. A staging directory
// that already holds a checkpoint (per spec.md §4.6) is resumed in place;
// otherwise a fresh crawl is seeded. Either way it does not start the crawl;
// call Start next.
func New(cfg *config.CrawlConfig, logger *zap.Logger) (*Engine, error) {
	crawlID := uuid.Must(uuid.NewV7()).String()
	stagingDir := stagingDirFor(cfg)
	if err := ensureDir(stagingDir); err != nil {
		return nil, fmt.Errorf("engine: create staging dir: %w", err)
	}

	frontierCfg, err := frontier.FromCrawlConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("engine: translate config: %w", err)
	}

	var snap *checkpoint.Snapshot
	if hasCheckpoint(stagingDir) {
		snap, err = checkpoint.Load(stagingDir)
		if err != nil {
			return nil, fmt.Errorf("engine: resume refused: %w", err)
		}
	}

	datasets := expectedDatasets(cfg.Crawl.Render.Mode)
	var writer *atlas.Writer
	if snap != nil {
		writer, err = atlas.ResumeWriter(atlasConfig(cfg), datasets, &snap.State)
	} else {
		writer, err = atlas.NewWriter(atlasConfig(cfg), datasets)
	}
	if err != nil {
		return nil, fmt.Errorf("engine: %w: %v", ErrWriteInit, err)
	}

	robots := fetch.NewRobotsCache(cfg.HTTP.UserAgent, logger)
	fetcher := fetch.NewFetcher(robots, cfg.HTTP.RPS, logger)

	var pool *render.ContextPool
	var renderer *render.Renderer
	if types.RenderMode(cfg.Crawl.Render.Mode) != types.ModeRaw {
		rc := renderConfig(cfg)
		pool, err = render.NewContextPool(rc, logger)
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("engine: %w: %v", ErrRenderInit, err)
		}
		renderer = render.NewRenderer(pool, rc, logger)
	}

	var redisConn *redis.Client
	var publisher eventbus.Publisher
	if cfg.EventBus.RedisAddr != "" {
		redisConn, err = redis.NewClient(cfg.EventBus.RedisAddr, logger)
		if err != nil {
			logger.Warn("eventbus redis connection failed, continuing without fanout", zap.Error(err))
		} else {
			publisher = redisConn
		}
	}
	bus := eventbus.New(logger, publisher, "atlascrawl:events")

	scheduler, err := frontier.NewScheduler(frontierCfg, fetcher, renderer, writer, bus, logger)
	if err != nil {
		writer.Close()
		if pool != nil {
			pool.Shutdown()
		}
		return nil, fmt.Errorf("engine: create scheduler: %w", err)
	}

	exp, warn := analytics.MaybeOpen(context.Background(), cfg.Analytics.ClickhouseDSN, logger)
	if warn != nil {
		logger.Warn("analytics export unavailable", zap.String("code", warn.Code), zap.String("message", warn.Message))
	}
	if exp != nil {
		scheduler.SetAnalytics(exp, crawlID)
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		job:          &types.CrawlJob{CrawlID: crawlID, State: types.JobIdle},
		scheduler:    scheduler,
		writer:       writer,
		pool:         pool,
		bus:          bus,
		analytics:    exp,
		redisConn:    redisConn,
		checkpointer: checkpoint.NewWriter(stagingDir),
		stats:        newStatsAccumulator(),
		stagingDir:   stagingDir,
	}

	if snap != nil {
		e.job.CrawlID = snap.State.CrawlID
		e.resumedOf = snap.State.CrawlID
		e.stats.seedResume(snap.State.VisitedCount)
		if err := scheduler.Restore(snap.Visited, snap.Frontier); err != nil {
			writer.Close()
			if pool != nil {
				pool.Shutdown()
			}
			return nil, fmt.Errorf("engine: restore frontier: %w", err)
		}
	}

	scheduler.OnPageWritten(e.stats.record)
	scheduler.OnCheckpoint(e.saveCheckpoint)

	return e, nil
}

// hasCheckpoint reports whether stagingDir holds a prior crawl's state.json,
// the signal New uses to resume in place instead of seeding fresh.
func hasCheckpoint(stagingDir string) bool {
	_, err := os.Stat(filepath.Join(stagingDir, "state.json"))
	return err == nil
}

// Start runs the crawl to completion (or until paused/canceled) and
// finalizes the atlas archive. It blocks for the lifetime of the crawl.
func (e *Engine) Start(ctx context.Context) (*types.CrawlResult, ExitCode, error) {
	if !e.job.Transition(types.JobRunning) {
		return nil, ExitUnclassifiedFatal, fmt.Errorf("engine: cannot start job in state %s", e.job.State)
	}
	e.startedAt = time.Now().UTC()
	e.bus.Emit(eventbus.KindStarted, map[string]string{"crawlId": e.job.CrawlID})

	var result *types.CrawlResult
	var runErr error
	if e.resumedOf != "" {
		result, runErr = e.scheduler.StartResumed(ctx)
	} else {
		result, runErr = e.scheduler.Start(ctx)
	}

	if runErr != nil {
		e.job.Transition(types.JobFinalizing)
		e.job.Transition(types.JobFailed)
		return nil, ExitUnclassifiedFatal, fmt.Errorf("engine: crawl run failed: %w", runErr)
	}

	if !e.job.Transition(types.JobFinalizing) {
		e.job.Transition(types.JobFailed)
		return result, ExitUnclassifiedFatal, fmt.Errorf("engine: cannot enter finalizing from %s", e.job.State)
	}

	exitCode, finalizeErr := e.finalize(ctx, result)
	if finalizeErr != nil {
		e.job.Transition(types.JobFailed)
		return result, exitCode, finalizeErr
	}
	e.job.Transition(types.JobDone)
	e.bus.Emit(eventbus.KindFinished, map[string]interface{}{"crawlId": e.job.CrawlID, "reason": result.CompletionReason})

	if result.ErrorBudgetExceeded {
		return result, ExitErrorBudget, nil
	}
	return result, ExitSuccess, nil
}

func (e *Engine) finalize(_ context.Context, result *types.CrawlResult) (ExitCode, error) {
	edges, assets := e.scheduler.DatasetCounts()
	progress := e.scheduler.Progress()

	origin, domain, suffix := originAndDomain(e.cfg.Input.Seeds)
	summary := &types.AtlasSummary{
		Seeds:            e.cfg.Input.Seeds,
		PrimaryOrigin:    origin,
		Domain:           domain,
		PublicSuffix:     suffix,
		SpecLevel:        types.RenderMode(e.cfg.Crawl.Render.Mode).SpecLevel(),
		CompletionReason: result.CompletionReason,
		EffectiveConfig:  effectiveConfigMap(e.cfg),
		StartedAt:        e.startedAt,
	}
	summary.Stats.TotalPages = e.stats.totalPages
	summary.Stats.TotalEdges = edges
	summary.Stats.TotalAssets = assets
	summary.Stats.TotalErrors = int64(progress.Errors)
	summary.Stats.StatusHistogram = e.stats.statusHistogram
	summary.Stats.ModeHistogram = e.stats.modeHistogram
	summary.Performance.AvgRenderMs = e.stats.avgRenderMs()
	summary.Performance.MaxDepth = e.stats.maxDepth
	summary.FinishedAt = time.Now().UTC()
	e.summary = summary

	opts := atlas.FinalizeOptions{
		CrawlID:        e.job.CrawlID,
		FormatVersion:  "1.0",
		SpecVersion:    "1.0",
		Producer:       "atlascrawl-engine",
		Owner:          "atlascrawl",
		CreatedAt:      e.startedAt,
		Environment:    environmentSnapshot(e.cfg),
		Config:         effectiveConfigMap(e.cfg),
		ModesSupported: []types.RenderMode{types.ModeRaw, types.ModePrerender, types.ModeFull},
		ModesUsed:      modesUsedFrom(e.stats.modeHistogram),
		ResumeOf:       e.resumedOf,
		Summary:        summary,
	}

	if err := e.writer.Finalize(e.logger, opts); err != nil {
		if e.analytics != nil {
			_ = e.analytics.Close()
		}
		return ExitWriteFatal, fmt.Errorf("engine: finalize archive: %w", err)
	}

	if e.analytics != nil {
		if err := e.analytics.FinalizeCrawl(context.Background(), e.job.CrawlID, *summary); err != nil {
			e.logger.Warn("analytics finalize failed", zap.Error(err))
		}
		if err := e.analytics.Close(); err != nil {
			e.logger.Warn("analytics close failed", zap.Error(err))
		}
	}

	if failures := e.scheduler.ValidationFailures(); failures > 0 {
		return ExitValidationFailed, fmt.Errorf("engine: %d page records failed schema validation", failures)
	}

	return ExitSuccess, nil
}

func (e *Engine) saveCheckpoint(_ int) {
	visitedCount, enqueuedCount, queueDepth, snapshot := e.scheduler.Checkpoint()
	partPointers := e.writer.Checkpoint()

	_, err := e.checkpointer.Save(checkpoint.Input{
		CrawlID:          e.job.CrawlID,
		VisitedCount:     visitedCount,
		EnqueuedCount:    enqueuedCount,
		QueueDepth:       queueDepth,
		PartPointers:     partPointers,
		RSSBytes:         e.scheduler.CurrentRSSBytes(),
		ResumeOf:         e.resumedOf,
		IterateVisited:   e.scheduler.IterateVisited,
		FrontierSnapshot: snapshot,
	})
	if err != nil {
		e.logger.Error("checkpoint save failed", zap.Error(err))
		return
	}
	e.bus.Emit(eventbus.KindCheckpointSaved, map[string]int64{"visited": visitedCount, "queueDepth": int64(queueDepth)})
}

// Pause suspends dispatch without tearing down any subsystem.
func (e *Engine) Pause() error {
	if !e.job.CanTransition(types.JobPaused) {
		return fmt.Errorf("engine: cannot pause from %s", e.job.State)
	}
	e.job.Transition(types.JobPaused)
	e.scheduler.Pause()
	return nil
}

// Resume undoes Pause.
func (e *Engine) Resume() error {
	if !e.job.CanTransition(types.JobRunning) {
		return fmt.Errorf("engine: cannot resume from %s", e.job.State)
	}
	e.job.Transition(types.JobRunning)
	e.scheduler.Resume()
	return nil
}

// Cancel requests a graceful shutdown: in-flight tasks drain, then the
// crawl finalizes with CompletionManual.
func (e *Engine) Cancel() error {
	if !e.job.CanTransition(types.JobCanceling) {
		return fmt.Errorf("engine: cannot cancel from %s", e.job.State)
	}
	e.job.Transition(types.JobCanceling)
	e.scheduler.Cancel()
	return nil
}

// Progress reports a point-in-time snapshot of scheduler activity.
func (e *Engine) Progress() types.Progress {
	return e.scheduler.Progress()
}

// Job returns the crawl's current lifecycle state.
func (e *Engine) Job() types.CrawlJob {
	return *e.job
}

// Summary returns the AtlasSummary built during finalize, or nil if the
// crawl never reached finalization.
func (e *Engine) Summary() *types.AtlasSummary {
	return e.summary
}

// Close releases subsystems that Start may never have run to completion,
// safe to call after a failed New or an aborted Start.
func (e *Engine) Close() error {
	var firstErr error
	if err := e.scheduler.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if e.pool != nil {
		if err := e.pool.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.redisConn != nil {
		if err := e.redisConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func environmentSnapshot(cfg *config.CrawlConfig) types.EnvironmentSnapshot {
	env := types.EnvironmentSnapshot{UserAgent: cfg.HTTP.UserAgent}
	if types.RenderMode(cfg.Crawl.Render.Mode) != types.ModeRaw {
		env.BrowserEngine = "chromium"
		env.Viewport = render.DefaultConfig().Viewport
	}
	return env
}

func effectiveConfigMap(cfg *config.CrawlConfig) map[string]interface{} {
	return map[string]interface{}{
		"crawl.maxPages":        cfg.Crawl.MaxPages,
		"crawl.maxDepth":        cfg.Crawl.MaxDepth,
		"crawl.render.mode":     cfg.Crawl.Render.Mode,
		"discovery.paramPolicy": cfg.Discovery.ParamPolicy,
		"robots.respect":        cfg.Robots.Respect,
		"cli.maxErrors":         cfg.Cli.MaxErrors,
	}
}

func modesUsedFrom(hist types.ModeHistogram) []types.RenderMode {
	modes := make([]types.RenderMode, 0, len(hist))
	for mode, count := range hist {
		if count > 0 {
			modes = append(modes, mode)
		}
	}
	return modes
}
