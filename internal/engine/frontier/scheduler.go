package frontier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/engine/analytics"
	"github.com/atlascrawl/engine/internal/engine/eventbus"
	"github.com/atlascrawl/engine/internal/engine/fetch"
	"github.com/atlascrawl/engine/internal/engine/render"
	"github.com/atlascrawl/engine/pkg/types"
)

const dispatchTickInterval = 100 * time.Millisecond

// memState is the scheduler's dispatch gate, independent of pause/resume:
// dispatch also halts while the process is over its RSS budget.
type memState int32

const (
	memOK memState = iota
	memPaused
)

// Scheduler is the Frontier & Scheduler component from spec.md §4.1: it
// owns the frontier and dedup sets exclusively, drives the dispatch loop,
// and runs each accepted URL's page task.
type Scheduler struct {
	cfg      *Config
	frontier *frontier
	buckets  *bucketMap
	admitter *admitter

	fetcher  *fetch.Fetcher
	renderer *render.Renderer
	writer   *atlas.Writer
	bus      *eventbus.Bus
	logger   *zap.Logger

	progress *progressCounters
	sem      *semaphore.Weighted

	pauseMu sync.RWMutex
	paused  bool

	memState atomic.Int32

	cancelRequested atomic.Bool
	forceStop       atomic.Bool

	completedPages     atomic.Int64
	edgeCount          atomic.Int64
	assetCount         atomic.Int64
	validationFailures atomic.Int64
	completionMu       sync.Mutex
	completion         types.CompletionReason

	drainDeadline time.Time

	wg sync.WaitGroup

	checkpointFn func(pagesSinceLast int)    // hook invoked at checkpoint cadence; may be nil
	onPageFn     func(page types.PageRecord) // hook invoked after each successful page write; may be nil

	analytics *analytics.Exporter // optional ClickHouse sink; nil when disabled
	crawlID   string
}

// NewScheduler wires a Scheduler. renderer may be nil when the crawl's
// render mode is raw.
func NewScheduler(
	cfg *Config,
	fetcher *fetch.Fetcher,
	renderer *render.Renderer,
	writer *atlas.Writer,
	bus *eventbus.Bus,
	logger *zap.Logger,
) (*Scheduler, error) {
	fr, err := newFrontier()
	if err != nil {
		return nil, err
	}

	concurrency := int64(cfg.ConcurrencyCap)
	if concurrency <= 0 {
		concurrency = 8
	}

	return &Scheduler{
		cfg:      cfg,
		frontier: fr,
		buckets:  newBucketMap(cfg.PerHostRPS),
		admitter: newAdmitter(cfg),
		fetcher:  fetcher,
		renderer: renderer,
		writer:   writer,
		bus:      bus,
		logger:   logger,
		progress: newProgressCounters(),
		sem:      semaphore.NewWeighted(concurrency),
	}, nil
}

// OnCheckpoint registers a callback invoked every checkpoint.interval pages.
func (s *Scheduler) OnCheckpoint(fn func(pagesSinceLast int)) {
	s.checkpointFn = fn
}

// OnPageWritten registers a callback invoked with each page's record right
// after it's durably written, so a caller can accumulate summary stats
// (status histogram, mode histogram, max depth) without a separate reader
// over the archive. Never invoked for pages that failed before a
// PageRecord existed.
func (s *Scheduler) OnPageWritten(fn func(page types.PageRecord)) {
	s.onPageFn = fn
}

// SetAnalytics wires an optional ClickHouse exporter; every page task after
// this call inserts its PageRecord into exp alongside the atlas write. Pass
// a nil exp to leave analytics disabled, which is also the zero value.
func (s *Scheduler) SetAnalytics(exp *analytics.Exporter, crawlID string) {
	s.analytics = exp
	s.crawlID = crawlID
}

// Restore rehydrates the dedup sets and frontier queue from a prior
// checkpoint's sidecars, before Start is called. Visited URLs are marked
// directly; frontier entries are re-enqueued without re-running admission,
// since they already passed it in the run that crashed. Call this instead
// of Seed when resuming.
func (s *Scheduler) Restore(visited []string, frontierEntries []types.FrontierSnapshotEntry) error {
	for _, u := range visited {
		if err := s.frontier.restoreVisited(u); err != nil {
			return err
		}
	}
	for _, e := range frontierEntries {
		host, err := hostnameOf(e.NormalizedURL)
		if err != nil {
			s.logger.Warn("dropping unparseable frontier snapshot entry on resume", zap.String("url", e.NormalizedURL), zap.Error(err))
			continue
		}
		entry := types.FrontierEntry{NormalizedURL: e.NormalizedURL, Depth: e.Depth, DiscoveredFrom: e.DiscoveredFrom}
		if _, err := s.frontier.tryEnqueue(host, entry); err != nil {
			return err
		}
	}
	return nil
}

// StartResumed is Start without re-seeding: the caller has already called
// Restore to rehydrate the frontier from a checkpoint.
func (s *Scheduler) StartResumed(ctx context.Context) (*types.CrawlResult, error) {
	return s.start(ctx, false)
}

// Seed admits every configured seed URL at depth 0.
func (s *Scheduler) Seed(seeds []string) error {
	for _, raw := range seeds {
		if err := s.Admit(raw, 0, ""); err != nil {
			s.logger.Warn("seed rejected by admission pipeline", zap.String("url", raw), zap.Error(err))
		}
	}
	return nil
}

// Admit runs rawURL through normalization and the dedup sets, enqueuing it
// if accepted. Both seeding and internal-link discovery call through here.
func (s *Scheduler) Admit(rawURL string, depth int, discoveredFrom string) error {
	normalized, err := s.admitter.normalize(rawURL, depth)
	if err != nil {
		return err
	}
	host, err := hostnameOf(normalized)
	if err != nil {
		return err
	}

	entry := types.FrontierEntry{NormalizedURL: normalized, Depth: depth, DiscoveredFrom: discoveredFrom}
	_, err = s.frontier.tryEnqueue(host, entry)
	return err
}

// Start runs the dispatch loop until the frontier drains, maxPages is
// reached, the error budget is exhausted, or cancel/shutdown is requested.
// It blocks until the crawl stops.
func (s *Scheduler) Start(ctx context.Context) (*types.CrawlResult, error) {
	return s.start(ctx, true)
}

func (s *Scheduler) start(ctx context.Context, seed bool) (*types.CrawlResult, error) {
	if seed {
		if err := s.Seed(s.cfg.Seeds); err != nil {
			return nil, err
		}
	}

	s.bus.Emit(eventbus.KindStarted, map[string]interface{}{})

	ticker := time.NewTicker(dispatchTickInterval)
	defer ticker.Stop()

	pagesSinceCheckpoint := 0

loop:
	for {
		select {
		case <-ctx.Done():
			s.cancelRequested.Store(true)
		case <-ticker.C:
		}

		if s.forceStop.Load() {
			s.setCompletion(types.CompletionManual)
			break loop
		}

		if s.cancelRequested.Load() {
			s.setCompletion(types.CompletionManual)
			if s.drainAndStop(ctx) {
				break loop
			}
			continue
		}

		if s.cfg.MaxPages > 0 && int(s.completedPages.Load()) >= s.cfg.MaxPages {
			s.setCompletion(types.CompletionCapped)
			if s.drainAndStop(ctx) {
				break loop
			}
			continue
		}

		if s.cfg.MaxErrors >= 0 && s.progress.errorCount() >= s.cfg.MaxErrors {
			s.setCompletion(types.CompletionErrorBudget)
			if s.drainAndStop(ctx) {
				break loop
			}
			continue
		}

		if s.checkMemoryBackpressure() {
			continue
		}

		if s.isPaused() {
			continue
		}

		dispatched := s.dispatchRound(ctx)

		if !dispatched && s.frontier.queueDepth() == 0 && s.inFlightCount() == 0 {
			s.setCompletion(types.CompletionFinished)
			break loop
		}

		if dispatched {
			pagesSinceCheckpoint++
			interval := s.cfg.CheckpointInterval
			if interval <= 0 {
				interval = 500
			}
			if pagesSinceCheckpoint >= interval {
				if s.checkpointFn != nil {
					s.checkpointFn(pagesSinceCheckpoint)
				}
				s.bus.Emit(eventbus.KindCheckpointSaved, nil)
				pagesSinceCheckpoint = 0
			}
		}
	}

	s.wg.Wait()

	result := &types.CrawlResult{
		Success:             s.completion == types.CompletionFinished || s.completion == types.CompletionCapped,
		ErrorCount:          s.progress.errorCount(),
		ErrorBudgetExceeded: s.completion == types.CompletionErrorBudget,
		GracefulShutdown:    s.cancelRequested.Load() && !s.forceStop.Load(),
		CompletionReason:    s.completion,
	}
	s.bus.Emit(eventbus.KindFinished, map[string]interface{}{"completionReason": string(s.completion)})
	return result, nil
}

// drainAndStop waits up to ShutdownGraceful for in-flight tasks, then
// reports whether it is now safe to stop the loop. Each call is one poll
// from the dispatch loop's own ticker, not a blocking wait.
func (s *Scheduler) drainAndStop(ctx context.Context) bool {
	if s.inFlightCount() == 0 {
		return true
	}
	if s.drainDeadline.IsZero() {
		s.drainDeadline = time.Now().Add(s.cfg.ShutdownGraceful)
	}
	if time.Now().After(s.drainDeadline) || ctx.Err() != nil {
		s.forceStop.Store(true)
		return true
	}
	return false
}

// dispatchRound does one round-robin pass over hosts with available
// tokens and non-empty sub-queues, dispatching at most one page task per
// host per round. Returns true if anything was dispatched.
func (s *Scheduler) dispatchRound(ctx context.Context) bool {
	hosts := s.frontier.hostsWithWork()
	if len(hosts) == 0 {
		return false
	}

	dispatchedAny := false
	now := time.Now()
	var deferredHosts []string

	for _, host := range hosts {
		bucket := s.buckets.get(host)
		if !bucket.tryConsume(now) {
			deferredHosts = append(deferredHosts, host)
			continue
		}
		if !s.sem.TryAcquire(1) {
			continue
		}

		entry, ok, err := s.frontier.dispatch(host)
		if !ok || err != nil {
			s.sem.Release(1)
			if err != nil {
				s.logger.Error("frontier dispatch failed", zap.Error(err))
			}
			continue
		}

		dispatchedAny = true
		s.progress.taskStarted()
		s.wg.Add(1)
		go s.runPageTask(ctx, entry)
	}

	if len(deferredHosts) > 0 {
		s.bus.Emit(eventbus.KindBackpressure, map[string]interface{}{"deferredHosts": deferredHosts})
	}

	return dispatchedAny
}

func (s *Scheduler) runPageTask(ctx context.Context, entry types.FrontierEntry) {
	defer s.wg.Done()
	defer s.sem.Release(1)
	defer s.progress.taskFinished()

	task := &pageTask{
		fetcher:   s.fetcher,
		renderer:  s.renderer,
		writer:    s.writer,
		analytics: s.analytics,
		crawlID:   s.crawlID,
		logger:    s.logger,
		cfg:       s.cfg,
	}
	result := task.run(ctx, entry)

	if result.Err != nil {
		s.progress.errorRecorded()
	} else {
		s.edgeCount.Add(int64(len(result.Edges)))
		s.assetCount.Add(int64(result.AssetCount))
		if result.SchemaViolation {
			s.validationFailures.Add(1)
		}
		if s.onPageFn != nil {
			s.onPageFn(result.Page)
		}
	}
	s.progress.pageCompleted()
	s.completedPages.Add(1)

	s.bus.Emit(eventbus.KindPageProcessed, map[string]interface{}{"pageId": result.Page.PageID, "url": entry.NormalizedURL})

	if !s.cfg.FollowExternal {
		for _, e := range result.InternalEdges {
			if admitErr := s.Admit(e.TargetURL, entry.Depth+1, result.Page.PageID); admitErr != nil {
				s.logger.Debug("discovered link rejected", zap.String("url", e.TargetURL), zap.Error(admitErr))
			}
		}
		return
	}
	for _, e := range result.Edges {
		if admitErr := s.Admit(e.TargetURL, entry.Depth+1, result.Page.PageID); admitErr != nil {
			s.logger.Debug("discovered link rejected", zap.String("url", e.TargetURL), zap.Error(admitErr))
		}
	}
}

// checkMemoryBackpressure polls RSS and flips memState, emitting
// memoryPaused/memoryResumed transitions. Returns true while paused.
func (s *Scheduler) checkMemoryBackpressure() bool {
	if s.cfg.MaxRSSMB <= 0 {
		return false
	}
	rss, err := currentRSSBytes()
	if err != nil {
		return s.memState.Load() == int32(memPaused)
	}

	if s.memState.Load() == int32(memOK) && rss > s.cfg.RSSBudgetBytes() {
		s.memState.Store(int32(memPaused))
		s.bus.Emit(eventbus.KindMemoryPaused, map[string]interface{}{"rssBytes": rss})
		return true
	}
	if s.memState.Load() == int32(memPaused) {
		if rss < s.cfg.RSSResumeBytes() {
			s.memState.Store(int32(memOK))
			s.bus.Emit(eventbus.KindMemoryResumed, map[string]interface{}{"rssBytes": rss})
			return false
		}
		return true
	}
	return false
}

func (s *Scheduler) inFlightCount() int {
	return s.progress.inFlight()
}

func (s *Scheduler) setCompletion(reason types.CompletionReason) {
	s.completionMu.Lock()
	defer s.completionMu.Unlock()
	if s.completion == "" {
		s.completion = reason
	}
}

// Pause stops new dispatch while leaving in-flight tasks to finish.
func (s *Scheduler) Pause() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.paused = true
}

// Resume re-enables dispatch.
func (s *Scheduler) Resume() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	s.paused = false
}

func (s *Scheduler) isPaused() bool {
	s.pauseMu.RLock()
	defer s.pauseMu.RUnlock()
	return s.paused
}

// Cancel requests graceful shutdown: dispatch stops, in-flight work drains
// up to cfg.ShutdownGraceful, then Start returns.
func (s *Scheduler) Cancel() {
	s.cancelRequested.Store(true)
}

// ForceStop abandons in-flight work immediately; used on a second
// termination signal.
func (s *Scheduler) ForceStop() {
	s.forceStop.Store(true)
}

// Progress returns a point-in-time activity snapshot.
func (s *Scheduler) Progress() types.Progress {
	return s.progress.snapshot(s.frontier.queueDepth())
}

// Checkpoint assembles the frontier-owned portion of a CheckpointState:
// visited/enqueued counts, queue depth, and the frontier snapshot. The
// caller (the engine orchestrator) merges in the Writer's part pointers
// and current RSS before serializing state.json.
func (s *Scheduler) Checkpoint() (visitedCount, enqueuedCount int64, queueDepth int, snapshot []types.FrontierSnapshotEntry) {
	visited, enqueued := s.frontier.counts()
	return visited, enqueued, s.frontier.queueDepth(), s.frontier.snapshot()
}

// IterateVisited exposes the visited set for the checkpoint sidecar writer.
func (s *Scheduler) IterateVisited(fn func(url string) bool) error {
	return s.frontier.iterateVisited(fn)
}

// Close releases the frontier's in-memory dedup index.
func (s *Scheduler) Close() error {
	return s.frontier.close()
}

// HostBucketSnapshots exposes the current token-bucket state for metrics.
func (s *Scheduler) HostBucketSnapshots() []types.HostBucketSnapshot {
	return s.buckets.snapshot()
}

// DatasetCounts reports how many edge and asset rows have been written so
// far, for the orchestrator's AtlasSummary.Stats. Page and error counts are
// already available from Progress.
func (s *Scheduler) DatasetCounts() (edges, assets int64) {
	return s.edgeCount.Load(), s.assetCount.Load()
}

// ValidationFailures reports how many page records failed the optional
// VALIDATE_SCHEMAS check during this crawl.
func (s *Scheduler) ValidationFailures() int64 {
	return s.validationFailures.Load()
}

// CurrentRSSBytes exposes the same RSS reading checkMemoryBackpressure
// polls, for the orchestrator's checkpoint snapshots.
func (s *Scheduler) CurrentRSSBytes() uint64 {
	rss, err := currentRSSBytes()
	if err != nil {
		return 0
	}
	return rss
}
