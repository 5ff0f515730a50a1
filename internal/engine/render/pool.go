package render

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// ContextPool is the lazy-initialized origin → browser-context map
// described in spec.md §4.3. One BrowserContext is kept per origin and
// reused across every page rendered for that origin, until it is recycled.
type ContextPool struct {
	config *Config
	logger *zap.Logger

	mu       sync.Mutex
	contexts map[string]*BrowserContext

	totalPages    atomic.Int64
	totalRecycles atomic.Int64
	createdAt     time.Time

	shutdownOnce sync.Once
	shutdown     chan struct{}

	pid       int32
	blocklist *Blocklist
}

// NewContextPool creates an empty pool. Contexts are created lazily on
// first Acquire for a given origin.
func NewContextPool(config *Config, logger *zap.Logger) (*ContextPool, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render config: %w", err)
	}
	var blocklist *Blocklist
	if config.BlockTrackers {
		blocklist = NewBlocklist(config.ExtraBlockedPatterns)
	}
	return &ContextPool{
		config:    config,
		logger:    logger,
		contexts:  make(map[string]*BrowserContext),
		createdAt: time.Now(),
		shutdown:  make(chan struct{}),
		pid:       int32(currentPID()),
		blocklist: blocklist,
	}, nil
}

// Blocklist returns the pool's compiled tracker blocklist, or nil if
// BlockTrackers is disabled.
func (p *ContextPool) Blocklist() *Blocklist {
	return p.blocklist
}

// Acquire returns the BrowserContext for origin, creating and warming it up
// if this is the first request for that origin, and recycling it first if
// the recycling policy says it's due.
func (p *ContextPool) Acquire(origin string) (*BrowserContext, error) {
	select {
	case <-p.shutdown:
		return nil, ErrPoolShutdown
	default:
	}

	p.mu.Lock()
	bc, ok := p.contexts[origin]
	p.mu.Unlock()

	if ok {
		if reason := p.recycleReason(bc); reason != "" {
			p.logger.Info("recycling browser context",
				zap.String("origin", origin), zap.String("reason", reason))
			if err := p.recycle(origin, bc); err != nil {
				p.logger.Warn("context recycle failed, discarding anyway",
					zap.String("origin", origin), zap.Error(err))
			}
			bc = nil
		}
	}

	if bc == nil {
		created, err := p.createContext(origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBrowserInitFailed, err)
		}
		p.mu.Lock()
		p.contexts[origin] = created
		p.mu.Unlock()
		bc = created
	}

	return bc, nil
}

// recycleReason reports why bc should be recycled, or "" if it's still fit
// to serve another page.
func (p *ContextPool) recycleReason(bc *BrowserContext) string {
	if int(bc.PagesServed()) >= p.config.RecycleThreshold {
		return "page_count_threshold"
	}
	if rss, err := processRSSBytes(p.pid); err == nil && rss > p.config.RSSBudgetBytes() {
		return "rss_budget_exceeded"
	}
	return ""
}

func (p *ContextPool) createContext(origin string) (*BrowserContext, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(viewportWidth(p.config.Viewport), viewportHeight(p.config.Viewport)),
		chromedp.UserAgent(p.config.UserAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	if p.blocklist != nil {
		if err := chromedp.Run(browserCtx, network.SetBlockedURLs(p.blocklist.CDPPatterns())); err != nil {
			p.logger.Warn("failed to install tracker blocklist",
				zap.String("origin", origin), zap.Error(err))
		}
	}

	if p.config.Stealth {
		if err := applyStealth(browserCtx); err != nil {
			p.logger.Warn("stealth mitigation setup failed",
				zap.String("origin", origin), zap.Error(err))
		}
	}

	if p.config.PersistSession {
		if err := loadStorageState(browserCtx, p.config.SessionDir, origin); err != nil {
			p.logger.Warn("failed to load persisted session state",
				zap.String("origin", origin), zap.Error(err))
		}
	}

	bc := &BrowserContext{
		Origin:          origin,
		allocatorCtx:    allocatorCtx,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		createdAt:       time.Now(),
		logger:          p.logger,
	}
	bc.setState(ContextFresh)
	return bc, nil
}

// recycle persists storage state (if enabled), closes bc, and removes it
// from the pool so the next Acquire for this origin creates a fresh one.
func (p *ContextPool) recycle(origin string, bc *BrowserContext) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.setState(ContextSaving)
	p.totalRecycles.Add(1)

	var saveErr error
	if p.config.PersistSession {
		saveErr = saveStorageState(bc.browserCtx, p.config.SessionDir, origin)
	}

	bc.browserCancel()
	bc.allocatorCancel()
	bc.setState(ContextClosed)

	p.mu.Lock()
	delete(p.contexts, origin)
	p.mu.Unlock()

	if saveErr != nil {
		return fmt.Errorf("%w: %v", ErrContextRecycleFailed, saveErr)
	}
	return nil
}

// Stats returns a snapshot of pool-wide counters.
func (p *ContextPool) Stats() PoolStats {
	p.mu.Lock()
	open := len(p.contexts)
	p.mu.Unlock()
	return PoolStats{
		OpenContexts:  open,
		TotalPages:    p.totalPages.Load(),
		TotalRecycles: p.totalRecycles.Load(),
		Uptime:        time.Since(p.createdAt),
	}
}

// Shutdown saves session state for every open context (if enabled) and
// closes all of them.
func (p *ContextPool) Shutdown() error {
	var firstErr error
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})

	p.mu.Lock()
	remaining := make(map[string]*BrowserContext, len(p.contexts))
	for origin, bc := range p.contexts {
		remaining[origin] = bc
	}
	p.mu.Unlock()

	for origin, bc := range remaining {
		if err := p.recycle(origin, bc); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func currentPID() int {
	return processSelfPID()
}

func processRSSBytes(pid int32) (uint64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}
