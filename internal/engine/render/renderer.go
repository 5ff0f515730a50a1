package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/pkg/types"
)

// Renderer drives the context pool to produce RenderResults for
// prerender/full mode pages.
type Renderer struct {
	pool   *ContextPool
	config *Config
	logger *zap.Logger
}

// NewRenderer wires a Renderer on top of an already-constructed pool.
func NewRenderer(pool *ContextPool, config *Config, logger *zap.Logger) *Renderer {
	return &Renderer{pool: pool, config: config, logger: logger}
}

// Render performs one navigation per spec.md §4.3: acquire the origin's
// context, open a tab, navigate with a timeout, wait for the mode's
// readiness condition, serialize the DOM, and close the tab (the context
// itself stays open for reuse).
func (r *Renderer) Render(ctx context.Context, origin string, req types.RenderRequest) (*types.RenderResult, error) {
	bc, err := r.pool.Acquire(origin)
	if err != nil {
		return nil, err
	}

	timeout := r.config.NavigationTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	tabCtx, tabCancel := chromedp.NewContext(bc.browserCtx)
	defer tabCancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, timeout)
	defer timeoutCancel()

	bc.setState(ContextServing)

	budget := newRequestBudget(req.MaxRequestsPerPage, req.MaxBytesPerPage)
	if budget.maxRequests == 0 {
		budget.maxRequests = r.config.MaxRequestsPerPage
	}
	if budget.maxBytes == 0 {
		budget.maxBytes = r.config.MaxBytesPerPage
	}

	blocklist := r.pool.Blocklist()
	var blockedRequests atomic.Int64
	var consoleWarnings []string
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if blocklist != nil && blocklist.IsBlocked(e.Request.URL) {
				blockedRequests.Add(1)
				return
			}
			if budget.recordRequest() {
				timeoutCancel()
			}
		case *network.EventLoadingFinished:
			if budget.recordBytes(int64(e.EncodedDataLength)) {
				timeoutCancel()
			}
		case *cdpruntime.EventConsoleAPICalled:
			if req.Mode == types.ModeFull && len(consoleWarnings) < 20 {
				consoleWarnings = append(consoleWarnings, formatConsoleCall(e))
			}
		}
	})

	start := time.Now()
	var outerHTML string
	navErr := chromedp.Run(tabCtx, chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(req.URL),
		waitReady(req.Mode),
		chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery),
	})
	renderMs := time.Since(start).Milliseconds()

	bc.recordPageServed()

	reason, resultErr := classifyNavOutcome(ctx, tabCtx, navErr, budget, req.Mode)
	if resultErr != nil {
		r.logger.Debug("navigation failed",
			zap.String("url", req.URL), zap.String("origin", origin), zap.Error(resultErr))
		return nil, resultErr
	}

	if n := blockedRequests.Load(); n > 0 {
		r.logger.Debug("blocked tracker requests during navigation",
			zap.String("url", req.URL), zap.Int64("count", n))
	}

	hash := sha256.Sum256([]byte(outerHTML))
	result := &types.RenderResult{
		DOM:          outerHTML,
		DOMHash:      hex.EncodeToString(hash[:]),
		ModeUsed:     req.Mode,
		NavEndReason: reason,
		RenderMs:     renderMs,
		Warnings:     consoleWarnings,
	}
	return result, nil
}

// waitReady returns the action that blocks until the mode's readiness
// condition is met: prerender waits for `load`, full waits for an
// approximation of network-idle (no in-flight requests for a short window).
func waitReady(mode types.RenderMode) chromedp.Action {
	if mode == types.ModeFull {
		return chromedp.ActionFunc(func(ctx context.Context) error {
			return waitNetworkIdle(ctx, 500*time.Millisecond)
		})
	}
	return chromedp.WaitReady("body", chromedp.ByQuery)
}

// waitNetworkIdle waits for the body to be ready plus a fixed quiet window;
// chromedp has no built-in networkidle wait, so this mirrors the common
// manual approach of waiting for the page and then a quiet period.
func waitNetworkIdle(ctx context.Context, quiet time.Duration) error {
	if err := chromedp.WaitReady("body", chromedp.ByQuery).Do(ctx); err != nil {
		return err
	}
	select {
	case <-time.After(quiet):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func classifyNavOutcome(outerCtx, tabCtx context.Context, navErr error, budget *requestBudget, mode types.RenderMode) (types.NavEndReason, error) {
	if budget.exceeded() {
		return types.NavReasonTimeout, nil
	}
	if navErr == nil {
		if mode == types.ModeFull {
			return types.NavReasonNetworkIdle, nil
		}
		return types.NavReasonLoad, nil
	}
	if tabCtx.Err() == context.DeadlineExceeded {
		return types.NavReasonTimeout, nil
	}
	if outerCtx.Err() != nil {
		return types.NavReasonError, fmt.Errorf("%w: %v", ErrNavError, outerCtx.Err())
	}
	return types.NavReasonError, fmt.Errorf("%w: %v", ErrNavError, navErr)
}

// requestBudget tracks the per-page subresource caps named in spec.md
// §4.3: exceeding either aborts the navigation.
type requestBudget struct {
	maxRequests int
	maxBytes    int64

	requests atomic.Int64
	bytes    atomic.Int64
	tripped  atomic.Bool
}

func newRequestBudget(maxRequests int, maxBytes int64) *requestBudget {
	return &requestBudget{maxRequests: maxRequests, maxBytes: maxBytes}
}

// recordRequest increments the request count and reports whether this
// crossed the budget.
func (b *requestBudget) recordRequest() bool {
	n := b.requests.Add(1)
	if b.maxRequests > 0 && int(n) > b.maxRequests {
		b.tripped.Store(true)
		return true
	}
	return false
}

// recordBytes adds to the running byte total and reports whether this
// crossed the budget.
func (b *requestBudget) recordBytes(n int64) bool {
	total := b.bytes.Add(n)
	if b.maxBytes > 0 && total > b.maxBytes {
		b.tripped.Store(true)
		return true
	}
	return false
}

func (b *requestBudget) exceeded() bool {
	return b.tripped.Load()
}

func formatConsoleCall(e *cdpruntime.EventConsoleAPICalled) string {
	var parts string
	for _, arg := range e.Args {
		if arg.Value != nil {
			parts += string(arg.Value) + " "
		}
	}
	return fmt.Sprintf("[%s] %s", e.Type, parts)
}
