package render

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ContextState is the lifecycle state of one origin-scoped browser context.
type ContextState int32

const (
	// ContextFresh has been created but never navigated.
	ContextFresh ContextState = iota
	// ContextServing is currently handling (or available to handle) a navigation.
	ContextServing
	// ContextSaving is persisting its storage state before being closed.
	ContextSaving
	// ContextClosed is terminal; the pool never reuses this identifier again.
	ContextClosed
)

func (s ContextState) String() string {
	switch s {
	case ContextFresh:
		return "fresh"
	case ContextServing:
		return "serving"
	case ContextSaving:
		return "saving"
	case ContextClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// BrowserContext is one origin-scoped chromedp browser context: a single
// cookie jar / localStorage sandbox reused across every page rendered for
// that origin until it is recycled.
type BrowserContext struct {
	Origin          string
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	createdAt       time.Time
	logger          *zap.Logger

	state        int32 // ContextState, accessed atomically
	pagesServed  int32
	lastUsedNano int64

	mu sync.Mutex
}

// Age reports how long this context has existed.
func (bc *BrowserContext) Age() time.Duration {
	return time.Since(bc.createdAt)
}

// State returns the context's current lifecycle state.
func (bc *BrowserContext) State() ContextState {
	return ContextState(atomic.LoadInt32(&bc.state))
}

func (bc *BrowserContext) setState(s ContextState) {
	atomic.StoreInt32(&bc.state, int32(s))
}

// PagesServed returns how many pages have been rendered in this context
// since it was created (or last recycled).
func (bc *BrowserContext) PagesServed() int32 {
	return atomic.LoadInt32(&bc.pagesServed)
}

func (bc *BrowserContext) recordPageServed() {
	atomic.AddInt32(&bc.pagesServed, 1)
	atomic.StoreInt64(&bc.lastUsedNano, time.Now().UnixNano())
}

// LastUsed returns the time of the most recently completed navigation.
func (bc *BrowserContext) LastUsed() time.Time {
	return time.Unix(0, atomic.LoadInt64(&bc.lastUsedNano))
}

// PoolStats summarizes the context pool for metrics and logging.
type PoolStats struct {
	OpenContexts  int
	TotalPages    int64
	TotalRecycles int64
	Uptime        time.Duration
}
