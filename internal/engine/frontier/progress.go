package frontier

import (
	"sync/atomic"
	"time"

	"github.com/atlascrawl/engine/pkg/types"
)

// progressCounters are the monotone counters backing Scheduler.Progress;
// each is updated with atomic ops from page-task goroutines so Progress()
// never has to take the frontier's own mutex.
type progressCounters struct {
	inFlightCount int64
	completed     int64
	errors        int64
	startedAt     time.Time
}

func newProgressCounters() *progressCounters {
	return &progressCounters{startedAt: time.Now()}
}

func (p *progressCounters) taskStarted()   { atomic.AddInt64(&p.inFlightCount, 1) }
func (p *progressCounters) taskFinished()  { atomic.AddInt64(&p.inFlightCount, -1) }
func (p *progressCounters) pageCompleted() { atomic.AddInt64(&p.completed, 1) }
func (p *progressCounters) errorRecorded() { atomic.AddInt64(&p.errors, 1) }

func (p *progressCounters) errorCount() int { return int(atomic.LoadInt64(&p.errors)) }
func (p *progressCounters) inFlight() int   { return int(atomic.LoadInt64(&p.inFlightCount)) }

func (p *progressCounters) snapshot(queued int) types.Progress {
	completed := atomic.LoadInt64(&p.completed)
	elapsed := time.Since(p.startedAt).Seconds()
	var pps float64
	if elapsed > 0 {
		pps = float64(completed) / elapsed
	}
	return types.Progress{
		Queued:         queued,
		InFlight:       int(atomic.LoadInt64(&p.inFlightCount)),
		Completed:      int(completed),
		Errors:         int(atomic.LoadInt64(&p.errors)),
		PagesPerSecond: pps,
		StartedAt:      p.startedAt,
		UpdatedAt:      time.Now(),
	}
}
