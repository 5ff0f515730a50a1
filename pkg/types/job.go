package types

import "time"

// CrawlJob is the process-wide singleton describing the running crawl.
type CrawlJob struct {
	CrawlID   string
	StartedAt time.Time
	State     JobState
}

// validTransitions enumerates the monotone paths allowed by §3's invariant.
var validTransitions = map[JobState][]JobState{
	JobIdle:       {JobRunning},
	JobRunning:    {JobPaused, JobCanceling, JobFinalizing},
	JobPaused:     {JobRunning, JobCanceling, JobFinalizing},
	JobCanceling:  {JobFinalizing, JobFailed},
	JobFinalizing: {JobDone, JobFailed},
	JobDone:       {},
	JobFailed:     {},
}

// CanTransition reports whether moving from the job's current state to next is legal.
func (j *CrawlJob) CanTransition(next JobState) bool {
	for _, allowed := range validTransitions[j.State] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the job to next, returning false if the move is not permitted.
func (j *CrawlJob) Transition(next JobState) bool {
	if !j.CanTransition(next) {
		return false
	}
	j.State = next
	return true
}

// CrawlResult is returned by Engine.Start once the crawl stops.
type CrawlResult struct {
	Success             bool
	ErrorCount          int
	ErrorBudgetExceeded bool
	GracefulShutdown    bool
	CompletionReason    CompletionReason
}

// Progress is a point-in-time snapshot of scheduler activity.
type Progress struct {
	Queued         int
	InFlight       int
	Completed      int
	Errors         int
	PagesPerSecond float64
	StartedAt      time.Time
	UpdatedAt      time.Time
}
