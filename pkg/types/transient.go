package types

import (
	"net/http"
	"time"
)

// FrontierEntry is one admitted, not-yet-dispatched URL.
type FrontierEntry struct {
	NormalizedURL  string
	Depth          int
	DiscoveredFrom string
}

// FetchResult is the transient result of one HTTP retrieval; it is consumed
// by the extraction pipeline and then discarded.
type FetchResult struct {
	StatusCode      int
	FinalURL        string
	RedirectChain   []string
	Body            []byte
	ContentType     string
	Headers         http.Header
	RawHTMLHash     string
	RobotsHeader    string
	XRobotsTag      string
	FallbackTitle   string
	FallbackText    string
}

// RenderRequest describes one page navigation for the Renderer.
type RenderRequest struct {
	RequestID            string
	URL                  string
	Mode                 RenderMode
	TimeoutMs            int
	MaxRequestsPerPage   int
	MaxBytesPerPage      int64
	UserAgent            string
	Viewport             string
	Stealth              bool
	PersistSession       bool
}

// RenderResult is the transient output of one browser navigation.
type RenderResult struct {
	DOM          string
	DOMHash      string
	ModeUsed     RenderMode
	NavEndReason NavEndReason
	RenderMs     int64
	Warnings     []string
}

// HostBucketSnapshot is a read-only view of one per-host token bucket, used for metrics/tests.
type HostBucketSnapshot struct {
	Host       string
	Tokens     float64
	Rate       float64
	Burst      float64
	LastRefill time.Time
}
