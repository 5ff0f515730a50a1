package engine

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/atlascrawl/engine/pkg/types"
)

// originAndDomain derives the primary origin, the host name (as is, not
// reduced to its registrable domain) and the public suffix from the first
// seed, matching how a single-origin crawl names itself in the
// manifest. A malformed seed (already rejected by config validation in
// practice) yields empty strings rather than panicking.
func originAndDomain(seeds []string) (origin, domain, suffix string) {
	if len(seeds) == 0 {
		return "", "", ""
	}
	u, err := url.Parse(seeds[0])
	if err != nil || u.Host == "" {
		return "", "", ""
	}
	origin = u.Scheme + "://" + u.Host
	host := u.Hostname()
	if ps, icann := publicsuffix.PublicSuffix(strings.ToLower(host)); icann || ps != "" {
		suffix = ps
	}
	domain = host
	return origin, domain, suffix
}

// statsAccumulator collects the per-page figures a finished crawl's
// AtlasSummary.Stats/Performance need, fed from Scheduler.OnPageWritten so
// that finalize never has to re-read the archive it just wrote.
type statsAccumulator struct {
	totalPages      int64
	statusHistogram types.StatusHistogram
	modeHistogram   types.ModeHistogram
	maxDepth        int
	renderMsSum     int64
	renderMsCount   int64
}

func newStatsAccumulator() *statsAccumulator {
	return &statsAccumulator{
		statusHistogram: types.StatusHistogram{},
		modeHistogram:   types.ModeHistogram{},
	}
}

func (s *statsAccumulator) record(page types.PageRecord) {
	s.totalPages++
	s.statusHistogram[page.StatusCode]++
	s.modeHistogram[page.ModeUsed]++
	if page.Depth > s.maxDepth {
		s.maxDepth = page.Depth
	}
	if page.RenderMs > 0 {
		s.renderMsSum += page.RenderMs
		s.renderMsCount++
	}
}

// seedResume carries forward the page count a resumed crawl already wrote in
// a prior run, so the finished summary's totalPages reflects the whole
// archive rather than only the pages this process added. Per-status and
// per-mode histograms for the prior run aren't part of the checkpoint, so
// they start fresh and undercount until the corresponding OnPageWritten
// fires again in this run.
func (s *statsAccumulator) seedResume(priorPages int64) {
	s.totalPages = priorPages
}

func (s *statsAccumulator) avgRenderMs() float64 {
	if s.renderMsCount == 0 {
		return 0
	}
	return float64(s.renderMsSum) / float64(s.renderMsCount)
}
