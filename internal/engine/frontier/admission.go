package frontier

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/atlascrawl/engine/internal/common/urlutil"
)

// admitter runs every discovered URL through normalization, the
// include/exclude pattern filters, and depth capping, before the frontier's
// dedup index gets a look. SeenParamKeys is shared process-wide because
// the sample parameter policy's "first observed value wins" rule is
// crawl-scoped, not per-page.
type admitter struct {
	cfg *Config

	paramMu       sync.Mutex
	seenParamKeys map[string]map[string]string
}

func newAdmitter(cfg *Config) *admitter {
	return &admitter{cfg: cfg, seenParamKeys: make(map[string]map[string]string)}
}

// admissionError distinguishes "this URL is not eligible" from
// "unexpected internal error"; callers generally just skip on any error.
type admissionError struct {
	reason string
}

func (e *admissionError) Error() string { return e.reason }

// normalize applies urlutil.Normalize with this admitter's configured
// parameter policy and blocklist, then checks the include/exclude patterns
// and depth cap. It does not consult the dedup sets; that is the caller's
// job once normalization succeeds.
func (a *admitter) normalize(rawURL string, depth int) (string, error) {
	if a.cfg.MaxDepth >= 0 && depth > a.cfg.MaxDepth {
		return "", &admissionError{reason: "exceeds maxDepth"}
	}

	a.paramMu.Lock()
	normalized, err := urlutil.Normalize(rawURL, urlutil.NormalizeOptions{
		ParamPolicy:   a.cfg.ParamPolicy,
		BlockList:     a.cfg.BlockList,
		SeenParamKeys: a.seenParamKeys,
	})
	a.paramMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("normalize: %w", err)
	}

	if !matchesAny(normalized, a.cfg.AllowPatterns, true) {
		return "", &admissionError{reason: "does not match discovery.allowUrls"}
	}
	if matchesAny(normalized, a.cfg.DenyPatterns, false) {
		return "", &admissionError{reason: "matches discovery.denyUrls"}
	}

	return normalized, nil
}

// matchesAny reports whether url matches any of patterns. When patterns is
// empty, allow-lists default to "everything matches" and deny-lists
// default to "nothing matches" (emptyDefault controls which).
func matchesAny(url string, patterns []*regexp.Regexp, emptyDefault bool) bool {
	if len(patterns) == 0 {
		return emptyDefault
	}
	for _, p := range patterns {
		if p.MatchString(url) {
			return true
		}
	}
	return false
}

// hostnameOf extracts the lowercase hostname used as the token-bucket and
// round-robin key.
func hostnameOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(urlutil.ExtractHostname(parsed.Host)), nil
}

// isInternal reports whether targetURL shares a registrable domain with
// the crawl's seed-derived origin set; used to decide whether a discovered
// edge should be enqueued (subject to followExternal) versus merely
// recorded.
func isInternal(pageOrigin, targetURL string) bool {
	parsed, err := url.Parse(targetURL)
	if err != nil {
		return false
	}
	if parsed.Host == "" {
		return true
	}
	parsedOrigin, err := url.Parse(pageOrigin)
	if err != nil {
		return false
	}
	return urlutil.IsSameOrigin(parsedOrigin.Host, parsed.Host)
}
