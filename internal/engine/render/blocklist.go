package render

import (
	"strings"

	"github.com/atlascrawl/engine/pkg/pattern"
)

// globalBlockedPatterns are well-known tracker/analytics/ad hosts blocked by
// default when Config.BlockTrackers is set, keeping navigation byte/request
// budgets spent on page content rather than third-party telemetry.
var globalBlockedPatterns = []string{
	"*2mdn.net*",
	"*doubleclick.net*",
	"*google-analytics.com*",
	"*googleadservices.com*",
	"*googlesyndication.com*",
	"*googletagservices.com*",
	"*googletagmanager.com*",
	"*facebook.com/tr*",
	"*hotjar.com*",
	"*clarity.ms*",
	"*static.cloudflareinsights.com*",
	"*segment.io*",
	"*mixpanel.com*",
}

// Blocklist holds compiled URL-matching rules for a render context. It backs
// two things: the wildcard pattern list handed to CDP's SetBlockedURLs (the
// actual enforcement) and IsBlocked, used to count how many requests that
// enforcement caught.
type Blocklist struct {
	compiledPatterns []*pattern.Pattern
	cdpPatterns      []string
}

// NewBlocklist compiles the global tracker list plus any extra patterns.
func NewBlocklist(extraPatterns []string) *Blocklist {
	all := make([]string, 0, len(globalBlockedPatterns)+len(extraPatterns))
	all = append(all, globalBlockedPatterns...)
	all = append(all, extraPatterns...)

	bl := &Blocklist{
		compiledPatterns: make([]*pattern.Pattern, 0, len(all)),
		cdpPatterns:      make([]string, 0, len(all)),
	}

	for _, raw := range all {
		p := strings.TrimSpace(raw)
		if p == "" {
			continue
		}
		// CDP's Network.setBlockedURLs only understands glob wildcards, so
		// regexp-flavored patterns (the "~"/"~*" prefixes pattern.Compile
		// accepts) are skipped for enforcement but still compiled for
		// counting below.
		if !strings.HasPrefix(p, "~") {
			bl.cdpPatterns = append(bl.cdpPatterns, strings.ToLower(p))
		}

		compiled, err := pattern.Compile(p)
		if err != nil {
			continue
		}
		bl.compiledPatterns = append(bl.compiledPatterns, compiled)
	}

	return bl
}

// CDPPatterns returns the subset of patterns usable with
// Network.setBlockedURLs.
func (bl *Blocklist) CDPPatterns() []string {
	return bl.cdpPatterns
}

// IsBlocked reports whether requestURL matches any compiled pattern.
func (bl *Blocklist) IsBlocked(requestURL string) bool {
	lower := strings.ToLower(requestURL)
	for _, p := range bl.compiledPatterns {
		url := lower
		if p.Type == pattern.PatternTypeRegexp {
			url = requestURL
		}
		if p.Match(url) {
			return true
		}
	}
	return false
}
