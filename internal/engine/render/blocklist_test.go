package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlocklist_MatchesGlobalTrackerPatterns(t *testing.T) {
	bl := NewBlocklist(nil)

	assert.True(t, bl.IsBlocked("https://www.google-analytics.com/collect"))
	assert.True(t, bl.IsBlocked("https://stats.g.doubleclick.net/r/collect"))
	assert.False(t, bl.IsBlocked("https://example.com/index.html"))
}

func TestBlocklist_ExtraPatterns(t *testing.T) {
	bl := NewBlocklist([]string{"*evil-tracker.test*"})

	assert.True(t, bl.IsBlocked("https://cdn.evil-tracker.test/pixel.gif"))
	assert.False(t, bl.IsBlocked("https://example.com/ok.js"))
}

func TestBlocklist_CDPPatternsExcludeRegexp(t *testing.T) {
	bl := NewBlocklist([]string{"~^https://regex-only\\.test/.*$"})

	for _, p := range bl.CDPPatterns() {
		assert.NotContains(t, p, "~")
	}
	// the regexp pattern still participates in IsBlocked even though it is
	// excluded from the CDP enforcement list
	assert.True(t, bl.IsBlocked("https://regex-only.test/path"))
}

func TestBlocklist_IgnoresBlankPatterns(t *testing.T) {
	bl := NewBlocklist([]string{"", "   "})
	assert.False(t, bl.IsBlocked("https://example.com"))
}
