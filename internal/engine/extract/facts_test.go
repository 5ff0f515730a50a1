package extract

import (
	"net/http"
	"testing"

	"github.com/atlascrawl/engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPageFacts_RawModeOmitsEnhancedFields(t *testing.T) {
	doc := []byte(`<html><head>
		<title>Example Page</title>
		<meta name="description" content="A description.">
		<link rel="canonical" href="/canonical-path">
		<meta property="og:title" content="OG Title">
	</head><body><h1>Heading</h1></body></html>`)

	root, err := Parse(doc)
	require.NoError(t, err)

	facts := extractPageFacts(root, http.Header{}, "https://example.com/page", types.ModeRaw)

	assert.Equal(t, "Example Page", facts.Title)
	assert.Equal(t, "A description.", facts.MetaDescription)
	assert.Equal(t, "https://example.com/canonical-path", facts.CanonicalResolved)
	assert.Nil(t, facts.OpenGraph, "og/twitter/structured-data are gated to prerender/full")
}

func TestExtractPageFacts_FullModePopulatesOpenGraph(t *testing.T) {
	doc := []byte(`<html><head>
		<meta property="og:title" content="OG Title">
		<meta property="og:type" content="article">
		<meta name="twitter:card" content="summary">
	</head><body></body></html>`)

	root, err := Parse(doc)
	require.NoError(t, err)

	facts := extractPageFacts(root, http.Header{}, "https://example.com/", types.ModeFull)

	require.NotNil(t, facts.OpenGraph)
	assert.Equal(t, "OG Title", facts.OpenGraph["title"])
	assert.Equal(t, "article", facts.OpenGraph["type"])
	require.NotNil(t, facts.TwitterCard)
	assert.Equal(t, "summary", facts.TwitterCard["card"])
}

func TestExtractPageFacts_NoindexSurface(t *testing.T) {
	tests := []struct {
		name       string
		robotsMeta string
		header     string
		expected   types.NoindexSurface
	}{
		{"neither", "index,follow", "", ""},
		{"meta only", "noindex", "", types.NoindexMeta},
		{"header only", "", "none", types.NoindexHeader},
		{"both", "noindex", "noindex", types.NoindexBoth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, noindexSurface(tt.robotsMeta, tt.header))
		})
	}
}

func TestExtractPageFacts_GooglebotTagTakesPrecedence(t *testing.T) {
	doc := []byte(`<html><head>
		<meta name="robots" content="index,follow">
		<meta name="googlebot" content="noindex">
	</head><body></body></html>`)

	root, err := Parse(doc)
	require.NoError(t, err)

	facts := extractPageFacts(root, http.Header{}, "https://example.com/", types.ModeRaw)
	assert.Equal(t, "noindex", facts.RobotsMeta)
	assert.Equal(t, types.NoindexMeta, facts.NoindexSurface)
}

func TestExtractPageFacts_XRobotsTagFromHeader(t *testing.T) {
	doc := []byte(`<html><head></head><body></body></html>`)
	root, err := Parse(doc)
	require.NoError(t, err)

	headers := http.Header{}
	headers.Set("X-Robots-Tag", "noindex, nofollow")

	facts := extractPageFacts(root, headers, "https://example.com/", types.ModeRaw)
	assert.Equal(t, "noindex, nofollow", facts.XRobotsTagHeader)
	assert.Equal(t, types.NoindexHeader, facts.NoindexSurface)
}

func TestExtractStructuredDataTypes_JSONLDWithGraph(t *testing.T) {
	doc := []byte(`<html><head>
		<script type="application/ld+json">
		{"@graph": [{"@type": "Article"}, {"@type": ["WebPage", "Thing"]}]}
		</script>
	</head><body></body></html>`)

	root, err := Parse(doc)
	require.NoError(t, err)

	structuredTypes := extractStructuredDataTypes(root)
	assert.Equal(t, []string{"Article", "Thing", "WebPage"}, structuredTypes)
}

func TestExtractHeadings_RespectsMaxCount(t *testing.T) {
	doc := []byte(`<html><body><h2>One</h2><h2>Two</h2><h2>Three</h2></body></html>`)
	root, err := Parse(doc)
	require.NoError(t, err)
	body := findElement(root, "body")

	result := extractHeadings(body, "h2", 2)
	assert.Equal(t, []string{"One", "Two"}, result)
}
