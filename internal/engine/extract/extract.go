package extract

import (
	"net/http"

	"github.com/atlascrawl/engine/pkg/types"
)

// Input is everything a page task has in hand once a fetch (and, for
// rendered modes, a render) has completed and extraction can begin.
type Input struct {
	PageID             string
	HTML               []byte
	PageURL            string // final URL after redirects, used as the resolution base
	Headers            http.Header
	DiscoveredInMode   types.RenderMode
	ModeUsed           types.RenderMode
	AccessibilityCheck bool // run extractAccessibility; only honored when ModeUsed is full
}

// Result bundles every sub-extractor's output for one page.
type Result struct {
	Facts           PageFacts
	Edges           []types.EdgeRecord
	Assets          []types.AssetRecord
	AssetsTruncated bool
	TextSample      string
	Accessibility   []types.AccessibilityRecord
}

// Run parses in.HTML once and runs every sub-extractor against the shared
// DOM. Parse errors are returned so the caller can record a
// PhaseExtract ErrorRecord without aborting the crawl.
func Run(in Input, pageOrigin string) (Result, error) {
	root, err := Parse(in.HTML)
	if err != nil {
		return Result{}, err
	}

	facts := extractPageFacts(root, in.Headers, in.PageURL, in.ModeUsed)
	edges := extractLinks(root, in.PageURL, pageOrigin, in.PageID, in.PageURL, in.DiscoveredInMode)
	assetResult := extractAssets(root, in.PageURL, in.PageURL, in.PageID)
	textSample := extractTextSample(root)

	var accessibility []types.AccessibilityRecord
	if in.ModeUsed == types.ModeFull && in.AccessibilityCheck {
		accessibility = extractAccessibility(root, in.PageID)
	}

	return Result{
		Facts:           facts,
		Edges:           edges,
		Assets:          assetResult.Assets,
		AssetsTruncated: assetResult.Truncated,
		TextSample:      textSample,
		Accessibility:   accessibility,
	}, nil
}
