package extract

import (
	"net/url"
	"strings"

	"github.com/atlascrawl/engine/internal/common/urlutil"
	"github.com/atlascrawl/engine/pkg/types"
	"golang.org/x/net/html"
)

const maxAnchorTextLength = 300

// extractLinks walks the body for <a href> elements and returns one
// EdgeRecord per link, resolved against baseURL and classified internal vs
// external by registrable-domain comparison against pageOrigin.
func extractLinks(root *html.Node, baseURL, pageOrigin string, sourcePageID, sourceURL string, discoveredInMode types.RenderMode) []types.EdgeRecord {
	head := findElement(root, "head")
	body := findElement(root, "body")
	if body == nil {
		return nil
	}

	effectiveBase := baseURL
	if base := extractBaseHref(head); base != "" {
		effectiveBase = resolveURL(base, baseURL)
	}

	var edges []types.EdgeRecord
	for _, link := range findAllElementsInParent(body, "a") {
		href := getAttr(link, "href")
		if shouldSkipLink(href) {
			continue
		}

		targetURL := resolveURL(href, effectiveBase)
		isExternal := true
		if parsed, err := url.Parse(targetURL); err == nil {
			if parsed.Host == "" || urlutil.IsSameOrigin(pageOrigin, parsed.Host) {
				isExternal = false
			}
		}

		relTokens := strings.Fields(strings.ToLower(getAttr(link, "rel")))
		edges = append(edges, types.EdgeRecord{
			SourcePageID:     sourcePageID,
			SourceURL:        sourceURL,
			TargetURL:        targetURL,
			AnchorText:       truncateRunes(collapseWhitespace(getTextContent(link)), maxAnchorTextLength),
			Rel:              relTokens,
			Nofollow:         containsToken(relTokens, "nofollow"),
			Sponsored:        containsToken(relTokens, "sponsored"),
			UGC:              containsToken(relTokens, "ugc"),
			IsExternal:       isExternal,
			Location:         domLocationFor(link),
			DiscoveredInMode: discoveredInMode,
		})
	}
	return edges
}

func containsToken(tokens []string, target string) bool {
	for _, t := range tokens {
		if t == target {
			return true
		}
	}
	return false
}

// domLocationFor classifies an edge by the nearest semantic ancestor of the
// anchor node: "main" only inside <main>, and "other" for content with no
// recognised semantic ancestor. It never returns LocationUnknown.
func domLocationFor(node *html.Node) types.DOMLocation {
	switch nearestSemanticAncestor(node) {
	case "nav":
		return types.LocationNav
	case "header":
		return types.LocationHeader
	case "footer":
		return types.LocationFooter
	case "aside":
		return types.LocationAside
	case "main":
		return types.LocationMain
	default:
		return types.LocationOther
	}
}

// shouldSkipLink reports whether href should be excluded from link
// extraction: empty, fragment-only, or a non-navigable scheme.
func shouldSkipLink(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return true
	}
	lower := strings.ToLower(href)
	return strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:")
}

// resolveURL resolves href against base, falling back to href unchanged if
// resolution fails.
func resolveURL(href, base string) string {
	resolved := resolveCanonicalURL(href, base)
	if resolved == "" {
		return href
	}
	return resolved
}
