package extract

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/atlascrawl/engine/pkg/types"
	"golang.org/x/net/html"
)

const (
	maxSEOTitleLength        = 500
	maxMetaDescriptionLength = 1000
	maxHeadingLength         = 300
	maxHeadingsPerLevel      = 20
	maxCanonicalURLLength    = 2000
	maxHreflangURLLength     = 2000
	maxJSONLDSize            = 64 * 1024
	maxJSONLDRecursionDepth  = 8
)

var blockingDirectivePattern = regexp.MustCompile(`(?i)\b(noindex|none)\b`)

// PageFacts is the result of extractPageFacts: everything about a page
// that isn't a link, an asset, or the text sample.
type PageFacts struct {
	Title             string
	MetaDescription   string
	H1                []string
	Headings          []string
	CanonicalHref     string
	CanonicalResolved string
	RobotsMeta        string
	XRobotsTagHeader  string
	Hreflang          []types.Hreflang
	OpenGraph         map[string]string
	TwitterCard       map[string]string
	StructuredData    []string
	NoindexSurface    types.NoindexSurface
}

// extractPageFacts extracts title, metadata, canonical, and (when mode is
// prerender or full) enhanced SEO fields from the parsed document.
func extractPageFacts(root *html.Node, headers http.Header, baseURL string, mode types.RenderMode) PageFacts {
	head := findElement(root, "head")
	body := findElement(root, "body")

	facts := PageFacts{
		Title:           extractSEOTitle(head),
		MetaDescription: extractMetaDescription(head),
		H1:              extractHeadings(body, "h1", maxHeadingsPerLevel),
		Headings:        collectHeadings(body),
		RobotsMeta:      extractMetaRobots(head),
	}

	if headers != nil {
		facts.XRobotsTagHeader = strings.TrimSpace(headers.Get("X-Robots-Tag"))
	}

	canonicalRaw := extractCanonicalURL(head)
	facts.CanonicalHref = canonicalRaw
	if canonicalRaw != "" {
		facts.CanonicalResolved = truncateRunes(resolveCanonicalURL(canonicalRaw, baseURL), maxCanonicalURLLength)
	}

	facts.Hreflang = extractHreflang(head, baseURL)
	facts.NoindexSurface = noindexSurface(facts.RobotsMeta, facts.XRobotsTagHeader)

	if mode == types.ModePrerender || mode == types.ModeFull {
		facts.OpenGraph = extractMetaProperties(head, "og:")
		facts.TwitterCard = extractMetaProperties(head, "twitter:")
		facts.StructuredData = extractStructuredDataTypes(root)
	}

	return facts
}

// noindexSurface reports where a noindex directive was found, per the
// engine's meta/header/both taxonomy.
func noindexSurface(robotsMeta, xRobotsTag string) types.NoindexSurface {
	inMeta := containsBlockingDirective(robotsMeta)
	inHeader := containsBlockingDirective(xRobotsTag)
	switch {
	case inMeta && inHeader:
		return types.NoindexBoth
	case inMeta:
		return types.NoindexMeta
	case inHeader:
		return types.NoindexHeader
	default:
		return ""
	}
}

func containsBlockingDirective(content string) bool {
	if content == "" {
		return false
	}
	return blockingDirectivePattern.MatchString(content)
}

// extractSEOTitle extracts page title with the SEO-record character limit.
func extractSEOTitle(head *html.Node) string {
	if head == nil {
		return ""
	}
	title := findElementInParent(head, "title")
	if title == nil {
		return ""
	}
	text := strings.TrimSpace(getTextContent(title))
	return truncateRunes(text, maxSEOTitleLength)
}

// extractMetaDescription returns the first <meta name="description"> content
// found in head.
func extractMetaDescription(head *html.Node) string {
	if head == nil {
		return ""
	}
	for _, meta := range findAllElementsInParent(head, "meta") {
		if strings.ToLower(getAttr(meta, "name")) != "description" {
			continue
		}
		content := strings.TrimSpace(getAttr(meta, "content"))
		if content == "" {
			return ""
		}
		return truncateRunes(content, maxMetaDescriptionLength)
	}
	return ""
}

// extractMetaRobots returns the robots directive string. A non-empty
// googlebot tag takes precedence over a generic robots tag.
func extractMetaRobots(head *html.Node) string {
	if head == nil {
		return ""
	}
	var googlebotContent, robotsContent string
	for _, meta := range findAllElementsInParent(head, "meta") {
		name := strings.ToLower(getAttr(meta, "name"))
		content := strings.TrimSpace(getAttr(meta, "content"))
		switch name {
		case "googlebot":
			if content != "" && googlebotContent == "" {
				googlebotContent = content
			}
		case "robots":
			if content != "" && robotsContent == "" {
				robotsContent = content
			}
		}
	}
	if googlebotContent != "" {
		return googlebotContent
	}
	return robotsContent
}

// extractBaseHref returns the <base href> value, or "" if absent.
func extractBaseHref(head *html.Node) string {
	if head == nil {
		return ""
	}
	base := findElementInParent(head, "base")
	if base == nil {
		return ""
	}
	return strings.TrimSpace(getAttr(base, "href"))
}

// extractHeadings returns up to maxCount non-empty, whitespace-collapsed
// heading texts for the given tag (h1, h2, ...).
func extractHeadings(body *html.Node, tag string, maxCount int) []string {
	if body == nil {
		return nil
	}
	var results []string
	for _, elem := range findAllElementsInParent(body, tag) {
		if len(results) >= maxCount {
			break
		}
		text := collapseWhitespace(getTextContent(elem))
		if text == "" {
			continue
		}
		results = append(results, truncateRunes(text, maxHeadingLength))
	}
	return results
}

// collectHeadings gathers h1-h6 into a single slice for PageRecord.Headings,
// ordered by level (all h1, then all h2, ...) and by document order within
// each level, capped per level.
func collectHeadings(body *html.Node) []string {
	var all []string
	for _, tag := range []string{"h1", "h2", "h3", "h4", "h5", "h6"} {
		all = append(all, extractHeadings(body, tag, maxHeadingsPerLevel)...)
	}
	return all
}

// extractCanonicalURL returns the first <link rel="canonical" href> value.
func extractCanonicalURL(head *html.Node) string {
	for _, link := range findAllElementsInParent(head, "link") {
		if strings.ToLower(getAttr(link, "rel")) == "canonical" {
			return strings.TrimSpace(getAttr(link, "href"))
		}
	}
	return ""
}

// resolveCanonicalURL resolves href against baseURL, falling back to href
// unchanged if either fails to parse.
func resolveCanonicalURL(href, baseURL string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// extractHreflang extracts <link rel="alternate" hreflang> entries from head.
func extractHreflang(head *html.Node, baseURL string) []types.Hreflang {
	if head == nil {
		return nil
	}
	var entries []types.Hreflang
	for _, link := range findAllElementsInParent(head, "link") {
		if strings.ToLower(getAttr(link, "rel")) != "alternate" {
			continue
		}
		lang := strings.TrimSpace(getAttr(link, "hreflang"))
		href := strings.TrimSpace(getAttr(link, "href"))
		if lang == "" || href == "" {
			continue
		}
		resolved := resolveCanonicalURL(href, baseURL)
		if resolved == "" {
			resolved = href
		}
		entries = append(entries, types.Hreflang{
			Lang: lang,
			URL:  truncateRunes(resolved, maxHreflangURLLength),
		})
	}
	return entries
}

// extractMetaProperties pulls <meta property="PREFIX..."> or
// <meta name="PREFIX..."> pairs into a map keyed by the token after the
// prefix, used for both og: and twitter: namespaces.
func extractMetaProperties(head *html.Node, prefix string) map[string]string {
	if head == nil {
		return nil
	}
	result := make(map[string]string)
	for _, meta := range findAllElementsInParent(head, "meta") {
		key := getAttr(meta, "property")
		if key == "" {
			key = getAttr(meta, "name")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		content := strings.TrimSpace(getAttr(meta, "content"))
		if content == "" {
			continue
		}
		result[strings.TrimPrefix(key, prefix)] = content
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

// extractStructuredDataTypes extracts sorted, deduplicated @type values from
// every application/ld+json script in the document.
func extractStructuredDataTypes(root *html.Node) []string {
	if root == nil {
		return nil
	}
	typeSet := make(map[string]struct{})
	for _, script := range findAllElementsInParent(root, "script") {
		if strings.ToLower(strings.TrimSpace(getAttr(script, "type"))) != "application/ld+json" {
			continue
		}
		content := getTextContent(script)
		if len(content) > maxJSONLDSize {
			continue
		}
		extractTypesFromJSON([]byte(content), typeSet, 0)
	}
	if len(typeSet) == 0 {
		return nil
	}
	result := make([]string, 0, len(typeSet))
	for t := range typeSet {
		result = append(result, t)
	}
	sort.Strings(result)
	return result
}

func extractTypesFromJSON(data []byte, typeSet map[string]struct{}, depth int) {
	if depth > maxJSONLDRecursionDepth {
		return
	}
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return
	}
	extractTypesFromValue(obj, typeSet, depth)
}

func extractTypesFromValue(v interface{}, typeSet map[string]struct{}, depth int) {
	if depth > maxJSONLDRecursionDepth {
		return
	}
	switch val := v.(type) {
	case map[string]interface{}:
		if typeVal, ok := val["@type"]; ok {
			addType(typeVal, typeSet)
		}
		if graphVal, ok := val["@graph"]; ok {
			extractTypesFromValue(graphVal, typeSet, depth+1)
		}
		for _, child := range val {
			extractTypesFromValue(child, typeSet, depth+1)
		}
	case []interface{}:
		for _, item := range val {
			extractTypesFromValue(item, typeSet, depth+1)
		}
	}
}

func addType(v interface{}, typeSet map[string]struct{}) {
	switch val := v.(type) {
	case string:
		if val != "" {
			typeSet[val] = struct{}{}
		}
	case []interface{}:
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				typeSet[s] = struct{}{}
			}
		}
	}
}
