package extract

import (
	"strconv"
	"strings"

	"github.com/atlascrawl/engine/pkg/types"
	"golang.org/x/net/html"
)

// extractAccessibility runs a handful of static DOM accessibility checks
// that don't require a rendered layout (contrast, focus order, and other
// visual checks are out of scope for a non-visual DOM pass). Callers only
// invoke this for full-mode pages with accessibility checks enabled.
func extractAccessibility(root *html.Node, pageID string) []types.AccessibilityRecord {
	body := findElement(root, "body")
	if body == nil {
		return nil
	}

	var findings []types.AccessibilityRecord
	findings = append(findings, imagesMissingAlt(body, pageID)...)
	findings = append(findings, inputsMissingLabel(body, pageID)...)
	findings = append(findings, emptyLinks(body, pageID)...)
	findings = append(findings, skippedHeadingLevels(body, pageID)...)
	return findings
}

func imagesMissingAlt(body *html.Node, pageID string) []types.AccessibilityRecord {
	var findings []types.AccessibilityRecord
	for _, img := range findAllElementsInParent(body, "img") {
		if hasAttr(img, "alt") {
			continue
		}
		findings = append(findings, types.AccessibilityRecord{
			PageID:   pageID,
			Rule:     "image-alt",
			Impact:   "serious",
			Selector: "img[src=\"" + getAttr(img, "src") + "\"]",
			Message:  "image has no alt attribute",
		})
	}
	return findings
}

func inputsMissingLabel(body *html.Node, pageID string) []types.AccessibilityRecord {
	labelFor := make(map[string]bool)
	for _, label := range findAllElementsInParent(body, "label") {
		if forAttr := getAttr(label, "for"); forAttr != "" {
			labelFor[forAttr] = true
		}
	}

	var findings []types.AccessibilityRecord
	for _, input := range findAllElementsInParent(body, "input") {
		inputType := strings.ToLower(getAttr(input, "type"))
		if inputType == "hidden" || inputType == "submit" || inputType == "button" {
			continue
		}
		if getAttr(input, "aria-label") != "" || getAttr(input, "aria-labelledby") != "" {
			continue
		}
		id := getAttr(input, "id")
		if id != "" && labelFor[id] {
			continue
		}
		findings = append(findings, types.AccessibilityRecord{
			PageID:   pageID,
			Rule:     "label",
			Impact:   "critical",
			Selector: "input#" + id,
			Message:  "form input has no associated label",
		})
	}
	return findings
}

func emptyLinks(body *html.Node, pageID string) []types.AccessibilityRecord {
	var findings []types.AccessibilityRecord
	for _, link := range findAllElementsInParent(body, "a") {
		text := collapseWhitespace(getTextContent(link))
		if text != "" || getAttr(link, "aria-label") != "" {
			continue
		}
		findings = append(findings, types.AccessibilityRecord{
			PageID:   pageID,
			Rule:     "link-name",
			Impact:   "serious",
			Selector: "a[href=\"" + getAttr(link, "href") + "\"]",
			Message:  "link has no discernible text",
		})
	}
	return findings
}

func skippedHeadingLevels(body *html.Node, pageID string) []types.AccessibilityRecord {
	var levels []int
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level, ok := headingLevel(n.Data); ok {
				levels = append(levels, level)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(body)

	var findings []types.AccessibilityRecord
	for i := 1; i < len(levels); i++ {
		if levels[i]-levels[i-1] > 1 {
			findings = append(findings, types.AccessibilityRecord{
				PageID:  pageID,
				Rule:    "heading-order",
				Impact:  "moderate",
				Message: "heading levels should only increase by one",
			})
			break
		}
	}
	return findings
}

func headingLevel(tag string) (int, bool) {
	lower := strings.ToLower(tag)
	if len(lower) != 2 || lower[0] != 'h' {
		return 0, false
	}
	n, err := strconv.Atoi(lower[1:])
	if err != nil || n < 1 || n > 6 {
		return 0, false
	}
	return n, true
}
