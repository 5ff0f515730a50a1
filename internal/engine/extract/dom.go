// Package extract implements the sub-extractors that turn a parsed HTML
// document into the record shapes written into the Atlas archive: page
// facts, outbound edges, assets, a text sample, and (full mode only)
// accessibility findings.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Parse parses raw HTML bytes into a DOM tree. Callers that only need the
// root node (rather than the full Document convenience wrapper) can use
// this directly.
func Parse(htmlBytes []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(htmlBytes))
}

// findElement recursively searches for the first element with matching tag
// name (case-insensitive). Returns nil if not found.
func findElement(node *html.Node, tag string) *html.Node {
	if node == nil {
		return nil
	}
	return findElementLower(node, strings.ToLower(tag))
}

func findElementLower(node *html.Node, lowerTag string) *html.Node {
	if node.Type == html.ElementNode && strings.ToLower(node.Data) == lowerTag {
		return node
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		if found := findElementLower(c, lowerTag); found != nil {
			return found
		}
	}
	return nil
}

// findElementInParent searches recursively within parent's subtree for a
// matching element, not matching parent itself.
func findElementInParent(parent *html.Node, tag string) *html.Node {
	if parent == nil {
		return nil
	}
	lowerTag := strings.ToLower(tag)
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if found := findElementLower(c, lowerTag); found != nil {
			return found
		}
	}
	return nil
}

// findAllElementsInParent returns all matching elements within parent, in
// document order.
func findAllElementsInParent(parent *html.Node, tag string) []*html.Node {
	if parent == nil {
		return nil
	}
	tag = strings.ToLower(tag)
	var results []*html.Node

	var search func(*html.Node)
	search = func(n *html.Node) {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == tag {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			search(c)
		}
	}
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		search(c)
	}
	return results
}

// getAttr returns the attribute value for name (case-insensitive). Returns
// empty string if not found.
func getAttr(node *html.Node, name string) string {
	if node == nil {
		return ""
	}
	name = strings.ToLower(name)
	for _, attr := range node.Attr {
		if strings.ToLower(attr.Key) == name {
			return attr.Val
		}
	}
	return ""
}

// getTextContent recursively extracts all text content from node and its
// descendants.
func getTextContent(node *html.Node) string {
	if node == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(node)
	return sb.String()
}

// truncateRunes truncates s to maxLen runes, leaving it unchanged if it is
// already within the limit.
func truncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// collapseWhitespace trims leading/trailing whitespace and collapses
// internal whitespace runs to a single space.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ancestorLocations lists the semantic container tags that DOM-location
// tagging recognises while walking upward from a node.
var ancestorLocations = map[string]string{
	"nav":    "nav",
	"header": "header",
	"footer": "footer",
	"aside":  "aside",
	"main":   "main",
}

// nearestSemanticAncestor walks up from node looking for the closest
// ancestor matching one of nav/header/footer/aside/main. Returns "" if none
// is found before reaching the document root.
func nearestSemanticAncestor(node *html.Node) string {
	for n := node.Parent; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		tag := strings.ToLower(n.Data)
		if loc, ok := ancestorLocations[tag]; ok {
			return loc
		}
	}
	return ""
}
