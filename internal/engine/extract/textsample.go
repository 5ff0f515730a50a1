package extract

import "golang.org/x/net/html"

// maxTextSampleBytes bounds the body text sample written to PageRecord.
const maxTextSampleBytes = 1500

// extractTextSample returns the body's visible text, whitespace-collapsed,
// truncated to the first maxTextSampleBytes bytes.
func extractTextSample(root *html.Node) string {
	body := findElement(root, "body")
	if body == nil {
		return ""
	}
	text := collapseWhitespace(getTextContent(body))
	if len(text) <= maxTextSampleBytes {
		return text
	}
	return truncateToValidUTF8(text, maxTextSampleBytes)
}

// truncateToValidUTF8 cuts s to at most n bytes without splitting a
// multi-byte rune in half.
func truncateToValidUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isUTF8Boundary(s[cut]) {
		cut--
	}
	return s[:cut]
}

// isUTF8Boundary reports whether b is not a UTF-8 continuation byte
// (10xxxxxx), i.e. it is safe to cut immediately before it.
func isUTF8Boundary(b byte) bool {
	return b&0xC0 != 0x80
}
