package extract

import (
	"strconv"
	"strings"

	"github.com/atlascrawl/engine/pkg/types"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// maxAssetsPerPage bounds how many AssetRecords a single page can emit;
// extractAssets reports truncation rather than growing the dataset
// unbounded on asset-heavy pages.
const maxAssetsPerPage = 1000

// assetNamespace is the fixed UUID namespace assetId = UUIDv5(assetNamespace,
// assetUrl) is derived from, so the same asset URL always yields the same
// assetId across pages and across resumed crawls.
var assetNamespace = uuid.MustParse("7b6f7c9e-7f1a-4a3e-9c2d-7a4d6e1b9f3a")

// AssetExtraction is the result of extractAssets.
type AssetExtraction struct {
	Assets    []types.AssetRecord
	Truncated bool
}

// extractAssets walks the body for <img>, <video>, and <audio> elements and
// returns up to maxAssetsPerPage AssetRecords, resolved against baseURL.
func extractAssets(root *html.Node, baseURL, pageURL, pageID string) AssetExtraction {
	head := findElement(root, "head")
	body := findElement(root, "body")
	if body == nil {
		return AssetExtraction{}
	}

	effectiveBase := baseURL
	if base := extractBaseHref(head); base != "" {
		effectiveBase = resolveURL(base, pageURL)
	}

	var result AssetExtraction
	emit := func(assetURL string, rec types.AssetRecord) bool {
		if len(result.Assets) >= maxAssetsPerPage {
			result.Truncated = true
			return false
		}
		rec.PageID = pageID
		rec.AssetID = uuid.NewSHA1(assetNamespace, []byte(assetURL)).String()
		rec.PageURL = pageURL
		rec.AssetURL = assetURL
		result.Assets = append(result.Assets, rec)
		return true
	}

	for _, img := range findAllElementsInParent(body, "img") {
		src := getAttr(img, "src")
		if shouldSkipAssetSrc(src) {
			continue
		}
		resolved := resolveURL(src, effectiveBase)
		rec := types.AssetRecord{
			Type:             types.AssetImage,
			Alt:              getAttr(img, "alt"),
			HasAlt:           hasAttr(img, "alt"),
			Loading:          strings.ToLower(getAttr(img, "loading")),
			SrcsetCandidates: parseSrcset(getAttr(img, "srcset"), effectiveBase),
			Sizes:            getAttr(img, "sizes"),
			PictureContext:   isInsidePicture(img),
		}
		if w := parseDimension(getAttr(img, "width")); w > 0 {
			rec.DisplayWidth = w
		}
		if h := parseDimension(getAttr(img, "height")); h > 0 {
			rec.DisplayHeight = h
		}
		if !emit(resolved, rec) {
			break
		}
	}

	for _, video := range findAllElementsInParent(body, "video") {
		src := getAttr(video, "src")
		if src == "" {
			if source := findElementInParent(video, "source"); source != nil {
				src = getAttr(source, "src")
			}
		}
		if shouldSkipAssetSrc(src) {
			continue
		}
		resolved := resolveURL(src, effectiveBase)
		rec := types.AssetRecord{
			Type:     types.AssetVideo,
			Controls: hasAttr(video, "controls"),
			Autoplay: hasAttr(video, "autoplay"),
			Sources:  collectSourceURLs(video, effectiveBase),
		}
		if !emit(resolved, rec) {
			break
		}
	}

	for _, audio := range findAllElementsInParent(body, "audio") {
		src := getAttr(audio, "src")
		if src == "" {
			if source := findElementInParent(audio, "source"); source != nil {
				src = getAttr(source, "src")
			}
		}
		if shouldSkipAssetSrc(src) {
			continue
		}
		resolved := resolveURL(src, effectiveBase)
		rec := types.AssetRecord{
			Type:     types.AssetAudio,
			Controls: hasAttr(audio, "controls"),
			Autoplay: hasAttr(audio, "autoplay"),
			Sources:  collectSourceURLs(audio, effectiveBase),
		}
		if !emit(resolved, rec) {
			break
		}
	}

	return result
}

func shouldSkipAssetSrc(src string) bool {
	src = strings.TrimSpace(src)
	if src == "" {
		return true
	}
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:")
}

func hasAttr(node *html.Node, name string) bool {
	if node == nil {
		return false
	}
	name = strings.ToLower(name)
	for _, attr := range node.Attr {
		if strings.ToLower(attr.Key) == name {
			return true
		}
	}
	return false
}

func parseDimension(v string) int {
	v = strings.TrimSpace(strings.TrimSuffix(v, "px"))
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func isInsidePicture(node *html.Node) bool {
	for n := node.Parent; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && strings.ToLower(n.Data) == "picture" {
			return true
		}
	}
	return false
}

// parseSrcset splits a srcset attribute into URL+descriptor candidates,
// resolving each URL against base.
func parseSrcset(srcset, base string) []types.ResponsiveImageCandidate {
	srcset = strings.TrimSpace(srcset)
	if srcset == "" {
		return nil
	}
	var candidates []types.ResponsiveImageCandidate
	for _, entry := range strings.Split(srcset, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Fields(entry)
		if len(parts) == 0 {
			continue
		}
		cand := types.ResponsiveImageCandidate{URL: resolveURL(parts[0], base)}
		if len(parts) > 1 {
			cand.Descriptor = parts[1]
		}
		candidates = append(candidates, cand)
	}
	return candidates
}

// collectSourceURLs resolves every <source src> child of a <video>/<audio>
// element against base.
func collectSourceURLs(media *html.Node, base string) []string {
	var sources []string
	for _, source := range findAllElementsInParent(media, "source") {
		src := getAttr(source, "src")
		if src == "" {
			continue
		}
		sources = append(sources, resolveURL(src, base))
	}
	return sources
}
