package frontier

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/engine/analytics"
	"github.com/atlascrawl/engine/internal/engine/extract"
	"github.com/atlascrawl/engine/internal/engine/fetch"
	"github.com/atlascrawl/engine/internal/engine/render"
	"github.com/atlascrawl/engine/pkg/types"
)

// validateSchemas gates the optional per-record schema check behind the
// VALIDATE_SCHEMAS env var, per internal/atlas's own ValidateRecord doc
// comment: it's cheap enough to run always but noisy on partially-formed
// test fixtures, so it defaults off.
func validateSchemas() bool {
	return os.Getenv("VALIDATE_SCHEMAS") == "1"
}

// pageTask runs one admitted URL through fetch, optional render, extract,
// and write, per spec.md §4.1's page task flow. It returns the internal
// edges discovered so the scheduler can feed them back through admission.
type pageTask struct {
	fetcher   *fetch.Fetcher
	renderer  *render.Renderer
	writer    *atlas.Writer
	analytics *analytics.Exporter
	crawlID   string
	logger    *zap.Logger
	cfg       *Config
}

type pageTaskResult struct {
	Page            types.PageRecord
	Edges           []types.EdgeRecord
	InternalEdges   []types.EdgeRecord
	AssetCount      int
	SchemaViolation bool
	Err             error
}

func (t *pageTask) run(ctx context.Context, entry types.FrontierEntry) pageTaskResult {
	pageID := uuid.Must(uuid.NewV7()).String()
	origin := originOf(entry.NormalizedURL)

	fetchResult, err := t.fetcher.Fetch(ctx, entry.NormalizedURL, fetch.Config{
		UserAgent:       t.cfg.UserAgent,
		MaxBytesPerPage: t.cfg.MaxBytesPerPage,
		RespectRobots:   t.cfg.RespectRobots && !t.cfg.RobotsOverride,
	})
	if err != nil {
		t.writeError(entry.NormalizedURL, origin, types.PhaseFetch, fetch.Code(err), err)
		return pageTaskResult{Err: err}
	}

	mode := types.RenderMode(t.cfg.RenderMode)
	modeUsed := types.ModeRaw
	html := string(fetchResult.Body)
	var renderResult *types.RenderResult

	if mode != types.ModeRaw && t.renderer != nil {
		rr, rerr := t.renderer.Render(ctx, origin, types.RenderRequest{
			RequestID:       pageID,
			URL:             fetchResult.FinalURL,
			Mode:            mode,
			TimeoutMs:       t.cfg.TimeoutMs,
			MaxBytesPerPage: t.cfg.MaxBytesPerPage,
			UserAgent:       t.cfg.UserAgent,
		})
		if rerr != nil {
			t.writeError(entry.NormalizedURL, origin, types.PhaseRender, "RENDER_FAILED", rerr)
		} else {
			renderResult = rr
			modeUsed = rr.ModeUsed
			html = rr.DOM
		}
	}

	extractResult, eerr := extract.Run(extract.Input{
		PageID:             pageID,
		HTML:               []byte(html),
		PageURL:            fetchResult.FinalURL,
		Headers:            fetchResult.Headers,
		DiscoveredInMode:   mode,
		ModeUsed:           modeUsed,
		AccessibilityCheck: modeUsed == types.ModeFull,
	}, hostnameFromOrigin(origin))
	if eerr != nil {
		t.writeError(entry.NormalizedURL, origin, types.PhaseExtract, "PARSE_FAILED", eerr)
	}

	page := buildPageRecord(pageID, entry, fetchResult, renderResult, extractResult, mode, modeUsed, origin)

	schemaViolation := false
	if validateSchemas() {
		if raw, merr := json.Marshal(page); merr == nil {
			if verr := atlas.ValidateRecord(types.DatasetPages, raw); verr != nil {
				schemaViolation = true
				t.writeError(entry.NormalizedURL, origin, types.PhaseWrite, "SCHEMA_VALIDATION_FAILED", verr)
			}
		}
	}

	if werr := t.writer.WriteRecord(types.DatasetPages, page); werr != nil {
		return pageTaskResult{Page: page, Err: werr}
	}
	if t.analytics != nil {
		if aerr := t.analytics.InsertPage(ctx, t.crawlID, page); aerr != nil {
			t.logger.Warn("analytics insert failed", zap.Error(aerr))
		}
	}
	for i := range extractResult.Edges {
		extractResult.Edges[i].SourcePageID = pageID
		if werr := t.writer.WriteRecord(types.DatasetEdges, extractResult.Edges[i]); werr != nil {
			return pageTaskResult{Page: page, Err: werr}
		}
	}
	for _, a := range extractResult.Assets {
		if werr := t.writer.WriteRecord(types.DatasetAssets, a); werr != nil {
			return pageTaskResult{Page: page, Err: werr}
		}
	}
	for _, a := range extractResult.Accessibility {
		if t.writer.IsExpected(types.DatasetAccessibility) {
			if werr := t.writer.WriteRecord(types.DatasetAccessibility, a); werr != nil {
				return pageTaskResult{Page: page, Err: werr}
			}
		}
	}

	var internal []types.EdgeRecord
	for _, e := range extractResult.Edges {
		if !e.IsExternal {
			internal = append(internal, e)
		}
	}

	return pageTaskResult{Page: page, Edges: extractResult.Edges, InternalEdges: internal, AssetCount: len(extractResult.Assets), SchemaViolation: schemaViolation}
}

func (t *pageTask) writeError(url, origin string, phase types.ErrorPhase, code string, err error) {
	record := types.ErrorRecord{
		URL:        url,
		Origin:     origin,
		Hostname:   hostnameFromOrigin(origin),
		OccurredAt: time.Now(),
		Phase:      phase,
		Code:       code,
		Message:    err.Error(),
	}
	if werr := t.writer.WriteRecord(types.DatasetErrors, record); werr != nil {
		t.logger.Error("failed to write error record", zap.Error(werr))
	}
}

func buildPageRecord(
	pageID string,
	entry types.FrontierEntry,
	fr *types.FetchResult,
	rr *types.RenderResult,
	er extract.Result,
	discoveredInMode, modeUsed types.RenderMode,
	origin string,
) types.PageRecord {
	parsed, _ := url.Parse(entry.NormalizedURL)
	pathname := "/"
	section := "/"
	if parsed != nil {
		if parsed.Path != "" {
			pathname = parsed.Path
		}
		section = firstPathSegment(pathname)
	}

	page := types.PageRecord{
		PageID:            pageID,
		URLOriginal:       entry.NormalizedURL,
		URLFinal:          fr.FinalURL,
		URLNormalized:     entry.NormalizedURL,
		URLKey:            urlKey(entry.NormalizedURL),
		Origin:            origin,
		Pathname:          pathname,
		Section:           section,
		StatusCode:        fr.StatusCode,
		ContentType:       fr.ContentType,
		FetchedAt:         time.Now(),
		RedirectChain:     fr.RedirectChain,
		Depth:             entry.Depth,
		DiscoveredFrom:    entry.DiscoveredFrom,
		DiscoveredInMode:  discoveredInMode,
		RawHTMLHash:       fr.RawHTMLHash,
		TextSample:        er.TextSample,
		Title:             er.Facts.Title,
		MetaDescription:   er.Facts.MetaDescription,
		H1:                er.Facts.H1,
		Headings:          er.Facts.Headings,
		CanonicalHref:     er.Facts.CanonicalHref,
		CanonicalResolved: er.Facts.CanonicalResolved,
		RobotsMeta:        er.Facts.RobotsMeta,
		XRobotsTagHeader:  er.Facts.XRobotsTagHeader,
		Hreflang:          er.Facts.Hreflang,
		NoindexSurface:    er.Facts.NoindexSurface,
		OpenGraph:         er.Facts.OpenGraph,
		TwitterCard:       er.Facts.TwitterCard,
		StructuredData:    er.Facts.StructuredData,
		ModeUsed:          modeUsed,
	}

	if rr != nil {
		page.DOMHash = rr.DOMHash
		page.NavEndReason = rr.NavEndReason
		page.RenderMs = rr.RenderMs
		page.Warnings = append(page.Warnings, rr.Warnings...)
	}
	if page.TextSample == "" {
		page.TextSample = fr.FallbackText
	}
	if page.Title == "" {
		page.Title = fr.FallbackTitle
	}
	if er.AssetsTruncated {
		page.Warnings = append(page.Warnings, "assets truncated at per-page cap")
	}

	return page
}

func urlKey(normalizedURL string) string {
	sum := sha1.Sum([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

func firstPathSegment(pathname string) string {
	trimmed := strings.TrimPrefix(pathname, "/")
	if trimmed == "" {
		return "/"
	}
	idx := strings.Index(trimmed, "/")
	if idx < 0 {
		return "/" + trimmed
	}
	return "/" + trimmed[:idx]
}

func originOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

func hostnameFromOrigin(origin string) string {
	parsed, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return parsed.Host
}
