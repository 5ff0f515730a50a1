package acceptance_test

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/engine"
	"github.com/atlascrawl/engine/pkg/types"
)

var _ = Describe("single-seed minimal crawl", func() {
	It("produces a page under the seed origin and an external edge, at the mode's spec level", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/":
				ctx.SetContentType("text/html")
				fmt.Fprintf(ctx, `<html><head><title>Home</title></head><body>
					<a href="/about">About</a>
					<a href="https://www.iana.org/domains/reserved">IANA</a>
				</body></html>`)
			case "/about":
				ctx.SetContentType("text/html")
				fmt.Fprint(ctx, `<html><head><title>About</title></head><body>about page</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "minimal.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 2
			c.Crawl.Render.Mode = "prerender"
			c.HTTP.PerHostRps = 2
		})

		_, result, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))
		Expect(result.Success).To(BeTrue())

		a := readArchive(out)
		Expect(a.Pages).NotTo(BeEmpty())

		var seedOrigin string
		for _, p := range a.Pages {
			if p.Pathname == "/" {
				seedOrigin = p.Origin
			}
		}
		Expect(seedOrigin).To(Equal(base))

		var hasExternalEdge bool
		for _, e := range a.Edges {
			if e.IsExternal && e.TargetURL != "" {
				hasExternalEdge = true
			}
		}
		Expect(hasExternalEdge).To(BeTrue())

		Expect(a.Manifest.Capabilities.SpecLevel).To(Equal(types.ModePrerender.SpecLevel()))
		Expect(a.Manifest.Integrity.Files).To(HaveKey("pages/part-001.jsonl.zst"))
	})
})

var _ = Describe("redirect chain", func() {
	It("collapses a multi-hop redirect into one page record at the terminal URL", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/start":
				ctx.Redirect("/middle", fasthttp.StatusMovedPermanently)
			case "/middle":
				ctx.Redirect("/final", fasthttp.StatusFound)
			case "/final":
				ctx.SetContentType("text/html")
				fmt.Fprint(ctx, `<html><head><title>Final</title></head><body>landed</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "redirect.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/start"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 1
		})

		_, result, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))
		Expect(result.Success).To(BeTrue())

		a := readArchive(out)
		Expect(a.Pages).To(HaveLen(1))

		page := a.Pages[0]
		Expect(page.RedirectChain).To(HaveLen(2))
		Expect(page.URLFinal).To(Equal(base + "/final"))
		Expect(page.StatusCode).To(Equal(fasthttp.StatusOK))
	})
})

var _ = Describe("robots denial", func() {
	It("blocks a disallowed seed and records exactly one ROBOTS_BLOCKED error", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/robots.txt":
				ctx.SetContentType("text/plain")
				fmt.Fprint(ctx, "User-agent: *\nDisallow: /admin\n")
			case "/admin/x":
				ctx.SetContentType("text/html")
				fmt.Fprint(ctx, `<html><body>should never be fetched</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "robots.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/admin/x"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 5
			c.Robots.Respect = true
		})

		_, _, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))

		a := readArchive(out)
		Expect(a.Pages).To(BeEmpty())
		Expect(a.Errors).To(HaveLen(1))
		Expect(a.Errors[0].Phase).To(Equal(types.PhaseFetch))
		Expect(a.Errors[0].Code).To(Equal("ROBOTS_BLOCKED"))
		Expect(a.Errors[0].URL).To(Equal(base + "/admin/x"))
	})
})

var _ = Describe("error budget trip", func() {
	It("stops at the error budget and reports error_budget completion", func() {
		dead := startTestSite(func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		})

		seeds := make([]string, 0, 5)
		for i := 0; i < 5; i++ {
			seeds = append(seeds, fmt.Sprintf("%s/missing-%d", dead, i))
		}

		out := filepath.Join(GinkgoT().TempDir(), "budget.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = seeds
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 100
			c.Cli.MaxErrors = 3
		})

		_, result, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitErrorBudget))
		Expect(result.ErrorBudgetExceeded).To(BeTrue())
		Expect(result.CompletionReason).To(Equal(types.CompletionErrorBudget))

		a := readArchive(out)
		Expect(a.Manifest.Incomplete).To(BeFalse())
	})
})

var _ = Describe("depth respect", func() {
	It("never writes a page beyond maxDepth, but still records the edge that would exceed it", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/":
				fmt.Fprint(ctx, `<html><body><a href="/d1">d1</a></body></html>`)
			case "/d1":
				fmt.Fprint(ctx, `<html><body><a href="/d2">d2</a></body></html>`)
			case "/d2":
				fmt.Fprint(ctx, `<html><body>too deep</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "depth.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 100
			c.Crawl.MaxDepth = 1
		})

		_, _, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))

		a := readArchive(out)
		for _, p := range a.Pages {
			Expect(p.Depth).To(BeNumerically("<=", 1))
			Expect(p.Pathname).NotTo(Equal("/d2"))
		}

		var sawDeepEdge bool
		for _, e := range a.Edges {
			if e.TargetURL == base+"/d2" {
				sawDeepEdge = true
			}
		}
		Expect(sawDeepEdge).To(BeTrue())
	})
})

var _ = Describe("at-most-once visitation", func() {
	It("writes exactly one page record for URLs that normalize to the same target", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			fmt.Fprint(ctx, `<html><body>single page</body></html>`)
		})

		out := filepath.Join(GinkgoT().TempDir(), "dedup.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/page", base + "/page?", base + "/page"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 10
		})

		_, _, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))

		a := readArchive(out)
		Expect(a.Pages).To(HaveLen(1))
	})
})

var _ = Describe("edge-page consistency", func() {
	It("only ever points an edge's sourcePageId at a page already written", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/":
				fmt.Fprint(ctx, `<html><body><a href="/a">a</a><a href="/b">b</a></body></html>`)
			case "/a":
				fmt.Fprint(ctx, `<html><body><a href="/b">b again</a></body></html>`)
			case "/b":
				fmt.Fprint(ctx, `<html><body>leaf</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "consistency.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 100
		})

		_, _, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))

		a := readArchive(out)
		known := make(map[string]bool, len(a.Pages))
		for _, p := range a.Pages {
			known[p.PageID] = true
		}
		for _, e := range a.Edges {
			Expect(known[e.SourcePageID]).To(BeTrue(), "edge %+v references an unwritten page", e)
		}
	})
})

var _ = Describe("integrity round-trip and manifest-summary agreement", func() {
	It("matches manifest digests against recomputed SHA-256 and part row counts against summary stats", func() {
		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/":
				fmt.Fprint(ctx, `<html><body><a href="/a">a</a></body></html>`)
			case "/a":
				fmt.Fprint(ctx, `<html><body>leaf</body></html>`)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		})

		out := filepath.Join(GinkgoT().TempDir(), "integrity.atls")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/"}
			c.Input.OutAtls = out
			c.Crawl.MaxPages = 100
		})

		_, _, exitCode, runErr := runCrawl(cfg)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))

		a := readArchive(out)
		Expect(a.Manifest.Incomplete).To(BeFalse())

		for name, digest := range a.Manifest.Integrity.Files {
			raw, ok := a.rawFiles[name]
			Expect(ok).To(BeTrue(), "manifest names %s but it is not in the archive", name)

			sum := sha256.Sum256(raw)
			Expect(hex.EncodeToString(sum[:])).To(Equal(digest), "digest mismatch for %s", name)
		}

		pagesRows := int64(0)
		for _, pf := range a.Manifest.Parts[types.DatasetPages].Files {
			pagesRows += pf.RowCount
		}
		Expect(pagesRows).To(Equal(a.Summary.Stats.TotalPages))

		edgesRows := int64(0)
		for _, pf := range a.Manifest.Parts[types.DatasetEdges].Files {
			edgesRows += pf.RowCount
		}
		Expect(edgesRows).To(Equal(a.Summary.Stats.TotalEdges))
	})
})

var _ = Describe("part rotation", func() {
	It("rotates a dataset writer to a new part once the rotation threshold is exceeded", func() {
		// Engine/CrawlConfig expose no rotation-threshold knob (it is a
		// fixed 150MB per spec.md), so this drives internal/atlas directly
		// with a tiny override to exercise rotation without writing 150MB
		// of fixture data.
		stagingDir := GinkgoT().TempDir()
		outPath := filepath.Join(GinkgoT().TempDir(), "rotated.atls")

		w, err := atlas.NewWriter(&atlas.Config{
			StagingDir:      stagingDir,
			OutputPath:      outPath,
			FormatVersion:   "1.0",
			SpecVersion:     "1.0",
			Producer:        "atlascrawl-engine-test",
			Owner:           "atlascrawl",
			PartRotateBytes: 4096,
		}, types.CoreDatasets)
		Expect(err).NotTo(HaveOccurred())

		big := make([]byte, 3000)
		for i := range big {
			big[i] = 'x'
		}
		const pageCount = 6
		for i := 0; i < pageCount; i++ {
			Expect(w.WriteRecord(types.DatasetPages, types.PageRecord{
				PageID:        fmt.Sprintf("page-%d", i),
				URLNormalized: fmt.Sprintf("https://example.com/p%d", i),
				StatusCode:    200,
				TextSample:    string(big),
			})).To(Succeed())
		}

		Expect(w.Finalize(testLogger, atlas.FinalizeOptions{
			CrawlID:       "part-rotation-test",
			FormatVersion: "1.0",
			SpecVersion:   "1.0",
			Producer:      "atlascrawl-engine-test",
			Owner:         "atlascrawl",
			CreatedAt:     time.Now().UTC(),
			Summary:       &types.AtlasSummary{},
		})).To(Succeed())

		a := readArchive(outPath)
		Expect(a.Pages).To(HaveLen(pageCount))

		pageParts := a.Manifest.Parts[types.DatasetPages].Files
		Expect(len(pageParts)).To(BeNumerically(">=", 2))

		totalRows := int64(0)
		for i, part := range pageParts {
			Expect(part.Name).To(Equal(fmt.Sprintf("pages/part-%03d.jsonl.zst", i+1)))
			totalRows += part.RowCount
		}
		Expect(totalRows).To(Equal(int64(pageCount)))
	})
})
