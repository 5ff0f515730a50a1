package acceptance_test

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/valyala/fasthttp"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/engine"
	"github.com/atlascrawl/engine/internal/engine/checkpoint"
	"github.com/atlascrawl/engine/pkg/types"
)

// Engine.Start always finalizes on a clean scheduler return, and finalize
// always deletes the plaintext dataset parts a resumed crawl needs to reopen
// in append mode. There is no way to produce a genuinely interrupted, still
// resumable staging directory through the public Engine surface, so this
// builds one directly against the same internal/atlas and
// internal/engine/checkpoint packages the engine itself uses, then hands
// that staging directory to a real Engine for the actual resume.
var _ = Describe("resume", func() {
	It("continues a crashed crawl to the same unique page total it would have reached uninterrupted", func() {
		const preCrashPages = 6
		const postResumePages = 4
		const totalPages = preCrashPages + postResumePages

		base := startTestSite(func(ctx *fasthttp.RequestCtx) {
			path := string(ctx.Path())
			for i := 0; i < totalPages; i++ {
				if path == fmt.Sprintf("/p%d", i) {
					ctx.SetContentType("text/html")
					fmt.Fprintf(ctx, `<html><head><title>Page %d</title></head><body>leaf</body></html>`, i)
					return
				}
			}
			ctx.SetStatusCode(fasthttp.StatusNotFound)
		})

		stagingDir := GinkgoT().TempDir()
		outPath := filepath.Join(GinkgoT().TempDir(), "resumed.atls")
		crawlID := "resume-test-crawl"

		By("seeding a staging directory as if a prior process wrote 6 pages and then crashed")
		atlasCfg := &atlas.Config{
			StagingDir:    stagingDir,
			OutputPath:    outPath,
			FormatVersion: "1.0",
			SpecVersion:   "1.0",
			Producer:      "atlascrawl-engine-test",
			Owner:         "atlascrawl",
		}
		w, err := atlas.NewWriter(atlasCfg, types.CoreDatasets)
		Expect(err).NotTo(HaveOccurred())

		visitedURLs := make([]string, 0, preCrashPages)
		for i := 0; i < preCrashPages; i++ {
			u := fmt.Sprintf("%s/p%d", base, i)
			visitedURLs = append(visitedURLs, u)
			Expect(w.WriteRecord(types.DatasetPages, types.PageRecord{
				PageID:        fmt.Sprintf("page-%d", i),
				URLOriginal:   u,
				URLFinal:      u,
				URLNormalized: u,
				Origin:        base,
				Pathname:      fmt.Sprintf("/p%d", i),
				StatusCode:    200,
				Depth:         0,
				FetchedAt:     time.Now().UTC(),
			})).To(Succeed())
		}
		Expect(w.Close()).To(Succeed())

		frontierEntries := make([]types.FrontierSnapshotEntry, 0, postResumePages)
		for i := preCrashPages; i < totalPages; i++ {
			frontierEntries = append(frontierEntries, types.FrontierSnapshotEntry{
				NormalizedURL:  fmt.Sprintf("%s/p%d", base, i),
				Depth:          0,
				DiscoveredFrom: "",
			})
		}

		ckptWriter := checkpoint.NewWriter(stagingDir)
		_, err = ckptWriter.Save(checkpoint.Input{
			CrawlID:          crawlID,
			VisitedCount:     preCrashPages,
			EnqueuedCount:    int64(len(frontierEntries)),
			QueueDepth:       len(frontierEntries),
			PartPointers:     w.Checkpoint(),
			GracefulShutdown: false,
			IterateVisited: func(fn func(url string) bool) error {
				for _, u := range visitedURLs {
					if !fn(u) {
						break
					}
				}
				return nil
			},
			FrontierSnapshot: frontierEntries,
		})
		Expect(err).NotTo(HaveOccurred())

		By("resuming through the real engine against that staging directory")
		cfg := buildConfig(func(c *config.CrawlConfig) {
			c.Input.Seeds = []string{base + "/p0"}
			c.Input.OutAtls = outPath
			c.Crawl.MaxPages = 100
			c.Resume.StagingDir = stagingDir
		})

		eng, err := engine.New(cfg, testLogger)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = eng.Close() })
		Expect(eng.Job().CrawlID).To(Equal(crawlID))

		ctx2, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		result, exitCode, runErr := eng.Start(ctx2)
		Expect(runErr).NotTo(HaveOccurred())
		Expect(exitCode).To(Equal(engine.ExitSuccess))
		Expect(result.Success).To(BeTrue())

		a := readArchive(outPath)

		seen := make(map[string]bool)
		for _, p := range a.Pages {
			Expect(seen[p.URLNormalized]).To(BeFalse(), "duplicate page for %s", p.URLNormalized)
			seen[p.URLNormalized] = true
		}
		Expect(a.Pages).To(HaveLen(totalPages))

		var sawResumeNote bool
		for _, n := range a.Manifest.Notes {
			if n == fmt.Sprintf("resumeOf=%s", crawlID) {
				sawResumeNote = true
			}
		}
		Expect(sawResumeNote).To(BeTrue())

		Expect(a.Summary.Stats.TotalPages).To(Equal(int64(totalPages)))
	})
})
