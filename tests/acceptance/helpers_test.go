package acceptance_test

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/klauspost/compress/zstd"
	"github.com/valyala/fasthttp"
	"gopkg.in/yaml.v3"

	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/engine"
	"github.com/atlascrawl/engine/pkg/types"
)

// startTestSite binds an ephemeral localhost port and serves handler until
// the spec ends. Redirect targets must resolve through "localhost", not
// "127.0.0.1": the fetcher's SSRF guard only runs on redirect hops and
// rejects literal private IPs, but it never resolves hostnames, so
// "localhost" passes straight through.
func startTestSite(handler fasthttp.RequestHandler) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())

	srv := &fasthttp.Server{Handler: handler}
	go func() { _ = srv.Serve(ln) }()

	DeferCleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.ShutdownWithContext(ctx)
	})

	port := ln.Addr().(*net.TCPAddr).Port
	return fmt.Sprintf("http://localhost:%d", port)
}

// buildConfig marshals a CrawlConfig built in Go (rather than a hand-edited
// YAML fixture) to a temp file and loads it the same way cmd/atlascrawl
// does, so every scenario exercises the real Manager.Load defaulting and
// validation path instead of hand-filling defaults itself.
func buildConfig(mutate func(cfg *config.CrawlConfig)) *config.CrawlConfig {
	cfg := &config.CrawlConfig{}
	mutate(cfg)

	data, err := yaml.Marshal(cfg)
	Expect(err).NotTo(HaveOccurred())

	dir := GinkgoT().TempDir()
	path := filepath.Join(dir, "crawl.yaml")
	Expect(os.WriteFile(path, data, 0o644)).To(Succeed())

	mgr, err := config.NewManager(path, testLogger)
	Expect(err).NotTo(HaveOccurred())
	return mgr.GetConfig()
}

// runCrawl constructs and starts an Engine from cfg, blocking until the
// crawl finishes, and returns both the engine (for Progress/Summary/Job
// introspection) and the exit classification cmd/atlascrawl would have
// used.
func runCrawl(cfg *config.CrawlConfig) (*engine.Engine, *types.CrawlResult, engine.ExitCode, error) {
	eng, err := engine.New(cfg, testLogger)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = eng.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result, exitCode, runErr := eng.Start(ctx)
	return eng, result, exitCode, runErr
}

// archive is the parsed content of one finished .atls file, ready for
// per-dataset, per-record assertions.
type archive struct {
	Manifest types.AtlasManifest
	Summary  types.AtlasSummary
	Pages    []types.PageRecord
	Edges    []types.EdgeRecord
	Assets   []types.AssetRecord
	Errors   []types.ErrorRecord

	// rawParts maps each "<dataset>/part-NNN.jsonl.zst" entry to its
	// uncompressed bytes, for record-level assertions.
	rawParts map[string][]byte

	// rawFiles maps every zip entry name to the exact bytes stored in the
	// zip (the archive uses zip.Store, so these are byte-identical to what
	// hashStagingTree hashed into manifest.Integrity.Files).
	rawFiles map[string][]byte
}

// readArchive unzips path and decodes every dataset's NDJSON parts plus
// manifest.json/summary.json.
func readArchive(path string) *archive {
	r, err := zip.OpenReader(path)
	Expect(err).NotTo(HaveOccurred())
	defer r.Close()

	out := &archive{rawParts: make(map[string][]byte), rawFiles: make(map[string][]byte)}

	for _, f := range r.File {
		rc, err := f.Open()
		Expect(err).NotTo(HaveOccurred())
		raw, err := io.ReadAll(rc)
		rc.Close()
		Expect(err).NotTo(HaveOccurred())

		out.rawFiles[f.Name] = raw

		switch {
		case f.Name == "manifest.json":
			Expect(json.Unmarshal(raw, &out.Manifest)).To(Succeed())
		case f.Name == "summary.json":
			Expect(json.Unmarshal(raw, &out.Summary)).To(Succeed())
		case filepath.Ext(f.Name) == ".zst":
			dec, err := zstd.NewReader(bytes.NewReader(raw))
			Expect(err).NotTo(HaveOccurred())
			plain, err := io.ReadAll(dec)
			dec.Close()
			Expect(err).NotTo(HaveOccurred())
			out.rawParts[f.Name] = plain

			switch {
			case isDatasetPart(f.Name, types.DatasetPages):
				out.Pages = append(out.Pages, decodeLines[types.PageRecord](plain)...)
			case isDatasetPart(f.Name, types.DatasetEdges):
				out.Edges = append(out.Edges, decodeLines[types.EdgeRecord](plain)...)
			case isDatasetPart(f.Name, types.DatasetAssets):
				out.Assets = append(out.Assets, decodeLines[types.AssetRecord](plain)...)
			case isDatasetPart(f.Name, types.DatasetErrors):
				out.Errors = append(out.Errors, decodeLines[types.ErrorRecord](plain)...)
			}
		}
	}
	return out
}

func isDatasetPart(name string, ds types.Dataset) bool {
	return len(name) > len(ds) && name[:len(ds)] == string(ds) && name[len(ds)] == '/'
}

func decodeLines[T any](data []byte) []T {
	var out []T
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var v T
		Expect(json.Unmarshal(line, &v)).To(Succeed())
		out = append(out, v)
	}
	return out
}
