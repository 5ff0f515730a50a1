package engine

import (
	"os"
	"path/filepath"
	"time"

	"github.com/atlascrawl/engine/internal/atlas"
	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/engine/render"
	"github.com/atlascrawl/engine/pkg/types"
)

// stagingDirFor resolves the directory a crawl stages its archive into.
// resume.stagingDir doubles as both "where to resume from" and "where to
// keep staging a fresh crawl": a fresh run with no resume.stagingDir set
// stages into a directory derived from the output path, so a later resume
// attempt only has to pass that same path back in.
func stagingDirFor(cfg *config.CrawlConfig) string {
	if cfg.Resume.StagingDir != "" {
		return cfg.Resume.StagingDir
	}
	return cfg.Input.OutAtls + ".staging"
}

func atlasConfig(cfg *config.CrawlConfig) *atlas.Config {
	return &atlas.Config{
		StagingDir:    stagingDirFor(cfg),
		OutputPath:    cfg.Input.OutAtls,
		FormatVersion: "1.0",
		SpecVersion:   "1.0",
		Producer:      "atlascrawl-engine",
		Owner:         "atlascrawl",
	}
}

func expectedDatasets(mode string) []types.Dataset {
	datasets := append([]types.Dataset{}, types.CoreDatasets...)
	if types.RenderMode(mode) == types.ModeFull {
		datasets = append(datasets, types.DatasetAccessibility)
	}
	return datasets
}

func renderConfig(cfg *config.CrawlConfig) *render.Config {
	rc := render.DefaultConfig()
	rc.NavigationTimeout = time.Duration(cfg.Crawl.Render.TimeoutMs) * time.Millisecond
	rc.MaxRequestsPerPage = cfg.Crawl.Render.MaxRequestsPerPage
	rc.MaxBytesPerPage = cfg.Crawl.Render.MaxBytesPerPage
	rc.UserAgent = cfg.HTTP.UserAgent
	rc.Stealth = cfg.Cli.Stealth
	rc.PersistSession = cfg.Cli.PersistSession
	if rc.PersistSession {
		rc.SessionDir = filepath.Join(stagingDirFor(cfg), "sessions")
	}
	rc.MaxRSSMB = cfg.Memory.MaxRssMB
	if rc.MaxRSSMB == 0 {
		rc.MaxRSSMB = render.DefaultConfig().MaxRSSMB
	}
	return rc
}

func ensureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
