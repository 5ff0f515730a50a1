// Package frontier owns the URL queue, per-host token buckets, the
// visited/enqueued dedup sets, and the dispatch loop that drives one crawl.
package frontier

import (
	"fmt"
	"regexp"
	"time"

	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/common/urlutil"
)

// Config is the subset of CrawlConfig the scheduler needs, reshaped into
// the types this package actually consumes (compiled patterns, durations).
type Config struct {
	Seeds          []string
	MaxPages       int
	MaxDepth       int
	FollowExternal bool
	ParamPolicy    urlutil.ParamPolicy
	BlockList      []string
	AllowPatterns  []*regexp.Regexp
	DenyPatterns   []*regexp.Regexp

	PerHostRPS float64

	RespectRobots bool
	RobotsOverride bool

	ConcurrencyCap int

	MaxRSSMB      int
	RSSMultiplier float64

	MaxErrors int

	CheckpointInterval int

	ShutdownGraceful time.Duration

	UserAgent       string
	MaxBytesPerPage int64
	RenderMode      string
	TimeoutMs       int
}

// FromCrawlConfig reshapes a loaded CrawlConfig into the frontier's Config,
// compiling the discovery include/exclude patterns once up front.
func FromCrawlConfig(cfg *config.CrawlConfig) (*Config, error) {
	allow, err := compilePatterns(cfg.Discovery.AllowUrls)
	if err != nil {
		return nil, fmt.Errorf("discovery.allowUrls: %w", err)
	}
	deny, err := compilePatterns(cfg.Discovery.DenyUrls)
	if err != nil {
		return nil, fmt.Errorf("discovery.denyUrls: %w", err)
	}

	maxErrors := cfg.Cli.MaxErrors

	return &Config{
		Seeds:              cfg.Input.Seeds,
		MaxPages:           cfg.Crawl.MaxPages,
		MaxDepth:           cfg.Crawl.MaxDepth,
		FollowExternal:     cfg.Discovery.FollowExternal,
		ParamPolicy:        urlutil.ParamPolicy(cfg.Discovery.ParamPolicy),
		BlockList:          cfg.Discovery.BlockList,
		AllowPatterns:      allow,
		DenyPatterns:       deny,
		PerHostRPS:         cfg.HTTP.PerHostRps,
		RespectRobots:      cfg.Robots.Respect,
		RobotsOverride:     cfg.Robots.OverrideUsed,
		ConcurrencyCap:     cfg.Crawl.Render.Concurrency,
		MaxRSSMB:           cfg.Memory.MaxRssMB,
		RSSMultiplier:      0.85,
		MaxErrors:          maxErrors,
		CheckpointInterval: cfg.Checkpoint.Interval,
		ShutdownGraceful:   cfg.GracefulTimeout(),
		UserAgent:          cfg.HTTP.UserAgent,
		MaxBytesPerPage:    cfg.Crawl.Render.MaxBytesPerPage,
		RenderMode:         cfg.Crawl.Render.Mode,
		TimeoutMs:          cfg.Crawl.Render.TimeoutMs,
	}, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// RSSBudgetBytes returns the memory-backpressure trip point in bytes.
func (c *Config) RSSBudgetBytes() uint64 {
	return uint64(float64(c.MaxRSSMB) * 1024 * 1024)
}

// RSSResumeBytes returns the hysteresis threshold below which dispatch
// resumes after a memoryPaused transition.
func (c *Config) RSSResumeBytes() uint64 {
	return uint64(float64(c.MaxRSSMB) * c.RSSMultiplier * 1024 * 1024)
}
