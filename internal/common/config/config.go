// Package config loads and validates the single YAML configuration file that
// drives one crawl.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/atlascrawl/engine/internal/common/configtypes"
	"github.com/atlascrawl/engine/internal/common/yamlutil"
)

// LogConfig aliases configtypes.LogConfig, which lives in a leaf package so
// that the logger can use it without importing config.
type (
	LogConfig = configtypes.LogConfig
)

// InputConfig is the `input` group.
type InputConfig struct {
	Seeds   []string `yaml:"seeds"`
	OutAtls string   `yaml:"outAtls"`
}

// RenderConfig is the `crawl.render` group.
type RenderConfig struct {
	Mode               string `yaml:"mode"`
	Concurrency        int    `yaml:"concurrency"`
	TimeoutMs          int    `yaml:"timeoutMs"`
	MaxRequestsPerPage int    `yaml:"maxRequestsPerPage"`
	MaxBytesPerPage    int64  `yaml:"maxBytesPerPage"`
}

// CrawlSectionConfig is the `crawl` group.
type CrawlSectionConfig struct {
	MaxPages int          `yaml:"maxPages"`
	MaxDepth int          `yaml:"maxDepth"`
	Render   RenderConfig `yaml:"render"`
}

// HTTPConfig is the `http` group.
type HTTPConfig struct {
	RPS        float64 `yaml:"rps"`
	UserAgent  string  `yaml:"userAgent"`
	PerHostRps float64 `yaml:"perHostRps"`
}

// DiscoveryConfig is the `discovery` group.
type DiscoveryConfig struct {
	FollowExternal bool     `yaml:"followExternal"`
	ParamPolicy    string   `yaml:"paramPolicy"`
	BlockList      []string `yaml:"blockList"`
	AllowUrls      []string `yaml:"allowUrls"`
	DenyUrls       []string `yaml:"denyUrls"`
}

// RobotsConfig is the `robots` group.
type RobotsConfig struct {
	Respect      bool `yaml:"respect"`
	OverrideUsed bool `yaml:"overrideUsed"`
}

// MemoryConfig is the `memory` group.
type MemoryConfig struct {
	MaxRssMB int `yaml:"maxRssMB"`
}

// CheckpointConfig is the `checkpoint` group.
type CheckpointConfig struct {
	Interval     int  `yaml:"interval"`
	EverySeconds int  `yaml:"everySeconds"`
	Enabled      bool `yaml:"enabled"`
}

// ShutdownConfig is the `shutdown` group.
type ShutdownConfig struct {
	GracefulTimeoutMs int `yaml:"gracefulTimeoutMs"`
}

// ResumeConfig is the `resume` group.
type ResumeConfig struct {
	StagingDir string `yaml:"stagingDir"`
}

// CliConfig is the `cli` group.
type CliConfig struct {
	MaxErrors      int  `yaml:"maxErrors"`
	PersistSession bool `yaml:"persistSession"`
	Stealth        bool `yaml:"stealth"`
}

// AnalyticsConfig configures the optional ClickHouse export sink.
type AnalyticsConfig struct {
	ClickhouseDSN string `yaml:"clickhouseDSN"`
}

// EventBusConfig configures the optional Redis fanout of lifecycle events.
type EventBusConfig struct {
	RedisAddr string `yaml:"redisAddr"`
}

// CrawlConfig is the top-level configuration document for one crawl.
type CrawlConfig struct {
	Input      InputConfig        `yaml:"input"`
	Crawl      CrawlSectionConfig `yaml:"crawl"`
	HTTP       HTTPConfig         `yaml:"http"`
	Discovery  DiscoveryConfig    `yaml:"discovery"`
	Robots     RobotsConfig       `yaml:"robots"`
	Memory     MemoryConfig       `yaml:"memory"`
	Checkpoint CheckpointConfig   `yaml:"checkpoint"`
	Shutdown   ShutdownConfig     `yaml:"shutdown"`
	Resume     ResumeConfig       `yaml:"resume"`
	Cli        CliConfig          `yaml:"cli"`
	Analytics  AnalyticsConfig    `yaml:"analytics"`
	EventBus   EventBusConfig     `yaml:"eventbus"`
	Log        LogConfig          `yaml:"log"`
}

// GracefulTimeout returns shutdown.gracefulTimeoutMs as a time.Duration.
func (c *CrawlConfig) GracefulTimeout() time.Duration {
	return time.Duration(c.Shutdown.GracefulTimeoutMs) * time.Millisecond
}

// Manager owns the loaded configuration for one crawl process.
type Manager struct {
	config     *CrawlConfig
	configPath string
	logger     *zap.Logger
}

// NewManager loads and validates configuration from configPath.
func NewManager(configPath string, logger *zap.Logger) (*Manager, error) {
	cm := &Manager{configPath: configPath, logger: logger}
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}
	return cm, nil
}

// Load reads, validates, and defaults the configuration file.
func (cm *Manager) Load() error {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg CrawlConfig
	if err := yamlutil.UnmarshalStrict(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	cm.applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return err
	}

	cm.config = &cfg
	cm.emitConfigWarnings()
	return nil
}

// GetConfig returns the loaded configuration.
func (cm *Manager) GetConfig() *CrawlConfig {
	return cm.config
}

// SetConfig overrides the loaded configuration (for testing).
func (cm *Manager) SetConfig(cfg *CrawlConfig) {
	cm.config = cfg
}

func (cm *Manager) applyDefaults(cfg *CrawlConfig) {
	if cfg.Crawl.Render.Mode == "" {
		cfg.Crawl.Render.Mode = "raw"
	}
	if cfg.Crawl.Render.Concurrency == 0 {
		cfg.Crawl.Render.Concurrency = 8
	}
	if cfg.Crawl.Render.TimeoutMs == 0 {
		cfg.Crawl.Render.TimeoutMs = 30000
	}
	if cfg.Crawl.Render.MaxRequestsPerPage == 0 {
		cfg.Crawl.Render.MaxRequestsPerPage = 200
	}
	if cfg.Crawl.Render.MaxBytesPerPage == 0 {
		cfg.Crawl.Render.MaxBytesPerPage = 20 * 1024 * 1024
	}
	if cfg.Crawl.MaxDepth == 0 {
		cfg.Crawl.MaxDepth = -1
	}
	if cfg.HTTP.RPS == 0 {
		cfg.HTTP.RPS = 20
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "AtlasCrawl/1.0 (+https://atlascrawl.invalid/bot)"
	}
	if cfg.HTTP.PerHostRps == 0 {
		cfg.HTTP.PerHostRps = 2
	}
	if cfg.Discovery.ParamPolicy == "" {
		cfg.Discovery.ParamPolicy = "keep"
	}
	if cfg.Checkpoint.Interval == 0 {
		cfg.Checkpoint.Interval = 500
	}
	if cfg.Shutdown.GracefulTimeoutMs == 0 {
		cfg.Shutdown.GracefulTimeoutMs = 15000
	}
	if cfg.Cli.MaxErrors == 0 {
		cfg.Cli.MaxErrors = -1
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled && !cfg.Log.NDJSON.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = configtypes.LogFormatConsole
	}
	if cfg.Log.File.Enabled && cfg.Log.File.Format == "" {
		cfg.Log.File.Format = configtypes.LogFormatText
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = configtypes.LogLevelInfo
	}
}

func validate(cfg *CrawlConfig) error {
	if len(cfg.Input.Seeds) == 0 {
		return fmt.Errorf("input.seeds is required")
	}
	if cfg.Input.OutAtls == "" {
		return fmt.Errorf("input.outAtls is required")
	}
	switch cfg.Crawl.Render.Mode {
	case "raw", "prerender", "full":
	default:
		return fmt.Errorf("crawl.render.mode must be one of raw|prerender|full, got %q", cfg.Crawl.Render.Mode)
	}
	switch cfg.Discovery.ParamPolicy {
	case "keep", "strip", "sample":
	default:
		return fmt.Errorf("discovery.paramPolicy must be one of keep|strip|sample, got %q", cfg.Discovery.ParamPolicy)
	}
	if cfg.Crawl.MaxDepth < -1 {
		return fmt.Errorf("crawl.maxDepth must be -1 or >= 0")
	}
	return nil
}

func (cm *Manager) emitConfigWarnings() {
	if cm.config.Robots.OverrideUsed && cm.config.Robots.Respect {
		cm.logger.Warn("robots.overrideUsed is set but robots.respect is also true; override has no effect")
	}
	if cm.config.Memory.MaxRssMB == 0 {
		cm.logger.Warn("memory.maxRssMB is 0; memory-aware backpressure is effectively disabled")
	}
}
