// Command atlascrawl runs one crawl to completion and produces a signed
// Atlas archive. See spec.md §6 for the full exit-code and stdout/stderr
// contract this entrypoint implements.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/atlascrawl/engine/internal/common/config"
	"github.com/atlascrawl/engine/internal/common/configtypes"
	"github.com/atlascrawl/engine/internal/common/logger"
	"github.com/atlascrawl/engine/internal/engine"
)

var (
	configPath string
	jsonOutput bool
	quiet      bool
	seedsFlag  []string
	outFlag    string
	maxPages   int
	renderMode string
)

// exitErr carries the exit code a failure should map to alongside the
// message to print on stderr, so Execute's error path never has to
// re-derive spec.md §6's exit codes from an error string.
type exitErr struct {
	code    engine.ExitCode
	message string
}

func (e *exitErr) Error() string { return e.message }

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := &cobra.Command{
		Use:           "atlascrawl",
		Short:         "Crawl a site into a signed Atlas archive.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one crawl to completion and produce an Atlas archive.",
		RunE:  runCrawl,
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "path to crawl configuration YAML (required)")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "write a single JSON summary object to stdout on completion")
	runCmd.Flags().BoolVar(&quiet, "quiet", false, "suppress non-error logs")
	runCmd.Flags().StringArrayVar(&seedsFlag, "seeds", nil, "seed URL override (repeatable)")
	runCmd.Flags().StringVar(&outFlag, "out", "", "output .atls path override")
	runCmd.Flags().IntVar(&maxPages, "max-pages", 0, "crawl.maxPages override")
	runCmd.Flags().StringVar(&renderMode, "mode", "", "crawl.render.mode override (raw|prerender|full)")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			if ee.message != "" {
				fmt.Fprintln(os.Stderr, ee.message)
			}
			return int(ee.code)
		}
		fmt.Fprintln(os.Stderr, "atlascrawl:", err)
		return int(engine.ExitArgError)
	}
	return int(engine.ExitSuccess)
}

func runCrawl(cmd *cobra.Command, _ []string) error {
	if configPath == "" {
		return &exitErr{code: engine.ExitArgError, message: "atlascrawl: --config is required"}
	}

	startupLogger, err := logger.NewDefaultLogger()
	if err != nil {
		return &exitErr{code: engine.ExitArgError, message: fmt.Sprintf("atlascrawl: create startup logger: %v", err)}
	}
	startupLogger.Info("loading crawl configuration", zap.String("path", configPath))

	mgr, err := config.NewManager(configPath, startupLogger.Logger)
	if err != nil {
		return &exitErr{code: engine.ExitArgError, message: fmt.Sprintf("atlascrawl: %v", err)}
	}
	cfg := mgr.GetConfig()

	if err := applyOverrides(cmd, cfg); err != nil {
		return &exitErr{code: engine.ExitArgError, message: fmt.Sprintf("atlascrawl: %v", err)}
	}

	dynamicLogger, err := logger.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		return &exitErr{code: engine.ExitArgError, message: fmt.Sprintf("atlascrawl: create logger: %v", err)}
	}
	defer dynamicLogger.Sync()
	zapLogger := dynamicLogger.Logger

	eng, err := engine.New(cfg, zapLogger)
	if err != nil {
		code := engine.ExitUnclassifiedFatal
		switch {
		case errors.Is(err, engine.ErrRenderInit):
			code = engine.ExitRenderFatal
		case errors.Is(err, engine.ErrWriteInit):
			code = engine.ExitWriteFatal
		}
		return &exitErr{code: code, message: fmt.Sprintf("atlascrawl: %v", err)}
	}
	defer eng.Close()

	dynamicLogger.SwitchToConfiguredLevel()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zapLogger.Info("starting crawl",
		zap.String("crawlId", eng.Job().CrawlID),
		zap.Strings("seeds", cfg.Input.Seeds),
		zap.String("out", cfg.Input.OutAtls))

	_, exitCode, runErr := eng.Start(ctx)

	dynamicLogger.EnsureInfoLevelForShutdown()
	if runErr != nil {
		return &exitErr{code: exitCode, message: fmt.Sprintf("atlascrawl: %v", runErr)}
	}
	zapLogger.Info("crawl finished", zap.String("crawlId", eng.Job().CrawlID), zap.Int("exitCode", int(exitCode)))

	if jsonOutput {
		if summary := eng.Summary(); summary != nil {
			enc := json.NewEncoder(os.Stdout)
			if err := enc.Encode(summary); err != nil {
				return &exitErr{code: engine.ExitUnclassifiedFatal, message: fmt.Sprintf("atlascrawl: encode summary: %v", err)}
			}
		}
	}

	if exitCode != engine.ExitSuccess {
		return &exitErr{code: exitCode}
	}
	return nil
}

// applyOverrides layers the `run` subcommand's flags over the loaded
// CrawlConfig, only where the flag was actually set on the command line,
// then re-checks the two fields validate() requires since an override can
// make an otherwise-valid file invalid (e.g. --mode with a typo).
func applyOverrides(cmd *cobra.Command, cfg *config.CrawlConfig) error {
	f := cmd.Flags()

	if f.Changed("seeds") {
		cfg.Input.Seeds = seedsFlag
	}
	if f.Changed("out") {
		cfg.Input.OutAtls = outFlag
	}
	if f.Changed("max-pages") {
		cfg.Crawl.MaxPages = maxPages
	}
	if f.Changed("mode") {
		switch renderMode {
		case "raw", "prerender", "full":
			cfg.Crawl.Render.Mode = renderMode
		default:
			return fmt.Errorf("--mode must be one of raw|prerender|full, got %q", renderMode)
		}
	}
	if quiet {
		cfg.Log.Level = configtypes.LogLevelError
		cfg.Log.Console.Level = configtypes.LogLevelError
	}

	if len(cfg.Input.Seeds) == 0 {
		return fmt.Errorf("input.seeds is required (set it in --config or pass --seeds)")
	}
	if cfg.Input.OutAtls == "" {
		return fmt.Errorf("input.outAtls is required (set it in --config or pass --out)")
	}
	return nil
}
