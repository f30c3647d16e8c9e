package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/tapresolver/pkg/config"
	"github.com/devicelab-dev/tapresolver/pkg/executor"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/report"
	"github.com/devicelab-dev/tapresolver/pkg/repository"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
	"github.com/devicelab-dev/tapresolver/pkg/validator"
)

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "Run flows on one or more devices",
	ArgsUsage: "<flow-file-or-folder>...",
	Description: `Run step-definition flows on connected devices. Each step's target is
resolved on a fresh dump before acting. With several serials in --device the
flows are shared between the devices.

Reports are generated in the output directory:
  - Default: <report.outputDir or $TAPRESOLVER_HOME/reports>/<timestamp>/
  - With --output: <output>/<timestamp>/
  - With --output and --flatten: <output>/ (no timestamp subfolder)

Examples:
  tapresolver run login.yaml
  tapresolver run flows/ --include-tags smoke
  tapresolver --device emulator-5554,emulator-5556 run flows/
  tapresolver run flows/ --output ./my-reports --flatten`,
	Flags: []cli.Flag{
		// Tag filtering
		&cli.StringSliceFlag{
			Name:  "include-tags",
			Usage: "Only include flows with these tags",
		},
		&cli.StringSliceFlag{
			Name:  "exclude-tags",
			Usage: "Exclude flows with these tags",
		},

		// Output directory
		&cli.StringFlag{
			Name:  "output",
			Usage: "Output directory for reports (default: <home>/reports)",
		},
		&cli.BoolFlag{
			Name:  "flatten",
			Usage: "Don't create timestamp subfolder (requires --output)",
		},

		&cli.StringFlag{
			Name:    "repository",
			Usage:   "SQLite file for step definitions (default: repository.path from config)",
			EnvVars: []string{"TAPRESOLVER_REPOSITORY"},
		},
	},
	Action: runFlows,
}

func runFlows(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	output := c.String("output")
	if output == "" {
		output = cfg.Report.OutputDir
	}
	outputDir, err := resolveOutputDir(output, c.Bool("flatten"))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if !c.Bool("verbose") {
		logPath := cfg.Log.Path
		if logPath == "" {
			logPath = filepath.Join(outputDir, "tapresolver.log")
		}
		if err := logger.Init(logPath); err != nil {
			return err
		}
		defer logger.Close()
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			return err
		}
	}
	logger.Info("=== Run started ===")
	logger.Info("Output directory: %s", outputDir)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := snapshot.NewCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	repo, closeRepo, err := openRepository(ctx, c, cfg, cache)
	if err != nil {
		return err
	}
	defer closeRepo()

	flows, err := collectFlows(c, cfg, repo)
	if err != nil {
		logger.Error("Flow validation failed: %v", err)
		return err
	}
	logger.Info("Validated %d flow(s)", len(flows))

	out := newConsole(c.App.Writer)
	runCfg := executor.RunnerConfig{
		Batch:          cfg.Batch,
		Acquire:        cfg.AcquirePolicy(),
		OnFlowStart:    out.flowStart,
		OnStepComplete: out.stepComplete,
		OnFlowEnd:      out.flowEnd,
	}
	r := resolver.New(cfg.ResolverConfig())

	serials := parseDevices(cfg.Device.Serial)
	start := time.Now()
	result, err := execute(ctx, cfg, serials, r, cache, repo, runCfg, flows)
	if err != nil {
		logger.Error("Run failed: %v", err)
		return err
	}
	logger.Info("Run completed: %d passed, %d failed, %d skipped",
		result.PassedFlows, result.FailedFlows, result.SkippedFlows)

	devices := len(serials)
	if devices == 0 {
		devices = 1
	}
	index, details := report.Build(result.FlowResults, report.BuilderConfig{
		RunnerVersion: Version,
		Devices:       devices,
		StartTime:     start,
	})
	if err := report.Write(outputDir, index, details); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	out.summary(result)
	fmt.Fprintf(c.App.Writer, "  Report: %s\n\n", outputDir)

	if result.FailedFlows > 0 {
		return fmt.Errorf("%d of %d flows failed", result.FailedFlows, result.TotalFlows)
	}
	return nil
}

// execute runs on one device, or shares the flows between several.
func execute(ctx context.Context, cfg *config.Config, serials []string, r *resolver.Resolver, cache *snapshot.Cache, repo *repository.Repository, runCfg executor.RunnerConfig, flows []*flow.Flow) (*executor.RunResult, error) {
	if len(serials) <= 1 {
		dev, err := openDevice(ctx, cfg.DeviceConfig())
		if err != nil {
			return nil, err
		}
		logger.Info("Single device execution: %s", dev.GetPlatformInfo().DeviceID)
		return executor.New(dev, r, cache, repo, runCfg).Run(ctx, flows), nil
	}

	workers := make([]executor.DeviceWorker, 0, len(serials))
	for i, serial := range serials {
		dc := cfg.DeviceConfig()
		dc.Serial = serial
		dev, err := openDevice(ctx, dc)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", serial, err)
		}
		workers = append(workers, executor.DeviceWorker{ID: i, Device: dev})
	}
	logger.Info("Parallel execution: %d devices: %v", len(serials), serials)
	return executor.NewParallelRunner(workers, r, cache, repo, runCfg).Run(ctx, flows)
}

// openRepository opens the persistent definition store when one is
// configured, and loads what it holds.
func openRepository(ctx context.Context, c *cli.Context, cfg *config.Config, cache *snapshot.Cache) (*repository.Repository, func(), error) {
	path := c.String("repository")
	if path == "" {
		path = cfg.RepositoryPath()
	}
	if path == "" {
		repo := repository.New(cache, nil)
		return repo, repo.Close, nil
	}

	store, err := repository.Open(path)
	if err != nil {
		return nil, nil, err
	}
	repo := repository.New(cache, store)
	n, err := repo.Load(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	logger.Info("Loaded %d definition(s) from %s", n, path)
	return repo, func() {
		repo.Close()
		if err := store.Close(); err != nil {
			logger.Warn("closing repository: %v", err)
		}
	}, nil
}

// collectFlows validates the flow arguments, or the config's flow globs when
// none are given. Refs may name definitions the repository already holds.
func collectFlows(c *cli.Context, cfg *config.Config, repo *repository.Repository) ([]*flow.Flow, error) {
	include := c.StringSlice("include-tags")
	if len(include) == 0 {
		include = cfg.IncludeTags
	}
	exclude := c.StringSlice("exclude-tags")
	if len(exclude) == 0 {
		exclude = cfg.ExcludeTags
	}

	paths := c.Args().Slice()
	if len(paths) == 0 {
		for _, pattern := range cfg.Flows {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				return nil, fmt.Errorf("flows pattern %q: %w", pattern, err)
			}
			paths = append(paths, matches...)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one flow file or folder is required")
	}

	result := validator.New(include, exclude, repo.IDs()...).Validate(paths...)
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("flow validation failed: %w", err)
	}
	flows := result.Flows
	if len(flows) == 0 {
		return nil, fmt.Errorf("no flows matched")
	}
	return flows, nil
}

// parseDevices splits a comma-separated serial list.
func parseDevices(deviceFlag string) []string {
	if deviceFlag == "" {
		return nil
	}
	var out []string
	for _, d := range strings.Split(deviceFlag, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// resolveOutputDir determines the report directory:
// - no --output: <home>/reports/<timestamp>/
// - --output given: <output>/<timestamp>/
// - --output + --flatten: <output>/ (error if --output not given)
func resolveOutputDir(output string, flatten bool) (string, error) {
	if flatten && output == "" {
		return "", fmt.Errorf("--flatten requires --output to be specified")
	}

	baseDir := output
	if baseDir == "" {
		baseDir = config.GetReportsDir()
	}

	if flatten {
		return filepath.Clean(baseDir), nil
	}

	// Create timestamp-based subfolder
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	return filepath.Join(baseDir, timestamp), nil
}

