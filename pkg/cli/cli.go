// Package cli provides the command-line interface for tapresolver.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/tapresolver/pkg/config"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "Path to config.yaml (default: config.yaml in the working directory)",
		EnvVars: []string{"TAPRESOLVER_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "device",
		Aliases: []string{"s"},
		Usage:   "Device serial to use (can be comma-separated for run)",
		EnvVars: []string{"TAPRESOLVER_DEVICE", "ANDROID_SERIAL"},
	},
	&cli.StringFlag{
		Name:    "adb",
		Usage:   "Path to the adb binary",
		EnvVars: []string{"TAPRESOLVER_ADB"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Log to stderr at debug level",
		EnvVars: []string{"TAPRESOLVER_VERBOSE"},
	},
	&cli.BoolFlag{
		Name:  "no-ansi",
		Usage: "Disable ANSI colors",
	},
}

// NewApp builds the application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "tapresolver",
		Usage:   "Resolve recorded UI elements on live Android screens",
		Version: Version,
		Description: `tapresolver finds the element a recorded step meant on the current
screen, scores every candidate against the recorded evidence and only
acts when the match is unambiguous and safe.

Examples:
  tapresolver index dump.xml
  tapresolver resolve dump.xml step.yaml
  tapresolver hierarchy --compact
  tapresolver run flows/`,
		Flags: GlobalFlags,
		Before: func(c *cli.Context) error {
			if c.Bool("no-ansi") {
				colorsEnabled = false
			}
			if c.Bool("verbose") {
				logger.InitWriter(os.Stderr)
			}
			return nil
		},
		Commands: []*cli.Command{
			resolveCommand,
			indexCommand,
			hierarchyCommand,
			runCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads --config, or config.yaml from the working directory.
// Global device flags override the file.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if s := c.String("device"); s != "" {
		cfg.Device.Serial = s
	}
	if adb := c.String("adb"); adb != "" {
		cfg.Device.ADBPath = adb
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	return cfg, nil
}
