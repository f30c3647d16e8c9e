package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/report"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

var resolveCommand = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve step definitions against a hierarchy dump",
	ArgsUsage: "<dump.xml> <steps.yaml>",
	Description: `Resolve each step definition in steps.yaml against the dump and print
the outcome as JSON: the tap point with its confidence and reasons, or the
failure kind with every strategy tried. Nothing is sent to a device.

Examples:
  tapresolver resolve dump.xml steps.yaml
  tapresolver resolve dump.xml steps.yaml --id follow_button
  tapresolver resolve dump.xml steps.yaml --screen 1080x2400 --exclude "[0,100][540,200]"`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "id",
			Usage: "Only resolve these definitions",
		},
		&cli.StringFlag{
			Name:  "screen",
			Usage: "Screen size WxH (default: root bounds of the dump)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Rectangles already acted on, as [l,t][r,b]",
		},
		&cli.StringFlag{
			Name:  "confirmed",
			Usage: "Rectangle a previous structural resolution produced, as [l,t][r,b]",
		},
	},
	Action: runResolve,
}

// resolveOutput is the JSON outcome for one definition.
type resolveOutput struct {
	Definition string             `json:"definition"`
	Snapshot   string             `json:"snapshot"`
	Status     string             `json:"status"`
	Resolution *report.Resolution `json:"resolution,omitempty"`
	Failure    string             `json:"failure,omitempty"`
	Message    string             `json:"message,omitempty"`
	Attempts   []core.Attempt     `json:"attempts,omitempty"`
	Exhausted  bool               `json:"exhausted,omitempty"`
}

func runResolve(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("a dump file and a steps file are required")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(c.Args().Get(1))
	if err != nil {
		return fmt.Errorf("failed to read steps: %w", err)
	}
	defs, err := flow.ParseDefinitions(data, c.Args().Get(1))
	if err != nil {
		return err
	}
	defs, err = selectDefinitions(defs, c.StringSlice("id"))
	if err != nil {
		return err
	}

	screen, err := parseScreen(c.String("screen"))
	if err != nil {
		return err
	}
	exclude := make(map[core.Bounds]bool)
	for _, s := range c.StringSlice("exclude") {
		b, err := parseRect(s)
		if err != nil {
			return fmt.Errorf("--exclude: %w", err)
		}
		exclude[b] = true
	}
	var confirmed *core.Bounds
	if s := c.String("confirmed"); s != "" {
		b, err := parseRect(s)
		if err != nil {
			return fmt.Errorf("--confirmed: %w", err)
		}
		confirmed = &b
	}

	cache, err := snapshot.NewCache()
	if err != nil {
		return err
	}
	defer cache.Close()
	handle, err := loadDump(cache, c.Args().First())
	if err != nil {
		return err
	}
	defer handle.Release()

	r := resolver.New(cfg.ResolverConfig())
	failed := 0
	outputs := make([]resolveOutput, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		out := resolveOutput{Definition: def.ID, Snapshot: handle.Hash()}

		res, err := r.Resolve(c.Context, resolver.Request{
			Snapshot:        handle.Snapshot(),
			Evidence:        &def.Evidence,
			Plan:            def.Plan,
			Screen:          screen,
			Exclude:         exclude,
			ConfirmedBounds: confirmed,
		})
		if err != nil {
			failed++
			fillFailure(&out, err)
			logger.Debug("%s: %v", def.ID, err)
		} else {
			res.Snapshot = handle.Hash()
			out.Status = "resolved"
			out.Resolution = report.ResolutionOf(res)
		}
		outputs = append(outputs, out)
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outputs); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d definitions did not resolve", failed, len(defs))
	}
	return nil
}

func fillFailure(out *resolveOutput, err error) {
	out.Status = "failed"
	out.Failure = core.FailureKindOf(err).String()
	out.Message = err.Error()
	var re *core.ResolutionError
	if errors.As(err, &re) {
		out.Attempts, _ = re.Details["attempts"].([]core.Attempt)
	}
	out.Exhausted = resolver.IsExhausted(err)
}

func selectDefinitions(defs []flow.Definition, ids []string) ([]flow.Definition, error) {
	if len(ids) == 0 {
		return defs, nil
	}
	byID := make(map[string]flow.Definition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	out := make([]flow.Definition, 0, len(ids))
	for _, id := range ids {
		d, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown definition %q", id)
		}
		out = append(out, d)
	}
	return out, nil
}

// parseScreen reads "WxH". Empty means unknown.
func parseScreen(s string) (core.Bounds, error) {
	if s == "" {
		return core.Bounds{}, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return core.Bounds{}, fmt.Errorf("--screen: want WxH, got %q", s)
	}
	width, err1 := strconv.Atoi(strings.TrimSpace(w))
	height, err2 := strconv.Atoi(strings.TrimSpace(h))
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return core.Bounds{}, fmt.Errorf("--screen: want WxH, got %q", s)
	}
	return core.Bounds{Width: width, Height: height}, nil
}

// parseRect reads "[l,t][r,b]" and rejects strings that do not parse.
func parseRect(s string) (core.Bounds, error) {
	b := core.ParseBounds(s)
	if b.IsEmpty() {
		return core.Bounds{}, fmt.Errorf("invalid rectangle %q", s)
	}
	return b, nil
}
