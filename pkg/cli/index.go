package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/device"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

var outputFlags = []cli.Flag{
	&cli.BoolFlag{
		Name:  "compact",
		Usage: "Output in CSV format",
	},
	&cli.BoolFlag{
		Name:  "evidence",
		Usage: "Output one step definition per node (YAML), ready for resolve",
	},
	&cli.BoolFlag{
		Name:  "clickable",
		Usage: "Only list clickable nodes",
	},
}

var indexCommand = &cli.Command{
	Name:      "index",
	Usage:     "Print the indexed node table of a hierarchy dump",
	ArgsUsage: "<dump.xml>",
	Description: `Parse a UIAutomator hierarchy dump and print every node with its
position, parent, index path and generated path.

Examples:
  tapresolver index dump.xml
  tapresolver index --compact dump.xml
  tapresolver index --evidence --clickable dump.xml > steps.yaml`,
	Flags:  outputFlags,
	Action: runIndex,
}

var hierarchyCommand = &cli.Command{
	Name:  "hierarchy",
	Usage: "Print the view hierarchy of the connected device",
	Description: `Capture the current screen of the connected device and print it in
JSON or CSV format.

Examples:
  tapresolver hierarchy
  tapresolver hierarchy --compact
  tapresolver --device emulator-5554 hierarchy --save dump.xml`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  "save",
			Usage: "Also write the raw dump to this file",
		},
	}, outputFlags...),
	Action: runHierarchy,
}

// openDevice connects to a device. Tests replace it.
var openDevice = func(ctx context.Context, cfg device.Config) (core.Device, error) {
	return device.New(ctx, cfg)
}

// nodeRow is one node in index output.
type nodeRow struct {
	Index       int    `json:"index"`
	Parent      int    `json:"parent"`
	Depth       int    `json:"depth"`
	IndexPath   string `json:"indexPath"`
	Path        string `json:"path"`
	Class       string `json:"class"`
	ResourceID  string `json:"resourceId,omitempty"`
	Text        string `json:"text,omitempty"`
	Description string `json:"desc,omitempty"`
	Bounds      string `json:"bounds"`
	Clickable   bool   `json:"clickable"`
	Enabled     bool   `json:"enabled"`
}

var csvHeader = []string{"index", "parent", "depth", "indexPath", "path", "class", "resourceId", "text", "desc", "bounds", "clickable", "enabled"}

func (r nodeRow) record() []string {
	return []string{
		strconv.Itoa(r.Index), strconv.Itoa(r.Parent), strconv.Itoa(r.Depth),
		r.IndexPath, r.Path, r.Class, r.ResourceID, r.Text, r.Description, r.Bounds,
		strconv.FormatBool(r.Clickable), strconv.FormatBool(r.Enabled),
	}
}

func runIndex(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("a dump file is required")
	}
	data, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}
	return printIndex(c, string(data))
}

func runHierarchy(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	dev, err := openDevice(c.Context, cfg.DeviceConfig())
	if err != nil {
		return err
	}
	info := dev.GetPlatformInfo()
	logger.Info("Capturing hierarchy from %s (%s)", info.DeviceID, info.DeviceName)

	cache, err := snapshot.NewCache()
	if err != nil {
		return err
	}
	defer cache.Close()

	handle, err := snapshot.Acquire(c.Context, dev, cache, cfg.AcquirePolicy())
	if err != nil {
		return err
	}
	defer handle.Release()

	raw, err := cache.Raw(handle.Hash())
	if err != nil {
		return err
	}
	if path := c.String("save"); path != "" {
		if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
			return fmt.Errorf("failed to save dump: %w", err)
		}
	}
	return printIndex(c, raw)
}

func printIndex(c *cli.Context, raw string) error {
	snap, err := snapshot.Parse(raw)
	if err != nil {
		return err
	}
	nodes := snap.Nodes
	if c.Bool("clickable") {
		nodes = snap.Filter(func(n *snapshot.Node) bool { return n.Clickable })
	}

	w := c.App.Writer
	switch {
	case c.Bool("evidence"):
		return writeEvidence(w, snap, snapshot.ContentHash(raw), nodes)
	case c.Bool("compact"):
		return writeCSV(w, nodes)
	default:
		return writeJSON(w, nodes)
	}
}

func rowOf(n *snapshot.Node) nodeRow {
	return nodeRow{
		Index:       n.Index,
		Parent:      n.Parent,
		Depth:       n.Depth,
		IndexPath:   snapshot.IndexPathKey(n.IndexPath),
		Path:        n.Path,
		Class:       n.ClassName,
		ResourceID:  n.ResourceID,
		Text:        n.Text,
		Description: n.ContentDesc,
		Bounds:      n.Bounds.String(),
		Clickable:   n.Clickable,
		Enabled:     n.Enabled,
	}
}

func writeJSON(w io.Writer, nodes []*snapshot.Node) error {
	rows := make([]nodeRow, len(nodes))
	for i, n := range nodes {
		rows[i] = rowOf(n)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func writeCSV(w io.Writer, nodes []*snapshot.Node) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, n := range nodes {
		if err := cw.Write(rowOf(n).record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeEvidence(w io.Writer, snap *snapshot.Snapshot, hash string, nodes []*snapshot.Node) error {
	defs := make([]flow.Definition, 0, len(nodes))
	for _, n := range nodes {
		defs = append(defs, flow.Definition{
			ID:           fmt.Sprintf("node-%d", n.Index),
			Evidence:     evidenceOf(snap, n),
			SnapshotHash: hash,
		})
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(defs); err != nil {
		return err
	}
	return enc.Close()
}

// evidenceOf records what a recorder would have kept for n.
func evidenceOf(snap *snapshot.Snapshot, n *snapshot.Node) flow.Evidence {
	b := n.Bounds
	ev := flow.Evidence{
		ResourceID:  n.ResourceID,
		Description: n.ContentDesc,
		ClassName:   n.ClassName,
		Path:        n.Path,
		Bounds:      &b,
	}
	if n.Text != "" {
		ev.Text = flow.Aliases{n.Text}
	}
	if !n.Clickable {
		for _, a := range snap.Ancestors(n) {
			if a.Clickable {
				ev.ParentClickable = true
				break
			}
		}
	}
	return ev
}

// loadDump reads a dump file through the cache so resolution sees the same
// content hash the repository records.
func loadDump(cache *snapshot.Cache, path string) (*snapshot.Handle, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- user-provided dump file
	if err != nil {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	return cache.Register(string(data))
}
