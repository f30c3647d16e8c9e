// Package mock provides a scripted device for testing without a real device.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
)

// ActionKind names a recorded device action.
type ActionKind string

// ActionKind values
const (
	ActionTap       ActionKind = "tap"
	ActionLongPress ActionKind = "longPress"
	ActionText      ActionKind = "text"
	ActionKey       ActionKind = "key"
)

// Action is one call made on the device.
type Action struct {
	Kind     ActionKind
	Point    core.Point
	Duration time.Duration
	Text     string
	KeyCode  int
}

// Driver is a scripted implementation of core.Device.
type Driver struct {
	// Configuration
	Config Config

	mu       sync.Mutex
	dumps    []string
	captures int
	actions  []Action
}

// Config configures mock driver behavior.
type Config struct {
	// Dumps are returned by CaptureSnapshot in order; the last one repeats.
	Dumps []string
	// FailCaptures makes the first N captures fail.
	FailCaptures int
	// FailOnAction makes action N fail (1-indexed). 0 = never fail.
	FailOnAction int
	// FailActions makes every listed action number fail.
	FailActions []int
	// ActionDelay adds artificial delay per action
	ActionDelay time.Duration
	// OnTap is called after each successful tap and may replace the dumps
	// served next, to simulate the screen reacting.
	OnTap func(d *Driver, p core.Point)

	// Platform info to report
	Platform     string
	DeviceID     string
	ScreenWidth  int
	ScreenHeight int
}

// New creates a new mock driver.
func New(cfg Config) *Driver {
	if cfg.Platform == "" {
		cfg.Platform = "mock"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "mock-device"
	}
	if cfg.ScreenWidth == 0 && cfg.ScreenHeight == 0 {
		cfg.ScreenWidth, cfg.ScreenHeight = 1080, 2400
	}
	return &Driver{Config: cfg, dumps: append([]string(nil), cfg.Dumps...)}
}

// SetDumps replaces the dumps served by CaptureSnapshot.
func (d *Driver) SetDumps(dumps ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dumps = append([]string(nil), dumps...)
	d.captures = 0
}

// CaptureSnapshot returns the next scripted dump.
func (d *Driver) CaptureSnapshot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.captures++
	if d.captures <= d.Config.FailCaptures {
		return "", fmt.Errorf("mock capture failure %d", d.captures)
	}
	if len(d.dumps) == 0 {
		return "", fmt.Errorf("mock has no dump")
	}
	i := d.captures - d.Config.FailCaptures - 1
	if i >= len(d.dumps) {
		i = len(d.dumps) - 1
	}
	return d.dumps[i], nil
}

// Tap records a tap.
func (d *Driver) Tap(ctx context.Context, p core.Point) error {
	if err := d.record(ctx, Action{Kind: ActionTap, Point: p}); err != nil {
		return err
	}
	if d.Config.OnTap != nil {
		d.Config.OnTap(d, p)
	}
	return nil
}

// LongPress records a long press.
func (d *Driver) LongPress(ctx context.Context, p core.Point, dur time.Duration) error {
	return d.record(ctx, Action{Kind: ActionLongPress, Point: p, Duration: dur})
}

// InjectText records typed text.
func (d *Driver) InjectText(ctx context.Context, text string) error {
	return d.record(ctx, Action{Kind: ActionText, Text: text})
}

// InjectKey records a key press.
func (d *Driver) InjectKey(ctx context.Context, keyCode int) error {
	return d.record(ctx, Action{Kind: ActionKey, KeyCode: keyCode})
}

func (d *Driver) record(ctx context.Context, a Action) error {
	if d.Config.ActionDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Config.ActionDelay):
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, a)
	n := len(d.actions)
	if n == d.Config.FailOnAction {
		return fmt.Errorf("mock failure on action %d (%s)", n, a.Kind)
	}
	for _, f := range d.Config.FailActions {
		if f == n {
			return fmt.Errorf("mock failure on action %d (%s)", n, a.Kind)
		}
	}
	return nil
}

// Actions returns a copy of every recorded action, failed ones included.
func (d *Driver) Actions() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.actions...)
}

// Taps returns the points of recorded taps.
func (d *Driver) Taps() []core.Point {
	var out []core.Point
	for _, a := range d.Actions() {
		if a.Kind == ActionTap {
			out = append(out, a.Point)
		}
	}
	return out
}

// Captures returns how many snapshots were requested.
func (d *Driver) Captures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.captures
}

// GetPlatformInfo returns mock platform info.
func (d *Driver) GetPlatformInfo() *core.PlatformInfo {
	return &core.PlatformInfo{
		Platform:     d.Config.Platform,
		DeviceID:     d.Config.DeviceID,
		DeviceName:   "Mock Device",
		OSVersion:    "1.0",
		IsSimulator:  true,
		ScreenWidth:  d.Config.ScreenWidth,
		ScreenHeight: d.Config.ScreenHeight,
	}
}

var _ core.Device = (*Driver)(nil)
