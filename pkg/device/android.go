// Package device provides the ADB-backed execution adapter.
package device

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
)

// Config configures an Android connection.
type Config struct {
	Serial  string // empty = first connected device
	ADBPath string // empty = look up adb in PATH

	// ScreenWidth/ScreenHeight override what wm size reports.
	ScreenWidth  int
	ScreenHeight int

	// ReadyTimeout bounds the wait for the device to reach the "device" state.
	ReadyTimeout time.Duration
}

// DefaultReadyTimeout is used when Config.ReadyTimeout is zero.
const DefaultReadyTimeout = 5 * time.Second

// runFunc runs one adb invocation and returns stdout.
type runFunc func(ctx context.Context, args ...string) (string, error)

// Android implements core.Device over adb shell commands.
type Android struct {
	serial string
	run    runFunc
	info   *core.PlatformInfo
}

// Info describes one entry of adb devices.
type Info struct {
	Serial string
	State  string
}

var _ core.Device = (*Android)(nil)

// New connects to the device named by cfg, waits until it is ready and
// reads its platform details.
func New(ctx context.Context, cfg Config) (*Android, error) {
	adbPath := cfg.ADBPath
	if adbPath == "" {
		p, err := findADB()
		if err != nil {
			return nil, err
		}
		adbPath = p
	}
	return newAndroid(ctx, cfg, execRunner(adbPath))
}

func newAndroid(ctx context.Context, cfg Config, run runFunc) (*Android, error) {
	serial := cfg.Serial
	if serial == "" {
		devices, err := listDevices(ctx, run)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if d.State == "device" {
				serial = d.Serial
				break
			}
		}
		if serial == "" {
			return nil, fmt.Errorf("no device specified and no connected device found")
		}
	}

	d := &Android{serial: serial}
	d.run = func(ctx context.Context, args ...string) (string, error) {
		return run(ctx, append([]string{"-s", serial}, args...)...)
	}

	timeout := cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}
	if err := d.waitReady(ctx, timeout); err != nil {
		return nil, fmt.Errorf("device %s not ready: %w", serial, err)
	}

	d.info = d.readPlatformInfo(ctx)
	if cfg.ScreenWidth > 0 && cfg.ScreenHeight > 0 {
		d.info.ScreenWidth, d.info.ScreenHeight = cfg.ScreenWidth, cfg.ScreenHeight
	}
	logger.Info("device %s ready: %s %s, screen %dx%d",
		serial, d.info.DeviceName, d.info.OSVersion, d.info.ScreenWidth, d.info.ScreenHeight)
	return d, nil
}

// ListDevices returns the devices adb reports.
func ListDevices(ctx context.Context, adbPath string) ([]Info, error) {
	if adbPath == "" {
		p, err := findADB()
		if err != nil {
			return nil, err
		}
		adbPath = p
	}
	return listDevices(ctx, execRunner(adbPath))
}

func listDevices(ctx context.Context, run runFunc) ([]Info, error) {
	out, err := run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	return parseDevices(out), nil
}

func parseDevices(out string) []Info {
	var devices []Info
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			devices = append(devices, Info{Serial: parts[0], State: parts[1]})
		}
	}
	return devices
}

// Serial returns the device serial number.
func (d *Android) Serial() string {
	return d.serial
}

// GetPlatformInfo returns the details read at connect time.
func (d *Android) GetPlatformInfo() *core.PlatformInfo {
	return d.info
}

// Shell executes a shell command on the device.
func (d *Android) Shell(ctx context.Context, cmd string) (string, error) {
	return d.run(ctx, "shell", cmd)
}

// waitReady polls get-state with exponential backoff until the device
// reports "device" or timeout elapses.
func (d *Android) waitReady(ctx context.Context, timeout time.Duration) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxInterval = time.Second
	eb.MaxElapsedTime = timeout
	eb.Reset()

	return backoff.Retry(func() error {
		out, err := d.run(ctx, "get-state")
		if err != nil {
			return err
		}
		if state := strings.TrimSpace(out); state != "device" {
			return fmt.Errorf("state %q", state)
		}
		return nil
	}, backoff.WithContext(eb, ctx))
}

func (d *Android) readPlatformInfo(ctx context.Context) *core.PlatformInfo {
	info := &core.PlatformInfo{Platform: "android", DeviceID: d.serial}
	if model, err := d.Shell(ctx, "getprop ro.product.model"); err == nil {
		info.DeviceName = strings.TrimSpace(model)
	}
	if release, err := d.Shell(ctx, "getprop ro.build.version.release"); err == nil {
		info.OSVersion = strings.TrimSpace(release)
	}
	if qemu, err := d.Shell(ctx, "getprop ro.kernel.qemu"); err == nil {
		info.IsSimulator = strings.TrimSpace(qemu) == "1"
	}
	if out, err := d.Shell(ctx, "wm size"); err == nil {
		if w, h, ok := parseWMSize(out); ok {
			info.ScreenWidth, info.ScreenHeight = w, h
		}
	} else {
		logger.Warn("wm size failed on %s, screen size unknown: %v", d.serial, err)
	}
	return info
}

var wmSizeRe = regexp.MustCompile(`(Physical|Override) size:\s*(\d+)x(\d+)`)

// parseWMSize reads wm size output. An override size wins over the
// physical one.
func parseWMSize(out string) (int, int, bool) {
	var w, h int
	found := false
	for _, m := range wmSizeRe.FindAllStringSubmatch(out, -1) {
		mw, _ := strconv.Atoi(m[2])
		mh, _ := strconv.Atoi(m[3])
		if m[1] == "Override" || !found {
			w, h, found = mw, mh, true
		}
	}
	return w, h, found
}

func execRunner(adbPath string) runFunc {
	return func(ctx context.Context, args ...string) (string, error) {
		cmd := exec.CommandContext(ctx, adbPath, args...)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			errMsg := stderr.String()
			if errMsg == "" {
				errMsg = stdout.String()
			}
			return "", fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(errMsg))
		}
		return stdout.String(), nil
	}
}

// findADB locates the ADB binary.
func findADB() (string, error) {
	if path, err := exec.LookPath("adb"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("adb not found in PATH; ensure Android SDK is installed")
}
