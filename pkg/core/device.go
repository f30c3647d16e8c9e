package core

import (
	"context"
	"time"
)

// Device is the execution adapter contract. It is the only component that
// touches the physical or virtual device.
// Implementations: ADB (pkg/device), scripted mock (pkg/driver/mock).
type Device interface {
	// Tap performs a single tap at the given screen coordinate.
	Tap(ctx context.Context, p Point) error

	// LongPress holds at the given coordinate for the given duration.
	LongPress(ctx context.Context, p Point, d time.Duration) error

	// InjectText types text into the focused field.
	InjectText(ctx context.Context, text string) error

	// InjectKey sends a key code.
	InjectKey(ctx context.Context, keyCode int) error

	// CaptureSnapshot returns the raw UIAutomator XML dump of the current screen.
	CaptureSnapshot(ctx context.Context) (string, error)

	// GetPlatformInfo returns device/platform information
	GetPlatformInfo() *PlatformInfo
}

// PlatformInfo contains device and platform details
type PlatformInfo struct {
	Platform     string `json:"platform"`
	OSVersion    string `json:"osVersion,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
	DeviceID     string `json:"deviceId"`
	IsSimulator  bool   `json:"isSimulator"`
	ScreenWidth  int    `json:"screenWidth,omitempty"`
	ScreenHeight int    `json:"screenHeight,omitempty"`
}

// ScreenBounds returns the full-screen rectangle, or zero bounds when the
// screen size is unknown.
func (p *PlatformInfo) ScreenBounds() Bounds {
	if p == nil {
		return Bounds{}
	}
	return Bounds{Width: p.ScreenWidth, Height: p.ScreenHeight}
}
