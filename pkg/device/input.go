package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/logger"
)

// Tap performs a single tap.
func (d *Android) Tap(ctx context.Context, p core.Point) error {
	logger.Debug("adb tap %d,%d on %s", p.X, p.Y, d.serial)
	_, err := d.Shell(ctx, fmt.Sprintf("input tap %d %d", p.X, p.Y))
	return err
}

// LongPress is a zero-length swipe held for dur.
func (d *Android) LongPress(ctx context.Context, p core.Point, dur time.Duration) error {
	logger.Debug("adb long press %d,%d for %v on %s", p.X, p.Y, dur, d.serial)
	_, err := d.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", p.X, p.Y, p.X, p.Y, dur.Milliseconds()))
	return err
}

// InjectText types text into the focused field.
func (d *Android) InjectText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	_, err := d.Shell(ctx, "input text "+escapeInputText(text))
	return err
}

// InjectKey sends a key event.
func (d *Android) InjectKey(ctx context.Context, keyCode int) error {
	_, err := d.Shell(ctx, fmt.Sprintf("input keyevent %d", keyCode))
	return err
}

// escapeInputText prepares text for "input text": spaces become %s and
// shell metacharacters are backslash-escaped.
func escapeInputText(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch r {
		case ' ':
			b.WriteString("%s")
		case '\\', '\'', '"', '`', '$', '&', '|', ';', '<', '>', '(', ')', '*', '?', '~', '#', '!', '%':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
