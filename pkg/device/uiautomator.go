package device

import (
	"context"
	"fmt"
	"strings"
)

// dumpPath is where uiautomator writes the hierarchy on the device.
const dumpPath = "/sdcard/window_dump.xml"

// CaptureSnapshot dumps the current hierarchy with uiautomator and reads it
// back. Text printed around the XML by some builds is stripped.
func (d *Android) CaptureSnapshot(ctx context.Context) (string, error) {
	out, err := d.Shell(ctx, "uiautomator dump "+dumpPath)
	if err != nil {
		return "", fmt.Errorf("uiautomator dump: %w", err)
	}
	if strings.Contains(strings.ToLower(out), "error") {
		return "", fmt.Errorf("uiautomator dump: %s", strings.TrimSpace(out))
	}

	raw, err := d.run(ctx, "exec-out", "cat", dumpPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", dumpPath, err)
	}
	return extractHierarchy(raw)
}

func extractHierarchy(raw string) (string, error) {
	start := strings.Index(raw, "<?xml")
	if start < 0 {
		start = strings.Index(raw, "<hierarchy")
	}
	end := strings.LastIndex(raw, "</hierarchy>")
	if start < 0 || end < start {
		return "", fmt.Errorf("dump contains no hierarchy (%d bytes)", len(raw))
	}
	return raw[start : end+len("</hierarchy>")], nil
}
