package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/executor"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Slow step threshold in milliseconds (5 seconds)
const slowThresholdMs = 5000

// colorsEnabled determines if ANSI colors should be used
var colorsEnabled = true

func init() {
	// Respect NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
		return
	}
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			colorsEnabled = false
		}
	}
}

// color returns the color code if colors are enabled, empty string otherwise
func color(c string) string {
	if colorsEnabled {
		return c
	}
	return ""
}

// console prints live progress. Callbacks may come from several device
// workers at once.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (o *console) flowStart(flowIdx, totalFlows int, name, device string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.w, "\n  %s[%d/%d]%s %s%s%s (%s)\n",
		color(colorCyan), flowIdx+1, totalFlows, color(colorReset),
		color(colorBold), name, color(colorReset), device)
	fmt.Fprintln(o.w, strings.Repeat("─", 60))
}

func (o *console) stepComplete(_ int, desc string, sr *core.StepResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	durationMs := sr.Duration.Milliseconds()
	durStr := formatDuration(durationMs)
	// Batch steps run many actions; only single steps count as slow.
	isSlow := durationMs >= slowThresholdMs && sr.Batch == nil

	switch sr.Status {
	case core.StatusPassed:
		symbol, symbolColor, durColor := "✓", color(colorGreen), ""
		if isSlow {
			symbol, symbolColor, durColor = "⚠", color(colorYellow), color(colorYellow)
		}
		fmt.Fprintf(o.w, "    %s%s%s %s %s(%s)%s\n",
			symbolColor, symbol, color(colorReset), desc, durColor, durStr, color(colorReset))
		if r := sr.Resolution; r != nil {
			fmt.Fprintf(o.w, "      %s╰─ %s %.2f at (%d,%d)%s\n",
				color(colorGray), r.Strategy, r.Confidence, r.Point.X, r.Point.Y, color(colorReset))
		}
		if b := sr.Batch; b != nil {
			fmt.Fprintf(o.w, "      %s╰─ %d/%d actions, %s%s\n",
				color(colorGray), b.Succeeded, b.Attempted, b.StopReason, color(colorReset))
		}
	case core.StatusSkipped:
		fmt.Fprintf(o.w, "    %s-%s %s %s(%s)%s\n",
			color(colorCyan), color(colorReset), desc, color(colorGray), sr.Message, color(colorReset))
	default:
		fmt.Fprintf(o.w, "    %s✗%s %s (%s)\n", color(colorRed), color(colorReset), desc, durStr)
		if sr.Error != "" {
			fmt.Fprintf(o.w, "      %s╰─%s [%s] %s\n", color(colorGray), color(colorReset), sr.Failure, sr.Error)
		}
	}
}

func (o *console) flowEnd(fr *core.FlowResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	symbol, c := "✓", color(colorGreen)
	if fr.Status != core.StatusPassed {
		symbol, c = "✗", color(colorRed)
	}
	fmt.Fprintf(o.w, "%s%s %s%s %s%s%s\n",
		c, symbol, color(colorReset), fr.Name, color(colorGray), formatDuration(fr.Duration.Milliseconds()), color(colorReset))
}

func (o *console) summary(result *executor.RunResult) {
	o.mu.Lock()
	defer o.mu.Unlock()

	totalSteps, passedSteps, failedSteps, skippedSteps := 0, 0, 0, 0
	for _, fr := range result.FlowResults {
		totalSteps += fr.TotalSteps
		passedSteps += fr.PassedSteps
		failedSteps += fr.FailedSteps
		skippedSteps += fr.SkippedSteps
	}

	fmt.Fprintln(o.w)
	if passedSteps > 0 {
		fmt.Fprintf(o.w, "  %s%d steps passing%s (%s)\n", color(colorGreen), passedSteps, color(colorReset), formatDuration(result.Duration.Milliseconds()))
	}
	if failedSteps > 0 {
		fmt.Fprintf(o.w, "  %s%d steps failing%s\n", color(colorRed), failedSteps, color(colorReset))
	}
	if skippedSteps > 0 {
		fmt.Fprintf(o.w, "  %s%d steps skipped%s\n", color(colorCyan), skippedSteps, color(colorReset))
	}
	fmt.Fprintln(o.w)

	tableWidth := 92
	fmt.Fprintln(o.w, strings.Repeat("═", tableWidth))
	fmt.Fprintf(o.w, "  %-42s %6s %7s %6s %6s %6s %10s\n", "Flow", "Status", "Steps", "Pass", "Fail", "Skip", "Duration")
	fmt.Fprintln(o.w, strings.Repeat("─", tableWidth))

	for _, fr := range result.FlowResults {
		var status, statusColor string
		switch fr.Status {
		case core.StatusPassed:
			status, statusColor = "✓ PASS", color(colorGreen)
		case core.StatusSkipped:
			status, statusColor = "- SKIP", color(colorCyan)
		default:
			status, statusColor = "✗ FAIL", color(colorRed)
		}

		// Truncate name if too long
		name := fr.Name
		if len(name) > 42 {
			name = name[:39] + "..."
		}

		fmt.Fprintf(o.w, "  %-42s %s%6s%s %7d %6d %6d %6d %10s\n",
			name, statusColor, status, color(colorReset),
			fr.TotalSteps, fr.PassedSteps, fr.FailedSteps, fr.SkippedSteps,
			formatDuration(fr.Duration.Milliseconds()))
	}

	fmt.Fprintln(o.w, strings.Repeat("─", tableWidth))
	statusStr := fmt.Sprintf("%d/%d", result.PassedFlows, result.TotalFlows)
	statusColor := color(colorGreen)
	if result.FailedFlows > 0 {
		statusColor = color(colorRed)
	}
	fmt.Fprintf(o.w, "  %s%-42s%s %s%6s%s %7d %6d %6d %6d %10s\n",
		color(colorBold), "TOTAL", color(colorReset),
		statusColor, statusStr, color(colorReset),
		totalSteps, passedSteps, failedSteps, skippedSteps,
		formatDuration(result.Duration.Milliseconds()))
	fmt.Fprintln(o.w, strings.Repeat("═", tableWidth))
}

// formatDuration formats milliseconds to a human-readable string.
// Shows milliseconds for values < 1s, seconds otherwise.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	mins := ms / 60000
	secs := (ms % 60000) / 1000
	return fmt.Sprintf("%dm %ds", mins, secs)
}
