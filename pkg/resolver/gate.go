package resolver

import (
	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

// DefaultMaxAreaRatio is the largest share of the screen a target may cover.
const DefaultMaxAreaRatio = 0.95

// DefaultContainerClasses are layout classes that are never tapped directly
// unless they are themselves clickable. The clickable exemption departs from a
// gate that rejects these classes outright: a clickable LinearLayout is what
// the walk to the nearest clickable ancestor returns for a row label.
var DefaultContainerClasses = []string{
	"FrameLayout",
	"LinearLayout",
	"RelativeLayout",
	"ViewGroup",
	"DecorView",
	"ScrollView",
	"HorizontalScrollView",
	"ConstraintLayout",
	"CoordinatorLayout",
	"RecyclerView",
	"ListView",
}

// SafetyGate rejects fullscreen, zero-area and container targets.
type SafetyGate struct {
	maxAreaRatio float64
	containers   map[string]bool
}

// NewSafetyGate creates a gate. Zero or out-of-range ratios use the default;
// an empty class list uses DefaultContainerClasses.
func NewSafetyGate(maxAreaRatio float64, containerClasses []string) *SafetyGate {
	if maxAreaRatio <= 0 || maxAreaRatio > 1 {
		maxAreaRatio = DefaultMaxAreaRatio
	}
	if len(containerClasses) == 0 {
		containerClasses = DefaultContainerClasses
	}
	g := &SafetyGate{maxAreaRatio: maxAreaRatio, containers: make(map[string]bool, len(containerClasses))}
	for _, c := range containerClasses {
		g.containers[c] = true
	}
	return g
}

// CheckBounds rejects an empty rectangle or one covering more than the
// allowed share of screen. An unknown screen skips the area check.
func (g *SafetyGate) CheckBounds(b, screen core.Bounds) error {
	if b.IsEmpty() {
		return core.ErrUnsafeTarget.WithMessagef("target %s has no area", b).
			WithDetails(map[string]interface{}{"rule": "zero_area", "bounds": b.String()})
	}
	if screen.IsEmpty() {
		return nil
	}
	ratio := float64(b.Area()) / float64(screen.Area())
	if ratio > g.maxAreaRatio {
		return core.ErrUnsafeTarget.WithMessagef("target %s covers %.0f%% of the screen", b, ratio*100).
			WithDetails(map[string]interface{}{"rule": "fullscreen", "bounds": b.String(), "areaRatio": ratio})
	}
	return nil
}

// CheckNode applies CheckBounds and rejects non-clickable container classes.
func (g *SafetyGate) CheckNode(n *snapshot.Node, screen core.Bounds) error {
	if err := g.CheckBounds(n.Bounds, screen); err != nil {
		return err
	}
	if g.containers[n.ShortClass()] && !n.Clickable {
		return core.ErrUnsafeTarget.WithMessagef("target is a container (%s)", n.ShortClass()).
			WithDetails(map[string]interface{}{"rule": "container", "class": n.ClassName})
	}
	return nil
}
