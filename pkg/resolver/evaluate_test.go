package resolver

import (
	"errors"
	"testing"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

func scored(scores ...float64) []*Candidate {
	out := make([]*Candidate, len(scores))
	for i, s := range scores {
		n := &snapshot.Node{Index: i, ClassName: "android.widget.Button", Bounds: core.Bounds{X: 0, Y: i * 100, Width: 100, Height: 100}}
		out[i] = &Candidate{Anchor: n, Target: n, Score: s}
	}
	return out
}

func TestUniqueness(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
		ignore bool
		rule   string
		err    error
	}{
		{"threshold unique", []float64{0.80, 0.60}, false, "threshold-unique", nil},
		{"both above threshold, small gap", []float64{0.80, 0.72}, false, "", core.ErrAmbiguousMatch},
		{"gap unique below threshold", []float64{0.50, 0.30}, false, "gap-unique", nil},
		{"gap exactly at threshold", []float64{0.45, 0.30}, false, "gap-unique", nil},
		{"small gap below threshold", []float64{0.50, 0.40}, false, "", core.ErrAmbiguousMatch},
		{"lone weak candidate", []float64{0.10}, false, "", core.ErrLowConfidence},
		{"lone moderate candidate", []float64{0.40}, false, "gap-unique", nil},
		{"negative scores separated by the gap", []float64{-0.10, -0.50}, false, "gap-unique", nil},
		{"zero top separated by the gap", []float64{0.0, -0.20}, false, "gap-unique", nil},
		{"negative scores within the gap", []float64{-0.10, -0.20}, false, "", core.ErrAmbiguousMatch},
		{"lone negative candidate", []float64{-0.30}, false, "", core.ErrLowConfidence},
		{"ignore uniqueness accepts tie", []float64{0.75, 0.75}, true, "threshold", nil},
		{"ignore uniqueness still needs confidence", []float64{0.60}, true, "", core.ErrLowConfidence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := flow.DefaultPlan()
			plan.IgnoreUniqueness = tt.ignore
			cands := scored(tt.scores...)

			top, rule, err := uniqueness(cands, plan)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if top != cands[0] || rule != tt.rule {
				t.Errorf("got %v/%q, want top/%q", top, rule, tt.rule)
			}
		})
	}
}

func TestAmbiguous_SingleContender(t *testing.T) {
	plan := flow.DefaultPlan()

	err := ambiguous(scored(0.50, 0.10), plan)
	if !errors.Is(err, core.ErrLowConfidence) {
		t.Errorf("lone contender: err = %v, want low confidence", err)
	}

	err = ambiguous(scored(-0.10, -0.20, -0.60), plan)
	if !errors.Is(err, core.ErrAmbiguousMatch) {
		t.Fatalf("err = %v, want ambiguous match", err)
	}
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		t.Fatal("expected *core.ResolutionError")
	}
	if got := re.Details["candidates"].([]string); len(got) != 2 {
		t.Errorf("candidates = %v, want 2", got)
	}
}

func TestRankCandidates(t *testing.T) {
	screen := core.Bounds{Width: 1080, Height: 2400}
	mk := func(idx, y int, score float64) *Candidate {
		n := &snapshot.Node{Index: idx, Bounds: core.Bounds{X: 0, Y: y, Width: 100, Height: 100}}
		return &Candidate{Anchor: n, Target: n, Score: score}
	}

	cands := []*Candidate{mk(1, 100, 0.5), mk(2, 2300, 0.5), mk(3, 500, 0.9), mk(0, 700, 0.5)}
	rankCandidates(cands, screen, DefaultNavBandRatio)

	want := []int{3, 2, 0, 1}
	for i, w := range want {
		if cands[i].Target.Index != w {
			t.Errorf("rank[%d] = node %d, want %d", i, cands[i].Target.Index, w)
		}
	}
}

func TestDedupeAndExclude(t *testing.T) {
	a := &snapshot.Node{Index: 1, Bounds: core.Bounds{X: 0, Y: 0, Width: 10, Height: 10}}
	b := &snapshot.Node{Index: 2, Bounds: core.Bounds{X: 0, Y: 20, Width: 10, Height: 10}}
	anchor := &snapshot.Node{Index: 5}

	cands := []*Candidate{
		{Anchor: anchor, Target: a, Score: 0.3},
		{Anchor: anchor, Target: b, Score: 0.4},
		{Anchor: a, Target: a, Score: 0.8},
	}
	got := dedupeByTarget(cands)
	if len(got) != 2 || got[0].Score != 0.8 {
		t.Fatalf("dedupe = %+v", got)
	}

	left := excludeConsumed(got, map[core.Bounds]bool{a.Bounds: true})
	if len(left) != 1 || left[0].Target != b {
		t.Errorf("exclude = %+v", left)
	}
	if len(got) != 2 {
		t.Error("excludeConsumed modified its input")
	}
}

func TestSafetyGate(t *testing.T) {
	g := NewSafetyGate(0, nil)
	screen := core.Bounds{Width: 1080, Height: 2400}

	tests := []struct {
		name string
		node snapshot.Node
		ok   bool
	}{
		{"full screen", snapshot.Node{ClassName: "android.widget.Button", Clickable: true, Bounds: screen}, false},
		{"96 percent", snapshot.Node{ClassName: "android.widget.Button", Clickable: true, Bounds: core.Bounds{Width: 1080, Height: 2304}}, false},
		{"95 percent", snapshot.Node{ClassName: "android.widget.Button", Clickable: true, Bounds: core.Bounds{Width: 1080, Height: 2280}}, true},
		{"zero area", snapshot.Node{ClassName: "android.widget.Button", Clickable: true}, false},
		{"container", snapshot.Node{ClassName: "android.widget.FrameLayout", Bounds: core.Bounds{Width: 500, Height: 500}}, false},
		{"clickable container", snapshot.Node{ClassName: "android.widget.FrameLayout", Clickable: true, Bounds: core.Bounds{Width: 500, Height: 500}}, true},
		{"androidx recycler", snapshot.Node{ClassName: "androidx.recyclerview.widget.RecyclerView", Bounds: core.Bounds{Width: 500, Height: 500}}, false},
		{"plain view", snapshot.Node{ClassName: "android.view.View", Bounds: core.Bounds{Width: 500, Height: 500}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.CheckNode(&tt.node, screen)
			if tt.ok && err != nil {
				t.Errorf("CheckNode rejected: %v", err)
			}
			if !tt.ok && !errors.Is(err, core.ErrUnsafeTarget) {
				t.Errorf("CheckNode = %v, want unsafe target", err)
			}
		})
	}

	if err := g.CheckBounds(screen, core.Bounds{}); err != nil {
		t.Errorf("unknown screen should skip the area check, got %v", err)
	}
}
