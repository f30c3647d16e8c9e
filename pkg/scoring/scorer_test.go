package scoring

import (
	"math"
	"testing"

	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScore_FollowVersusFollowing(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	ev := &flow.Evidence{ResourceID: "com.app:id/follow_btn", Text: flow.Aliases{"Follow"}}
	n := &snapshot.Node{ResourceID: "com.app:id/follow_btn", Text: "Following", ClassName: "android.widget.Button"}

	b := s.Score(ev, n, Context{})

	if b.Outcome(SignalIdentifier) != OutcomeMatch {
		t.Errorf("identifier = %s, want match", b.Outcome(SignalIdentifier))
	}
	if b.Outcome(SignalText) != OutcomeMismatch {
		t.Errorf("text = %s, want mismatch (state toggle)", b.Outcome(SignalText))
	}
	// 0.85 - 0.25 - 0.05 (path unexpected) + 0.01 (desc absent) - 0.02 (class unexpected)
	if !approx(b.Total, 0.54) {
		t.Errorf("Total = %.4f, want 0.54 (%s)", b.Total, b)
	}
	if !b.HasMismatch() {
		t.Error("HasMismatch() = false")
	}
}

func TestScore_FollowVersusFollowing_NoClass(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	ev := &flow.Evidence{ResourceID: "btn", Text: flow.Aliases{"Follow"}}
	n := &snapshot.Node{ResourceID: "btn", Text: "Following"}

	b := s.Score(ev, n, Context{})
	if !approx(b.Total, 0.63) {
		t.Errorf("Total = %.4f, want 0.63 (%s)", b.Total, b)
	}
}

func TestScore_SignalOutcomes(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)

	tests := []struct {
		name   string
		ev     flow.Evidence
		node   snapshot.Node
		signal Signal
		want   Outcome
	}{
		{"id match", flow.Evidence{ResourceID: "a:id/x"}, snapshot.Node{ResourceID: "a:id/x"}, SignalIdentifier, OutcomeMatch},
		{"id short form", flow.Evidence{ResourceID: "x"}, snapshot.Node{ResourceID: "a:id/x"}, SignalIdentifier, OutcomeMatch},
		{"id other package", flow.Evidence{ResourceID: "b:id/x"}, snapshot.Node{ResourceID: "a:id/x"}, SignalIdentifier, OutcomeMismatch},
		{"id mismatch", flow.Evidence{ResourceID: "a:id/x"}, snapshot.Node{ResourceID: "a:id/y"}, SignalIdentifier, OutcomeMismatch},
		{"id lost", flow.Evidence{ResourceID: "a:id/x"}, snapshot.Node{}, SignalIdentifier, OutcomeLost},
		{"id unexpected", flow.Evidence{}, snapshot.Node{ResourceID: "a:id/x"}, SignalIdentifier, OutcomeUnexpected},
		{"id both absent", flow.Evidence{}, snapshot.Node{}, SignalIdentifier, OutcomeBothAbsent},
		{"text alias", flow.Evidence{Text: flow.Aliases{"Follow", "关注"}}, snapshot.Node{Text: "关注"}, SignalText, OutcomeMatch},
		{"text substring", flow.Evidence{Text: flow.Aliases{"Send"}}, snapshot.Node{Text: "Send message"}, SignalText, OutcomeMatch},
		{"text reverse substring", flow.Evidence{Text: flow.Aliases{"Send message now"}}, snapshot.Node{Text: "send message"}, SignalText, OutcomeMatch},
		{"text fullwidth", flow.Evidence{Text: flow.Aliases{"OK"}}, snapshot.Node{Text: "ＯＫ"}, SignalText, OutcomeMatch},
		{"text toggle zh", flow.Evidence{Text: flow.Aliases{"关注"}}, snapshot.Node{Text: "已关注"}, SignalText, OutcomeMismatch},
		{"text lost", flow.Evidence{Text: flow.Aliases{"Follow"}}, snapshot.Node{Text: "  "}, SignalText, OutcomeLost},
		{"desc core", flow.Evidence{Description: "关注，按钮"}, snapshot.Node{ContentDesc: "关注"}, SignalDescription, OutcomeMatch},
		{"desc toggle", flow.Evidence{Description: "Like, button"}, snapshot.Node{ContentDesc: "Unlike, button"}, SignalDescription, OutcomeMismatch},
		{"path exact", flow.Evidence{Path: "/a.B[1]/a.C[2]"}, snapshot.Node{ClassName: "a.C", Path: "/a.B[1]/a.C[2]"}, SignalPath, OutcomeMatch},
		{"path class", flow.Evidence{Path: "//android.widget.Button"}, snapshot.Node{ClassName: "android.widget.Button"}, SignalPath, OutcomeMatch},
		{"path mismatch", flow.Evidence{Path: "//android.widget.Button"}, snapshot.Node{ClassName: "android.widget.TextView"}, SignalPath, OutcomeMismatch},
		{"class substring", flow.Evidence{ClassName: "Button"}, snapshot.Node{ClassName: "android.widget.Button"}, SignalClass, OutcomeMatch},
		{"class mismatch", flow.Evidence{ClassName: "Button"}, snapshot.Node{ClassName: "android.widget.TextView"}, SignalClass, OutcomeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := s.Score(&tt.ev, &tt.node, Context{})
			if got := b.Outcome(tt.signal); got != tt.want {
				t.Errorf("%s outcome = %s, want %s (%s)", tt.signal, got, tt.want, b)
			}
		})
	}
}

func TestScore_StructuralAdjustments(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	n := &snapshot.Node{}
	base := s.Score(&flow.Evidence{}, n, Context{}).Total

	tests := []struct {
		name  string
		ev    flow.Evidence
		ctx   Context
		delta float64
	}{
		{"container scoped", flow.Evidence{ContainerScoped: true}, Context{}, 0.30},
		{"parent clickable confirmed", flow.Evidence{ParentClickable: true}, Context{ClickableTarget: true}, 0.20},
		{"parent clickable unconfirmed", flow.Evidence{ParentClickable: true}, Context{}, 0},
		{"local index", flow.Evidence{LocalIndex: 2}, Context{}, -0.15},
		{"local index with checks", flow.Evidence{LocalIndex: 2}, Context{LightChecks: true}, -0.05},
		{"global index", flow.Evidence{GlobalIndex: 4}, Context{}, -0.60},
	}

	for _, tt := range tests {
		got := s.Score(&tt.ev, n, tt.ctx).Total - base
		if !approx(got, tt.delta) {
			t.Errorf("%s: delta = %.4f, want %.4f", tt.name, got, tt.delta)
		}
	}
}

func TestScore_ConfidenceClamp(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	ev := &flow.Evidence{ResourceID: "a", Text: flow.Aliases{"x"}, GlobalIndex: 1}
	n := &snapshot.Node{ResourceID: "b", Text: "y"}

	b := s.Score(ev, n, Context{})
	if b.Total >= 0 {
		t.Fatalf("expected negative total, got %.2f", b.Total)
	}
	if b.Confidence() != 0 {
		t.Errorf("Confidence() = %.2f, want 0", b.Confidence())
	}
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer(DefaultWeights(), nil)
	ev := &flow.Evidence{ResourceID: "a", Text: flow.Aliases{"Follow"}, ClassName: "Button"}
	n := &snapshot.Node{ResourceID: "a", Text: "Follow", ClassName: "android.widget.Button"}

	first := s.Score(ev, n, Context{})
	for i := 0; i < 10; i++ {
		if got := s.Score(ev, n, Context{}); got.Total != first.Total || got.String() != first.String() {
			t.Fatalf("run %d differs: %s vs %s", i, got, first)
		}
	}
}

func TestDefaultWeights_Ordering(t *testing.T) {
	w := DefaultWeights()
	for _, sig := range []Signal{SignalIdentifier, SignalPath, SignalText, SignalDescription, SignalClass} {
		sw := w.Signal(sig)
		if !(sw.Match > sw.BothAbsent && sw.BothAbsent > 0 && 0 > sw.Unexpected &&
			sw.Unexpected > sw.Lost && sw.Lost > sw.Mismatch) {
			t.Errorf("%s weights out of order: %+v", sig, sw)
		}
	}
	if !(w.Identifier.Match >= w.Text.Match && w.Text.Match > w.Description.Match && w.Description.Match > w.Class.Match) {
		t.Error("signal strength ordering violated")
	}
}
