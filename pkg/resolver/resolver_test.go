package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

const profileScreen = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]" clickable="false" enabled="true">
    <node class="android.widget.TextView" text="Profile" bounds="[0,0][1080,150]" clickable="false" enabled="true"/>
    <node resource-id="com.app:id/btn_follow" class="android.widget.Button" text="Following" bounds="[700,200][1000,300]" clickable="true" enabled="true"/>
    <node resource-id="com.app:id/btn_ok" class="android.widget.Button" text="OK" bounds="[100,400][400,500]" clickable="true" enabled="true"/>
    <node resource-id="com.app:id/row" class="android.widget.LinearLayout" bounds="[0,600][1080,760]" clickable="true" enabled="true">
      <node class="android.widget.TextView" text="Settings" bounds="[40,640][400,720]" clickable="false" enabled="true"/>
    </node>
    <node class="android.widget.ImageView" content-desc="Search, button" bounds="[900,20][1060,130]" clickable="true" enabled="true"/>
  </node>
</hierarchy>`

const cardScreen = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]" clickable="false" enabled="true">
    <node resource-id="com.app:id/card_item" class="android.widget.TextView" text="Alice" bounds="[0,100][1080,300]" clickable="true" enabled="true"/>
    <node resource-id="com.app:id/card_item" class="android.widget.TextView" text="Bob" bounds="[0,300][1080,500]" clickable="true" enabled="true"/>
  </node>
</hierarchy>`

const unsafeScreen = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node resource-id="com.app:id/root" class="android.widget.FrameLayout" bounds="[0,0][1080,2400]" clickable="false" enabled="true">
    <node resource-id="com.app:id/panel" class="android.widget.LinearLayout" bounds="[0,100][1080,900]" clickable="false" enabled="true">
      <node class="android.widget.TextView" text="Hello" bounds="[40,140][400,200]" clickable="false" enabled="true"/>
    </node>
  </node>
</hierarchy>`

const listScreen = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]" clickable="false" enabled="true">
    <node resource-id="com.app:id/list" class="androidx.recyclerview.widget.RecyclerView" bounds="[0,200][1080,1400]" clickable="false" enabled="true">
      <node class="android.widget.LinearLayout" bounds="[0,200][1080,400]" clickable="true" enabled="true">
        <node class="android.widget.TextView" text="Alpha" bounds="[40,240][500,360]" clickable="false" enabled="true"/>
        <node class="android.widget.Button" text="Follow" bounds="[800,240][1040,360]" clickable="true" enabled="true"/>
      </node>
      <node class="android.widget.LinearLayout" bounds="[0,400][1080,600]" clickable="true" enabled="true">
        <node class="android.widget.TextView" text="Beta" bounds="[40,440][500,560]" clickable="false" enabled="true"/>
        <node class="android.widget.Button" text="Follow" bounds="[800,440][1040,560]" clickable="true" enabled="true"/>
      </node>
      <node class="android.widget.LinearLayout" bounds="[0,600][1080,800]" clickable="true" enabled="true">
        <node class="android.widget.TextView" text="Gamma" bounds="[40,640][500,760]" clickable="false" enabled="true"/>
        <node class="android.widget.Button" text="Follow" bounds="[800,640][1040,760]" clickable="true" enabled="true"/>
      </node>
    </node>
    <node class="android.widget.TextView" text="Home" bounds="[0,2250][360,2400]" clickable="true" enabled="true"/>
  </node>
</hierarchy>`

func mustParse(t *testing.T, raw string) *snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

func bounds(s string) *core.Bounds {
	b := core.ParseBounds(s)
	return &b
}

func TestResolve_IdentifierUnique(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, profileScreen)

	for _, id := range []string{"com.app:id/btn_ok", "btn_ok"} {
		res, err := r.Resolve(context.Background(), Request{
			Snapshot: snap,
			Evidence: &flow.Evidence{ResourceID: id},
		})
		if err != nil {
			t.Fatalf("Resolve(%s) error: %v", id, err)
		}
		if res.Strategy != "self_id" {
			t.Errorf("Resolve(%s) strategy = %s, want self_id", id, res.Strategy)
		}
		if res.Confidence < 0.85 {
			t.Errorf("Resolve(%s) confidence = %.2f, want >= 0.85", id, res.Confidence)
		}
		if res.Point != (core.Point{X: 250, Y: 450}) {
			t.Errorf("Resolve(%s) point = %+v", id, res.Point)
		}
		if res.Snapshot != snap.Hash {
			t.Errorf("Resolve(%s) snapshot hash not recorded", id)
		}
	}
}

func TestResolve_FollowFollowing(t *testing.T) {
	r := New(DefaultConfig())
	res, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{ResourceID: "btn_follow", Text: flow.Aliases{"Follow"}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Strategy != "self_id" {
		t.Errorf("strategy = %s, want self_id", res.Strategy)
	}
	if res.Confidence < 0.5 || res.Confidence > 0.65 {
		t.Errorf("confidence = %.2f, want about 0.6", res.Confidence)
	}
	if res.Point != (core.Point{X: 850, Y: 250}) {
		t.Errorf("point = %+v", res.Point)
	}
	joined := strings.Join(res.Reasons, "\n")
	if !strings.Contains(joined, "text=mismatch") || !strings.Contains(joined, "gap-unique") {
		t.Errorf("reasons missing text mismatch or gap rule:\n%s", joined)
	}
}

func TestResolve_SharedIdentifier(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, cardScreen)

	_, err := r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: &flow.Evidence{ResourceID: "card_item"},
	})
	if !errors.Is(err, core.ErrAmbiguousMatch) {
		t.Fatalf("expected ambiguous match, got %v", err)
	}
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		t.Fatal("expected *core.ResolutionError")
	}
	if re.Details["exhausted"] != false {
		t.Errorf("exhausted = %v, want false", re.Details["exhausted"])
	}

	res, err := r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: &flow.Evidence{ResourceID: "card_item", Text: flow.Aliases{"Bob"}},
	})
	if err != nil {
		t.Fatalf("Resolve with text error: %v", err)
	}
	if res.Text != "Bob" {
		t.Errorf("resolved %q, want Bob", res.Text)
	}
}

func TestResolve_AmbiguousSuggestions(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, cardScreen),
		Evidence: &flow.Evidence{ResourceID: "card_item"},
	})
	var re *core.ResolutionError
	if !errors.As(err, &re) {
		t.Fatalf("expected *core.ResolutionError, got %v", err)
	}
	sugg, _ := re.Details["suggestions"].([]string)
	if len(sugg) == 0 || !strings.Contains(sugg[0], "text") {
		t.Errorf("suggestions = %v, want a text hint first", sugg)
	}
	cands, _ := re.Details["candidates"].([]string)
	if len(cands) != 2 {
		t.Errorf("candidates = %v, want 2", cands)
	}
}

func TestResolve_BoundsOnly(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, profileScreen)

	tests := []struct {
		name      string
		bounds    string
		confirmed *core.Bounds
		want      float64
	}{
		{"recorded", "[100,1000][300,1100]", nil, 0.75},
		{"live node at same rect", "[100,400][400,500]", nil, 0.85},
		{"confirmed earlier", "[100,1000][300,1100]", bounds("[100,1000][300,1100]"), 0.95},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), Request{
				Snapshot:        snap,
				Evidence:        &flow.Evidence{Bounds: bounds(tt.bounds)},
				ConfirmedBounds: tt.confirmed,
			})
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			if res.Strategy != "bounds_tap" || res.NodeIndex != -1 {
				t.Errorf("strategy/node = %s/%d", res.Strategy, res.NodeIndex)
			}
			if res.Confidence != tt.want {
				t.Errorf("confidence = %.2f, want %.2f", res.Confidence, tt.want)
			}
			if len(res.Attempts) != 4 {
				t.Fatalf("attempts = %d, want 4", len(res.Attempts))
			}
			for _, a := range res.Attempts[:3] {
				if a.Failure != "no_usable_evidence" {
					t.Errorf("%s failure = %q, want no_usable_evidence", a.Strategy, a.Failure)
				}
			}
		})
	}
}

func TestResolve_TextToClickableAncestor(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, profileScreen)

	res, err := r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: &flow.Evidence{Text: flow.Aliases{"Settings"}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Strategy != "self_desc" {
		t.Errorf("strategy = %s, want self_desc", res.Strategy)
	}
	if res.Point != (core.Point{X: 540, Y: 680}) {
		t.Errorf("point = %+v, want row center", res.Point)
	}

	clickable := true
	plan := &flow.Plan{Variants: []flow.Variant{
		flow.NewChildToParent(
			flow.Matcher{Text: &flow.TextMatcher{Equals: "settings"}},
			flow.ParentConstraint{Clickable: &clickable},
		),
	}}
	res, err = r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: &flow.Evidence{Text: flow.Aliases{"Settings"}},
		Plan:     plan,
	})
	if err != nil {
		t.Fatalf("child_to_parent error: %v", err)
	}
	if res.Strategy != "child_to_parent" || res.Class != "android.widget.LinearLayout" {
		t.Errorf("got %s on %s", res.Strategy, res.Class)
	}
}

func TestResolve_DescriptionCore(t *testing.T) {
	r := New(DefaultConfig())
	res, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{Description: "Search"},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point != (core.Point{X: 980, Y: 75}) {
		t.Errorf("point = %+v", res.Point)
	}
}

func TestResolve_SafetyGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Plan.FallbackToBounds = false
	strict := New(cfg)
	lenient := New(DefaultConfig())
	snap := mustParse(t, unsafeScreen)

	tests := []struct {
		name string
		id   string
		rule string
	}{
		{"fullscreen root", "root", "fullscreen"},
		{"non-clickable container", "panel", "container"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := strict.Resolve(context.Background(), Request{
				Snapshot: snap,
				Evidence: &flow.Evidence{ResourceID: tt.id},
			})
			if !errors.Is(err, core.ErrUnsafeTarget) {
				t.Fatalf("expected unsafe target, got %v", err)
			}
			var re *core.ResolutionError
			errors.As(err, &re)
			if re.Details["rule"] != tt.rule {
				t.Errorf("rule = %v, want %s", re.Details["rule"], tt.rule)
			}
		})
	}

	res, err := lenient.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: &flow.Evidence{ResourceID: "panel", Bounds: bounds("[40,140][400,200]")},
	})
	if err != nil {
		t.Fatalf("fallback Resolve error: %v", err)
	}
	if res.Strategy != "bounds_tap" {
		t.Errorf("strategy = %s, want bounds_tap", res.Strategy)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Failure != "unsafe_target" {
		t.Errorf("attempts = %+v, want self_id unsafe then bounds_tap", res.Attempts)
	}
}

func TestResolve_FullscreenBoundsRejected(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{Bounds: bounds("[0,0][1080,2400]")},
	})
	if !errors.Is(err, core.ErrUnsafeTarget) {
		t.Fatalf("expected unsafe target, got %v", err)
	}
}

func TestResolve_ExcludeAndExhaustion(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, cardScreen)
	plan := &flow.Plan{IgnoreUniqueness: true}
	ev := &flow.Evidence{ResourceID: "card_item"}
	exclude := make(map[core.Bounds]bool)

	for _, want := range []string{"Alice", "Bob"} {
		res, err := r.Resolve(context.Background(), Request{Snapshot: snap, Evidence: ev, Plan: plan, Exclude: exclude})
		if err != nil {
			t.Fatalf("Resolve error: %v", err)
		}
		if res.Text != want {
			t.Fatalf("resolved %q, want %q", res.Text, want)
		}
		exclude[res.Bounds] = true
	}

	_, err := r.Resolve(context.Background(), Request{Snapshot: snap, Evidence: ev, Plan: plan, Exclude: exclude})
	if err == nil {
		t.Fatal("expected error once every candidate is consumed")
	}
	if !IsExhausted(err) {
		t.Errorf("IsExhausted(%v) = false", err)
	}
}

func TestResolve_RegionLocalIndex(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, listScreen)
	ev := &flow.Evidence{ClassName: "android.widget.LinearLayout", ContainerScoped: true, LocalIndex: 2}
	container := flow.Container{ResourceID: "list"}

	res, err := r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: ev,
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewRegionLocalIndex(container, flow.Matcher{}, 2,
				flow.LightCheck{Type: flow.CheckChildTextContains, Value: "Beta"}),
		}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point != (core.Point{X: 540, Y: 500}) {
		t.Errorf("point = %+v, want second row", res.Point)
	}

	_, err = r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: ev,
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewRegionLocalIndex(container, flow.Matcher{}, 2,
				flow.LightCheck{Type: flow.CheckChildTextContains, Value: "Gamma"}),
		}},
	})
	if !errors.Is(err, core.ErrLowConfidence) {
		t.Errorf("failed check: expected low confidence, got %v", err)
	}

	_, err = r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: ev,
		Plan:     &flow.Plan{Variants: []flow.Variant{flow.NewRegionLocalIndex(container, flow.Matcher{}, 2)}},
	})
	if !errors.Is(err, core.ErrNoUsableEvidence) {
		t.Errorf("no checks: expected no usable evidence, got %v", err)
	}
}

func TestResolve_RegionTextToParent(t *testing.T) {
	r := New(DefaultConfig())
	clickable := true
	res, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, listScreen),
		Evidence: &flow.Evidence{Text: flow.Aliases{"Gamma"}, ContainerScoped: true},
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewRegionTextToParent(
				flow.Container{ClassChain: []string{"FrameLayout", "RecyclerView"}},
				flow.Matcher{Text: &flow.TextMatcher{Contains: "gamma"}},
				flow.ParentConstraint{Clickable: &clickable},
			),
		}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point != (core.Point{X: 540, Y: 700}) {
		t.Errorf("point = %+v, want the Gamma row", res.Point)
	}
}

func TestResolve_NeighborRelative(t *testing.T) {
	r := New(DefaultConfig())
	res, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, listScreen),
		Evidence: &flow.Evidence{ClassName: "android.widget.Button"},
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewNeighborRelative(
				flow.Matcher{Text: &flow.TextMatcher{Equals: "Beta"}},
				flow.StructureHint{Relation: flow.RelationSibling, Direction: flow.DirectionNext},
				flow.Matcher{},
			),
		}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point != (core.Point{X: 920, Y: 500}) {
		t.Errorf("point = %+v, want Follow button next to Beta", res.Point)
	}
}

func TestResolve_GlobalIndex(t *testing.T) {
	r := New(DefaultConfig())
	snap := mustParse(t, listScreen)
	ev := &flow.Evidence{ClassName: "android.widget.Button", Text: flow.Aliases{"Follow"}}

	res, err := r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: ev,
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewGlobalIndex(flow.Matcher{Class: "Button"}, 3,
				flow.LightCheck{Type: flow.CheckTextEquals, Value: "Follow"}),
		}},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point != (core.Point{X: 920, Y: 700}) {
		t.Errorf("point = %+v, want third button", res.Point)
	}

	_, err = r.Resolve(context.Background(), Request{
		Snapshot: snap,
		Evidence: ev,
		Plan: &flow.Plan{Variants: []flow.Variant{
			flow.NewGlobalIndex(flow.Matcher{Class: "Button"}, 1, flow.LightCheck{Type: flow.CheckClickable}),
		}},
	})
	if !errors.Is(err, core.ErrNoUsableEvidence) {
		t.Errorf("missing content check: expected no usable evidence, got %v", err)
	}
}

func TestResolve_NavBandTieBreak(t *testing.T) {
	const screen = `<hierarchy>
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2400]">
    <node resource-id="com.app:id/tab" class="android.widget.TextView" bounds="[0,500][300,600]" clickable="true" enabled="true"/>
    <node resource-id="com.app:id/tab" class="android.widget.TextView" bounds="[0,2300][300,2400]" clickable="true" enabled="true"/>
  </node>
</hierarchy>`
	r := New(DefaultConfig())
	res, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, screen),
		Evidence: &flow.Evidence{ResourceID: "tab"},
		Plan:     &flow.Plan{IgnoreUniqueness: true},
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if res.Point.Y != 2350 {
		t.Errorf("point = %+v, want the bottom navigation tab", res.Point)
	}
}

func TestResolve_NoEvidence(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{},
	})
	if !errors.Is(err, core.ErrNoUsableEvidence) {
		t.Errorf("expected no usable evidence, got %v", err)
	}
}

func TestResolve_NoSnapshot(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Resolve(context.Background(), Request{
		Evidence: &flow.Evidence{ResourceID: "btn_ok"},
	})
	if !errors.Is(err, core.ErrAcquisitionFailed) {
		t.Errorf("expected acquisition failure, got %v", err)
	}
}

func TestResolve_CancelledContext(t *testing.T) {
	r := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{ResourceID: "btn_ok"},
	})
	if !errors.Is(err, core.ErrLowConfidence) {
		t.Fatalf("expected low confidence, got %v", err)
	}
	if !strings.Contains(err.Error(), "time budget") {
		t.Errorf("error = %v, want time budget message", err)
	}
}

func TestResolve_InvalidPlan(t *testing.T) {
	r := New(DefaultConfig())
	_, err := r.Resolve(context.Background(), Request{
		Snapshot: mustParse(t, profileScreen),
		Evidence: &flow.Evidence{ResourceID: "btn_ok"},
		Plan:     &flow.Plan{MinConfidence: -1},
	})
	if !errors.Is(err, core.ErrInvalidPlan) {
		t.Errorf("expected invalid plan, got %v", err)
	}
}

func TestLadder(t *testing.T) {
	ev := &flow.Evidence{Text: flow.Aliases{"OK"}, Bounds: bounds("[0,0][10,10]")}

	kinds := func(vs []flow.Variant) []flow.Kind {
		var out []flow.Kind
		for _, v := range vs {
			out = append(out, v.Kind())
		}
		return out
	}

	got := kinds(Ladder(ev, &flow.Plan{FallbackToBounds: true}))
	want := []flow.Kind{flow.KindSelfID, flow.KindSelfDesc, flow.KindChildToParent, flow.KindBoundsTap}
	if len(got) != len(want) {
		t.Fatalf("default ladder = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("default ladder[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if got := kinds(Ladder(ev, &flow.Plan{})); len(got) != 3 {
		t.Errorf("ladder without fallback = %v, want 3 rungs", got)
	}

	plan := &flow.Plan{
		FallbackToBounds: true,
		Variants:         []flow.Variant{flow.NewGlobalIndex(flow.Matcher{Class: "Button"}, 1), flow.NewSelfID("x")},
	}
	got = kinds(Ladder(ev, plan))
	want = []flow.Kind{flow.KindSelfID, flow.KindGlobalIndex, flow.KindBoundsTap}
	for i := range want {
		if i >= len(got) || got[i] != want[i] {
			t.Fatalf("explicit ladder = %v, want %v", got, want)
		}
	}
}
