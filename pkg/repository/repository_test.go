package repository

import (
	"context"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

const recordedDump = `<?xml version="1.0" encoding="UTF-8"?>
<hierarchy rotation="0">
  <node index="0" class="android.widget.FrameLayout" bounds="[0,0][1080,2400]">
    <node index="0" text="Follow" class="android.widget.Button" clickable="true" enabled="true" bounds="[800,200][1000,300]"/>
  </node>
</hierarchy>`

func followDefinition(t *testing.T, snap string) flow.Definition {
	t.Helper()
	var def flow.Definition
	src := `
id: follow_button
evidence:
  text: [Follow, 关注]
  class: android.widget.Button
  bounds: "[800,200][1000,300]"
plan:
  variants:
    - kind: child_to_parent
      child: {text: {in: [Follow, 关注]}}
      parent: {clickable: true}
      maxLevels: 3
    - bounds_tap
  minConfidence: 0.6
  fallbackToBounds: true
`
	if err := yaml.Unmarshal([]byte(src), &def); err != nil {
		t.Fatalf("decode definition: %v", err)
	}
	def.SnapshotHash = snap
	return def
}

func TestRepository_PutGetEvict(t *testing.T) {
	cache, err := snapshot.NewCache()
	if err != nil {
		t.Fatal(err)
	}
	defer cache.Close()
	h, err := cache.Register(recordedDump)
	if err != nil {
		t.Fatal(err)
	}

	repo := New(cache, nil)
	ctx := context.Background()
	if err := repo.Put(ctx, followDefinition(t, h.Hash())); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.Release()
	if cache.Refs(h.Hash()) != 1 {
		t.Fatalf("repository should pin the recorded snapshot, refs = %d", cache.Refs(h.Hash()))
	}

	e, ok := repo.Get("follow_button")
	if !ok || e.Definition.Evidence.PrimaryText() != "Follow" || len(e.Definition.Plan.Variants) != 2 {
		t.Fatalf("get = %+v, %v", e, ok)
	}
	if repo.Confirmed("follow_button") != nil {
		t.Error("nothing confirmed yet")
	}

	b := core.Bounds{X: 800, Y: 200, Width: 200, Height: 100}
	if err := repo.MarkConfirmed(ctx, "follow_button", b); err != nil {
		t.Fatal(err)
	}
	if c := repo.Confirmed("follow_button"); c == nil || *c != b {
		t.Errorf("confirmed = %v", c)
	}
	if err := repo.MarkConfirmed(ctx, "missing", b); err == nil {
		t.Error("MarkConfirmed on unknown id should fail")
	}

	if err := repo.Evict(ctx, "follow_button"); err != nil {
		t.Fatal(err)
	}
	if repo.Len() != 0 || cache.Len() != 0 {
		t.Errorf("after evict: len=%d cached=%d", repo.Len(), cache.Len())
	}
}

func TestRepository_ReplaceReleasesSnapshot(t *testing.T) {
	cache, _ := snapshot.NewCache()
	defer cache.Close()
	h, _ := cache.Register(recordedDump)
	defer h.Release()

	repo := New(cache, nil)
	ctx := context.Background()
	def := followDefinition(t, h.Hash())
	_ = repo.Put(ctx, def)
	_ = repo.Put(ctx, def)
	if got := cache.Refs(h.Hash()); got != 2 {
		t.Errorf("refs = %d, want 2 (caller + one entry)", got)
	}
	repo.Close()
	if got := cache.Refs(h.Hash()); got != 1 {
		t.Errorf("refs after close = %d, want 1", got)
	}
}

func TestRepository_PutRequiresID(t *testing.T) {
	repo := New(nil, nil)
	if err := repo.Put(context.Background(), flow.Definition{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestRepository_PersistAndLoad(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	repo := New(nil, store)
	if err := repo.PutAll(ctx, []flow.Definition{followDefinition(t, ""), {ID: "like", Evidence: flow.Evidence{Description: "Like"}}}); err != nil {
		t.Fatalf("put all: %v", err)
	}
	b := core.Bounds{X: 800, Y: 200, Width: 200, Height: 100}
	if err := repo.MarkConfirmed(ctx, "follow_button", b); err != nil {
		t.Fatal(err)
	}

	fresh := New(nil, store)
	n, err := fresh.Load(ctx)
	if err != nil || n != 2 {
		t.Fatalf("load = %d, %v", n, err)
	}
	if ids := fresh.IDs(); len(ids) != 2 || ids[0] != "follow_button" || ids[1] != "like" {
		t.Errorf("ids = %v", ids)
	}

	e, _ := fresh.Get("follow_button")
	if e.Uses != 1 || e.Confirmed == nil || *e.Confirmed != b {
		t.Errorf("loaded entry = %+v", e)
	}
	p := e.Definition.Plan
	if p == nil || len(p.Variants) != 2 || p.MinConfidence != 0.6 || !p.FallbackToBounds {
		t.Fatalf("loaded plan = %+v", p)
	}
	ctp, ok := p.Variants[0].(*flow.ChildToParent)
	if !ok || ctp.MaxLevels != 3 || len(ctp.Child.Text.In) != 2 || ctp.Parent.Clickable == nil || !*ctp.Parent.Clickable {
		t.Errorf("child_to_parent = %+v", p.Variants[0])
	}
	if len(e.Definition.Evidence.Text) != 2 || e.Definition.Evidence.Bounds == nil {
		t.Errorf("evidence = %+v", e.Definition.Evidence)
	}

	like, _ := fresh.Get("like")
	if like.Definition.Plan != nil || like.Definition.Evidence.Description != "Like" {
		t.Errorf("like = %+v", like.Definition)
	}

	if err := fresh.Evict(ctx, "like"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := store.Get(ctx, "like"); rec != nil {
		t.Error("evict should delete from store")
	}
}

func TestRepository_PutKeepsConfirmed(t *testing.T) {
	repo := New(nil, nil)
	ctx := context.Background()
	def := followDefinition(t, "")
	_ = repo.Put(ctx, def)
	b := core.Bounds{X: 1, Y: 2, Width: 3, Height: 4}
	_ = repo.MarkConfirmed(ctx, def.ID, b)

	def.Evidence.Description = "Follow user"
	if err := repo.Put(ctx, def); err != nil {
		t.Fatal(err)
	}
	e, _ := repo.Get(def.ID)
	if e.Confirmed == nil || *e.Confirmed != b || e.Uses != 1 || e.Definition.Evidence.Description != "Follow user" {
		t.Errorf("entry = %+v", e)
	}
}
