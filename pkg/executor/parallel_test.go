package executor

import (
	"context"
	"testing"
	"time"

	"github.com/devicelab-dev/tapresolver/pkg/core"
	"github.com/devicelab-dev/tapresolver/pkg/driver/mock"
	"github.com/devicelab-dev/tapresolver/pkg/flow"
	"github.com/devicelab-dev/tapresolver/pkg/repository"
	"github.com/devicelab-dev/tapresolver/pkg/resolver"
	"github.com/devicelab-dev/tapresolver/pkg/snapshot"
)

func TestParallelRunner_Run(t *testing.T) {
	cache, _ := snapshot.NewCache()
	defer cache.Close()
	repo := repository.New(cache, nil)

	devs := []*mock.Driver{
		mock.New(mock.Config{Dumps: []string{loginScreen}, DeviceID: "a"}),
		mock.New(mock.Config{Dumps: []string{loginScreen}, DeviceID: "b"}),
	}
	cleaned := make(chan int, len(devs))
	var workers []DeviceWorker
	for i, d := range devs {
		workers = append(workers, DeviceWorker{ID: i, Device: d, Cleanup: func() { cleaned <- i }})
	}

	pr := NewParallelRunner(workers, resolver.New(resolver.DefaultConfig()), cache, repo, RunnerConfig{
		Sleep: func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	})
	flows := []*flow.Flow{parseFlow(t, loginFlow), parseFlow(t, loginFlow), parseFlow(t, loginFlow)}
	res, err := pr.Run(context.Background(), flows)
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != core.StatusPassed || res.PassedFlows != 3 || len(res.FlowResults) != 3 {
		t.Fatalf("result = %+v", res)
	}
	taps := len(devs[0].Taps()) + len(devs[1].Taps())
	if taps != 6 {
		t.Errorf("total taps = %d, want 6", taps)
	}
	if len(cleaned) != 2 {
		t.Errorf("cleanup ran %d times", len(cleaned))
	}
	if repo.Len() != 1 || repo.Confirmed("login-button") == nil {
		t.Error("shared repository should hold the confirmed login button")
	}
}

func TestParallelRunner_NoWorkers(t *testing.T) {
	pr := NewParallelRunner(nil, resolver.New(resolver.DefaultConfig()), nil, nil, RunnerConfig{})
	if _, err := pr.Run(context.Background(), nil); err == nil {
		t.Error("expected error without workers")
	}
}

func TestParallelRunner_Cancelled(t *testing.T) {
	cache, _ := snapshot.NewCache()
	defer cache.Close()
	dev := mock.New(mock.Config{Dumps: []string{loginScreen}})
	pr := NewParallelRunner([]DeviceWorker{{Device: dev}}, resolver.New(resolver.DefaultConfig()), cache, nil, RunnerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := pr.Run(ctx, []*flow.Flow{parseFlow(t, loginFlow)})
	if err != nil {
		t.Fatal(err)
	}
	if res.SkippedFlows != 1 || len(dev.Actions()) != 0 {
		t.Errorf("result = %+v, actions %d", res, len(dev.Actions()))
	}
}
