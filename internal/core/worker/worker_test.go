package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingPruner struct {
	calls     atomic.Int32
	threshold atomic.Value
}

func (c *countingPruner) PruneFailing(threshold float64) []string {
	c.calls.Add(1)
	c.threshold.Store(threshold)
	return []string{"p1"}
}

func TestPruner_RunsUntilCancelled(t *testing.T) {
	target := &countingPruner{}
	p := NewPruner(10*time.Millisecond, 0.25, target)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for target.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if target.calls.Load() < 2 {
		t.Errorf("Expected at least 2 prune runs, got %d", target.calls.Load())
	}
	if got := target.threshold.Load().(float64); got != 0.25 {
		t.Errorf("Expected threshold 0.25, got %f", got)
	}
}

func TestPruner_DisabledReturnsImmediately(t *testing.T) {
	target := &countingPruner{}
	done := make(chan struct{})
	go func() {
		NewPruner(0, 0.3, target).Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected disabled pruner to return")
	}
	if target.calls.Load() != 0 {
		t.Errorf("Expected no prune runs, got %d", target.calls.Load())
	}
}

func TestSnapshotter_Saves(t *testing.T) {
	var saves atomic.Int32
	s := NewSnapshotter(10*time.Millisecond, func(ctx context.Context) error {
		saves.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Start(ctx)

	for saves.Load() < 2 && ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	if saves.Load() < 2 {
		t.Errorf("Expected at least 2 saves, got %d", saves.Load())
	}
}
