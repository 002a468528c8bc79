package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *recordingPruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 3, p.err
}

func (p *recordingPruner) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.cutoffs...)
}

func TestRunPrunerUsesRetentionCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	p := &recordingPruner{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runPruner(ctx, p, 24*time.Hour, time.Hour, func() time.Time { return now })
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(p.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	calls := p.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one immediate prune, got %d", len(calls))
	}
	if want := now.Add(-24 * time.Hour); !calls[0].Equal(want) {
		t.Fatalf("cutoff = %v, want %v", calls[0], want)
	}
}

func TestPruneOnceSurvivesErrors(t *testing.T) {
	p := &recordingPruner{err: errors.New("db down")}
	pruneOnce(context.Background(), p, time.Now())
	if len(p.calls()) != 1 {
		t.Fatalf("prune not attempted")
	}
}
