package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrViewNotFound = errors.New("view session not found")

// storeTimeout bounds each state-store / journal write made from flow hooks.
const storeTimeout = 2 * time.Second

// ViewStats はフェーズ別のビュー数をまとめたもの。
type ViewStats struct {
	Views         int `json:"views"`
	Idle          int `json:"idle"`
	Pending       int `json:"pending"`
	Authenticated int `json:"authenticated"`
	Failed        int `json:"failed"`
}

type viewEntry struct {
	flow     *AuthFlow
	lastSeen time.Time
}

// ViewSessions owns one AuthFlow per view session and mirrors their state
// into a StateStore and an attempt journal.
type ViewSessions struct {
	transport LoginTransport
	states    StateStore
	attempts  AttemptRecorder
	timeout   time.Duration
	idleTTL   time.Duration

	mu    sync.Mutex
	views map[string]*viewEntry
	now   func() time.Time
}

// NewViewSessions wires the registry. states and attempts may be nil.
func NewViewSessions(transport LoginTransport, states StateStore, attempts AttemptRecorder, attemptTimeout, idleTTL time.Duration) *ViewSessions {
	if states == nil {
		states = NewMemoryStateStore()
	}
	if attempts == nil {
		attempts = NopAttemptRecorder{}
	}
	if idleTTL <= 0 {
		idleTTL = DefaultStateTTL
	}
	return &ViewSessions{
		transport: transport,
		states:    states,
		attempts:  attempts,
		timeout:   attemptTimeout,
		idleTTL:   idleTTL,
		views:     make(map[string]*viewEntry),
		now:       time.Now,
	}
}

// Flow returns the view's AuthFlow, creating it on first use. A new flow is
// seeded with the last completed state found in the StateStore.
func (v *ViewSessions) Flow(ctx context.Context, viewID string) *AuthFlow {
	v.mu.Lock()
	if e, ok := v.views[viewID]; ok {
		e.lastSeen = v.now()
		v.mu.Unlock()
		return e.flow
	}
	v.mu.Unlock()

	// Load outside the lock; a racing creator wins below.
	stored, found, err := v.states.Load(ctx, viewID)
	if err != nil {
		log.Printf("[views] load state view=%s: %v", viewID, err)
	}

	flow := NewAuthFlow(v.transport, v.timeout, v.hooksFor(viewID))
	if found {
		flow.Restore(stored)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if e, ok := v.views[viewID]; ok {
		e.lastSeen = v.now()
		return e.flow
	}
	v.views[viewID] = &viewEntry{flow: flow, lastSeen: v.now()}
	return flow
}

// Lookup returns an existing flow without creating one.
func (v *ViewSessions) Lookup(viewID string) (*AuthFlow, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.views[viewID]
	if !ok {
		return nil, false
	}
	e.lastSeen = v.now()
	return e.flow, true
}

// State reports the view's AuthState; views without a live flow fall back to
// the StateStore and then to idle.
func (v *ViewSessions) State(ctx context.Context, viewID string) (AuthState, error) {
	if flow, ok := v.Lookup(viewID); ok {
		return flow.State(), nil
	}
	st, found, err := v.states.Load(ctx, viewID)
	if err != nil {
		return AuthState{}, err
	}
	if !found {
		return AuthState{Phase: PhaseIdle}, nil
	}
	return st, nil
}

// Drop tears a view down: its flow is reset and its stored state removed.
func (v *ViewSessions) Drop(ctx context.Context, viewID string) error {
	v.mu.Lock()
	e, ok := v.views[viewID]
	delete(v.views, viewID)
	v.mu.Unlock()

	if ok {
		e.flow.Reset()
	}
	if err := v.states.Delete(ctx, viewID); err != nil {
		return err
	}
	if !ok {
		return ErrViewNotFound
	}
	return nil
}

// Sweep drops views not seen for longer than the idle TTL and returns how
// many were removed. Their stored state is deleted along with them.
func (v *ViewSessions) Sweep(now time.Time) int {
	v.mu.Lock()
	stale := make(map[string]*viewEntry)
	for id, e := range v.views {
		if now.Sub(e.lastSeen) > v.idleTTL {
			stale[id] = e
			delete(v.views, id)
		}
	}
	v.mu.Unlock()

	for id, e := range stale {
		e.flow.Reset()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := v.states.Delete(ctx, id); err != nil {
			log.Printf("[sweeper] delete state view=%s: %v", id, err)
		}
		cancel()
	}
	return len(stale)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (v *ViewSessions) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := v.Sweep(v.now()); n > 0 {
				log.Printf("[sweeper] dropped %d idle views", n)
			}
		}
	}
}

// Stats counts live views by phase.
func (v *ViewSessions) Stats() ViewStats {
	v.mu.Lock()
	flows := make([]*AuthFlow, 0, len(v.views))
	for _, e := range v.views {
		flows = append(flows, e.flow)
	}
	v.mu.Unlock()

	st := ViewStats{Views: len(flows)}
	for _, f := range flows {
		switch f.State().Phase {
		case PhasePending:
			st.Pending++
		case PhaseAuthenticated:
			st.Authenticated++
		case PhaseFailed:
			st.Failed++
		default:
			st.Idle++
		}
	}
	return st
}

// Recent returns the view's journal entries.
func (v *ViewSessions) Recent(ctx context.Context, viewID string, limit int) ([]AttemptRecord, error) {
	return v.attempts.Recent(ctx, viewID, limit)
}

func (v *ViewSessions) hooksFor(viewID string) FlowHooks {
	return FlowHooks{
		OnStateChange: func(st AuthState) {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := v.states.Save(ctx, viewID, st); err != nil {
				log.Printf("[views] save state view=%s generation=%d: %v", viewID, st.Generation, err)
			}
		},
		OnResolved: func(res AttemptResult) {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			defer cancel()
			if err := v.attempts.Record(ctx, NewAttemptRecord(viewID, res)); err != nil {
				log.Printf("[views] record attempt view=%s generation=%d: %v", viewID, res.Generation, err)
			}
		},
	}
}
