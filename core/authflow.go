package core

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Display messages shown to the user after an attempt resolves.
const (
	sessionCodePrefix  = "Code:"
	loginFailedMessage = "Login failed."
	oopsPrefix         = "Oops: "
)

// Credentials is the transient login input. It is never persisted.
type Credentials struct {
	Username string
	Password string
}

// OutcomeKind tags a LoginOutcome.
type OutcomeKind string

const (
	OutcomeSuccess        OutcomeKind = "success"
	OutcomeRejected       OutcomeKind = "rejected"
	OutcomeTransportError OutcomeKind = "transport_error"
)

// LoginOutcome is the interpreted result of one login request.
type LoginOutcome struct {
	Kind    OutcomeKind
	Session string // set for OutcomeSuccess
	Detail  string // set for OutcomeTransportError
}

// DisplayMessage renders the outcome the way the view shows it.
func (o LoginOutcome) DisplayMessage() string {
	switch o.Kind {
	case OutcomeSuccess:
		return sessionCodePrefix + o.Session
	case OutcomeTransportError:
		return oopsPrefix + o.Detail
	default:
		return loginFailedMessage
	}
}

// Authenticated reports whether the outcome grants a session.
func (o LoginOutcome) Authenticated() bool {
	return o.Kind == OutcomeSuccess
}

// Phase is the state machine position of an AuthFlow.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhasePending       Phase = "pending"
	PhaseAuthenticated Phase = "authenticated"
	PhaseFailed        Phase = "failed"
)

// AuthState is the view-bound session state. Callers receive copies.
type AuthState struct {
	Phase           Phase     `json:"phase"`
	IsAuthenticated bool      `json:"is_authenticated"`
	DisplayMessage  string    `json:"display_message"`
	Generation      uint64    `json:"generation"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Completed reports whether the state was produced by a resolved attempt.
func (s AuthState) Completed() bool {
	return s.Phase == PhaseAuthenticated || s.Phase == PhaseFailed
}

// AttemptResult describes one resolved attempt, including superseded ones.
type AttemptResult struct {
	Generation uint64
	Username   string
	Outcome    LoginOutcome
	Superseded bool
	FinishedAt time.Time
}

// FlowHooks lets the owner observe an AuthFlow. Hooks run outside the flow
// lock, one at a time, in the order the state changed.
type FlowHooks struct {
	OnStateChange func(AuthState)
	OnResolved    func(AttemptResult)
}

// AuthFlow owns login-attempt state for one view. Only the response of the
// latest attempt may change AuthState; older responses are discarded.
type AuthFlow struct {
	transport LoginTransport
	timeout   time.Duration
	hooks     FlowHooks

	mu     sync.Mutex
	state  AuthState
	cancel context.CancelFunc

	// hookTail is closed once the most recently queued hooks have run.
	hookTail chan struct{}
}

// NewAuthFlow returns an idle flow. A zero timeout leaves attempts unbounded.
func NewAuthFlow(transport LoginTransport, timeout time.Duration, hooks FlowHooks) *AuthFlow {
	return &AuthFlow{
		transport: transport,
		timeout:   timeout,
		hooks:     hooks,
		state:     AuthState{Phase: PhaseIdle, UpdatedAt: time.Now()},
	}
}

// Attempt is the handle of one AttemptLogin call.
type Attempt struct {
	Generation uint64

	done       chan struct{}
	state      AuthState
	superseded bool
}

// Done is closed once the attempt's request has resolved.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Superseded reports whether a newer attempt or a reset discarded this one.
// It blocks until the attempt resolves.
func (a *Attempt) Superseded() bool {
	<-a.done
	return a.superseded
}

// Wait blocks until the attempt resolves and returns the flow state it left
// behind. For a superseded attempt that is the state at resolution time,
// which this attempt did not change.
func (a *Attempt) Wait(ctx context.Context) (AuthState, error) {
	select {
	case <-a.done:
		return a.state, nil
	case <-ctx.Done():
		return AuthState{}, ctx.Err()
	}
}

// AttemptLogin starts one login request and returns without waiting for it.
// A previous outstanding attempt is cancelled and its outcome discarded.
func (f *AuthFlow) AttemptLogin(creds Credentials) *Attempt {
	ctx, cancel := context.WithCancel(context.Background())
	if f.timeout > 0 {
		ctx, cancel = withTimeout(ctx, cancel, f.timeout)
	}

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.state = AuthState{
		Phase:      PhasePending,
		Generation: f.state.Generation + 1,
		UpdatedAt:  time.Now(),
	}
	attempt := &Attempt{Generation: f.state.Generation, done: make(chan struct{})}
	st := f.state
	flush := f.queueHooksLocked(&st, nil)
	f.mu.Unlock()

	log.Printf("[authflow] attempt started generation=%d user=%q", attempt.Generation, creds.Username)

	go f.run(ctx, cancel, creds, attempt)
	flush()
	return attempt
}

func (f *AuthFlow) run(ctx context.Context, cancel context.CancelFunc, creds Credentials, attempt *Attempt) {
	defer close(attempt.done)
	defer cancel()

	reply, err := f.transport.Login(ctx, creds)
	outcome := interpret(reply, err)

	f.mu.Lock()
	result := AttemptResult{
		Generation: attempt.Generation,
		Username:   creds.Username,
		Outcome:    outcome,
		FinishedAt: time.Now(),
	}
	if f.state.Generation != attempt.Generation || f.state.Phase != PhasePending {
		result.Superseded = true
		attempt.superseded = true
		attempt.state = f.state
		log.Printf("[authflow] discarded stale outcome generation=%d current=%d kind=%s", attempt.Generation, f.state.Generation, outcome.Kind)
		flush := f.queueHooksLocked(nil, &result)
		f.mu.Unlock()
		flush()
		return
	}

	f.cancel = nil
	f.state = AuthState{
		Phase:           PhaseFailed,
		IsAuthenticated: outcome.Authenticated(),
		DisplayMessage:  outcome.DisplayMessage(),
		Generation:      attempt.Generation,
		UpdatedAt:       result.FinishedAt,
	}
	if outcome.Authenticated() {
		f.state.Phase = PhaseAuthenticated
	}
	attempt.state = f.state
	log.Printf("[authflow] attempt resolved generation=%d kind=%s", attempt.Generation, outcome.Kind)

	st := f.state
	flush := f.queueHooksLocked(&st, &result)
	f.mu.Unlock()
	flush()
}

// interpret maps the transport's two channels onto a LoginOutcome.
func interpret(reply LoginReply, err error) LoginOutcome {
	if err != nil {
		return LoginOutcome{Kind: OutcomeTransportError, Detail: transportDetail(err)}
	}
	if reply.Success {
		return LoginOutcome{Kind: OutcomeSuccess, Session: reply.Session}
	}
	return LoginOutcome{Kind: OutcomeRejected}
}

func transportDetail(err error) string {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Detail()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return err.Error()
}

// State returns a snapshot of the current AuthState.
func (f *AuthFlow) State() AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsLoggedIn reports whether the latest completed attempt authenticated.
func (f *AuthFlow) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.IsAuthenticated
}

// Reset tears the view state down: the outstanding request (if any) is
// cancelled, its outcome will be discarded, and the flow returns to idle.
func (f *AuthFlow) Reset() {
	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.state = AuthState{
		Phase:      PhaseIdle,
		Generation: f.state.Generation + 1,
		UpdatedAt:  time.Now(),
	}
	st := f.state
	flush := f.queueHooksLocked(&st, nil)
	f.mu.Unlock()
	flush()
}

// Restore seeds an idle flow with a previously completed state, e.g. one
// loaded from a StateStore. It is a no-op unless the flow is idle and the
// given state is completed.
func (f *AuthFlow) Restore(s AuthState) bool {
	if !s.Completed() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Phase != PhaseIdle || f.cancel != nil {
		return false
	}
	if s.Generation < f.state.Generation {
		s.Generation = f.state.Generation
	}
	f.state = s
	return true
}

// queueHooksLocked reserves the next slot in the hook order and returns the
// call that runs the hooks once every earlier slot has finished. The caller
// must release f.mu before invoking it.
func (f *AuthFlow) queueHooksLocked(st *AuthState, res *AttemptResult) func() {
	prev := f.hookTail
	mine := make(chan struct{})
	f.hookTail = mine
	hooks := f.hooks
	return func() {
		defer close(mine)
		if prev != nil {
			<-prev
		}
		if res != nil && hooks.OnResolved != nil {
			hooks.OnResolved(*res)
		}
		if st != nil && hooks.OnStateChange != nil {
			hooks.OnStateChange(*st)
		}
	}
}

func withTimeout(parent context.Context, parentCancel context.CancelFunc, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, d)
	return ctx, func() {
		cancel()
		parentCancel()
	}
}
