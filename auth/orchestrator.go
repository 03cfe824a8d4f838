package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// FlowState enumerates the auth callback flow.
type FlowState int

const (
	StateIdle FlowState = iota
	StateAwaitingProviderCallback
	StateAwaitingIdentityData
	StateSyncingUser
	StateDone
	StateErrored
)

func (s FlowState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingProviderCallback:
		return "awaiting_provider_callback"
	case StateAwaitingIdentityData:
		return "awaiting_identity_data"
	case StateSyncingUser:
		return "syncing_user"
	case StateDone:
		return "done"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	// ErrCallbackInFlight means a previous callback is still being processed.
	ErrCallbackInFlight = errors.New("auth callback already in flight")
	// ErrMissingIdentityData means the provider never produced a complete
	// identity within the retry budget.
	ErrMissingIdentityData = errors.New("missing identity data")
)

// Syncer upserts a local user record. Satisfied by users.Store.
type Syncer interface {
	Sync(ctx context.Context, authID, email, firstName, lastName string) (int64, error)
}

// Notifier surfaces flow results to the user. Satisfied by events.Hub.
type Notifier interface {
	ToastSuccess(message string)
	ToastError(message string)
}

// retryState is an explicit bounded-retry budget: attempt counts up to max
// with a fixed delay between attempts.
type retryState struct {
	attempt int
	max     int
	delay   time.Duration
}

func (r *retryState) next(ctx context.Context) bool {
	r.attempt++
	if r.attempt > r.max {
		return false
	}
	if r.attempt == 1 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.delay):
		return true
	}
}

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = time.Second
)

// Orchestrator drives the provider callback:
//
//	Idle -> AwaitingProviderCallback -> AwaitingIdentityData -> SyncingUser -> Done
//
// with Errored absorbing failures from any non-terminal state. Whatever
// happens, the caller redirects home afterwards: a failed sync can be retried
// later and must not lock the user out of the app.
type Orchestrator struct {
	verifier *SessionVerifier
	provider IdentityProvider
	syncer   Syncer
	notifier Notifier

	maxAttempts int
	retryDelay  time.Duration

	mu         sync.Mutex
	state      FlowState
	processing bool
}

// NewOrchestrator wires the callback flow.
func NewOrchestrator(verifier *SessionVerifier, provider IdentityProvider, syncer Syncer, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		verifier:    verifier,
		provider:    provider,
		syncer:      syncer,
		notifier:    notifier,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		state:       StateIdle,
	}
}

// State returns the state of the most recent flow.
func (o *Orchestrator) State() FlowState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s FlowState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// HandleCallback processes one provider redirect callback. It returns the
// terminal state of the flow; errors are informational because the caller
// redirects home either way.
func (o *Orchestrator) HandleCallback(ctx context.Context, sessionToken string) (FlowState, error) {
	// Single-flight guard: reject re-entry while a callback is processing.
	o.mu.Lock()
	if o.processing {
		o.mu.Unlock()
		return o.state, ErrCallbackInFlight
	}
	o.processing = true
	o.state = StateAwaitingProviderCallback
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.processing = false
		o.mu.Unlock()
	}()

	claims, err := o.verifier.Verify(sessionToken)
	if err != nil {
		log.Printf("auth callback: session verification failed: %v", err)
		o.setState(StateErrored)
		o.notify(false, "Sign-in failed. Please try again.")
		return StateErrored, err
	}

	o.setState(StateAwaitingIdentityData)

	identity, err := o.awaitIdentity(ctx, claims.Subject)
	if err != nil {
		log.Printf("auth callback: %v (auth id %s)", err, claims.Subject)
		o.setState(StateErrored)
		o.notify(false, "Sign-in incomplete. Please try again.")
		return StateErrored, err
	}

	o.setState(StateSyncingUser)

	if _, err := o.syncer.Sync(ctx, identity.ID, identity.Email, identity.FirstName, identity.LastName); err != nil {
		// Non-fatal: the user is signed in either way and sync can be
		// retried on the next visit.
		log.Printf("auth callback: user sync failed: %v", err)
		o.setState(StateErrored)
		o.notify(false, "Signed in, but profile sync failed.")
		return StateErrored, err
	}

	o.setState(StateDone)
	o.notify(true, "Signed in successfully.")
	return StateDone, nil
}

// awaitIdentity polls the provider until the identity record is complete or
// the retry budget runs out.
func (o *Orchestrator) awaitIdentity(ctx context.Context, authID string) (Identity, error) {
	retry := &retryState{max: o.maxAttempts, delay: o.retryDelay}

	var lastErr error
	for retry.next(ctx) {
		identity, err := o.provider.FetchIdentity(ctx, authID)
		if err != nil {
			lastErr = err
			continue
		}
		if identity.Complete() {
			return identity, nil
		}
	}

	if lastErr != nil {
		return Identity{}, errors.Join(ErrMissingIdentityData, lastErr)
	}
	return Identity{}, ErrMissingIdentityData
}

func (o *Orchestrator) notify(success bool, message string) {
	if o.notifier == nil {
		return
	}
	if success {
		o.notifier.ToastSuccess(message)
	} else {
		o.notifier.ToastError(message)
	}
}
