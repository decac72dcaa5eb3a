package rtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AgentState is the renewal watchdog's connection state.
type AgentState string

const (
	StateConnected    AgentState = "connected"
	StateRenewing     AgentState = "renewing"
	StateDisconnected AgentState = "disconnected"
)

// DefaultRenewalLead is how long before expiry the proactive renewal fires.
const DefaultRenewalLead = 5 * time.Minute

// AgentConfig wires a RenewalAgent to one live call.
type AgentConfig struct {
	// Renew requests a fresh credential pair from the server.
	Renew func(ctx context.Context) (*Credential, error)
	// OnRenewed hot-swaps the new credential into the live transport.
	OnRenewed func(*Credential)
	// OnDisconnect is called exactly once when renewal terminally fails;
	// the call must end visibly rather than linger unauthenticated.
	OnDisconnect func(error)
	// Lead is how far before expiry the proactive renewal fires.
	// Defaults to DefaultRenewalLead; clamped to half the credential
	// lifetime for short-lived tokens.
	Lead   time.Duration
	Logger zerolog.Logger
}

// RenewalAgent keeps one call's credentials fresh. Per call it owns a single
// pending timer, replaced atomically on every reschedule. Renewals are
// serialized: a trigger that fires while one is in flight is dropped, since
// overlapping renewals could install tokens out of order.
//
// States: connected -> renewing -> connected on success; the "will expire"
// trigger fires with lead time, and if it was missed or failed, the "did
// expire" trigger makes one emergency attempt before giving up and
// transitioning to disconnected.
type RenewalAgent struct {
	cfg AgentConfig

	mu       sync.Mutex
	state    AgentState
	cred     *Credential
	timer    *time.Timer
	inFlight bool
	stopped  bool
}

func NewRenewalAgent(cfg AgentConfig) *RenewalAgent {
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultRenewalLead
	}
	return &RenewalAgent{
		cfg:   cfg,
		state: StateConnected,
	}
}

// Start installs the initial credential and schedules the first renewal.
func (a *RenewalAgent) Start(cred *Credential) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cred = cred
	a.state = StateConnected
	a.scheduleLocked(cred)
}

// Stop cancels any pending renewal. Safe to call more than once.
func (a *RenewalAgent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// State returns the agent's current connection state.
func (a *RenewalAgent) State() AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// scheduleLocked replaces the pending timer with one for the next renewal.
// Caller holds a.mu.
func (a *RenewalAgent) scheduleLocked(cred *Credential) {
	if a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}

	lead := a.cfg.Lead
	if lifetime := time.Until(cred.ExpiresAt); lead > lifetime/2 {
		lead = lifetime / 2
	}
	delay := time.Until(cred.ExpiresAt.Add(-lead))
	if delay < 0 {
		delay = 0
	}

	expiresAt := cred.ExpiresAt
	a.timer = time.AfterFunc(delay, func() {
		a.renew(expiresAt)
	})
}

// renew handles the "will expire" trigger: one proactive attempt, and on
// failure an emergency retry armed for the moment of actual expiry.
func (a *RenewalAgent) renew(expiresAt time.Time) {
	a.mu.Lock()
	if a.stopped || a.inFlight || a.state == StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.state = StateRenewing
	a.mu.Unlock()

	cred, err := a.renewOnce(expiresAt)
	if err == nil {
		a.install(cred)
		return
	}

	a.cfg.Logger.Warn().Err(err).Msg("proactive credential renewal failed, arming emergency renewal")

	a.mu.Lock()
	if a.stopped {
		a.inFlight = false
		a.mu.Unlock()
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	delay := time.Until(expiresAt)
	if delay < 0 {
		delay = 0
	}
	a.inFlight = false
	a.timer = time.AfterFunc(delay, a.emergencyRenew)
	a.mu.Unlock()
}

// emergencyRenew handles the "did expire" trigger: a single last attempt,
// then a clean disconnect instead of a silent mid-stream failure.
func (a *RenewalAgent) emergencyRenew() {
	a.mu.Lock()
	if a.stopped || a.inFlight || a.state == StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.inFlight = true
	a.state = StateRenewing
	a.mu.Unlock()

	cred, err := a.renewOnce(time.Now())
	if err == nil {
		a.install(cred)
		return
	}

	a.cfg.Logger.Error().Err(err).Msg("emergency credential renewal failed, disconnecting")

	a.mu.Lock()
	a.state = StateDisconnected
	a.inFlight = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.mu.Unlock()

	if a.cfg.OnDisconnect != nil {
		a.cfg.OnDisconnect(fmt.Errorf("credential renewal failed: %w", err))
	}
}

func (a *RenewalAgent) renewOnce(deadline time.Time) (*Credential, error) {
	timeout := time.Until(deadline)
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.cfg.Renew(ctx)
}

func (a *RenewalAgent) install(cred *Credential) {
	a.mu.Lock()
	if a.stopped {
		a.inFlight = false
		a.mu.Unlock()
		return
	}
	a.cred = cred
	a.state = StateConnected
	a.inFlight = false
	a.scheduleLocked(cred)
	a.mu.Unlock()

	if a.cfg.OnRenewed != nil {
		a.cfg.OnRenewed(cred)
	}
}
