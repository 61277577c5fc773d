// Package conn owns the persistent session socket: the authentication
// handshake, ordered frame dispatch, bounded reconnection and guarded
// sends. One Manager exists per (session, view) and is constructed with
// the state machine that consumes its frames.
package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/quizlive/internal/protocol"
)

const (
	// DefaultMaxAttempts bounds reconnection after an abnormal close.
	DefaultMaxAttempts = 5
	// DefaultBaseDelay seeds the exponential backoff schedule:
	// 1s, 2s, 4s, 8s, 16s.
	DefaultBaseDelay = time.Second

	dialTimeout = 10 * time.Second
)

// Credentials are role-scoped and immutable for the manager's lifetime.
type Credentials struct {
	Role             protocol.Role
	HostToken        string
	ParticipantID    string
	ParticipantToken string
}

// Complete reports whether the fields the role requires are present.
// Connect is a no-op on incomplete credentials.
func (c Credentials) Complete() bool {
	switch c.Role {
	case protocol.RoleHost:
		return c.HostToken != ""
	case protocol.RoleParticipant:
		return c.ParticipantID != "" && c.ParticipantToken != ""
	default:
		return false
	}
}

// Handler consumes authenticated traffic and lifecycle notifications. The
// manager is constructed with its handler once per connection lifetime;
// there is no way to swap it afterwards.
type Handler interface {
	// HandleFrame receives every authenticated inbound frame in delivery
	// order, with its decoded payload.
	HandleFrame(env protocol.Envelope, payload any)
	// HandleConnected fires after each successful authentication,
	// including re-authentication after a reconnect.
	HandleConnected()
	// HandleDisconnected fires when the socket dropped and a reconnect
	// attempt has been scheduled.
	HandleDisconnected()
	// HandleConnectionLost fires on terminal failure: a non-retryable
	// close code or an exhausted attempt budget.
	HandleConnectionLost()
}

// Options configures a Manager. Zero values fall back to production
// defaults.
type Options struct {
	// URL is the full websocket endpoint for the session.
	URL         string
	Credentials Credentials
	Dialer      Dialer
	Clock       clockwork.Clock
	MaxAttempts int
	BaseDelay   time.Duration
}

// Manager drives one logical connection through
// Idle -> Connecting -> AuthPending -> Authenticated, with bounded
// reconnection and a terminal Closed state on teardown.
//
// Every dial increments an epoch; frames and close events from a socket
// whose epoch no longer matches are discarded, so a superseded socket can
// never act on the current connection's state.
type Manager struct {
	id          string
	url         string
	creds       Credentials
	dialer      Dialer
	clock       clockwork.Clock
	handler     Handler
	maxAttempts int
	baseDelay   time.Duration

	mu             sync.Mutex
	state          State
	epoch          uint64
	attempt        int
	transport      Transport
	reconnectTimer clockwork.Timer
	done           chan struct{}

	writeMu sync.Mutex
}

// NewManager creates a manager bound to its handler. It does not connect.
func NewManager(opts Options, handler Handler) *Manager {
	m := &Manager{
		id:          uuid.NewString(),
		url:         opts.URL,
		creds:       opts.Credentials,
		dialer:      opts.Dialer,
		clock:       opts.Clock,
		handler:     handler,
		maxAttempts: opts.MaxAttempts,
		baseDelay:   opts.BaseDelay,
		state:       StateIdle,
		done:        make(chan struct{}),
	}
	if m.dialer == nil {
		m.dialer = NewDialer()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.baseDelay <= 0 {
		m.baseDelay = DefaultBaseDelay
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect opens the transport and starts the handshake. No-op when the
// credentials for the role are incomplete, when a connection is already in
// flight, or when the manager is closed or failed.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateClosed, StateFailed, StateConnecting, StateAuthPending, StateAuthenticated:
		m.mu.Unlock()
		return
	}
	if !m.creds.Complete() {
		m.mu.Unlock()
		log.Warn().
			Str("conn_id", m.id).
			Str("role", string(m.creds.Role)).
			Msg("connect skipped: incomplete credentials")
		return
	}
	m.state = StateConnecting
	m.epoch++
	ep := m.epoch
	m.mu.Unlock()

	go m.dial(ep)
}

func (m *Manager) dial(ep uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	tr, err := m.dialer.Dial(ctx, m.url)
	if err != nil {
		log.Warn().
			Err(err).
			Str("conn_id", m.id).
			Msg("dial failed")
		m.handleClose(ep, 0)
		return
	}

	m.mu.Lock()
	if m.epoch != ep || m.state != StateConnecting {
		m.mu.Unlock()
		tr.Close()
		return
	}
	m.transport = tr
	m.state = StateAuthPending
	m.mu.Unlock()

	// Auth is the only frame allowed out before authentication.
	env, err := protocol.NewEnvelope(protocol.TypeAuth, m.authPayload())
	if err != nil {
		log.Error().Err(err).Str("conn_id", m.id).Msg("build auth frame")
		tr.Close()
		m.handleClose(ep, 0)
		return
	}
	if err := m.writeEnvelope(tr, env); err != nil {
		log.Warn().Err(err).Str("conn_id", m.id).Msg("auth frame write failed")
		tr.Close()
		m.handleClose(ep, 0)
		return
	}

	log.Debug().
		Str("conn_id", m.id).
		Uint64("epoch", ep).
		Msg("auth frame sent, awaiting acknowledgement")

	go m.readLoop(tr, ep)
}

func (m *Manager) authPayload() protocol.AuthPayload {
	p := protocol.AuthPayload{Role: m.creds.Role}
	if m.creds.Role == protocol.RoleHost {
		p.Token = m.creds.HostToken
	} else {
		p.ParticipantID = m.creds.ParticipantID
		p.ParticipantToken = m.creds.ParticipantToken
	}
	return p
}

func (m *Manager) readLoop(tr Transport, ep uint64) {
	for {
		data, err := tr.ReadMessage()
		if err != nil {
			m.handleClose(ep, closeCodeFrom(err))
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			log.Debug().
				Str("conn_id", m.id).
				Msg("dropping malformed frame")
			continue
		}
		m.dispatch(ep, env)
	}
}

// dispatch routes one inbound frame. Frames are processed strictly in
// delivery order; stale-epoch frames are dropped.
func (m *Manager) dispatch(ep uint64, env protocol.Envelope) {
	m.mu.Lock()
	if m.epoch != ep || m.state == StateClosed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}

	if m.state != StateAuthenticated {
		if env.Type != protocol.TypeAuthOK {
			// A frame from before our auth completed, possibly replayed
			// by a prior socket. Discard.
			m.mu.Unlock()
			log.Debug().
				Str("conn_id", m.id).
				Str("type", string(env.Type)).
				Msg("dropping pre-auth frame")
			return
		}
		m.state = StateAuthenticated
		m.attempt = 0
		m.mu.Unlock()
		log.Info().
			Str("conn_id", m.id).
			Uint64("epoch", ep).
			Msg("authenticated")
		m.handler.HandleConnected()
		return
	}
	m.mu.Unlock()

	payload, err := protocol.ParsePayload(env)
	if err != nil {
		log.Debug().
			Err(err).
			Str("conn_id", m.id).
			Str("type", string(env.Type)).
			Msg("dropping unparseable payload")
		return
	}
	m.handler.HandleFrame(env, payload)
}

// handleClose reacts to a dead socket: terminal close codes and exhausted
// budgets become Failed, everything else schedules a backoff reconnect.
func (m *Manager) handleClose(ep uint64, code int) {
	m.mu.Lock()
	if m.epoch != ep || m.state == StateClosed || m.state == StateFailed {
		m.mu.Unlock()
		return
	}
	if m.transport != nil {
		m.transport.Close()
		m.transport = nil
	}

	if protocol.IsTerminalCloseCode(code) {
		m.state = StateFailed
		m.mu.Unlock()
		log.Warn().
			Str("conn_id", m.id).
			Int("close_code", code).
			Msg("terminal close, not retrying")
		m.handler.HandleConnectionLost()
		return
	}

	if m.attempt >= m.maxAttempts {
		m.state = StateFailed
		m.mu.Unlock()
		log.Warn().
			Str("conn_id", m.id).
			Int("attempts", m.attempt).
			Msg("reconnect attempts exhausted")
		m.handler.HandleConnectionLost()
		return
	}

	delay := m.baseDelay << m.attempt
	m.attempt++
	m.state = StateReconnecting
	timer := m.clock.NewTimer(delay)
	m.reconnectTimer = timer
	attempt := m.attempt
	m.mu.Unlock()

	log.Info().
		Str("conn_id", m.id).
		Int("close_code", code).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	go func() {
		select {
		case <-timer.Chan():
		case <-m.done:
			return
		}
		m.mu.Lock()
		if m.state != StateReconnecting || m.reconnectTimer != timer {
			m.mu.Unlock()
			return
		}
		m.reconnectTimer = nil
		m.state = StateIdle
		m.mu.Unlock()
		m.Connect()
	}()

	m.handler.HandleDisconnected()
}

// Send delivers one application frame. It fails without queuing when the
// manager is not authenticated; a failed send means "not sent", never
// "pending".
func (m *Manager) Send(t protocol.Type, payload any) error {
	m.mu.Lock()
	if m.state != StateAuthenticated || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	tr := m.transport
	m.mu.Unlock()

	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		return err
	}
	return m.writeEnvelope(tr, env)
}

func (m *Manager) writeEnvelope(tr Transport, env protocol.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return tr.WriteJSON(env)
}

// Teardown closes the manager for good: cancels any pending reconnect,
// closes the transport and moves to StateClosed. Idempotent. After it
// returns, no dispatch or reconnect fires.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	// Orphan any in-flight dial or read loop.
	m.epoch++
	if m.reconnectTimer != nil {
		stopAndDrainTimer(m.reconnectTimer)
		m.reconnectTimer = nil
	}
	tr := m.transport
	m.transport = nil
	close(m.done)
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	log.Info().Str("conn_id", m.id).Msg("connection torn down")
}

// stopAndDrainTimer stops a timer and drains its channel so a concurrent
// waiter cannot observe a late fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
