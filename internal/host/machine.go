// Package host drives the controlling view of a session: roster and online
// tracking in the lobby, per-question aggregates while a question runs, and
// explicit progression actions.
package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/quizlive/internal/api"
	"github.com/quizlive/quizlive/internal/protocol"
)

// State is the host's control phase, parameterized by (questionIdx,
// totalQuestions) while Active or Revealing.
type State int

const (
	StateLobby State = iota
	StateActive
	StateRevealing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateLobby:
		return "lobby"
	case StateActive:
		return "active"
	case StateRevealing:
		return "revealing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidAction means the progression action is not available in
	// the current state.
	ErrInvalidAction = errors.New("action not available in current state")
	// ErrNoParticipants blocks start_game on an empty roster.
	ErrNoParticipants = errors.New("no participants have joined")
)

// Sender is the guarded send operation of the connection manager.
type Sender interface {
	Send(t protocol.Type, payload any) error
}

// SessionAPI is the request/response collaborator used for the lobby
// roster poll and the out-of-band termination escape hatch.
type SessionAPI interface {
	GetRoster(ctx context.Context, sessionID string) ([]api.Participant, error)
	TerminateSession(ctx context.Context, sessionID string) error
}

// DefaultPollInterval is how often the lobby refreshes the roster.
// Membership changes are not exclusively pushed, so the lobby polls.
const DefaultPollInterval = 3 * time.Second

const apiCallTimeout = 5 * time.Second

// View is the host's read-mostly snapshot, replaced wholesale per change.
type View struct {
	State          State
	Roster         []api.Participant
	OnlineCount    int
	QuestionIdx    int
	TotalQuestions int
	AnsweredCount  int
	Question       *protocol.NewQuestionPayload
	Reveal         *protocol.AnswerRevealedPayload
	Leaderboard    []protocol.LeaderboardEntry
	Reconnecting   bool
	ConnectionLost bool
	Notice         string
}

// Options configures a Machine.
type Options struct {
	SessionID    string
	Sender       Sender
	API          SessionAPI
	Clock        clockwork.Clock
	PollInterval time.Duration
	OnChange     func(View)
}

// Machine is the host control state machine. It implements conn.Handler.
type Machine struct {
	sessionID    string
	sender       Sender
	api          SessionAPI
	clock        clockwork.Clock
	pollInterval time.Duration
	onChange     func(View)

	mu             sync.Mutex
	state          State
	roster         []api.Participant
	onlineCount    int
	questionIdx    int
	totalQuestions int
	answeredCount  int
	question       *protocol.NewQuestionPayload
	reveal         *protocol.AnswerRevealedPayload
	leaderboard    []protocol.LeaderboardEntry
	reconnecting   bool
	connLost       bool
	notice         string
	pollStop       chan struct{}
}

// NewMachine creates a host machine in StateLobby.
func NewMachine(opts Options) *Machine {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Machine{
		sessionID:    opts.SessionID,
		sender:       opts.Sender,
		api:          opts.API,
		clock:        clock,
		pollInterval: interval,
		onChange:     opts.OnChange,
		state:        StateLobby,
	}
}

// StartRosterPoll begins the periodic lobby roster refresh. It stops on
// Close or once the game leaves the lobby.
func (m *Machine) StartRosterPoll() {
	m.mu.Lock()
	if m.pollStop != nil || m.state != StateLobby {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.pollStop = stop
	m.mu.Unlock()

	go m.RefreshRoster()
	go func() {
		ticker := m.clock.NewTicker(m.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				m.RefreshRoster()
			}
		}
	}()
}

func (m *Machine) stopRosterPollLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
	}
}

// RefreshRoster fetches a fresh roster snapshot and replaces the current
// one wholesale.
func (m *Machine) RefreshRoster() {
	ctx, cancel := context.WithTimeout(context.Background(), apiCallTimeout)
	defer cancel()

	roster, err := m.api.GetRoster(ctx, m.sessionID)
	if err != nil {
		log.Warn().
			Err(err).
			Str("session_id", m.sessionID).
			Msg("roster fetch failed")
		return
	}

	m.mu.Lock()
	m.roster = roster
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// HandleFrame applies one inbound frame; undefined combinations fall
// through untouched.
func (m *Machine) HandleFrame(env protocol.Envelope, payload any) {
	refreshRoster := false
	m.mu.Lock()
	changed := true

	switch p := payload.(type) {
	case protocol.GameStartedPayload:
		m.totalQuestions = p.TotalQuestions
		m.stopRosterPollLocked()

	case protocol.NewQuestionPayload:
		m.state = StateActive
		m.question = &p
		m.questionIdx = p.QuestionIdx
		m.totalQuestions = p.TotalQuestions
		m.answeredCount = 0
		m.reveal = nil
		m.stopRosterPollLocked()

	case protocol.AnswerReceivedPayload:
		if m.state != StateActive {
			changed = false
			break
		}
		m.answeredCount = p.AnsweredCount

	case protocol.ParticipantJoinedPayload:
		// Roster changes are not exclusively pushed; re-fetch.
		refreshRoster = true
		changed = false

	case protocol.ParticipantConnectedPayload:
		m.onlineCount = p.OnlineCount

	case protocol.ParticipantDisconnectedPayload:
		m.onlineCount = p.OnlineCount

	case protocol.AnswerRevealedPayload:
		if m.state != StateActive {
			changed = false
			break
		}
		m.state = StateRevealing
		m.reveal = &p
		m.leaderboard = p.Leaderboard

	case protocol.GameEndedPayload:
		m.state = StateFinished
		m.leaderboard = p.Leaderboard
		m.stopRosterPollLocked()

	case protocol.ErrorPayload:
		m.notice = p.Message

	default:
		changed = false
	}

	var view View
	if changed {
		view = m.viewLocked()
	}
	m.mu.Unlock()

	if refreshRoster {
		go m.RefreshRoster()
	}
	if changed {
		m.emit(view)
	}
}

// StartGame is enabled only in the lobby with a non-empty roster.
func (m *Machine) StartGame() error {
	m.mu.Lock()
	if m.state != StateLobby {
		m.mu.Unlock()
		return ErrInvalidAction
	}
	if len(m.roster) == 0 {
		m.mu.Unlock()
		return ErrNoParticipants
	}
	m.mu.Unlock()
	return m.sender.Send(protocol.TypeStartGame, nil)
}

// RevealAnswer is available at any time while a question is active.
func (m *Machine) RevealAnswer() error {
	m.mu.Lock()
	if m.state != StateActive {
		m.mu.Unlock()
		return ErrInvalidAction
	}
	m.mu.Unlock()
	return m.sender.Send(protocol.TypeRevealAnswer, nil)
}

// NextQuestion advances from a reveal, unless the current question is the
// last one.
func (m *Machine) NextQuestion() error {
	m.mu.Lock()
	if m.state != StateRevealing || m.questionIdx >= m.totalQuestions-1 {
		m.mu.Unlock()
		return ErrInvalidAction
	}
	m.mu.Unlock()
	return m.sender.Send(protocol.TypeNextQuestion, nil)
}

// EndGame is the only forward action from the last question's reveal.
func (m *Machine) EndGame() error {
	m.mu.Lock()
	if m.state != StateRevealing || m.questionIdx < m.totalQuestions-1 {
		m.mu.Unlock()
		return ErrInvalidAction
	}
	m.mu.Unlock()
	return m.sender.Send(protocol.TypeEndGame, nil)
}

// ForceEndSession terminates the session through the request/response API,
// bypassing the live connection entirely. It is the escape hatch for a
// dead channel: callable in any state, idempotent server-side, and safe
// when the session is already finished.
func (m *Machine) ForceEndSession(ctx context.Context) error {
	if err := m.api.TerminateSession(ctx, m.sessionID); err != nil {
		return err
	}
	log.Info().
		Str("session_id", m.sessionID).
		Msg("session force-terminated")
	return nil
}

// HandleConnected implements conn.Handler.
func (m *Machine) HandleConnected() {
	m.mu.Lock()
	m.reconnecting = false
	m.connLost = false
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// HandleDisconnected implements conn.Handler.
func (m *Machine) HandleDisconnected() {
	m.mu.Lock()
	m.reconnecting = true
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// HandleConnectionLost implements conn.Handler.
func (m *Machine) HandleConnectionLost() {
	m.mu.Lock()
	m.reconnecting = false
	m.connLost = true
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// Close stops the roster poll.
func (m *Machine) Close() {
	m.mu.Lock()
	m.stopRosterPollLocked()
	m.mu.Unlock()
}

// View returns the current snapshot.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	return View{
		State:          m.state,
		Roster:         m.roster,
		OnlineCount:    m.onlineCount,
		QuestionIdx:    m.questionIdx,
		TotalQuestions: m.totalQuestions,
		AnsweredCount:  m.answeredCount,
		Question:       m.question,
		Reveal:         m.reveal,
		Leaderboard:    m.leaderboard,
		Reconnecting:   m.reconnecting,
		ConnectionLost: m.connLost,
		Notice:         m.notice,
	}
}

func (m *Machine) emit(view View) {
	if m.onChange != nil {
		m.onChange(view)
	}
}
