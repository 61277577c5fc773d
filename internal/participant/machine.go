// Package participant drives the five-phase game view for a joined player.
// It consumes dispatched frames and local submit actions; all undefined
// (phase, message) combinations are ignored rather than surfaced.
package participant

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizlive/quizlive/internal/countdown"
	"github.com/quizlive/quizlive/internal/protocol"
)

// Phase is the participant-visible stage of the current question cycle.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseQuestionActive
	PhaseAnswerSubmitted
	PhaseAnswerRevealed
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseQuestionActive:
		return "question_active"
	case PhaseAnswerSubmitted:
		return "answer_submitted"
	case PhaseAnswerRevealed:
		return "answer_revealed"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Sender is the guarded send operation of the connection manager.
type Sender interface {
	Send(t protocol.Type, payload any) error
}

// CredentialStore clears persisted join credentials once a session ends.
type CredentialStore interface {
	Delete(sessionID string) error
}

// Submission is the at-most-one record per question. Immutable once
// created; cleared when a new question arrives.
type Submission struct {
	AnswerID     string
	ResponseTime float64
}

// View is a read-mostly snapshot for the render layer, replaced wholesale
// on every change so a half-applied update is never visible.
type View struct {
	Phase          Phase
	TotalQuestions int
	Question       *protocol.NewQuestionPayload
	Remaining      time.Duration
	Submission     *Submission
	SelfResult     *protocol.AnswerSubmittedPayload
	Reveal         *protocol.AnswerRevealedPayload
	Leaderboard    []protocol.LeaderboardEntry

	// Reconnecting is set while the connection manager retries in the
	// background; ConnectionLost is the terminal overlay requiring the
	// user to return to the join flow.
	Reconnecting   bool
	ConnectionLost bool

	// SubmitError is the transient, dismissible flag raised when a submit
	// could not be sent. The submission stays retryable.
	SubmitError string
	// Notice carries a non-fatal application error frame.
	Notice string
}

// Options configures a Machine.
type Options struct {
	SessionID    string
	Sender       Sender
	Credentials  CredentialStore
	Clock        clockwork.Clock
	TickInterval time.Duration
	// OnChange receives a fresh View after every state change. Called
	// without internal locks held; must not be nil-unsafe.
	OnChange func(View)
}

// Machine is the participant phase state machine. It implements
// conn.Handler.
type Machine struct {
	sessionID string
	sender    Sender
	creds     CredentialStore
	onChange  func(View)

	mu             sync.Mutex
	phase          Phase
	totalQuestions int
	question       *protocol.NewQuestionPayload
	cd             *countdown.Countdown
	remaining      time.Duration
	submission     *Submission
	selfResult     *protocol.AnswerSubmittedPayload
	reveal         *protocol.AnswerRevealedPayload
	leaderboard    []protocol.LeaderboardEntry
	reconnecting   bool
	connLost       bool
	submitErr      string
	notice         string
}

// NewMachine creates a participant machine in PhaseWaiting.
func NewMachine(opts Options) *Machine {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := &Machine{
		sessionID: opts.SessionID,
		sender:    opts.Sender,
		creds:     opts.Credentials,
		onChange:  opts.OnChange,
		phase:     PhaseWaiting,
	}
	m.cd = countdown.New(clock, opts.TickInterval, m.handleTick)
	return m
}

// handleTick runs on the countdown goroutine.
func (m *Machine) handleTick(remaining time.Duration) {
	m.mu.Lock()
	if m.phase != PhaseQuestionActive {
		m.mu.Unlock()
		return
	}
	m.remaining = remaining
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// HandleFrame applies one inbound frame. Phase transitions are total
// functions of (phase, type); anything undefined falls through untouched.
func (m *Machine) HandleFrame(env protocol.Envelope, payload any) {
	m.mu.Lock()
	clearCreds := false
	changed := true

	switch p := payload.(type) {
	case protocol.GameStartedPayload:
		m.totalQuestions = p.TotalQuestions

	case protocol.NewQuestionPayload:
		m.applyNewQuestionLocked(p)

	case protocol.AnswerSubmittedPayload:
		if m.phase != PhaseAnswerSubmitted {
			changed = false
			break
		}
		m.selfResult = &p

	case protocol.AnswerRevealedPayload:
		if m.phase != PhaseQuestionActive && m.phase != PhaseAnswerSubmitted {
			changed = false
			break
		}
		m.cd.Stop()
		m.phase = PhaseAnswerRevealed
		m.reveal = &p
		m.leaderboard = p.Leaderboard

	case protocol.GameEndedPayload:
		m.cd.Stop()
		m.phase = PhaseFinished
		m.leaderboard = p.Leaderboard
		clearCreds = true

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

	if clearCreds && m.creds != nil {
		if err := m.creds.Delete(m.sessionID); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", m.sessionID).
				Msg("failed to clear join credentials")
		}
	}
	if changed {
		m.emit(view)
	}
}

func (m *Machine) applyNewQuestionLocked(p protocol.NewQuestionPayload) {
	m.submission = nil
	m.selfResult = nil
	m.reveal = nil
	m.submitErr = ""
	m.question = &p
	m.totalQuestions = p.TotalQuestions
	m.phase = PhaseQuestionActive

	limit := time.Duration(p.TimeLimit) * time.Second
	var elapsed time.Duration
	if p.Elapsed != nil {
		elapsed = time.Duration(*p.Elapsed * float64(time.Second))
	}
	remaining := limit - elapsed
	if remaining < 0 {
		remaining = 0
	}
	m.remaining = remaining
	m.cd.Arm(limit, elapsed)
}

// Submit records and sends the participant's answer for the active
// question. At-most-once: a second call while a submission exists is a
// no-op regardless of server-side deduplication. On send failure the phase
// stays QuestionActive and the submission remains retryable.
func (m *Machine) Submit(answerID string) error {
	m.mu.Lock()
	if m.phase != PhaseQuestionActive || m.submission != nil {
		m.mu.Unlock()
		return nil
	}

	responseTime := roundSeconds(m.cd.Since())
	payload := protocol.SubmitAnswerPayload{
		AnswerID:     answerID,
		ResponseTime: responseTime,
	}

	if err := m.sender.Send(protocol.TypeSubmitAnswer, payload); err != nil {
		m.submitErr = "answer could not be sent"
		view := m.viewLocked()
		m.mu.Unlock()
		log.Warn().
			Err(err).
			Str("session_id", m.sessionID).
			Str("answer_id", answerID).
			Msg("submit failed")
		m.emit(view)
		return err
	}

	m.submission = &Submission{AnswerID: answerID, ResponseTime: responseTime}
	m.submitErr = ""
	m.cd.Stop()
	m.phase = PhaseAnswerSubmitted
	view := m.viewLocked()
	m.mu.Unlock()

	log.Debug().
		Str("session_id", m.sessionID).
		Str("answer_id", answerID).
		Float64("response_time", responseTime).
		Msg("answer submitted")
	m.emit(view)
	return nil
}

// DismissSubmitError clears the transient submit failure flag.
func (m *Machine) DismissSubmitError() {
	m.mu.Lock()
	m.submitErr = ""
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// DismissNotice clears the application error notice.
func (m *Machine) DismissNotice() {
	m.mu.Lock()
	m.notice = ""
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
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

// HandleConnectionLost implements conn.Handler. The overlay layers over
// whatever phase was current; recovery is user-initiated (back to the join
// flow), never an automatic resubmit.
func (m *Machine) HandleConnectionLost() {
	m.mu.Lock()
	m.reconnecting = false
	m.connLost = true
	m.cd.Stop()
	view := m.viewLocked()
	m.mu.Unlock()
	m.emit(view)
}

// Close stops the countdown. Call alongside the connection teardown.
func (m *Machine) Close() {
	m.cd.Stop()
}

// View returns the current snapshot.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

func (m *Machine) viewLocked() View {
	return View{
		Phase:          m.phase,
		TotalQuestions: m.totalQuestions,
		Question:       m.question,
		Remaining:      m.remaining,
		Submission:     m.submission,
		SelfResult:     m.selfResult,
		Reveal:         m.reveal,
		Leaderboard:    m.leaderboard,
		Reconnecting:   m.reconnecting,
		ConnectionLost: m.connLost,
		SubmitError:    m.submitErr,
		Notice:         m.notice,
	}
}

func (m *Machine) emit(view View) {
	if m.onChange != nil {
		m.onChange(view)
	}
}

// roundSeconds converts a duration to seconds at two-decimal precision.
func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
