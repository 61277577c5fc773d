package participant

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlive/quizlive/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent []protocol.Type
}

func (s *fakeSender) Send(t protocol.Type, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, t)
	return nil
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeCredStore struct {
	mu      sync.Mutex
	deleted []string
}

func (c *fakeCredStore) Delete(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, sessionID)
	return nil
}

func newTestMachine(t *testing.T) (*Machine, *fakeSender, *fakeCredStore, *clockwork.FakeClock) {
	t.Helper()
	sender := &fakeSender{}
	creds := &fakeCredStore{}
	clock := clockwork.NewFakeClock()
	m := NewMachine(Options{
		SessionID:   "s1",
		Sender:      sender,
		Credentials: creds,
		Clock:       clock,
	})
	t.Cleanup(m.Close)
	return m, sender, creds, clock
}

func frame(t *testing.T, typ protocol.Type, payload any) (protocol.Envelope, any) {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload)
	require.NoError(t, err)
	return env, payload
}

func deliverQuestion(t *testing.T, m *Machine, idx, timeLimit int, elapsed *float64) {
	t.Helper()
	m.HandleFrame(frame(t, protocol.TypeNewQuestion, protocol.NewQuestionPayload{
		QuestionID:     "q" + string(rune('1'+idx)),
		Text:           "question",
		TimeLimit:      timeLimit,
		QuestionIdx:    idx,
		TotalQuestions: 5,
		Elapsed:        elapsed,
		Answers: []protocol.Answer{
			{ID: "a1", Text: "red", Order: 0},
			{ID: "a2", Text: "blue", Order: 1},
		},
	}))
}

func TestMachine_StartsWaiting(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	assert.Equal(t, PhaseWaiting, m.View().Phase)
}

func TestMachine_GameStartedRecordsTotal(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	m.HandleFrame(frame(t, protocol.TypeGameStarted, protocol.GameStartedPayload{TotalQuestions: 5}))

	v := m.View()
	assert.Equal(t, PhaseWaiting, v.Phase)
	assert.Equal(t, 5, v.TotalQuestions)
}

func TestMachine_NewQuestionArmsDeadlineCorrectedCountdown(t *testing.T) {
	m, _, _, _ := newTestMachine(t)

	elapsed := 10.0
	deliverQuestion(t, m, 0, 30, &elapsed)

	v := m.View()
	assert.Equal(t, PhaseQuestionActive, v.Phase)
	assert.Equal(t, 20*time.Second, v.Remaining)
	assert.Nil(t, v.Submission)
}

func TestMachine_SubmitIsIdempotent(t *testing.T) {
	m, sender, _, clock := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	clock.Advance(12 * time.Second)
	require.NoError(t, m.Submit("a1"))
	require.NoError(t, m.Submit("a2"))
	require.NoError(t, m.Submit("a1"))

	assert.Equal(t, 1, sender.sentCount())
	v := m.View()
	assert.Equal(t, PhaseAnswerSubmitted, v.Phase)
	require.NotNil(t, v.Submission)
	assert.Equal(t, "a1", v.Submission.AnswerID)
	assert.InDelta(t, 12.00, v.Submission.ResponseTime, 0.001)
}

func TestMachine_SubmitOutsideActivePhaseIsNoop(t *testing.T) {
	m, sender, _, _ := newTestMachine(t)

	require.NoError(t, m.Submit("a1"))
	assert.Equal(t, 0, sender.sentCount())
	assert.Equal(t, PhaseWaiting, m.View().Phase)
}

func TestMachine_FailedSendKeepsSubmissionRetryable(t *testing.T) {
	m, sender, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	sender.setErr(errors.New("socket gone"))
	require.Error(t, m.Submit("a1"))

	v := m.View()
	assert.Equal(t, PhaseQuestionActive, v.Phase)
	assert.Nil(t, v.Submission)
	assert.NotEmpty(t, v.SubmitError)

	// The flag is dismissible and the submission still goes through once
	// the connection is back.
	m.DismissSubmitError()
	assert.Empty(t, m.View().SubmitError)

	sender.setErr(nil)
	require.NoError(t, m.Submit("a1"))
	assert.Equal(t, PhaseAnswerSubmitted, m.View().Phase)
	assert.Equal(t, 1, sender.sentCount())
}

func TestMachine_AnswerSubmittedRecordsSelfResult(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)
	require.NoError(t, m.Submit("a1"))

	m.HandleFrame(frame(t, protocol.TypeAnswerSubmitted, protocol.AnswerSubmittedPayload{
		IsCorrect:     true,
		PointsAwarded: 850,
		TotalScore:    850,
	}))

	v := m.View()
	assert.Equal(t, PhaseAnswerSubmitted, v.Phase)
	require.NotNil(t, v.SelfResult)
	assert.True(t, v.SelfResult.IsCorrect)
	assert.Equal(t, 850, v.SelfResult.TotalScore)
}

func TestMachine_RevealWhileWaitingIsIgnored(t *testing.T) {
	m, _, _, _ := newTestMachine(t)

	m.HandleFrame(frame(t, protocol.TypeAnswerRevealed, protocol.AnswerRevealedPayload{
		QuestionID:  "q1",
		Leaderboard: []protocol.LeaderboardEntry{{ParticipantID: "p1", Rank: 1}},
	}))

	v := m.View()
	assert.Equal(t, PhaseWaiting, v.Phase)
	assert.Nil(t, v.Reveal)
	assert.Empty(t, v.Leaderboard)
}

func TestMachine_RevealFromActiveAndSubmitted(t *testing.T) {
	for _, submitFirst := range []bool{false, true} {
		m, _, _, _ := newTestMachine(t)
		deliverQuestion(t, m, 0, 30, nil)
		if submitFirst {
			require.NoError(t, m.Submit("a1"))
		}

		yes := true
		m.HandleFrame(frame(t, protocol.TypeAnswerRevealed, protocol.AnswerRevealedPayload{
			QuestionID: "q1",
			Answers:    []protocol.Answer{{ID: "a1", IsCorrect: &yes}},
			Leaderboard: []protocol.LeaderboardEntry{
				{ParticipantID: "p1", Nickname: "ana", Score: 850, Rank: 1},
			},
			Stats: protocol.QuestionStats{TotalResponses: 3, CorrectCount: 2},
		}))

		v := m.View()
		assert.Equal(t, PhaseAnswerRevealed, v.Phase)
		require.NotNil(t, v.Reveal)
		assert.Equal(t, 2, v.Reveal.Stats.CorrectCount)
		require.Len(t, v.Leaderboard, 1)
		assert.Equal(t, 1, v.Leaderboard[0].Rank)
	}
}

func TestMachine_LeaderboardRankFidelity(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	// Ranks arrive deliberately out of score order; the snapshot must be
	// kept exactly as delivered, never re-sorted.
	delivered := []protocol.LeaderboardEntry{
		{ParticipantID: "p2", Nickname: "bo", Score: 500, Rank: 2},
		{ParticipantID: "p1", Nickname: "ana", Score: 900, Rank: 1},
		{ParticipantID: "p3", Nickname: "cy", Score: 500, Rank: 2},
	}
	m.HandleFrame(frame(t, protocol.TypeAnswerRevealed, protocol.AnswerRevealedPayload{
		QuestionID:  "q1",
		Leaderboard: delivered,
	}))

	assert.Equal(t, delivered, m.View().Leaderboard)
}

func TestMachine_GameEndedClearsCredentials(t *testing.T) {
	m, _, creds, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	m.HandleFrame(frame(t, protocol.TypeGameEnded, protocol.GameEndedPayload{
		Leaderboard: []protocol.LeaderboardEntry{{ParticipantID: "p1", Rank: 1}},
	}))

	v := m.View()
	assert.Equal(t, PhaseFinished, v.Phase)
	require.Len(t, v.Leaderboard, 1)

	creds.mu.Lock()
	assert.Equal(t, []string{"s1"}, creds.deleted)
	creds.mu.Unlock()
}

func TestMachine_ErrorFrameIsNonFatalNotice(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	m.HandleFrame(frame(t, protocol.TypeError, protocol.ErrorPayload{Message: "slow down"}))

	v := m.View()
	assert.Equal(t, PhaseQuestionActive, v.Phase)
	assert.Equal(t, "slow down", v.Notice)

	m.DismissNotice()
	assert.Empty(t, m.View().Notice)
}

func TestMachine_ConnectionLostOverlaysPhase(t *testing.T) {
	m, _, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)

	m.HandleDisconnected()
	v := m.View()
	assert.True(t, v.Reconnecting)
	assert.Equal(t, PhaseQuestionActive, v.Phase)

	m.HandleConnectionLost()
	v = m.View()
	assert.True(t, v.ConnectionLost)
	assert.False(t, v.Reconnecting)
	assert.Equal(t, PhaseQuestionActive, v.Phase)

	m.HandleConnected()
	assert.False(t, m.View().ConnectionLost)
}

func TestMachine_NewQuestionResetsSubmissionState(t *testing.T) {
	m, sender, _, _ := newTestMachine(t)
	deliverQuestion(t, m, 0, 30, nil)
	require.NoError(t, m.Submit("a1"))
	require.Equal(t, 1, sender.sentCount())

	deliverQuestion(t, m, 1, 20, nil)
	v := m.View()
	assert.Equal(t, PhaseQuestionActive, v.Phase)
	assert.Nil(t, v.Submission)
	assert.Nil(t, v.SelfResult)
	assert.Equal(t, 20*time.Second, v.Remaining)

	// Fresh question, fresh at-most-once budget.
	require.NoError(t, m.Submit("a2"))
	assert.Equal(t, 2, sender.sentCount())
}

// Full well-formed session: Waiting -> QuestionActive -> AnswerSubmitted ->
// AnswerRevealed per question, ending in Finished.
func TestMachine_EndToEndScenario(t *testing.T) {
	m, sender, creds, clock := newTestMachine(t)

	m.HandleFrame(frame(t, protocol.TypeGameStarted, protocol.GameStartedPayload{TotalQuestions: 5}))
	assert.Equal(t, PhaseWaiting, m.View().Phase)

	deliverQuestion(t, m, 0, 30, nil)
	v := m.View()
	require.Equal(t, PhaseQuestionActive, v.Phase)
	require.Equal(t, 30*time.Second, v.Remaining)

	clock.Advance(12 * time.Second)
	require.NoError(t, m.Submit("a1"))
	v = m.View()
	require.Equal(t, PhaseAnswerSubmitted, v.Phase)
	assert.InDelta(t, 12.00, v.Submission.ResponseTime, 0.001)
	require.Equal(t, 1, sender.sentCount())

	m.HandleFrame(frame(t, protocol.TypeAnswerSubmitted, protocol.AnswerSubmittedPayload{
		IsCorrect: true, PointsAwarded: 850, TotalScore: 850,
	}))

	m.HandleFrame(frame(t, protocol.TypeAnswerRevealed, protocol.AnswerRevealedPayload{
		QuestionID: "q1",
		Leaderboard: []protocol.LeaderboardEntry{
			{ParticipantID: "p1", Nickname: "ana", Score: 850, Rank: 1},
		},
	}))
	v = m.View()
	require.Equal(t, PhaseAnswerRevealed, v.Phase)
	require.Len(t, v.Leaderboard, 1)

	m.HandleFrame(frame(t, protocol.TypeGameEnded, protocol.GameEndedPayload{
		Leaderboard: []protocol.LeaderboardEntry{
			{ParticipantID: "p1", Nickname: "ana", Score: 850, Rank: 1},
		},
	}))
	v = m.View()
	assert.Equal(t, PhaseFinished, v.Phase)

	creds.mu.Lock()
	assert.Equal(t, []string{"s1"}, creds.deleted)
	creds.mu.Unlock()
}
