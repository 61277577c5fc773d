package protocol

import (
	"encoding/json"
	"fmt"
)

// Type identifies a frame variant on the session socket.
type Type string

// Server -> client frames.
const (
	TypeAuthOK                  Type = "auth_ok"
	TypeGameStarted             Type = "game_started"
	TypeNewQuestion             Type = "new_question"
	TypeAnswerSubmitted         Type = "answer_submitted"
	TypeAnswerReceived          Type = "answer_received"
	TypeParticipantJoined       Type = "participant_joined"
	TypeParticipantConnected    Type = "participant_connected"
	TypeParticipantDisconnected Type = "participant_disconnected"
	TypeAnswerRevealed          Type = "answer_revealed"
	TypeGameEnded               Type = "game_ended"
	TypeError                   Type = "error"
)

// Client -> server frames.
const (
	TypeAuth         Type = "auth"
	TypeSubmitAnswer Type = "submit_answer"
	TypeStartGame    Type = "start_game"
	TypeNextQuestion Type = "next_question"
	TypeRevealAnswer Type = "reveal_answer"
	TypeEndGame      Type = "end_game"
)

// Envelope is the tagged union carried on the session socket in both
// directions. Data holds the variant-specific payload.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps a payload for sending. A nil payload produces an
// envelope with no data, which is how the bare host progression commands
// (start_game, next_question, reveal_answer, end_game) go out.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	env := Envelope{Type: t}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	env.Data = data
	return env, nil
}

// AuthPayload is sent immediately after the transport opens. Hosts carry a
// session-scoped token; participants carry the credential pair obtained at
// join time.
type AuthPayload struct {
	Role             Role   `json:"role"`
	Token            string `json:"token,omitempty"`
	ParticipantID    string `json:"pid,omitempty"`
	ParticipantToken string `json:"ptoken,omitempty"`
}

// SubmitAnswerPayload records one answer choice. ResponseTime is seconds
// with two-decimal precision, measured from the question's countdown anchor.
type SubmitAnswerPayload struct {
	AnswerID     string  `json:"answer_id"`
	ResponseTime float64 `json:"response_time"`
}

type GameStartedPayload struct {
	TotalQuestions int `json:"total_questions"`
}

// NewQuestionPayload starts a question cycle. Elapsed is non-nil when the
// question was already running at delivery time (late join or reconnect) and
// holds the seconds already spent.
type NewQuestionPayload struct {
	QuestionID     string   `json:"question_id"`
	Text           string   `json:"text"`
	TimeLimit      int      `json:"time_limit"`
	ImageURL       string   `json:"image_url,omitempty"`
	Answers        []Answer `json:"answers"`
	QuestionIdx    int      `json:"question_idx"`
	TotalQuestions int      `json:"total_questions"`
	Elapsed        *float64 `json:"elapsed,omitempty"`
}

// AnswerSubmittedPayload is the server's acknowledgement to the submitter.
type AnswerSubmittedPayload struct {
	IsCorrect     bool `json:"is_correct"`
	PointsAwarded int  `json:"points_awarded"`
	TotalScore    int  `json:"total_score"`
}

// AnswerReceivedPayload updates the host's per-question aggregate.
type AnswerReceivedPayload struct {
	AnsweredCount int `json:"answered_count"`
}

type ParticipantJoinedPayload struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
}

type ParticipantConnectedPayload struct {
	OnlineCount int `json:"online_count"`
}

type ParticipantDisconnectedPayload struct {
	OnlineCount int `json:"online_count"`
}

// AnswerRevealedPayload exposes correctness, per-question stats and the
// updated leaderboard.
type AnswerRevealedPayload struct {
	QuestionID    string             `json:"question_id"`
	Answers       []Answer           `json:"answers"`
	Leaderboard   []LeaderboardEntry `json:"leaderboard"`
	Stats         QuestionStats      `json:"stats"`
	PlayerResults []PlayerResult     `json:"player_results"`
}

type GameEndedPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// ErrorPayload is an application-level notice. It never changes phase.
type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ParsePayload decodes an envelope's data into the payload struct for its
// type. Unknown types return (nil, nil) so callers can ignore them without
// treating them as malformed.
func ParsePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeAuthOK:
		return nil, nil

	case TypeGameStarted:
		var p GameStartedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeNewQuestion:
		var p NewQuestionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAnswerSubmitted:
		var p AnswerSubmittedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAnswerReceived:
		var p AnswerReceivedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeParticipantJoined:
		var p ParticipantJoinedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeParticipantConnected:
		var p ParticipantConnectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeParticipantDisconnected:
		var p ParticipantDisconnectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeAnswerRevealed:
		var p AnswerRevealedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeGameEnded:
		var p GameEndedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, nil
	}
}
