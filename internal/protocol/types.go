package protocol

// Role identifies which side of a session a connection speaks for.
type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

// Answer is one selectable option of a question. IsCorrect is only populated
// once the server has revealed the question.
type Answer struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Order     int    `json:"order"`
	IsCorrect *bool  `json:"is_correct,omitempty"`
}

// LeaderboardEntry carries a server-assigned rank. Ranks are dense and
// tie-broken by the server; clients display them as delivered and never
// re-sort.
type LeaderboardEntry struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// QuestionStats aggregates responses for a revealed question.
type QuestionStats struct {
	TotalResponses int `json:"total_responses"`
	CorrectCount   int `json:"correct_count"`
}

// PlayerResult is one participant's outcome for a revealed question.
type PlayerResult struct {
	ParticipantID string `json:"participant_id"`
	Nickname      string `json:"nickname"`
	AnswerID      string `json:"answer_id,omitempty"`
	IsCorrect     bool   `json:"is_correct"`
}
