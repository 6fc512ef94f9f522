package domain

import "time"

// QuestionType discriminates how a submitted answer is interpreted and scored.
type QuestionType string

const (
	SingleChoice    QuestionType = "single-choice"
	MultiChoice     QuestionType = "multi-choice"
	FreeTextNumeric QuestionType = "free-text-numeric"
)

// Option represents one possible answer for a question.
type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question is an immutable question definition. Sessions snapshot their
// question list at start, so later content edits never affect a running session.
type Question struct {
	ID           string       `json:"id"`
	Type         QuestionType `json:"type"`
	Prompt       string       `json:"prompt"`
	Options      []Option     `json:"options"`
	TimeLimitSec int          `json:"timeLimitSec"`
}

// CorrectIndices returns the indices of all correct options.
func (q Question) CorrectIndices() []int {
	var idx []int
	for i, opt := range q.Options {
		if opt.Correct {
			idx = append(idx, i)
		}
	}
	return idx
}

// PublicQuestion is the question as broadcast to participants, with
// correctness flags stripped.
type PublicQuestion struct {
	ID           string       `json:"id"`
	Type         QuestionType `json:"type"`
	Prompt       string       `json:"prompt"`
	Options      []string     `json:"options"`
	TimeLimitSec int          `json:"timeLimitSec"`
}

// Public strips the correctness flags for broadcast.
func (q Question) Public() PublicQuestion {
	options := make([]string, len(q.Options))
	for i, opt := range q.Options {
		options[i] = opt.Text
	}
	return PublicQuestion{
		ID:           q.ID,
		Type:         q.Type,
		Prompt:       q.Prompt,
		Options:      options,
		TimeLimitSec: q.TimeLimitSec,
	}
}

// SessionKind distinguishes a shared live session from a per-participant
// deferred replay.
type SessionKind string

const (
	KindLive     SessionKind = "live"
	KindDeferred SessionKind = "deferred"
)

// Session lifecycle statuses persisted to storage.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
)

// Participant is one user's membership in a session. It survives disconnects;
// only the live connection mapping is dropped.
type Participant struct {
	ID          string
	DisplayName string
	Avatar      string
	Score       int
	// JoinedAt provides the stable tie-break order for ranks.
	JoinedAt time.Time
	// Scored marks question IDs whose result was already folded into Score.
	Scored map[string]bool
}

// AnswerValue carries the raw submitted answer. Exactly one field is set
// depending on the question type.
type AnswerValue struct {
	Index   *int  `json:"index,omitempty"`
	Indices []int `json:"indices,omitempty"`
	Text    string `json:"text,omitempty"`
}

// AnswerRecord is one participant's submission for one question. It is an
// upsert target until the question is scored, then immutable.
type AnswerRecord struct {
	QuestionID      string
	Value           AnswerValue
	ClientTimestamp int64 // unix millis as reported by the client, 0 if absent
	ServerReceived  time.Time
	// Filled in by scoring.
	Scored      bool
	Correct     bool
	BaseScore   int
	TimePenalty int
	FinalScore  int
}

// ScoreBreakdown is the result of scoring one answer.
type ScoreBreakdown struct {
	BaseScore   int
	TimePenalty int
	FinalScore  int
	Correct     bool
}

// LeaderboardEntry is a snapshot-friendly view of a ranked participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Avatar        string `json:"avatar,omitempty"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// SessionRecord is the persisted view of a session consumed by the core.
type SessionRecord struct {
	Code   string
	Status string
}

// QuestionBroadcast announces the active question to a session room.
type QuestionBroadcast struct {
	Question     PublicQuestion `json:"question"`
	Index        int            `json:"index"`
	Total        int            `json:"total"`
	TimeLimitSec int            `json:"timeLimit"`
	State        string         `json:"state"`
}

// AnswerAck is the private acknowledgment sent to a submitter. It never
// reveals correctness; that happens only after the question closes.
type AnswerAck struct {
	QuestionID string `json:"questionId"`
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
}

// QuestionResults is broadcast after a question is scored.
type QuestionResults struct {
	QuestionID     string             `json:"questionId"`
	CorrectAnswers []string           `json:"correctAnswers"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard"`
}

// ScoreUpdate is the private per-participant score notification.
type ScoreUpdate struct {
	NewTotalScore int `json:"newTotalScore"`
	CurrentRank   int `json:"currentRank"`
}

// SessionEnd is the terminal broadcast.
type SessionEnd struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}
