package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a session has not been materialized.
	ErrSessionNotFound = errors.New("session not found")
	// ErrParticipantNotFound is returned when a user acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrParticipantRequired is returned for deferred joins without a
	// participant id, which would otherwise collide with the live session.
	ErrParticipantRequired = errors.New("participant id required for deferred session")
	// ErrQuestionsNotFound indicates the question set could not be loaded.
	ErrQuestionsNotFound = errors.New("questions not found for session")
	// ErrNotSessionOwner is returned for teacher-only actions from non-owners.
	ErrNotSessionOwner = errors.New("requester does not own the session")
	// ErrSessionNotPaused is returned when resuming a session that is not paused.
	ErrSessionNotPaused = errors.New("session is not paused")
	// ErrSessionNotRunning is returned when pausing a session with no active question.
	ErrSessionNotRunning = errors.New("session has no running question")
)

// RejectReason identifies why an answer submission was refused. Rejections
// are values returned to the submitter, never errors.
type RejectReason string

const (
	RejectStateError         RejectReason = "state_error"
	RejectPlayerNotFound     RejectReason = "player_not_found"
	RejectQuestionNotStarted RejectReason = "question_not_started"
	RejectWrongQuestion      RejectReason = "wrong_question"
	RejectStopped            RejectReason = "stopped"
	RejectTooLate            RejectReason = "too_late"
)

// rejectMessages are the short human-readable texts shown to submitters,
// intentionally distinct from the internal reason codes.
var rejectMessages = map[RejectReason]string{
	RejectStateError:         "Session error, please retry.",
	RejectPlayerNotFound:     "You have not joined this session.",
	RejectQuestionNotStarted: "The question has not started yet.",
	RejectWrongQuestion:      "That question is no longer active.",
	RejectStopped:            "Too late, the question is closed!",
	RejectTooLate:            "Too late!",
}

// Message returns the user-facing text for a rejection.
func (r RejectReason) Message() string {
	if msg, ok := rejectMessages[r]; ok {
		return msg
	}
	return "Submission refused."
}
