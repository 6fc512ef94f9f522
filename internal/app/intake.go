package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"classquiz-service/internal/domain"
)

// Submission is an inbound answer from a participant.
type Submission struct {
	SessionCode   string
	ParticipantID string
	ConnID        string
	QuestionID    string
	Value         domain.AnswerValue
	// ClientTimestamp is the client-reported unix-milli submission time; zero
	// when the client did not report one.
	ClientTimestamp int64
}

// SubmitAnswer validates a submission against the session's current question
// and timing window, records it on acceptance, and acknowledges the
// submitter privately. The acknowledgment never reveals correctness.
func (svc *SessionService) SubmitAnswer(ctx context.Context, sub Submission) domain.AnswerAck {
	received := svc.now()

	session, ok := svc.resolveSession(sub.SessionCode, sub.ParticipantID)
	if !ok {
		return svc.reject(sub, domain.RejectStateError)
	}

	session.mu.Lock()
	session.syncWithTimerLocked()

	participant, ok := session.resolveParticipantLocked(sub.ParticipantID, sub.ConnID)
	if !ok {
		session.mu.Unlock()
		return svc.reject(sub, domain.RejectPlayerNotFound)
	}

	question, ok := session.currentQuestionLocked()
	if !ok || session.questionStart.IsZero() {
		session.mu.Unlock()
		return svc.reject(sub, domain.RejectQuestionNotStarted)
	}

	if sub.QuestionID != question.ID {
		// Stale submissions from a previous question are dropped from
		// scoring consideration entirely.
		session.mu.Unlock()
		return svc.reject(sub, domain.RejectWrongQuestion)
	}

	if session.stopped || session.questionClosed {
		session.mu.Unlock()
		return svc.reject(sub, domain.RejectStopped)
	}
	if t, ok := session.timers[question.ID]; ok && t.status == timerStopped {
		session.mu.Unlock()
		return svc.reject(sub, domain.RejectStopped)
	}

	// A paused question never penalizes students for the teacher's pause
	// duration: the deadline is suspended entirely. Untimed questions have no
	// deadline at all.
	if !session.paused && question.TimeLimitSec > 0 {
		deadline := time.Duration(question.TimeLimitSec)*time.Second + svc.cfg.Grace
		if received.Sub(session.questionStart) > deadline {
			session.mu.Unlock()
			return svc.reject(sub, domain.RejectTooLate)
		}
	}

	record := &domain.AnswerRecord{
		QuestionID:      question.ID,
		Value:           sub.Value,
		ClientTimestamp: sub.ClientTimestamp,
		ServerReceived:  received,
	}
	updated := session.upsertAnswerLocked(participant.ID, record)
	session.mu.Unlock()

	svc.log.Debug("answer recorded",
		zap.String("session", sub.SessionCode),
		zap.String("participant", participant.ID),
		zap.String("question", question.ID),
		zap.Bool("updated", updated))

	message := "Answer recorded."
	if updated {
		message = "Answer updated."
	}
	ack := domain.AnswerAck{QuestionID: sub.QuestionID, Accepted: true, Message: message}
	if sub.ConnID != "" {
		svc.emitter.SendToConnection(sub.ConnID, EventAnswerAck, ack)
	}
	return ack
}

// resolveSession finds the state an answer applies to: the participant's
// deferred replay when one exists, else the live session.
func (svc *SessionService) resolveSession(code, participantID string) (*Session, bool) {
	if participantID != "" {
		if session, ok := svc.store.Get(DeferredKey(code, participantID)); ok {
			return session, true
		}
	}
	return svc.store.Get(LiveKey(code))
}

func (svc *SessionService) reject(sub Submission, reason domain.RejectReason) domain.AnswerAck {
	svc.log.Warn("answer rejected",
		zap.String("session", sub.SessionCode),
		zap.String("participant", sub.ParticipantID),
		zap.String("question", sub.QuestionID),
		zap.String("reason", string(reason)))
	ack := domain.AnswerAck{
		QuestionID: sub.QuestionID,
		Accepted:   false,
		Reason:     string(reason),
		Message:    reason.Message(),
	}
	if sub.ConnID != "" {
		svc.emitter.SendToConnection(sub.ConnID, EventAnswerAck, ack)
	}
	return ack
}
