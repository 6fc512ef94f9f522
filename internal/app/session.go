package app

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"classquiz-service/internal/domain"
)

// SessionKey identifies a session in the store. Live sessions are keyed by
// code alone; deferred replays are keyed per participant so their answer and
// score state never leaks across users.
type SessionKey struct {
	Code          string
	ParticipantID string
}

// Room is the broadcast room name for this session.
func (k SessionKey) Room() string {
	if k.ParticipantID != "" {
		return "deferred_" + k.Code + "_" + k.ParticipantID
	}
	return "session_" + k.Code
}

// Session is the authoritative in-memory record for one running session.
// All mutation happens under mu; each inbound event is one atomic
// read-mutate-emit transaction against it.
type Session struct {
	key  SessionKey
	kind domain.SessionKind

	mu  sync.RWMutex
	now func() time.Time
	log *zap.Logger

	ownerID      string
	dashboardID  string // linked teacher dashboard; manual progression when set
	autoProgress bool

	// questions is the snapshot taken at session start.
	questions         []domain.Question
	currentIdx        int
	currentQuestionID string
	questionStart     time.Time
	questionClosed    bool // current question scored, awaiting advance

	paused          bool
	pausedRemaining float64
	stopped         bool

	participants map[string]*domain.Participant
	joinOrder    []string
	// answers maps participant -> question -> record.
	answers map[string]map[string]*domain.AnswerRecord
	// connections maps live connection IDs to participant IDs. Removed on
	// disconnect while the participant itself survives.
	connections map[string]string

	timers        map[string]*questionTimer
	activeTimerID string
	// cancelExpire clears the single pending expiration callback.
	cancelExpire func() bool
}

func newSession(key SessionKey, kind domain.SessionKind, now func() time.Time, log *zap.Logger) *Session {
	return &Session{
		key:          key,
		kind:         kind,
		now:          now,
		log:          log,
		currentIdx:   -1,
		participants: make(map[string]*domain.Participant),
		answers:      make(map[string]map[string]*domain.AnswerRecord),
		connections:  make(map[string]string),
		timers:       make(map[string]*questionTimer),
	}
}

// Key returns the store key of this session.
func (s *Session) Key() SessionKey { return s.key }

// Kind reports whether this is a live or deferred session.
func (s *Session) Kind() domain.SessionKind { return s.kind }

// join registers or refreshes a participant.
func (s *Session) join(participantID, displayName, avatar, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.participants[participantID]; ok {
		p.DisplayName = displayName
		if avatar != "" {
			p.Avatar = avatar
		}
	} else {
		s.participants[participantID] = &domain.Participant{
			ID:          participantID,
			DisplayName: displayName,
			Avatar:      avatar,
			JoinedAt:    s.now(),
			Scored:      make(map[string]bool),
		}
		s.joinOrder = append(s.joinOrder, participantID)
	}
	if connID != "" {
		s.connections[connID] = participantID
	}
}

// dropConnection removes a live connection mapping. The participant and their
// answers stay so a rejoin before expiration is scored normally.
func (s *Session) dropConnection(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connID)
}

// resolveParticipantLocked finds the acting participant by explicit ID or by
// the connection mapping.
func (s *Session) resolveParticipantLocked(participantID, connID string) (*domain.Participant, bool) {
	if participantID != "" {
		if p, ok := s.participants[participantID]; ok {
			return p, true
		}
	}
	if connID != "" {
		if pid, ok := s.connections[connID]; ok {
			if p, ok := s.participants[pid]; ok {
				return p, true
			}
		}
	}
	return nil, false
}

// setCurrentQuestionLocked is the single mutation path for the current
// question pointer, so every transition is observable in the logs.
func (s *Session) setCurrentQuestionLocked(idx int, questionID string) {
	s.log.Info("current question transition",
		zap.String("session", s.key.Code),
		zap.String("from", s.currentQuestionID),
		zap.String("to", questionID),
		zap.Int("index", idx))
	s.currentIdx = idx
	s.currentQuestionID = questionID
}

// timerLocked lazily creates the timer for a question; one instance per
// (session, question) for the session's lifetime.
func (s *Session) timerLocked(question domain.Question) *questionTimer {
	if t, ok := s.timers[question.ID]; ok {
		return t
	}
	t := newQuestionTimer(question.ID, question.TimeLimitSec)
	s.timers[question.ID] = t
	return t
}

// syncWithTimerLocked enforces the invariant that the current-question
// pointer agrees with the active timer; the timer wins on mismatch.
func (s *Session) syncWithTimerLocked() {
	if s.activeTimerID == "" || s.activeTimerID == s.currentQuestionID {
		return
	}
	t, ok := s.timers[s.activeTimerID]
	if !ok || t.status != timerRunning {
		return
	}
	s.log.Warn("current question pointer out of sync with active timer, adopting timer",
		zap.String("session", s.key.Code),
		zap.String("pointer", s.currentQuestionID),
		zap.String("timer", s.activeTimerID))
	for i, q := range s.questions {
		if q.ID == s.activeTimerID {
			s.setCurrentQuestionLocked(i, q.ID)
			return
		}
	}
}

// currentQuestionLocked resolves the active question definition.
func (s *Session) currentQuestionLocked() (domain.Question, bool) {
	if s.currentIdx < 0 || s.currentIdx >= len(s.questions) {
		return domain.Question{}, false
	}
	q := s.questions[s.currentIdx]
	if q.ID != s.currentQuestionID {
		for _, cand := range s.questions {
			if cand.ID == s.currentQuestionID {
				return cand, true
			}
		}
		return domain.Question{}, false
	}
	return q, true
}

// cancelExpireLocked clears any pending expiration callback.
func (s *Session) cancelExpireLocked() {
	if s.cancelExpire != nil {
		s.cancelExpire()
		s.cancelExpire = nil
	}
}

// upsertAnswerLocked records or overwrites an unscored submission.
func (s *Session) upsertAnswerLocked(participantID string, record *domain.AnswerRecord) (updated bool) {
	byQuestion, ok := s.answers[participantID]
	if !ok {
		byQuestion = make(map[string]*domain.AnswerRecord)
		s.answers[participantID] = byQuestion
	}
	_, updated = byQuestion[record.QuestionID]
	byQuestion[record.QuestionID] = record
	return updated
}

// answerLocked fetches a participant's stored answer for a question.
func (s *Session) answerLocked(participantID, questionID string) (*domain.AnswerRecord, bool) {
	byQuestion, ok := s.answers[participantID]
	if !ok {
		return nil, false
	}
	rec, ok := byQuestion[questionID]
	return rec, ok
}

// rankedLocked returns the leaderboard ordered by score descending, ties
// broken by join order (first joined ranks higher).
func (s *Session) rankedLocked() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.joinOrder))
	for _, pid := range s.joinOrder {
		p := s.participants[pid]
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Avatar:        p.Avatar,
			Score:         p.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// connectionsForLocked returns the live connection IDs of a participant.
func (s *Session) connectionsForLocked(participantID string) []string {
	var conns []string
	for connID, pid := range s.connections {
		if pid == participantID {
			conns = append(conns, connID)
		}
	}
	return conns
}

// stateLabelLocked is the state string carried in question broadcasts.
func (s *Session) stateLabelLocked() string {
	switch {
	case s.stopped:
		return "stopped"
	case s.paused:
		return "paused"
	default:
		return "running"
	}
}

// RemainingTime exposes the live countdown of the active question in seconds.
func (s *Session) RemainingTime() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.timers[s.currentQuestionID]; ok {
		return t.remaining(s.now())
	}
	return 0
}
