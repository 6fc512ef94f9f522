package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"classquiz-service/internal/domain"
)

// Outbound event names on the wire.
const (
	EventQuestion    = "question-broadcast"
	EventAnswerAck   = "answer-ack"
	EventResults     = "question-results"
	EventScoreUpdate = "score-update"
	EventSessionEnd  = "session-end"
)

// SessionRepository abstracts how live session state is stored (in-memory,
// Redis-backed, etc).
type SessionRepository interface {
	// GetOrCreate returns the session for key, building it with create when
	// absent. The second result reports whether a new session was created.
	GetOrCreate(key SessionKey, create func() *Session) (*Session, bool)
	Get(key SessionKey) (*Session, bool)
	Delete(key SessionKey)
}

// QuestionRepository loads the question sequence for a session code
// (from cache/backing store).
type QuestionRepository interface {
	GetQuestions(ctx context.Context, sessionCode string) ([]domain.Question, error)
}

// Persistence is the durable-storage collaborator. All calls are best-effort
// from the core's point of view: failures are logged and the in-memory state
// stays authoritative.
type Persistence interface {
	FindSession(ctx context.Context, code string) (domain.SessionRecord, error)
	UpdateSessionStatus(ctx context.Context, code, status string) error
	UpsertScore(ctx context.Context, code, participantID string, score int) error
	SaveLeaderboard(ctx context.Context, code string, entries []domain.LeaderboardEntry) error
}

// Emitter is the room-broadcast primitive of the socket layer.
type Emitter interface {
	BroadcastToRoom(room, event string, payload any)
	SendToConnection(connID, event string, payload any)
}

// ScheduleFunc schedules fn after d and returns a cancel function. The
// default wraps time.AfterFunc; tests substitute a manual trigger.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func() bool)

// ServiceConfig carries the tunables of the session engine.
type ServiceConfig struct {
	Scoring ScoringConfig
	// Grace widens the answer deadline to absorb network latency.
	Grace time.Duration
}

// DefaultServiceConfig mirrors the platform defaults (500ms grace).
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Scoring: DefaultScoring(), Grace: 500 * time.Millisecond}
}

// SessionService contains the session engine use cases: start, join, answer
// intake, pause/resume, manual advance, and timer expiration.
type SessionService struct {
	store     SessionRepository
	questions QuestionRepository
	persist   Persistence
	emitter   Emitter
	cfg       ServiceConfig
	log       *zap.Logger

	now      func() time.Time
	schedule ScheduleFunc
}

func NewSessionService(store SessionRepository, questions QuestionRepository, persist Persistence, emitter Emitter, cfg ServiceConfig, log *zap.Logger) *SessionService {
	if cfg.Scoring.TotalBudget == 0 {
		cfg.Scoring = DefaultScoring()
	}
	if cfg.Grace == 0 {
		cfg.Grace = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		store:     store,
		questions: questions,
		persist:   persist,
		emitter:   emitter,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		schedule: func(d time.Duration, fn func()) func() bool {
			t := time.AfterFunc(d, fn)
			return t.Stop
		},
	}
}

// WithClock is test-only: it substitutes the wall clock and the timer
// scheduler for deterministic runs.
func (svc *SessionService) WithClock(now func() time.Time, schedule ScheduleFunc) *SessionService {
	svc.now = now
	svc.schedule = schedule
	return svc
}

// LiveKey addresses the shared session for a code.
func LiveKey(code string) SessionKey { return SessionKey{Code: code} }

// DeferredKey addresses one participant's independent replay.
func DeferredKey(code, participantID string) SessionKey {
	return SessionKey{Code: code, ParticipantID: participantID}
}

// StartOptions configures session creation by the owner.
type StartOptions struct {
	// AutoProgress advances to the next question on timer expiration; when a
	// DashboardID is linked the session is teacher-driven instead.
	AutoProgress bool
	// DashboardID links the session to a teacher dashboard for manual control.
	DashboardID string
}

// StartSession materializes the live session for code with an eager snapshot
// of its questions and begins the first one. Starting a session that was
// pre-created by an eager participant join adopts it.
func (svc *SessionService) StartSession(ctx context.Context, code, requesterID string, opts StartOptions) error {
	qs, err := svc.questions.GetQuestions(ctx, code)
	if err != nil {
		return fmt.Errorf("load questions for %q: %w", code, err)
	}
	if len(qs) == 0 {
		return domain.ErrQuestionsNotFound
	}

	if _, err := svc.persist.FindSession(ctx, code); err != nil {
		svc.log.Warn("session record lookup failed, continuing with in-memory state",
			zap.String("session", code), zap.Error(err))
	}

	key := LiveKey(code)
	session, _ := svc.store.GetOrCreate(key, func() *Session {
		return newSession(key, domain.KindLive, svc.now, svc.log)
	})

	session.mu.Lock()
	if len(session.questions) > 0 {
		session.mu.Unlock()
		svc.log.Warn("ignoring duplicate session start", zap.String("session", code))
		return nil
	}
	session.ownerID = requesterID
	session.dashboardID = opts.DashboardID
	session.autoProgress = opts.AutoProgress && opts.DashboardID == ""
	session.questions = qs
	session.mu.Unlock()

	if err := svc.persist.UpdateSessionStatus(ctx, code, domain.StatusInProgress); err != nil {
		svc.log.Error("persist session status", zap.String("session", code), zap.Error(err))
	}

	svc.beginQuestion(session, 0)
	return nil
}

// Join registers a participant. Live sessions are created on first join if
// the owner has not started them yet (the question snapshot waits for the
// start). Deferred joins build a fully isolated per-participant replay and
// start it immediately.
func (svc *SessionService) Join(ctx context.Context, code, participantID, displayName, avatar, connID string, deferred bool) error {
	if deferred {
		return svc.joinDeferred(ctx, code, participantID, displayName, avatar, connID)
	}

	key := LiveKey(code)
	session, created := svc.store.GetOrCreate(key, func() *Session {
		return newSession(key, domain.KindLive, svc.now, svc.log)
	})
	if created {
		svc.log.Info("session materialized by first join", zap.String("session", code))
	}
	session.join(participantID, displayName, avatar, connID)

	// A late joiner (or a rejoin after disconnect) gets the active question
	// privately so they can answer before expiration.
	session.mu.RLock()
	if q, ok := session.currentQuestionLocked(); ok && !session.questionClosed && connID != "" {
		payload := domain.QuestionBroadcast{
			Question:     q.Public(),
			Index:        session.currentIdx,
			Total:        len(session.questions),
			TimeLimitSec: q.TimeLimitSec,
			State:        session.stateLabelLocked(),
		}
		session.mu.RUnlock()
		svc.emitter.SendToConnection(connID, EventQuestion, payload)
		return nil
	}
	session.mu.RUnlock()
	return nil
}

func (svc *SessionService) joinDeferred(ctx context.Context, code, participantID, displayName, avatar, connID string) error {
	if participantID == "" {
		return domain.ErrParticipantRequired
	}
	qs, err := svc.questions.GetQuestions(ctx, code)
	if err != nil {
		return fmt.Errorf("load questions for deferred %q: %w", code, err)
	}
	if len(qs) == 0 {
		return domain.ErrQuestionsNotFound
	}

	key := DeferredKey(code, participantID)
	session, created := svc.store.GetOrCreate(key, func() *Session {
		s := newSession(key, domain.KindDeferred, svc.now, svc.log)
		s.autoProgress = true
		s.questions = qs
		return s
	})
	session.join(participantID, displayName, avatar, connID)
	if created {
		svc.beginQuestion(session, 0)
	}
	return nil
}

// Disconnect drops the live connection mapping; the participant and their
// answers remain in the session.
func (svc *SessionService) Disconnect(key SessionKey, connID string) {
	if session, ok := svc.store.Get(key); ok {
		session.dropConnection(connID)
	}
}

// Pause suspends the active question: the countdown freezes, the pending
// expiration is cancelled, and submissions stay open without a deadline.
func (svc *SessionService) Pause(ctx context.Context, code, requesterID string) error {
	session, err := svc.ownedSession(code, requesterID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	q, ok := session.currentQuestionLocked()
	if !ok || session.paused || session.stopped || session.questionClosed {
		session.mu.Unlock()
		return domain.ErrSessionNotRunning
	}
	t := session.timerLocked(q)
	if !t.pause(svc.now()) {
		session.mu.Unlock()
		return domain.ErrSessionNotRunning
	}
	session.paused = true
	session.pausedRemaining = t.timeLeft
	session.cancelExpireLocked()
	payload := svc.questionPayloadLocked(session, q)
	room := session.key.Room()
	session.mu.Unlock()

	svc.log.Info("session paused", zap.String("session", code), zap.Float64("remaining", payload.remaining))
	svc.emitter.BroadcastToRoom(room, EventQuestion, payload.broadcast)
	return nil
}

// Resume rewinds the question-start anchor so elapsed-time math stays
// correct and reschedules the expiration for exactly the remaining budget.
func (svc *SessionService) Resume(ctx context.Context, code, requesterID string) error {
	session, err := svc.ownedSession(code, requesterID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if !session.paused {
		session.mu.Unlock()
		return domain.ErrSessionNotPaused
	}
	q, ok := session.currentQuestionLocked()
	if !ok {
		session.mu.Unlock()
		return domain.ErrSessionNotRunning
	}

	now := svc.now()
	remaining := session.pausedRemaining
	consumed := float64(q.TimeLimitSec) - remaining
	session.questionStart = now.Add(-time.Duration(consumed * float64(time.Second)))
	session.paused = false
	session.pausedRemaining = 0

	t := session.timerLocked(q)
	t.start(now, 0)
	session.activeTimerID = q.ID

	key := session.key
	session.cancelExpireLocked()
	expireNow := remaining <= 0
	if !expireNow {
		session.cancelExpire = svc.schedule(time.Duration(remaining*float64(time.Second)), func() {
			svc.expireQuestion(key)
		})
	}
	payload := svc.questionPayloadLocked(session, q)
	room := key.Room()
	session.mu.Unlock()

	svc.log.Info("session resumed", zap.String("session", code), zap.Float64("remaining", remaining))
	svc.emitter.BroadcastToRoom(room, EventQuestion, payload.broadcast)
	if expireNow {
		svc.expireQuestion(key)
	}
	return nil
}

// Advance is the teacher's manual trigger: it closes the active question if
// it is still open, otherwise moves to the next one (or ends the session).
func (svc *SessionService) Advance(ctx context.Context, code, requesterID string) error {
	session, err := svc.ownedSession(code, requesterID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	if session.stopped {
		session.mu.Unlock()
		return domain.ErrSessionNotRunning
	}
	if _, ok := session.currentQuestionLocked(); ok && !session.questionClosed {
		session.mu.Unlock()
		svc.expireQuestion(session.key)
		return nil
	}
	next := session.currentIdx + 1
	session.mu.Unlock()

	if next >= session.questionCount() {
		svc.finishSession(context.Background(), session)
		return nil
	}
	svc.beginQuestion(session, next)
	return nil
}

func (s *Session) questionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.questions)
}

func (svc *SessionService) ownedSession(code, requesterID string) (*Session, error) {
	session, ok := svc.store.Get(LiveKey(code))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	session.mu.RLock()
	owner := session.ownerID
	session.mu.RUnlock()
	if owner == "" || owner != requesterID {
		return nil, domain.ErrNotSessionOwner
	}
	return session, nil
}

// beginQuestion activates the question at idx: pointer transition, fresh
// timer, single scheduled expiration, and the room broadcast.
func (svc *SessionService) beginQuestion(session *Session, idx int) {
	session.mu.Lock()
	if idx < 0 || idx >= len(session.questions) {
		session.mu.Unlock()
		svc.log.Error("begin question index out of range",
			zap.String("session", session.key.Code), zap.Int("index", idx))
		return
	}
	q := session.questions[idx]
	now := svc.now()

	t := session.timerLocked(q)
	if !t.start(now, float64(q.TimeLimitSec)) {
		session.mu.Unlock()
		svc.log.Warn("duplicate timer start ignored",
			zap.String("session", session.key.Code), zap.String("question", q.ID))
		return
	}

	session.setCurrentQuestionLocked(idx, q.ID)
	session.questionStart = now
	session.questionClosed = false
	session.paused = false
	session.activeTimerID = q.ID

	// Starting a new question always cancels any prior pending timer.
	session.cancelExpireLocked()
	key := session.key
	if q.TimeLimitSec > 0 {
		session.cancelExpire = svc.schedule(time.Duration(q.TimeLimitSec)*time.Second, func() {
			svc.expireQuestion(key)
		})
	}

	payload := domain.QuestionBroadcast{
		Question:     q.Public(),
		Index:        idx,
		Total:        len(session.questions),
		TimeLimitSec: q.TimeLimitSec,
		State:        session.stateLabelLocked(),
	}
	room := key.Room()
	session.mu.Unlock()

	svc.emitter.BroadcastToRoom(room, EventQuestion, payload)
}

type questionPayload struct {
	broadcast domain.QuestionBroadcast
	remaining float64
}

// questionPayloadLocked builds the question broadcast with the live
// remaining time, for pause/resume state updates.
func (svc *SessionService) questionPayloadLocked(session *Session, q domain.Question) questionPayload {
	remaining := float64(q.TimeLimitSec)
	if t, ok := session.timers[q.ID]; ok {
		remaining = t.remaining(svc.now())
	}
	return questionPayload{
		broadcast: domain.QuestionBroadcast{
			Question:     q.Public(),
			Index:        session.currentIdx,
			Total:        len(session.questions),
			TimeLimitSec: int(math.Ceil(remaining)),
			State:        session.stateLabelLocked(),
		},
		remaining: remaining,
	}
}
