package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classquiz-service/internal/domain"
)

// fakeStore is a map-backed SessionRepository for tests.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[SessionKey]*Session
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[SessionKey]*Session)}
}

func (s *fakeStore) GetOrCreate(key SessionKey, create func() *Session) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.sessions[key]; ok {
		return session, false
	}
	session := create()
	s.sessions[key] = session
	return session, true
}

func (s *fakeStore) Get(key SessionKey) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[key]
	return session, ok
}

func (s *fakeStore) Delete(key SessionKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
}

type fakeQuestions struct {
	sets map[string][]domain.Question
}

func (f *fakeQuestions) GetQuestions(_ context.Context, code string) ([]domain.Question, error) {
	if qs, ok := f.sets[code]; ok {
		return qs, nil
	}
	return nil, domain.ErrQuestionsNotFound
}

type fakePersistence struct {
	mu           sync.Mutex
	statuses     map[string]string
	scores       map[string]map[string]int
	leaderboards map[string][]domain.LeaderboardEntry
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		statuses:     make(map[string]string),
		scores:       make(map[string]map[string]int),
		leaderboards: make(map[string][]domain.LeaderboardEntry),
	}
}

func (f *fakePersistence) FindSession(_ context.Context, code string) (domain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status, ok := f.statuses[code]; ok {
		return domain.SessionRecord{Code: code, Status: status}, nil
	}
	return domain.SessionRecord{}, domain.ErrSessionNotFound
}

func (f *fakePersistence) UpdateSessionStatus(_ context.Context, code, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[code] = status
	return nil
}

func (f *fakePersistence) UpsertScore(_ context.Context, code, participantID string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scores[code] == nil {
		f.scores[code] = make(map[string]int)
	}
	f.scores[code][participantID] = score
	return nil
}

func (f *fakePersistence) SaveLeaderboard(_ context.Context, code string, entries []domain.LeaderboardEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboards[code] = entries
	return nil
}

func (f *fakePersistence) score(code, participantID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scores[code][participantID]
}

func (f *fakePersistence) status(code string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[code]
}

type emitted struct {
	room    string
	connID  string
	event   string
	payload any
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *fakeEmitter) BroadcastToRoom(room, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{room: room, event: event, payload: payload})
}

func (e *fakeEmitter) SendToConnection(connID, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{connID: connID, event: event, payload: payload})
}

func (e *fakeEmitter) byEvent(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (e *fakeEmitter) last(event string) (emitted, bool) {
	all := e.byEvent(event)
	if len(all) == 0 {
		return emitted{}, false
	}
	return all[len(all)-1], true
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type scheduledCall struct {
	d         time.Duration
	fn        func()
	cancelled bool
}

// manualScheduler captures expiration callbacks so tests fire them explicitly.
type manualScheduler struct {
	mu      sync.Mutex
	pending []*scheduledCall
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := &scheduledCall{d: d, fn: fn}
	s.pending = append(s.pending, call)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		already := call.cancelled
		call.cancelled = true
		return !already
	}
}

// fire runs all pending non-cancelled callbacks. Callbacks may schedule new
// ones; those wait for the next fire.
func (s *manualScheduler) fire() int {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	fired := 0
	for _, call := range batch {
		if call.cancelled {
			continue
		}
		call.fn()
		fired++
	}
	return fired
}

func (s *manualScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, call := range s.pending {
		if !call.cancelled {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *SessionService
	store   *fakeStore
	persist *fakePersistence
	emitter *fakeEmitter
	clock   *fakeClock
	sched   *manualScheduler
}

func newFixture(t *testing.T, questions map[string][]domain.Question) *fixture {
	t.Helper()
	f := &fixture{
		store:   newFakeStore(),
		persist: newFakePersistence(),
		emitter: &fakeEmitter{},
		clock:   &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		sched:   &manualScheduler{},
	}
	f.svc = NewSessionService(f.store, &fakeQuestions{sets: questions}, f.persist, f.emitter, DefaultServiceConfig(), nil).
		WithClock(f.clock.Now, f.sched.schedule)
	return f
}

func twoQuestionSet() map[string][]domain.Question {
	return map[string][]domain.Question{
		"session-1": {
			{
				ID:   "q1",
				Type: domain.SingleChoice,
				Options: []domain.Option{
					{Text: "3"},
					{Text: "4", Correct: true},
				},
				TimeLimitSec: 20,
			},
			{
				ID:   "q2",
				Type: domain.SingleChoice,
				Options: []domain.Option{
					{Text: "red", Correct: true},
					{Text: "blue"},
				},
				TimeLimitSec: 20,
			},
		},
	}
}

func submit(f *fixture, pid, qid string, index int) domain.AnswerAck {
	return f.svc.SubmitAnswer(context.Background(), Submission{
		SessionCode:   "session-1",
		ParticipantID: pid,
		QuestionID:    qid,
		Value:         domain.AnswerValue{Index: &index},
	})
}

func TestAutoProgressLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "conn-a", false); err != nil {
		t.Fatalf("join alice: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "bob", "Bob", "", "conn-b", false); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("expected alice accepted, got %+v", ack)
	}

	// Deadline fires, q1 is scored and q2 begins automatically.
	f.clock.Advance(20 * time.Second)
	if f.sched.fire() != 1 {
		t.Fatalf("expected one expiration to fire")
	}

	results, ok := f.emitter.last(EventResults)
	if !ok {
		t.Fatalf("expected question results broadcast")
	}
	qr := results.payload.(domain.QuestionResults)
	if qr.QuestionID != "q1" || len(qr.CorrectAnswers) != 1 || qr.CorrectAnswers[0] != "4" {
		t.Fatalf("unexpected results payload: %+v", qr)
	}
	if qr.Leaderboard[0].ParticipantID != "alice" || qr.Leaderboard[0].Rank != 1 {
		t.Fatalf("expected alice leading, got %+v", qr.Leaderboard)
	}

	broadcasts := f.emitter.byEvent(EventQuestion)
	lastQ := broadcasts[len(broadcasts)-1].payload.(domain.QuestionBroadcast)
	if lastQ.Question.ID != "q2" {
		t.Fatalf("expected q2 broadcast, got %+v", lastQ)
	}

	// Bob answers q2; the second deadline ends the session.
	if ack := submit(f, "bob", "q2", 0); !ack.Accepted {
		t.Fatalf("expected bob accepted, got %+v", ack)
	}
	f.clock.Advance(20 * time.Second)
	if f.sched.fire() != 1 {
		t.Fatalf("expected second expiration to fire")
	}

	end, ok := f.emitter.last(EventSessionEnd)
	if !ok {
		t.Fatalf("expected session end broadcast")
	}
	final := end.payload.(domain.SessionEnd)
	if len(final.Leaderboard) != 2 {
		t.Fatalf("expected two entries, got %+v", final.Leaderboard)
	}

	if _, ok := f.store.Get(LiveKey("session-1")); ok {
		t.Fatalf("expected session removed from store after finish")
	}
	if f.persist.status("session-1") != domain.StatusFinished {
		t.Fatalf("expected finished status, got %q", f.persist.status("session-1"))
	}
	if f.persist.score("session-1", "alice") == 0 || f.persist.score("session-1", "bob") == 0 {
		t.Fatalf("expected persisted scores, got %+v", f.persist.scores)
	}
}

func TestLateSubmissionBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Exactly at limit + grace the submission still counts.
	f.clock.Advance(20*time.Second + 500*time.Millisecond)
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("expected acceptance at the grace boundary, got %+v", ack)
	}

	// One millisecond past the grace window it is rejected.
	f.clock.Advance(time.Millisecond)
	ack := submit(f, "alice", "q1", 1)
	if ack.Accepted || ack.Reason != string(domain.RejectTooLate) {
		t.Fatalf("expected too_late rejection, got %+v", ack)
	}
}

func TestUntimedQuestionHasNoDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]domain.Question{
		"session-1": {
			{
				ID:   "q1",
				Type: domain.SingleChoice,
				Options: []domain.Option{
					{Text: "3"},
					{Text: "4", Correct: true},
				},
				TimeLimitSec: 0,
			},
		},
	})

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if f.sched.pendingCount() != 0 {
		t.Fatalf("expected no scheduled expiration for an untimed question")
	}

	// The question stays open however long the participant takes.
	f.clock.Advance(time.Hour)
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("expected acceptance without a limit, got %+v", ack)
	}
}

func TestPauseSuspendsDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.clock.Advance(7 * time.Second)
	if err := f.svc.Pause(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if f.sched.pendingCount() != 0 {
		t.Fatalf("expected pending expiration cancelled on pause")
	}

	// However long the pause lasts, submissions stay open.
	f.clock.Advance(time.Hour)
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("expected acceptance while paused, got %+v", ack)
	}

	if err := f.svc.Resume(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if f.sched.pendingCount() != 1 {
		t.Fatalf("expected expiration rescheduled on resume")
	}

	session, _ := f.store.Get(LiveKey("session-1"))
	if got := session.RemainingTime(); got != 13 {
		t.Fatalf("expected 13s left after resume, got %v", got)
	}

	// The rescheduled deadline covers only the remaining budget.
	f.clock.Advance(13 * time.Second)
	f.sched.fire()
	if _, ok := f.emitter.last(EventResults); !ok {
		t.Fatalf("expected question scored after resumed deadline")
	}
}

func TestPauseRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := f.svc.Pause(ctx, "session-1", "impostor"); !errors.Is(err, domain.ErrNotSessionOwner) {
		t.Fatalf("expected owner check, got %v", err)
	}
	if err := f.svc.Resume(ctx, "session-1", "teacher-1"); !errors.Is(err, domain.ErrSessionNotPaused) {
		t.Fatalf("expected not-paused error, got %v", err)
	}
}

func TestRejectionReasons(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	// No session at all.
	ack := submit(f, "alice", "q1", 1)
	if ack.Accepted || ack.Reason != string(domain.RejectStateError) {
		t.Fatalf("expected state_error, got %+v", ack)
	}

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Unknown participant.
	ack = submit(f, "ghost", "q1", 1)
	if ack.Accepted || ack.Reason != string(domain.RejectPlayerNotFound) {
		t.Fatalf("expected player_not_found, got %+v", ack)
	}

	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Answer targets a question that is not active.
	ack = submit(f, "alice", "q2", 1)
	if ack.Accepted || ack.Reason != string(domain.RejectWrongQuestion) {
		t.Fatalf("expected wrong_question, got %+v", ack)
	}
}

func TestSubmissionAfterQuestionClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Manual mode: the deadline closes q1 but does not advance.
	f.clock.Advance(20 * time.Second)
	f.sched.fire()

	ack := submit(f, "alice", "q1", 1)
	if ack.Accepted || ack.Reason != string(domain.RejectStopped) {
		t.Fatalf("expected stopped rejection, got %+v", ack)
	}
}

func TestAnswerResubmissionOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	if ack := submit(f, "alice", "q1", 0); !ack.Accepted {
		t.Fatalf("first submit: %+v", ack)
	}
	ack := submit(f, "alice", "q1", 1)
	if !ack.Accepted || ack.Message != "Answer updated." {
		t.Fatalf("expected overwrite ack, got %+v", ack)
	}

	// Only the final submission is scored.
	f.clock.Advance(20 * time.Second)
	f.sched.fire()
	if f.persist.score("session-1", "alice") == 0 {
		t.Fatalf("expected final (correct) answer scored")
	}
}

func TestDoubleExpirationScoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("submit: %+v", ack)
	}

	f.clock.Advance(20 * time.Second)
	f.sched.fire()
	firstScore := f.persist.score("session-1", "alice")

	// A stray duplicate trigger must not double-count.
	f.svc.expireQuestion(LiveKey("session-1"))
	if got := f.persist.score("session-1", "alice"); got != firstScore {
		t.Fatalf("expected score unchanged, got %d then %d", firstScore, got)
	}
	if results := f.emitter.byEvent(EventResults); len(results) != 1 {
		t.Fatalf("expected a single results broadcast, got %d", len(results))
	}
}

func TestManualAdvanceFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{DashboardID: "dash-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("submit: %+v", ack)
	}

	// First advance closes q1 without starting q2.
	if err := f.svc.Advance(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, ok := f.emitter.last(EventResults); !ok {
		t.Fatalf("expected q1 results after manual close")
	}
	session, _ := f.store.Get(LiveKey("session-1"))
	session.mu.RLock()
	closed := session.questionClosed
	idx := session.currentIdx
	session.mu.RUnlock()
	if !closed || idx != 0 {
		t.Fatalf("expected q1 closed without auto advance, closed=%v idx=%d", closed, idx)
	}

	// Second advance starts q2.
	if err := f.svc.Advance(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("advance 2: %v", err)
	}
	last, _ := f.emitter.last(EventQuestion)
	if last.payload.(domain.QuestionBroadcast).Question.ID != "q2" {
		t.Fatalf("expected q2 active, got %+v", last.payload)
	}

	// Close q2, then advance past the last question to finish.
	if err := f.svc.Advance(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("advance 3: %v", err)
	}
	if err := f.svc.Advance(ctx, "session-1", "teacher-1"); err != nil {
		t.Fatalf("advance 4: %v", err)
	}
	if _, ok := f.emitter.last(EventSessionEnd); !ok {
		t.Fatalf("expected session end after final advance")
	}
}

func TestAdvanceRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.Advance(ctx, "session-1", "teacher-1"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	// A session materialized only by an eager join has no owner yet, so
	// control events are rejected.
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := f.svc.Advance(ctx, "session-1", "anyone"); !errors.Is(err, domain.ErrNotSessionOwner) {
		t.Fatalf("expected owner rejection, got %v", err)
	}
}

func TestRejoinReceivesActiveQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "conn-1", false); err != nil {
		t.Fatalf("join: %v", err)
	}

	f.svc.Disconnect(LiveKey("session-1"), "conn-1")
	f.clock.Advance(5 * time.Second)
	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "conn-2", false); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	var got *domain.QuestionBroadcast
	for _, ev := range f.emitter.byEvent(EventQuestion) {
		if ev.connID == "conn-2" {
			qb := ev.payload.(domain.QuestionBroadcast)
			got = &qb
		}
	}
	if got == nil || got.Question.ID != "q1" {
		t.Fatalf("expected private q1 broadcast to the new connection, got %+v", got)
	}

	// The prior answer history survives across the reconnect.
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("expected resubmission after rejoin, got %+v", ack)
	}
}

func TestDeferredSessionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.Join(ctx, "session-1", "alice", "Alice", "", "conn-a", true); err != nil {
		t.Fatalf("join deferred alice: %v", err)
	}
	if _, ok := f.store.Get(DeferredKey("session-1", "alice")); !ok {
		t.Fatalf("expected alice's replay in store")
	}

	// Alice answers and runs her replay to completion.
	if ack := submit(f, "alice", "q1", 1); !ack.Accepted {
		t.Fatalf("submit: %+v", ack)
	}
	f.clock.Advance(20 * time.Second)
	f.sched.fire()
	f.clock.Advance(20 * time.Second)
	f.sched.fire()

	if _, ok := f.store.Get(DeferredKey("session-1", "alice")); ok {
		t.Fatalf("expected alice's replay removed after finishing")
	}

	// Bob's replay starts fresh regardless of alice's run.
	if err := f.svc.Join(ctx, "session-1", "bob", "Bob", "", "conn-b", true); err != nil {
		t.Fatalf("join deferred bob: %v", err)
	}
	bobSession, ok := f.store.Get(DeferredKey("session-1", "bob"))
	if !ok {
		t.Fatalf("expected bob's replay in store")
	}
	bobSession.mu.RLock()
	bobIdx := bobSession.currentIdx
	bobScore := bobSession.participants["bob"].Score
	bobSession.mu.RUnlock()
	if bobIdx != 0 || bobScore != 0 {
		t.Fatalf("expected bob on q1 with zero score, got idx=%d score=%d", bobIdx, bobScore)
	}

	// Deferred replays never flip the shared session status.
	if f.persist.status("session-1") == domain.StatusFinished {
		t.Fatalf("expected live status untouched by deferred replay")
	}
}

func TestDeferredJoinRequiresParticipant(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	err := f.svc.Join(ctx, "session-1", "", "Alice", "", "conn-1", true)
	if !errors.Is(err, domain.ErrParticipantRequired) {
		t.Fatalf("expected participant id requirement, got %v", err)
	}

	// An anonymous deferred key would alias the shared live session; nothing
	// may have been created under it.
	if _, ok := f.store.Get(LiveKey("session-1")); ok {
		t.Fatalf("expected no session created by rejected deferred join")
	}
}

func TestStartSessionWithoutQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string][]domain.Question{})

	err := f.svc.StartSession(ctx, "missing", "teacher-1", StartOptions{})
	if err == nil {
		t.Fatalf("expected error for unknown session code")
	}
}

func TestDuplicateStartIsNoOp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, twoQuestionSet())

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := len(f.emitter.byEvent(EventQuestion))

	if err := f.svc.StartSession(ctx, "session-1", "teacher-1", StartOptions{AutoProgress: true}); err != nil {
		t.Fatalf("duplicate start: %v", err)
	}
	if got := len(f.emitter.byEvent(EventQuestion)); got != before {
		t.Fatalf("expected no new broadcasts on duplicate start, got %d then %d", before, got)
	}
	if f.sched.pendingCount() != 1 {
		t.Fatalf("expected a single pending deadline, got %d", f.sched.pendingCount())
	}
}
