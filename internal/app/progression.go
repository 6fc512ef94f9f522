package app

import (
	"context"

	"go.uber.org/zap"

	"classquiz-service/internal/domain"
)

// expireQuestion is the single entry point for closing a question, whether
// the deadline fired naturally, the teacher force-advanced, or a resume ran
// out the remaining budget. It scores every participant's pending answer,
// emits results, and decides how the session continues.
func (svc *SessionService) expireQuestion(key SessionKey) {
	session, ok := svc.store.Get(key)
	if !ok {
		// A timer that outlived its session; teardown already cancelled the
		// callback, this guards the race.
		svc.log.Debug("expiration fired for deleted session", zap.String("session", key.Code))
		return
	}

	session.mu.Lock()
	if session.paused || session.stopped || session.questionClosed {
		// Exactly one expiration handler runs per question; concurrent and
		// duplicate triggers are absorbed here.
		session.mu.Unlock()
		return
	}
	session.syncWithTimerLocked()

	question, ok := session.currentQuestionLocked()
	if !ok {
		session.mu.Unlock()
		svc.log.Error("no current question at expiration, session stalled and requires manual intervention",
			zap.String("session", key.Code))
		return
	}

	svc.log.Info("question expired",
		zap.String("session", key.Code),
		zap.String("question", question.ID),
		zap.String("type", string(question.Type)))

	totalQuestions := len(session.questions)
	start := session.questionStart

	for _, pid := range session.joinOrder {
		p := session.participants[pid]
		if p.Scored[question.ID] {
			continue
		}
		record, _ := session.answerLocked(pid, question.ID)
		breakdown := CalculateScore(svc.cfg.Scoring, question, record, start, totalQuestions)
		if record == nil {
			record = &domain.AnswerRecord{
				QuestionID:     question.ID,
				ServerReceived: svc.now(),
			}
			session.upsertAnswerLocked(pid, record)
		}
		record.Scored = true
		record.Correct = breakdown.Correct
		record.BaseScore = breakdown.BaseScore
		record.TimePenalty = breakdown.TimePenalty
		record.FinalScore = breakdown.FinalScore

		p.Score += breakdown.FinalScore
		p.Scored[question.ID] = true
	}

	session.questionClosed = true
	session.timerLocked(question).stop()
	session.activeTimerID = ""
	session.cancelExpireLocked()

	entries := session.rankedLocked()
	rankFor := make(map[string]int, len(entries))
	for _, e := range entries {
		rankFor[e.ParticipantID] = e.Rank
	}

	type privateUpdate struct {
		connID string
		update domain.ScoreUpdate
	}
	var privates []privateUpdate
	type scoreFlush struct {
		participantID string
		score         int
	}
	flush := make([]scoreFlush, 0, len(session.joinOrder))
	for _, pid := range session.joinOrder {
		p := session.participants[pid]
		flush = append(flush, scoreFlush{participantID: pid, score: p.Score})
		for _, connID := range session.connectionsForLocked(pid) {
			privates = append(privates, privateUpdate{
				connID: connID,
				update: domain.ScoreUpdate{NewTotalScore: p.Score, CurrentRank: rankFor[pid]},
			})
		}
	}

	var correctTexts []string
	for _, opt := range question.Options {
		if opt.Correct {
			correctTexts = append(correctTexts, opt.Text)
		}
	}
	results := domain.QuestionResults{
		QuestionID:     question.ID,
		CorrectAnswers: correctTexts,
		Leaderboard:    entries,
	}

	manual := session.dashboardID != "" || !session.autoProgress
	nextIdx := -1
	terminal := false
	if !manual {
		if session.currentIdx+1 < totalQuestions {
			nextIdx = session.currentIdx + 1
		} else {
			session.stopped = true
			terminal = true
		}
	}
	room := key.Room()
	code := key.Code
	session.mu.Unlock()

	// In-memory state is committed; everything below is emission and
	// best-effort persistence.
	for _, p := range privates {
		svc.emitter.SendToConnection(p.connID, EventScoreUpdate, p.update)
	}
	svc.emitter.BroadcastToRoom(room, EventResults, results)

	ctx := context.Background()
	for _, f := range flush {
		if err := svc.persist.UpsertScore(ctx, code, f.participantID, f.score); err != nil {
			svc.log.Error("persist score",
				zap.String("session", code),
				zap.String("participant", f.participantID),
				zap.Error(err))
		}
	}

	switch {
	case terminal:
		svc.finishSession(ctx, session)
	case nextIdx >= 0:
		svc.beginQuestion(session, nextIdx)
	default:
		svc.log.Info("question closed, waiting for teacher action", zap.String("session", code))
	}
}

// finishSession runs the terminal flow: cancel all pending timers, broadcast
// the final leaderboard, flush scores and the leaderboard write-back, and
// remove the session from the store.
func (svc *SessionService) finishSession(ctx context.Context, session *Session) {
	session.mu.Lock()
	session.stopped = true
	session.cancelExpireLocked()
	for _, t := range session.timers {
		if t.status == timerRunning {
			t.stop()
		}
	}
	entries := session.rankedLocked()
	type scoreFlush struct {
		participantID string
		score         int
	}
	flush := make([]scoreFlush, 0, len(session.joinOrder))
	for _, pid := range session.joinOrder {
		flush = append(flush, scoreFlush{participantID: pid, score: session.participants[pid].Score})
	}
	key := session.key
	room := key.Room()
	session.mu.Unlock()

	svc.emitter.BroadcastToRoom(room, EventSessionEnd, domain.SessionEnd{Leaderboard: entries})

	for _, f := range flush {
		if err := svc.persist.UpsertScore(ctx, key.Code, f.participantID, f.score); err != nil {
			svc.log.Error("flush score",
				zap.String("session", key.Code),
				zap.String("participant", f.participantID),
				zap.Error(err))
		}
	}
	if err := svc.persist.SaveLeaderboard(ctx, key.Code, entries); err != nil {
		svc.log.Error("save leaderboard", zap.String("session", key.Code), zap.Error(err))
	}
	if key.ParticipantID == "" {
		if err := svc.persist.UpdateSessionStatus(ctx, key.Code, domain.StatusFinished); err != nil {
			svc.log.Error("persist session status", zap.String("session", key.Code), zap.Error(err))
		}
	}

	svc.store.Delete(key)
	svc.log.Info("session finished", zap.String("session", key.Code),
		zap.String("kind", string(session.kind)))
}
