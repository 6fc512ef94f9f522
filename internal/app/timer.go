package app

import "time"

type timerStatus string

const (
	timerStopped timerStatus = "stopped"
	timerRunning timerStatus = "running"
	timerPaused  timerStatus = "paused"
)

// questionTimer tracks the countdown for one (session, question) pair. There
// is no ticking goroutine: remaining time is reconstructed lazily from the
// anchor timestamp, so every observer computes the same value.
type questionTimer struct {
	questionID string
	status     timerStatus
	// timeLeft is the remaining budget in seconds as of the last transition.
	timeLeft float64
	// initial is the question's configured limit, used by stop() to reset.
	initial float64
	// anchor is the wall-clock instant of the last start; zero unless running.
	anchor time.Time
}

func newQuestionTimer(questionID string, limitSec int) *questionTimer {
	return &questionTimer{
		questionID: questionID,
		status:     timerStopped,
		timeLeft:   float64(limitSec),
		initial:    float64(limitSec),
	}
}

// start transitions to running. From paused it resumes with the remaining
// budget untouched; otherwise timeLeft is set to seconds (or the configured
// limit when seconds <= 0). Returns false for the duplicate-start no-op and
// for resuming an exhausted timer.
func (t *questionTimer) start(now time.Time, seconds float64) bool {
	if t.status == timerRunning && t.remaining(now) > 0 {
		return false
	}
	if t.status == timerPaused {
		if t.timeLeft <= 0 {
			return false
		}
	} else {
		if seconds <= 0 {
			seconds = t.initial
		}
		t.timeLeft = seconds
	}
	t.status = timerRunning
	t.anchor = now
	return true
}

// pause freezes the countdown, folding the elapsed time into timeLeft.
// Returns false when the timer is not running.
func (t *questionTimer) pause(now time.Time) bool {
	if t.status != timerRunning || t.anchor.IsZero() {
		return false
	}
	elapsed := now.Sub(t.anchor).Seconds()
	t.timeLeft = t.timeLeft - elapsed
	if t.timeLeft < 0 {
		t.timeLeft = 0
	}
	t.status = timerPaused
	t.anchor = time.Time{}
	return true
}

// stop resets the timer to its full configured time, ready for reuse.
func (t *questionTimer) stop() {
	t.status = timerStopped
	t.timeLeft = t.initial
	t.anchor = time.Time{}
}

// remaining returns the live countdown value in seconds.
func (t *questionTimer) remaining(now time.Time) float64 {
	if t.status != timerRunning || t.anchor.IsZero() {
		return t.timeLeft
	}
	left := t.timeLeft - now.Sub(t.anchor).Seconds()
	if left < 0 {
		return 0
	}
	return left
}
