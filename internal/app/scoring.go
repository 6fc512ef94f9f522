package app

import (
	"math"
	"strconv"
	"time"

	"classquiz-service/internal/domain"
)

// PenaltyStrategy selects the time-penalty formula. The source material for
// this scoring model had several competing formulas; the choice is exposed in
// configuration rather than hard-coded.
type PenaltyStrategy string

const (
	// PenaltyProportional deducts up to half the question budget, scaled by
	// the fraction of the allowed time consumed.
	PenaltyProportional PenaltyStrategy = "proportional"
	// PenaltyPerSecond deducts a flat rate per elapsed second.
	PenaltyPerSecond PenaltyStrategy = "per_second"
)

// ScoringConfig parameterizes score computation for a session.
type ScoringConfig struct {
	// TotalBudget is the point pool split evenly across the session's questions.
	TotalBudget int
	// Strategy picks the time-penalty formula.
	Strategy PenaltyStrategy
	// PerSecondRate is the deduction per elapsed second for PenaltyPerSecond,
	// in budget points.
	PerSecondRate float64
}

// DefaultScoring mirrors the platform defaults: a 1000-point session pool
// with the proportional penalty.
func DefaultScoring() ScoringConfig {
	return ScoringConfig{
		TotalBudget:   1000,
		Strategy:      PenaltyProportional,
		PerSecondRate: 0.5,
	}
}

// QuestionBudget is the maximum obtainable score for one question.
func (c ScoringConfig) QuestionBudget(totalQuestions int) int {
	if totalQuestions <= 0 {
		return 0
	}
	return int(math.Round(float64(c.TotalBudget) / float64(totalQuestions)))
}

// CalculateScore computes the score breakdown for one answer. It is a pure
// function: persistence and emission happen in the caller. A nil answer means
// the participant never submitted; the final score is zero and the penalty
// field records the fixed no-answer amount for analytics.
func CalculateScore(cfg ScoringConfig, question domain.Question, answer *domain.AnswerRecord, questionStart time.Time, totalQuestions int) domain.ScoreBreakdown {
	if totalQuestions <= 0 {
		return domain.ScoreBreakdown{}
	}

	budget := float64(cfg.TotalBudget) / float64(totalQuestions)
	budgetInt := int(math.Round(budget))
	maxPenalty := budget / 2

	if answer == nil {
		penalty := 0
		if question.TimeLimitSec > 0 {
			penalty = int(math.Round(maxPenalty))
		}
		return domain.ScoreBreakdown{TimePenalty: penalty}
	}

	base, correct := baseScore(question, answer.Value, budget)
	penalty := timePenalty(cfg, question, answer, questionStart, budget, maxPenalty)

	final := int(math.Round(base - penalty))
	if final < 0 {
		final = 0
	}
	if final > budgetInt {
		final = budgetInt
	}

	return domain.ScoreBreakdown{
		BaseScore:   int(math.Round(base)),
		TimePenalty: int(math.Round(penalty)),
		FinalScore:  final,
		Correct:     correct,
	}
}

// baseScore evaluates correctness and the pre-penalty score in budget units.
func baseScore(question domain.Question, value domain.AnswerValue, budget float64) (float64, bool) {
	correctIdx := question.CorrectIndices()
	if len(correctIdx) == 0 {
		return 0, false
	}

	if question.Type == domain.FreeTextNumeric {
		return freeTextScore(question, value, budget, correctIdx)
	}
	if question.Type == domain.MultiChoice && len(correctIdx) > 1 {
		return multiSelectScore(question, value, budget, correctIdx)
	}

	// Single-choice, or multi-choice with exactly one correct option.
	selected := selectedIndices(value)
	if len(selected) == 1 && selected[0] == correctIdx[0] {
		return budget, true
	}
	return 0, false
}

func freeTextScore(question domain.Question, value domain.AnswerValue, budget float64, correctIdx []int) (float64, bool) {
	submitted, err := strconv.ParseFloat(value.Text, 64)
	if err != nil {
		return 0, false
	}
	for _, i := range correctIdx {
		expected, err := strconv.ParseFloat(question.Options[i].Text, 64)
		if err != nil {
			continue
		}
		if math.Abs(submitted-expected) < 1e-9 {
			return budget, true
		}
	}
	return 0, false
}

// multiSelectScore awards partial credit: each correct selection earns a share
// of the budget, each incorrect selection forfeits one, floored at zero.
func multiSelectScore(question domain.Question, value domain.AnswerValue, budget float64, correctIdx []int) (float64, bool) {
	selected := selectedIndices(value)
	correctSet := make(map[int]bool, len(correctIdx))
	for _, i := range correctIdx {
		correctSet[i] = true
	}

	correctSelected, incorrectSelected := 0, 0
	for _, i := range selected {
		if i < 0 || i >= len(question.Options) {
			incorrectSelected++
			continue
		}
		if correctSet[i] {
			correctSelected++
		} else {
			incorrectSelected++
		}
	}

	score := budget * float64(correctSelected-incorrectSelected) / float64(len(correctIdx))
	if score < 0 {
		score = 0
	}
	if score > budget {
		score = budget
	}
	return score, score > 0
}

func selectedIndices(value domain.AnswerValue) []int {
	if value.Index != nil {
		return []int{*value.Index}
	}
	return value.Indices
}

// timePenalty computes the deduction in budget units. The client-reported
// timestamp is preferred; the server receive time is the fallback.
func timePenalty(cfg ScoringConfig, question domain.Question, answer *domain.AnswerRecord, questionStart time.Time, budget, maxPenalty float64) float64 {
	var elapsedMs float64
	if answer.ClientTimestamp > 0 {
		elapsedMs = float64(answer.ClientTimestamp - questionStart.UnixMilli())
	} else {
		elapsedMs = float64(answer.ServerReceived.Sub(questionStart).Milliseconds())
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	switch cfg.Strategy {
	case PenaltyPerSecond:
		penalty := math.Floor(elapsedMs/1000) * cfg.PerSecondRate
		if penalty < 0 {
			return 0
		}
		return penalty
	default:
		if question.TimeLimitSec <= 0 {
			return 0
		}
		proportion := elapsedMs / (float64(question.TimeLimitSec) * 1000)
		if proportion > 1 {
			proportion = 1
		}
		return math.Round(proportion * maxPenalty)
	}
}
