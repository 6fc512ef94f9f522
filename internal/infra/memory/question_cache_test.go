package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"classquiz-service/internal/domain"
)

func TestQuestionCacheCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionLoader: NewStaticQuestionLoader(map[string][]domain.Question{
			"session-1": sampleQuestions(),
		}),
	}
	cache := NewQuestionCache(loader, time.Minute)

	if _, err := cache.GetQuestions(context.Background(), "session-1"); err != nil {
		t.Fatalf("get questions: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := cache.GetQuestions(context.Background(), "session-1"); err != nil {
		t.Fatalf("get questions 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuestionCacheMiss(t *testing.T) {
	cache := NewQuestionCache(NewStaticQuestionLoader(nil), time.Minute)

	_, err := cache.GetQuestions(context.Background(), "absent")
	if !errors.Is(err, domain.ErrQuestionsNotFound) {
		t.Fatalf("expected ErrQuestionsNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestions(ctx context.Context, sessionCode string) ([]domain.Question, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestions(ctx, sessionCode)
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:     "q1",
			Type:   domain.SingleChoice,
			Prompt: "What is 2 + 2?",
			Options: []domain.Option{
				{Text: "3", Correct: false},
				{Text: "4", Correct: true},
			},
			TimeLimitSec: 20,
		},
	}
}
