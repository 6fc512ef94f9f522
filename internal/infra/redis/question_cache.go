package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"classquiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches question sets from a backing store.
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, sessionCode string) ([]domain.Question, error)
}

// QuestionCache caches a session's question snapshot in Redis and falls back
// to a loader on cache miss. The snapshot is stored server-side only, so the
// correctness flags never leave the backend.
// Key layout: SET session:{code}:questions -> JSON array.
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionCache) GetQuestions(ctx context.Context, sessionCode string) ([]domain.Question, error) {
	key := r.questionsKey(sessionCode)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
		if questions, err := decodeQuestions(raw); err == nil {
			return questions, nil
		}
		// Corrupt cache entry: drop it and reload.
		_ = r.client.Del(ctx, key).Err()
	}

	result, err, _ := r.sf.Do(sessionCode, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if raw, err := r.client.Get(ctx, key).Bytes(); err == nil && len(raw) > 0 {
			if questions, err := decodeQuestions(raw); err == nil {
				return questions, nil
			}
		}

		questions, err := r.loader.LoadQuestions(ctx, sessionCode)
		if err != nil {
			return nil, err
		}

		if raw, err := json.Marshal(questions); err == nil {
			_ = r.client.Set(ctx, key, raw, r.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionCache) questionsKey(sessionCode string) string {
	return "session:" + sessionCode + ":questions"
}

func decodeQuestions(raw []byte) ([]domain.Question, error) {
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *QuestionCache) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
