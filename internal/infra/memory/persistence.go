package memory

import (
	"context"
	"sync"

	"classquiz-service/internal/domain"
)

// Persistence is an in-memory implementation of app.Persistence, used when no
// database is configured and as the durable-storage stand-in for tests.
type Persistence struct {
	mu           sync.RWMutex
	statuses     map[string]string
	scores       map[string]map[string]int
	leaderboards map[string][]domain.LeaderboardEntry
}

func NewPersistence() *Persistence {
	return &Persistence{
		statuses:     make(map[string]string),
		scores:       make(map[string]map[string]int),
		leaderboards: make(map[string][]domain.LeaderboardEntry),
	}
}

func (p *Persistence) FindSession(_ context.Context, code string) (domain.SessionRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.statuses[code]
	if !ok {
		status = domain.StatusPending
	}
	return domain.SessionRecord{Code: code, Status: status}, nil
}

func (p *Persistence) UpdateSessionStatus(_ context.Context, code, status string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[code] = status
	return nil
}

func (p *Persistence) UpsertScore(_ context.Context, code, participantID string, score int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	byParticipant, ok := p.scores[code]
	if !ok {
		byParticipant = make(map[string]int)
		p.scores[code] = byParticipant
	}
	byParticipant[participantID] = score
	return nil
}

func (p *Persistence) SaveLeaderboard(_ context.Context, code string, entries []domain.LeaderboardEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaderboards[code] = append([]domain.LeaderboardEntry(nil), entries...)
	return nil
}

// Score returns the stored score for assertions in tests.
func (p *Persistence) Score(code, participantID string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byParticipant, ok := p.scores[code]
	if !ok {
		return 0, false
	}
	score, ok := byParticipant[participantID]
	return score, ok
}

// Leaderboard returns the written-back leaderboard for a session.
func (p *Persistence) Leaderboard(code string) ([]domain.LeaderboardEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lb, ok := p.leaderboards[code]
	return lb, ok
}

// Status returns the stored session status.
func (p *Persistence) Status(code string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.statuses[code]
}
