// Package match computes a fit score between a user and a posting. The
// scoring model is a placeholder scaffold: callers only depend on the
// core.MatchScorer contract, so a real model can drop in later.
package match

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/jobwell/jobwell-go/internal/domain/model"
)

// RandomScorer returns a uniform score in [0.35, 0.95). It is stable per
// (user, job) pair within one process so repeated reads do not jitter.
type RandomScorer struct {
	mu    sync.Mutex
	seen  map[string]float64
	randf func() float64
}

// NewRandomScorer creates the placeholder scorer.
func NewRandomScorer() *RandomScorer {
	return &RandomScorer{
		seen:  make(map[string]float64),
		randf: rand.Float64,
	}
}

// Score implements core.MatchScorer.
func (s *RandomScorer) Score(ctx context.Context, userID string, job *model.Job) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userID + "\x00" + job.ID
	if v, ok := s.seen[key]; ok {
		return v, nil
	}
	v := 0.35 + s.randf()*0.6
	s.seen[key] = v
	return v, nil
}

// FixedScorer always returns the same score, for tests.
type FixedScorer struct {
	Value float64
}

// Score implements core.MatchScorer.
func (s *FixedScorer) Score(ctx context.Context, userID string, job *model.Job) (float64, error) {
	return s.Value, nil
}
