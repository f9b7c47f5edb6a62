// Package scoring is the boundary to the external ranking engine. The
// engine is treated as an opaque deterministic function of its inputs;
// nothing else in the system may depend on how a ranking was produced.
package scoring

import (
	"context"
	"encoding/json"

	"github.com/clincore/clincore-backend/internal/clinical/domain"
)

// EngineVersion identifies the ranking engine build, reported by the
// version endpoint.
const EngineVersion = "stub-0.1.0"

// Request carries everything the engine is allowed to see.
type Request struct {
	CaseID string
	Inputs json.RawMessage
	Params map[string]string
	Seed   string
}

// Scorer produces an ordered ranking, deterministic in the request.
// Implementations must respect ctx cancellation.
type Scorer interface {
	Score(ctx context.Context, req Request) ([]domain.SnapshotEntry, error)
}

// StubScorer is the placeholder engine: a single fixed row regardless of
// input. It keeps the lifecycle, signature, and replay contracts fully
// exercisable until the real engine is wired.
type StubScorer struct{}

// NewStubScorer creates the placeholder scorer
func NewStubScorer() *StubScorer {
	return &StubScorer{}
}

// Score returns the deterministic placeholder ranking.
func (s *StubScorer) Score(ctx context.Context, req Request) ([]domain.SnapshotEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []domain.SnapshotEntry{
		{Rank: 1, Remedy: "TestRemedy", Score: 1.0},
	}, nil
}
