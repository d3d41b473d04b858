package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ChainStep is one position in an ordered hand-off chain. FallbackConfigID, when
// set, names the agent config to fall back to if this step errors.
type ChainStep struct {
	ID               uuid.UUID     `db:"id"`
	ChainID          uuid.UUID     `db:"chain_id"`
	Position         int           `db:"position"`
	AgentConfigID    uuid.UUID     `db:"agent_config_id"`
	FallbackConfigID uuid.NullUUID `db:"fallback_config_id"`
}

const sqlGetChainSteps = `
SELECT * FROM chain_steps WHERE chain_id = $1 ORDER BY position ASC`

func (s *Store) GetChainSteps(ctx context.Context, chainID uuid.UUID) ([]ChainStep, error) {
	var steps []ChainStep
	err := s.db.SelectContext(ctx, &steps, sqlGetChainSteps, chainID)
	if err != nil {
		s.logger.Error(ctx, "failed to get chain steps", err)
		return nil, fmt.Errorf("failed to get chain steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, ErrNotFound
	}
	return steps, nil
}
