package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AgentConfig is a persisted voice agent configuration. Sessions are created
// from these rows, and chain steps reference them by ID.
type AgentConfig struct {
	ID           uuid.UUID      `db:"id"`
	Name         string         `db:"name"`
	Provider     string         `db:"provider"`
	SystemPrompt string         `db:"system_prompt"`
	Voice        string         `db:"voice"`
	TurnMode     string         `db:"turn_mode"`
	Greeting     sql.NullString `db:"greeting"`
	CreatedAt    string         `db:"created_at"`
}

const sqlGetAgentConfigByID = `
SELECT * FROM agent_configs WHERE id = $1`

func (s *Store) GetAgentConfig(ctx context.Context, id uuid.UUID) (*AgentConfig, error) {
	var cfg AgentConfig
	err := s.db.GetContext(ctx, &cfg, sqlGetAgentConfigByID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get agent config by ID", err)
		return nil, fmt.Errorf("failed to get agent config by ID: %w", err)
	}
	return &cfg, nil
}

const sqlListAgentConfigs = `
SELECT * FROM agent_configs ORDER BY created_at ASC`

func (s *Store) ListAgentConfigs(ctx context.Context) ([]AgentConfig, error) {
	var configs []AgentConfig
	err := s.db.SelectContext(ctx, &configs, sqlListAgentConfigs)
	if err != nil {
		s.logger.Error(ctx, "failed to list agent configs", err)
		return nil, fmt.Errorf("failed to list agent configs: %w", err)
	}
	return configs, nil
}
