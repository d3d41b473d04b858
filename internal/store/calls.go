package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Call is the persisted record of one outbound call. The orchestration core
// only writes the status and timing fields; everything else is owned by the
// application layer.
type Call struct {
	ID             uuid.UUID       `db:"id"`
	ProviderSID    string          `db:"provider_sid"`
	Direction      string          `db:"direction"`
	FromNumber     string          `db:"from_number"`
	ToNumber       string          `db:"to_number"`
	AgentConfigID  uuid.NullUUID   `db:"agent_config_id"`
	Status         string          `db:"status"`
	ProviderStatus sql.NullString  `db:"provider_status"`
	DurationSecs   sql.NullInt64   `db:"duration_secs"`
	CostUSD        sql.NullFloat64 `db:"cost_usd"`
	RecordingURL   sql.NullString  `db:"recording_url"`
	Transcript     sql.NullString  `db:"transcript"`
	CreatedAt      time.Time       `db:"created_at"`
	AnsweredAt     sql.NullTime    `db:"answered_at"`
	CompletedAt    sql.NullTime    `db:"completed_at"`
}

const CallDirectionOutbound = "outbound"

const sqlCreateCall = `
INSERT INTO calls (provider_sid, direction, from_number, to_number, agent_config_id, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, provider_sid, direction, from_number, to_number, agent_config_id, status,
          provider_status, duration_secs, cost_usd, recording_url, transcript,
          created_at, answered_at, completed_at`

func (s *Store) CreateCall(ctx context.Context, providerSID, from, to string, agentConfigID uuid.UUID, status string) (*Call, error) {
	var call Call
	err := s.db.GetContext(ctx, &call, sqlCreateCall, providerSID, CallDirectionOutbound, from, to,
		uuid.NullUUID{UUID: agentConfigID, Valid: true}, status)
	if err != nil {
		s.logger.Error(ctx, "failed to create call", err)
		return nil, fmt.Errorf("failed to create call: %w", err)
	}
	return &call, nil
}

const sqlGetCallBySID = `
SELECT * FROM calls WHERE provider_sid = $1`

func (s *Store) GetCallBySID(ctx context.Context, providerSID string) (*Call, error) {
	var call Call
	err := s.db.GetContext(ctx, &call, sqlGetCallBySID, providerSID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		s.logger.Error(ctx, "failed to get call by provider SID", err)
		return nil, fmt.Errorf("failed to get call by provider SID: %w", err)
	}
	return &call, nil
}

const sqlUpdateCallStatus = `
UPDATE calls
SET status = $1, provider_status = $2, answered_at = COALESCE(answered_at, $3)
WHERE provider_sid = $4`

// UpdateCallStatus persists a status transition. answeredAt is only written the
// first time a non-nil value is supplied.
func (s *Store) UpdateCallStatus(ctx context.Context, providerSID, status, providerStatus string, answeredAt *time.Time) error {
	var answered sql.NullTime
	if answeredAt != nil {
		answered = sql.NullTime{Time: *answeredAt, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, sqlUpdateCallStatus, status, providerStatus, answered, providerSID)
	if err != nil {
		s.logger.Error(ctx, "failed to update call status", err)
		return fmt.Errorf("failed to update call status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const sqlFinalizeCall = `
UPDATE calls
SET status = $1, provider_status = $2, duration_secs = $3, cost_usd = $4,
    recording_url = NULLIF($5, ''), completed_at = $6
WHERE provider_sid = $7`

// FinalizeCall writes the terminal status along with duration, cost and the
// recording reference. Duration and cost are only ever set here.
func (s *Store) FinalizeCall(ctx context.Context, providerSID, status, providerStatus string,
	durationSecs int, costUSD float64, recordingURL string) error {
	result, err := s.db.ExecContext(ctx, sqlFinalizeCall,
		status, providerStatus, durationSecs, costUSD, recordingURL, time.Now().UTC(), providerSID)
	if err != nil {
		s.logger.Error(ctx, "failed to finalize call", err)
		return fmt.Errorf("failed to finalize call: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Error(ctx, "failed to get rows affected", err)
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

const sqlAppendTranscript = `
UPDATE calls
SET transcript = COALESCE(transcript, '') || $1
WHERE provider_sid = $2`

func (s *Store) AppendTranscript(ctx context.Context, providerSID, text string) error {
	_, err := s.db.ExecContext(ctx, sqlAppendTranscript, text, providerSID)
	if err != nil {
		s.logger.Error(ctx, "failed to append call transcript", err)
		return fmt.Errorf("failed to append call transcript: %w", err)
	}
	return nil
}
