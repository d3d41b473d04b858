package callstate

import (
	"context"
	"time"
)

// CallStore persists status and timing fields of call records. Ownership of
// the full record is external; the machine only touches what it needs.
type CallStore interface {
	UpdateCallStatus(ctx context.Context, providerSID, status, providerStatus string, answeredAt *time.Time) error
	FinalizeCall(ctx context.Context, providerSID, status, providerStatus string,
		durationSecs int, costUSD float64, recordingURL string) error
}

// Verifier tracks ring/answer confirmation for a call before the machine
// trusts an answered signal.
type Verifier interface {
	Start(callSID, phoneNumber string) string
	RecordEvent(callSID, providerStatus string)
	Verified(callSID string) bool
}

// SessionController is the machine's view of the voice agent session manager.
type SessionController interface {
	Active(callSID string) bool
	StartSession(ctx context.Context, callSID string) error
	EndSession(ctx context.Context, callSID string)
}
