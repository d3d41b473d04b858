package processor

import (
	"callbridge-server/internal/verification"
)

// VerificationSessions returns every live ring/answer verification session.
func (v *VoiceCallProcessor) VerificationSessions() []*verification.Session {
	return v.verifier.All()
}

// VerificationSession returns one verification session by ID.
func (v *VoiceCallProcessor) VerificationSession(sessionID string) (*verification.Session, bool) {
	return v.verifier.Get(sessionID)
}
