package callsession

import (
	"sync"
	"time"
)

// turnDetector decides whether the caller currently holds the conversational
// floor. In server_vad mode the caller's turn ends after a silence-duration
// threshold; in push_to_talk mode explicit control marks drive the boundary.
type turnDetector struct {
	mode            TurnMode
	voiceThreshold  float64
	silenceDuration time.Duration
	now             func() time.Time

	mu            sync.Mutex
	lastVoiceAt   time.Time
	callerTalking bool // push_to_talk: caller is holding the floor
}

func newTurnDetector(mode TurnMode, voiceThreshold float64, silenceDuration time.Duration) *turnDetector {
	return &turnDetector{
		mode:            mode,
		voiceThreshold:  voiceThreshold,
		silenceDuration: silenceDuration,
		now:             time.Now,
	}
}

// Observe ingests the energy of one inbound frame.
func (d *turnDetector) Observe(energy float64) {
	if d.mode != TurnModeServerVAD {
		return
	}
	if energy >= d.voiceThreshold {
		d.mu.Lock()
		d.lastVoiceAt = d.now()
		d.mu.Unlock()
	}
}

// HandleMark ingests a push-to-talk control mark.
func (d *turnDetector) HandleMark(kind string) {
	if d.mode != TurnModePushToTalk {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch kind {
	case "turn_start":
		d.callerTalking = true
	case "turn_end":
		d.callerTalking = false
	}
}

// CallerTurnEnded reports whether an outbound utterance may start.
func (d *turnDetector) CallerTurnEnded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.mode {
	case TurnModePushToTalk:
		return !d.callerTalking
	default: // server_vad
		if d.lastVoiceAt.IsZero() {
			return true
		}
		return d.now().Sub(d.lastVoiceAt) >= d.silenceDuration
	}
}
