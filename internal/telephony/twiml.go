package telephony

import (
	"github.com/twilio/twilio-go/twiml"
)

// ConnectStreamResponse builds the TwiML that bridges an answered call onto
// the bidirectional media stream socket. An optional greeting plays while the
// stream connects.
func ConnectStreamResponse(streamURL, greeting string) (string, error) {
	var elements []twiml.Element

	if greeting != "" {
		elements = append(elements, &twiml.VoiceSay{Message: greeting})
	}

	stream := twiml.VoiceStream{
		Name: "agent-media-stream",
		Url:  streamURL,
	}
	elements = append(elements, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	})

	return twiml.Voice(elements)
}

// AcknowledgeResponse is the empty TwiML document returned for pure status
// updates that require no call action.
func AcknowledgeResponse() (string, error) {
	return twiml.Voice(nil)
}

// ApologyHangupResponse plays a short apology and hangs up, used when session
// creation fails so the caller is never left on a dead stream.
func ApologyHangupResponse(message string) (string, error) {
	if message == "" {
		message = "We're sorry, we are unable to connect you right now. Goodbye."
	}
	return twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: message},
		&twiml.VoiceHangup{},
	})
}
