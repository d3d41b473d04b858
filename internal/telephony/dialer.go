package telephony

import (
	"context"
	"errors"
	"fmt"

	"callbridge-server/internal/observability"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// Dialer originates outbound calls through the Twilio REST API.
type Dialer struct {
	client *twilio.RestClient
	from   string
	logger *observability.Logger
}

func NewDialer(accountSID, authToken, fromNumber string, logger *observability.Logger) *Dialer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Dialer{client: client, from: fromNumber, logger: logger}
}

// PlaceCall dials the given number. answerURL receives the answer webhook and
// statusURL receives lifecycle status callbacks. Returns the provider call SID.
func (d *Dialer) PlaceCall(ctx context.Context, toNumber, answerURL, statusURL string) (string, error) {
	params := &api.CreateCallParams{}
	params.SetTo(toNumber)
	params.SetFrom(d.from)
	params.SetUrl(answerURL)
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetStatusCallbackMethod("POST")

	resp, err := d.client.Api.CreateCall(params)
	if err != nil {
		d.logger.Error(ctx, fmt.Sprintf("failed to place call to %s", toNumber), err)
		return "", fmt.Errorf("twilio create call failed: %w", err)
	}
	if resp.Sid == nil {
		return "", errors.New("twilio returned a call without a SID")
	}

	d.logger.Info(ctx, fmt.Sprintf("placed outbound call %s to %s", *resp.Sid, toNumber))
	return *resp.Sid, nil
}
