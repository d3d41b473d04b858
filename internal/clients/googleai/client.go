// Package googleai connects agent sessions to the Google AI Live API, which
// handles recognition, response generation and synthesis in one duplex stream.
package googleai

import (
	"context"
	"fmt"

	"callbridge-server/internal/observability"

	"google.golang.org/genai"
)

const liveModelName = "gemini-2.5-flash-preview-native-audio-dialog"

// GoogleAILiveClient handles real-time duplex audio conversations through the
// Google AI Live API.
type GoogleAILiveClient struct {
	client *genai.Client
	logger *observability.Logger
}

func NewGoogleAILiveClient(apiKey string, logger *observability.Logger) (*GoogleAILiveClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Google AI client: %w", err)
	}

	return &GoogleAILiveClient{
		client: client,
		logger: logger,
	}, nil
}
