package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-tutor/internal/integrations/engine"
)

const service = "tts"

type synthesizeRequest struct {
	Text string `json:"text"`
}

// HTTPClient talks to a synthesis service exposing POST /synthesize, which
// answers with raw audio bytes.
type HTTPClient struct {
	rc *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	rc, err := engine.NewRestClient(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}
	return &HTTPClient{rc: rc}, nil
}

func (c *HTTPClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "audio/wav").
		SetBody(synthesizeRequest{Text: text}).
		Post("/synthesize")
	if err != nil {
		return nil, fmt.Errorf("tts: request failed: %w", err)
	}
	if err := engine.CheckResponse(service, res); err != nil {
		return nil, err
	}
	return res.Body(), nil
}
