package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-tutor/internal/integrations/engine"
)

const service = "stt"

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// HTTPClient talks to a transcription service exposing POST /transcribe.
type HTTPClient struct {
	rc *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	rc, err := engine.NewRestClient(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	return &HTTPClient{rc: rc}, nil
}

// Transcribe uploads the audio as the multipart field "audio".
func (c *HTTPClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	res, err := c.rc.R().
		SetContext(ctx).
		SetFileReader("audio", "audio.wav", bytes.NewReader(audio)).
		Post("/transcribe")
	if err != nil {
		return "", fmt.Errorf("stt: request failed: %w", err)
	}
	var out transcribeResponse
	if err := engine.DecodeJSON(service, res, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}
