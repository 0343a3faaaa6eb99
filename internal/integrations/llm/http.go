package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-tutor/internal/domain"
	"voice-tutor/internal/integrations/engine"
)

const service = "llm"

type generateRequest struct {
	SystemInstruction string               `json:"system_instruction"`
	History           []domain.ChatMessage `json:"history"`
	Text              string               `json:"text"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// HTTPClient talks to a generation service exposing POST /generate.
type HTTPClient struct {
	rc *resty.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	rc, err := engine.NewRestClient(baseURL, timeout)
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return &HTTPClient{rc: rc}, nil
}

func (c *HTTPClient) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	history := req.History
	if history == nil {
		history = []domain.ChatMessage{}
	}
	res, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(generateRequest{
			SystemInstruction: req.SystemInstruction,
			History:           history,
			Text:              req.NewUserContent,
		}).
		Post("/generate")
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	var out generateResponse
	if err := engine.DecodeJSON(service, res, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}
