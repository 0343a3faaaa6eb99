package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	openai "github.com/sashabaranov/go-openai"

	"voice-tutor/internal/domain"
	"voice-tutor/internal/integrations/engine"
	"voice-tutor/internal/integrations/paramstore"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// tokenPayload is the expected JSON shape stored in SSM for the API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// OpenAIClient generates replies with the Chat Completions API. The API key
// is fetched from SSM on the first call and reused for the process lifetime.
type OpenAIClient struct {
	model      string
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	keyParam   string

	once   sync.Once
	client *openai.Client
	keyErr error
}

type OpenAIOption func(*OpenAIClient)

func WithBaseURL(baseURL string) OpenAIOption {
	return func(c *OpenAIClient) {
		if strings.TrimSpace(baseURL) != "" {
			c.baseURL = apiBaseURL(baseURL)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func NewOpenAIClient(ps paramstore.Getter, keyParam, model string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if ps == nil {
		return nil, errors.New("llm: paramstore getter must not be nil")
	}
	keyParam = strings.TrimSpace(keyParam)
	if keyParam == "" {
		return nil, errors.New("llm: API key parameter name must not be empty")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("llm: model must not be empty")
	}
	c := &OpenAIClient{
		model:      model,
		baseURL:    defaultOpenAIBaseURL,
		httpClient: &http.Client{Timeout: engine.DefaultTimeout},
		getter:     ps,
		keyParam:   keyParam,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiBaseURL normalizes a base URL so that it ends in /v1.
func apiBaseURL(baseURL string) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return defaultOpenAIBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base
	}
	return base + "/v1"
}

func (c *OpenAIClient) resolveClient(ctx context.Context) (*openai.Client, error) {
	c.once.Do(func() {
		var key string
		key, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.keyParam)
		if c.keyErr != nil {
			return
		}
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = c.baseURL
		cfg.HTTPClient = c.httpClient
		c.client = openai.NewClientWithConfig(cfg)
	})
	return c.client, c.keyErr
}

func (c *OpenAIClient) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	client, err := c.resolveClient(ctx)
	if err != nil {
		return "", err
	}

	msgs := req.Messages()
	messages := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", openAIError(c.baseURL, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIError(baseURL string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &engine.HTTPStatusError{
			Service:    service,
			StatusCode: apiErr.HTTPStatusCode,
			URL:        baseURL,
			Body:       apiErr.Message,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &engine.HTTPStatusError{
			Service:    service,
			StatusCode: reqErr.HTTPStatusCode,
			URL:        baseURL,
			Body:       reqErr.Error(),
		}
	}
	return fmt.Errorf("llm: chat completion failed: %w", err)
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter paramstore.Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("llm: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("llm: token parameter name is empty")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	raw, err := getter.GetParameter(fetchCtx, name)
	if err != nil {
		return "", fmt.Errorf("llm: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := sonic.UnmarshalString(raw, &tp); err != nil {
		return "", fmt.Errorf("llm: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("llm: API token is empty")
	}
	return tp.Token, nil
}
