// Package engine holds the HTTP plumbing shared by the speech and language
// engine clients.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout = 2 * time.Minute
	maxErrorBody   = 4096
)

// HTTPStatusError captures non-2xx engine responses with status-aware context.
type HTTPStatusError struct {
	Service    string
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s: %s", e.Service, e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// NewRestClient returns a resty client rooted at baseURL that encodes JSON
// with sonic. A non-positive timeout falls back to DefaultTimeout.
func NewRestClient(baseURL string, timeout time.Duration) (*resty.Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("engine: base URL must not be empty")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := resty.New()
	c.SetBaseURL(baseURL)
	c.SetTimeout(timeout)
	c.SetJSONMarshaler(sonic.Marshal)
	c.SetJSONUnmarshaler(sonic.Unmarshal)
	c.SetHeader("User-Agent", "voice-tutor")
	return c, nil
}

// CheckResponse converts an error status into *HTTPStatusError.
func CheckResponse(service string, res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}
	body := res.Body()
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &HTTPStatusError{
		Service:    service,
		StatusCode: res.StatusCode(),
		URL:        res.Request.URL,
		Body:       string(body),
	}
}

// DecodeJSON checks the status and decodes the body into v regardless of the
// response content type.
func DecodeJSON(service string, res *resty.Response, v any) error {
	if err := CheckResponse(service, res); err != nil {
		return err
	}
	if err := sonic.Unmarshal(res.Body(), v); err != nil {
		return fmt.Errorf("%s: decode response: %w", service, err)
	}
	return nil
}
