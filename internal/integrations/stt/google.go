package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-tutor/internal/integrations/engine"
)

const defaultLanguage = "en-US"

type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

type speechRecognizer struct {
	client *speech.Client
}

func (r speechRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.client.Recognize(ctx, req)
}

// GoogleClient transcribes whole utterances with Cloud Speech-to-Text.
// Credentials come from Application Default Credentials.
type GoogleClient struct {
	rec      recognizer
	language string
	close    func() error
}

func NewGoogleClient(ctx context.Context, language string) (*GoogleClient, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("stt: create speech client: %w", err)
	}
	c := newGoogleClient(speechRecognizer{client: client}, language)
	c.close = client.Close
	return c, nil
}

func newGoogleClient(rec recognizer, language string) *GoogleClient {
	language = strings.TrimSpace(language)
	if language == "" {
		language = defaultLanguage
	}
	return &GoogleClient{rec: rec, language: language}
}

func (c *GoogleClient) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Transcribe sends the clip in one synchronous request. WAV and FLAC headers
// let the service infer encoding and sample rate.
func (c *GoogleClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	resp, err := c.rec.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               c.language,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", grpcError(err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// grpcError surfaces quota exhaustion as a 429 so callers can treat it like
// an HTTP engine's rate limit.
func grpcError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("stt: recognize: %w", err)
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return &engine.HTTPStatusError{
			Service:    service,
			StatusCode: http.StatusTooManyRequests,
			URL:        "speech.googleapis.com",
			Body:       st.Message(),
		}
	}
	return fmt.Errorf("stt: recognize: %w", err)
}
