package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-tutor/internal/integrations/engine"
)

func TestHTTPClient_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transcribe", r.URL.Path)
		f, _, err := r.FormFile("audio")
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		require.Equal(t, []byte("RIFF-bytes"), data)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"transcript":"What is diabetes?"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	got, err := c.Transcribe(context.Background(), []byte("RIFF-bytes"))
	require.NoError(t, err)
	require.Equal(t, "What is diabetes?", got)
}

func TestHTTPClient_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"model not loaded"}`))
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = c.Transcribe(context.Background(), []byte("x"))
	var statusErr *engine.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	require.Contains(t, err.Error(), "model not loaded")
}

func TestHTTPClient_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, err := NewHTTPClient(srv.URL, time.Second)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Transcribe(ctx, []byte("x"))
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPClient_EmptyURL(t *testing.T) {
	_, err := NewHTTPClient("", time.Second)
	require.Error(t, err)
}

type fakeRecognizer struct {
	resp *speechpb.RecognizeResponse
	err  error
	got  *speechpb.RecognizeRequest
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestGoogleClient_JoinsResults(t *testing.T) {
	rec := &fakeRecognizer{resp: &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "What is"}}},
			{},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " diabetes? "}}},
		},
	}}
	c := newGoogleClient(rec, "")

	got, err := c.Transcribe(context.Background(), []byte("wav"))
	require.NoError(t, err)
	require.Equal(t, "What is diabetes?", got)
	require.Equal(t, "en-US", rec.got.GetConfig().GetLanguageCode())
	require.Equal(t, []byte("wav"), rec.got.GetAudio().GetContent())
	require.NoError(t, c.Close())
}

func TestGoogleClient_ResourceExhaustedIsRateLimit(t *testing.T) {
	c := newGoogleClient(&fakeRecognizer{err: status.Error(codes.ResourceExhausted, "quota")}, "en-GB")

	_, err := c.Transcribe(context.Background(), []byte("wav"))
	var statusErr *engine.HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.HTTPStatusCode())
}

func TestGoogleClient_OtherErrorsWrapped(t *testing.T) {
	c := newGoogleClient(&fakeRecognizer{err: errors.New("unavailable")}, "en-US")

	_, err := c.Transcribe(context.Background(), []byte("wav"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "stt: recognize")
	var statusErr *engine.HTTPStatusError
	require.False(t, errors.As(err, &statusErr))
}
