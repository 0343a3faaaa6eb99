package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/require"

	"voice-tutor/internal/domain"
	"voice-tutor/internal/repository"
	"voice-tutor/internal/usecase"
)

type stubConversations struct {
	out usecase.ConverseOutput
	err error
	in  usecase.ConverseInput
}

func (s *stubConversations) Converse(_ context.Context, in usecase.ConverseInput) (usecase.ConverseOutput, error) {
	s.in = in
	return s.out, s.err
}

type stubSessions struct {
	created   []string
	createErr error
	sess      domain.Session
	getErr    error
	deleted   []string
	deleteErr error
	userID    *int64
}

func (s *stubSessions) CreateSession(_ context.Context, sessionID string, userID *int64) (domain.Session, error) {
	s.created = append(s.created, sessionID)
	s.userID = userID
	if s.createErr != nil {
		return domain.Session{}, s.createErr
	}
	return domain.Session{ID: sessionID, UserID: userID, Status: domain.SessionStatusActive, CreatedAt: time.Unix(1700000000, 0)}, nil
}

func (s *stubSessions) GetSession(_ context.Context, _ string) (domain.Session, error) {
	return s.sess, s.getErr
}

func (s *stubSessions) DeleteSession(_ context.Context, sessionID string) error {
	s.deleted = append(s.deleted, sessionID)
	return s.deleteErr
}

type stubHistory struct {
	msgs []domain.ChatMessage
	err  error
}

func (s *stubHistory) Project(_ context.Context, _ string) ([]domain.ChatMessage, error) {
	return s.msgs, s.err
}

func makeEvent(method, path, body string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
}

func parseBody[T any](t *testing.T, body string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	return v
}

func newTestHandler(t *testing.T, conv *stubConversations, sessions *stubSessions, history *stubHistory) *Handler {
	t.Helper()
	h, err := NewHandler(conv, sessions, history)
	require.NoError(t, err)
	return h
}

func TestNewHandler_ValidatesDependencies(t *testing.T) {
	_, err := NewHandler(nil, &stubSessions{}, &stubHistory{})
	require.Error(t, err)
	_, err = NewHandler(&stubConversations{}, nil, &stubHistory{})
	require.Error(t, err)
	_, err = NewHandler(&stubConversations{}, &stubSessions{}, nil)
	require.Error(t, err)
}

func TestHandle_CreateSession(t *testing.T) {
	sessions := &stubSessions{}
	h := newTestHandler(t, &stubConversations{}, sessions, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions", `{"sessionId":"s1","userId":4}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, []string{"s1"}, sessions.created)
	require.Equal(t, int64(4), *sessions.userID)

	out := parseBody[sessionResponse](t, resp.Body)
	require.Equal(t, "s1", out.SessionID)
	require.Equal(t, "active", out.Status)
	require.NotEmpty(t, resp.Headers["X-Correlation-Id"])
}

func TestHandle_CreateSession_GeneratesID(t *testing.T) {
	orig := newUUID
	newUUID = func() string { return "generated-id" }
	t.Cleanup(func() { newUUID = orig })

	sessions := &stubSessions{}
	h := newTestHandler(t, &stubConversations{}, sessions, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, []string{"generated-id"}, sessions.created)
	require.Nil(t, sessions.userID)
}

func TestHandle_CreateSession_Errors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "duplicate", err: &repository.DuplicateKeyError{Table: "sessions", Key: "s1"}, status: http.StatusConflict, code: "SESSION_EXISTS"},
		{name: "unknown user", err: &repository.ForeignKeyError{Table: "sessions", Ref: "users", Key: "9"}, status: http.StatusNotFound, code: "USER_NOT_FOUND"},
		{name: "unexpected", err: errors.New("disk full"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubConversations{}, &stubSessions{createErr: tc.err}, &stubHistory{})
			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions", `{"sessionId":"s1"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, parseBody[errorResponse](t, resp.Body).Error)
		})
	}
}

func TestHandle_Converse_HappyPath(t *testing.T) {
	stt := int64(120)
	conv := &stubConversations{out: usecase.ConverseOutput{
		SessionID:  "s1",
		Transcript: "What is diabetes?",
		Reply:      "Diabetes is...",
		Audio:      []byte("RIFF"),
		STTMs:      &stt,
		LLMMs:      800,
		TTSMs:      200,
	}}
	h := newTestHandler(t, conv, &stubSessions{}, &stubHistory{})

	body := fmt.Sprintf(`{"audio":%q}`, base64.StdEncoding.EncodeToString([]byte("pcm")))
	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s1/turns", body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, usecase.ConverseInput{SessionID: "s1", Audio: []byte("pcm")}, conv.in)

	out := parseBody[turnResponse](t, resp.Body)
	require.Equal(t, "What is diabetes?", out.Transcript)
	require.Equal(t, "Diabetes is...", out.Reply)
	require.Equal(t, []byte("RIFF"), out.Audio)
	require.Equal(t, int64(120), *out.STTMs)
	require.Equal(t, int64(800), out.LLMMs)
	require.Equal(t, int64(200), out.TTSMs)
}

func TestHandle_Converse_TextInput(t *testing.T) {
	conv := &stubConversations{out: usecase.ConverseOutput{SessionID: "s1"}}
	h := newTestHandler(t, conv, &stubSessions{}, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s1/turns", `{"text":"What is insulin?"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "What is insulin?", conv.in.Text)
	require.Empty(t, conv.in.Audio)
	require.Nil(t, parseBody[turnResponse](t, resp.Body).STTMs)
}

func TestHandle_Converse_InvalidBody(t *testing.T) {
	h := newTestHandler(t, &stubConversations{}, &stubSessions{}, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s1/turns", `not-json`))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, string(usecase.ErrorInvalidInput), parseBody[errorResponse](t, resp.Body).Error)
}

func TestHandle_Converse_MapsUseCaseErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "invalid input", err: &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "empty_session_id"}, status: http.StatusBadRequest, code: "INVALID_INPUT"},
		{name: "transcription", err: &usecase.Error{Code: usecase.ErrorTranscription, Reason: "transcription_failed"}, status: http.StatusBadGateway, code: "TRANSCRIPTION_ERROR"},
		{name: "generation", err: &usecase.Error{Code: usecase.ErrorGeneration, Reason: "generation_rate_limited"}, status: http.StatusBadGateway, code: "GENERATION_ERROR"},
		{name: "synthesis", err: &usecase.Error{Code: usecase.ErrorSynthesis, Reason: "empty_audio"}, status: http.StatusBadGateway, code: "SYNTHESIS_ERROR"},
		{name: "unknown session", err: &usecase.Error{Code: usecase.ErrorSessionNotFound, Reason: "session_not_found"}, status: http.StatusNotFound, code: "SESSION_NOT_FOUND"},
		{name: "internal", err: &usecase.Error{Code: usecase.ErrorInternal, Reason: "store_write_error"}, status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
		{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubConversations{err: tc.err}, &stubSessions{}, &stubHistory{})
			resp, err := h.Handle(context.Background(), makeEvent(http.MethodPost, "/sessions/s1/turns", `{"text":"hi"}`))
			require.NoError(t, err)
			require.Equal(t, tc.status, resp.StatusCode)
			require.Equal(t, tc.code, parseBody[errorResponse](t, resp.Body).Error)
		})
	}
}

func TestHandle_History(t *testing.T) {
	history := &stubHistory{msgs: []domain.ChatMessage{
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello"},
	}}
	h := newTestHandler(t, &stubConversations{}, &stubSessions{}, history)

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/s1/history", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, history.msgs, parseBody[historyResponse](t, resp.Body).History)
}

func TestHandle_History_EmptyIsArray(t *testing.T) {
	h := newTestHandler(t, &stubConversations{}, &stubSessions{}, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/nobody/history", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"history":[]}`, resp.Body)
}

func TestHandle_GetAndDeleteSession(t *testing.T) {
	sessions := &stubSessions{sess: domain.Session{ID: "s1", Status: "active"}}
	h := newTestHandler(t, &stubConversations{}, sessions, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/s1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s1", parseBody[sessionResponse](t, resp.Body).SessionID)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodDelete, "/sessions/s1", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []string{"s1"}, sessions.deleted)

	sessions.getErr = fmt.Errorf("repository: session %q: %w", "gone", repository.ErrNotFound)
	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/gone", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandle_Routing(t *testing.T) {
	h := newTestHandler(t, &stubConversations{}, &stubSessions{}, &stubHistory{})

	resp, err := h.Handle(context.Background(), makeEvent(http.MethodGet, "/ask", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = h.Handle(context.Background(), makeEvent(http.MethodGet, "/sessions/s1/turns", ""))
	require.NoError(t, err)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandle_Base64EncodedBody(t *testing.T) {
	conv := &stubConversations{out: usecase.ConverseOutput{SessionID: "s1"}}
	h := newTestHandler(t, conv, &stubSessions{}, &stubHistory{})

	event := makeEvent(http.MethodPost, "/sessions/s1/turns", base64.StdEncoding.EncodeToString([]byte(`{"text":"hi"}`)))
	event.IsBase64Encoded = true
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hi", conv.in.Text)
}

func TestHandle_UsesProvidedCorrelationID_CaseInsensitive(t *testing.T) {
	h := newTestHandler(t, &stubConversations{}, &stubSessions{}, &stubHistory{})

	event := makeEvent(http.MethodGet, "/sessions/s1/history", "")
	event.Headers["x-correlation-id"] = "corr-123"
	resp, err := h.Handle(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, "corr-123", resp.Headers["X-Correlation-Id"])
}
