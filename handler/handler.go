package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"voice-tutor/internal/domain"
	"voice-tutor/internal/repository"
	"voice-tutor/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Error codes for failures that happen outside the conversation service.
const (
	codeSessionExists    = "SESSION_EXISTS"
	codeUserNotFound     = "USER_NOT_FOUND"
	codeNotFound         = "NOT_FOUND"
	codeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

var newUUID = uuid.NewString

type Conversations interface {
	Converse(ctx context.Context, in usecase.ConverseInput) (usecase.ConverseOutput, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, sessionID string, userID *int64) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type HistoryProjector interface {
	Project(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
}

type Handler struct {
	conv     Conversations
	sessions Sessions
	history  HistoryProjector
}

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
	UserID    *int64 `json:"userId,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"sessionId"`
	UserID    *int64 `json:"userId,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type turnRequest struct {
	Audio []byte `json:"audio,omitempty"`
	Text  string `json:"text,omitempty"`
}

type turnResponse struct {
	SessionID  string  `json:"sessionId"`
	Transcript string  `json:"transcript"`
	Reply      string  `json:"reply"`
	Audio      []byte  `json:"audio"`
	AudioURL   *string `json:"audioUrl,omitempty"`
	STTMs      *int64  `json:"sttMs"`
	LLMMs      int64   `json:"llmMs"`
	TTSMs      int64   `json:"ttsMs"`
	Disclaimed bool    `json:"disclaimed"`
}

type historyResponse struct {
	History []domain.ChatMessage `json:"history"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewHandler(conv Conversations, sessions Sessions, history HistoryProjector) (*Handler, error) {
	if conv == nil {
		return nil, errors.New("handler: conversation service must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("handler: session registry must not be nil")
	}
	if history == nil {
		return nil, errors.New("handler: history projector must not be nil")
	}
	return &Handler{conv: conv, sessions: sessions, history: history}, nil
}

// Handle routes API Gateway proxy requests:
//
//	POST   /sessions
//	GET    /sessions/{id}
//	DELETE /sessions/{id}
//	POST   /sessions/{id}/turns
//	GET    /sessions/{id}/history
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = newUUID()
	}
	logger := slog.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	body, err := requestBody(req)
	if err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput)}), nil
	}

	segments := strings.Split(strings.Trim(req.Path, "/"), "/")
	if len(segments) == 0 || segments[0] != "sessions" {
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: codeNotFound}), nil
	}

	switch {
	case len(segments) == 1:
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(correlationID), nil
		}
		return h.createSession(ctx, logger, correlationID, body), nil
	case len(segments) == 2:
		switch req.HTTPMethod {
		case http.MethodGet:
			return h.getSession(ctx, logger, correlationID, segments[1]), nil
		case http.MethodDelete:
			return h.deleteSession(ctx, logger, correlationID, segments[1]), nil
		}
		return methodNotAllowed(correlationID), nil
	case len(segments) == 3 && segments[2] == "turns":
		if req.HTTPMethod != http.MethodPost {
			return methodNotAllowed(correlationID), nil
		}
		return h.converse(ctx, logger, correlationID, segments[1], body), nil
	case len(segments) == 3 && segments[2] == "history":
		if req.HTTPMethod != http.MethodGet {
			return methodNotAllowed(correlationID), nil
		}
		return h.getHistory(ctx, logger, correlationID, segments[1]), nil
	}
	return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: codeNotFound}), nil
}

func (h *Handler) createSession(ctx context.Context, logger *slog.Logger, correlationID string, body []byte) events.APIGatewayProxyResponse {
	var in createSessionRequest
	if len(body) > 0 {
		if err := sonic.Unmarshal(body, &in); err != nil {
			return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		}
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		sessionID = newUUID()
	}

	sess, err := h.sessions.CreateSession(ctx, sessionID, in.UserID)
	if err != nil {
		var dup *repository.DuplicateKeyError
		var fk *repository.ForeignKeyError
		switch {
		case errors.As(err, &dup):
			return jsonResponse(http.StatusConflict, correlationID, errorResponse{Error: codeSessionExists})
		case errors.As(err, &fk):
			return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: codeUserNotFound})
		}
		logger.Error("create session failed", "session_id", sessionID, "err", err)
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	logger.Info("session created", "session_id", sess.ID)
	return jsonResponse(http.StatusCreated, correlationID, toSessionResponse(sess))
}

func (h *Handler) getSession(ctx context.Context, logger *slog.Logger, correlationID, sessionID string) events.APIGatewayProxyResponse {
	sess, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return storeErrorResponse(logger, correlationID, sessionID, err)
	}
	return jsonResponse(http.StatusOK, correlationID, toSessionResponse(sess))
}

func (h *Handler) deleteSession(ctx context.Context, logger *slog.Logger, correlationID, sessionID string) events.APIGatewayProxyResponse {
	if err := h.sessions.DeleteSession(ctx, sessionID); err != nil {
		return storeErrorResponse(logger, correlationID, sessionID, err)
	}
	logger.Info("session deleted", "session_id", sessionID)
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusNoContent,
		Headers:    map[string]string{correlationHeader: correlationID},
	}
}

func (h *Handler) converse(ctx context.Context, logger *slog.Logger, correlationID, sessionID string, body []byte) events.APIGatewayProxyResponse {
	var in turnRequest
	if err := sonic.Unmarshal(body, &in); err != nil {
		return jsonResponse(http.StatusBadRequest, correlationID, errorResponse{Error: string(usecase.ErrorInvalidInput)})
	}

	out, err := h.conv.Converse(ctx, usecase.ConverseInput{SessionID: sessionID, Audio: in.Audio, Text: in.Text})
	if err != nil {
		status, code := mapUseCaseError(err)
		logger.Warn("round trip failed", "session_id", sessionID, "status", status, "code", code, "err", err)
		return jsonResponse(status, correlationID, errorResponse{Error: code})
	}

	return jsonResponse(http.StatusOK, correlationID, turnResponse{
		SessionID:  out.SessionID,
		Transcript: out.Transcript,
		Reply:      out.Reply,
		Audio:      out.Audio,
		AudioURL:   out.AudioURL,
		STTMs:      out.STTMs,
		LLMMs:      out.LLMMs,
		TTSMs:      out.TTSMs,
		Disclaimed: out.Disclaimed,
	})
}

func (h *Handler) getHistory(ctx context.Context, logger *slog.Logger, correlationID, sessionID string) events.APIGatewayProxyResponse {
	msgs, err := h.history.Project(ctx, sessionID)
	if err != nil {
		logger.Error("history read failed", "session_id", sessionID, "err", err)
		return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: string(usecase.ErrorInternal)})
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	return jsonResponse(http.StatusOK, correlationID, historyResponse{History: msgs})
}

func mapUseCaseError(err error) (int, string) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, string(ucErr.Code)
	case usecase.ErrorSessionNotFound:
		return http.StatusNotFound, string(ucErr.Code)
	case usecase.ErrorTranscription, usecase.ErrorGeneration, usecase.ErrorSynthesis:
		return http.StatusBadGateway, string(ucErr.Code)
	default:
		return http.StatusInternalServerError, string(usecase.ErrorInternal)
	}
}

func storeErrorResponse(logger *slog.Logger, correlationID, sessionID string, err error) events.APIGatewayProxyResponse {
	if errors.Is(err, repository.ErrNotFound) {
		return jsonResponse(http.StatusNotFound, correlationID, errorResponse{Error: string(usecase.ErrorSessionNotFound)})
	}
	logger.Error("session store failed", "session_id", sessionID, "err", err)
	return jsonResponse(http.StatusInternalServerError, correlationID, errorResponse{Error: string(usecase.ErrorInternal)})
}

func toSessionResponse(s domain.Session) sessionResponse {
	return sessionResponse{
		SessionID: s.ID,
		UserID:    s.UserID,
		Status:    s.Status,
		CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

func requestBody(req events.APIGatewayProxyRequest) ([]byte, error) {
	if !req.IsBase64Encoded {
		return []byte(req.Body), nil
	}
	return base64.StdEncoding.DecodeString(req.Body)
}

func methodNotAllowed(correlationID string) events.APIGatewayProxyResponse {
	return jsonResponse(http.StatusMethodNotAllowed, correlationID, errorResponse{Error: codeMethodNotAllowed})
}

func jsonResponse(status int, correlationID string, v any) events.APIGatewayProxyResponse {
	body, err := sonic.MarshalString(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = `{"error":"` + string(usecase.ErrorInternal) + `"}`
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: correlationID,
		},
		Body: body,
	}
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
