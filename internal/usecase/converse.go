package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"voice-tutor/internal/domain"
	"voice-tutor/internal/repository"
)

const (
	stageTranscription = "transcription"
	stageGeneration    = "generation"
	stageSynthesis     = "synthesis"

	auditActionRoundTrip = "conversation.round_trip"

	defaultTranscriptionTimeout = 30 * time.Second
	defaultGenerationTimeout    = 60 * time.Second
	defaultSynthesisTimeout     = 30 * time.Second
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type HistoryProjector interface {
	Project(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
}

type TurnAppender interface {
	AppendTurns(ctx context.Context, turns []domain.NewTurn) ([]domain.Turn, error)
}

// AudioSink stores synthesized audio and returns a reference to it. Remove
// discards a saved reference whose turns were never committed.
type AudioSink interface {
	Save(ctx context.Context, sessionID string, audio []byte) (string, error)
	Remove(ctx context.Context, ref string) error
}

type AuditRecorder interface {
	RecordAudit(ctx context.Context, actor *string, action string, details any) (domain.Audit, error)
}

type EventPublisher interface {
	PublishRoundTrip(ctx context.Context, ev domain.RoundTrip) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Timeouts bounds each engine call. Zero values fall back to the defaults.
type Timeouts struct {
	Transcription time.Duration
	Generation    time.Duration
	Synthesis     time.Duration
}

// ConversationService drives one spoken round-trip: transcribe, replay
// history, generate, review, synthesize, persist.
type ConversationService struct {
	stt     Transcriber
	llm     Generator
	tts     Synthesizer
	history HistoryProjector
	turns   TurnAppender

	safety      SafetyPolicy
	instruction string
	timeouts    Timeouts
	audio       AudioSink
	audit       AuditRecorder
	events      EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*ConversationService)

func WithSafetyPolicy(p SafetyPolicy) Option {
	return func(s *ConversationService) {
		if p != nil {
			s.safety = p
		}
	}
}

func WithSystemInstruction(instruction string) Option {
	return func(s *ConversationService) {
		if strings.TrimSpace(instruction) != "" {
			s.instruction = instruction
		}
	}
}

func WithTimeouts(t Timeouts) Option {
	return func(s *ConversationService) {
		if t.Transcription > 0 {
			s.timeouts.Transcription = t.Transcription
		}
		if t.Generation > 0 {
			s.timeouts.Generation = t.Generation
		}
		if t.Synthesis > 0 {
			s.timeouts.Synthesis = t.Synthesis
		}
	}
}

func WithAudioSink(sink AudioSink) Option {
	return func(s *ConversationService) { s.audio = sink }
}

func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *ConversationService) { s.audit = r }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(s *ConversationService) { s.events = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ConversationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *ConversationService) {
		if now != nil {
			s.now = now
		}
	}
}

type ConverseInput struct {
	SessionID string
	// Audio is transcribed when present. Text is used verbatim only when
	// Audio is empty.
	Audio []byte
	Text  string
}

type ConverseOutput struct {
	SessionID     string
	Transcript    string
	Reply         string
	Audio         []byte
	AudioURL      *string
	STTMs         *int64
	LLMMs         int64
	TTSMs         int64
	Disclaimed    bool
	UserTurn      domain.Turn
	AssistantTurn domain.Turn
}

func NewConversationService(stt Transcriber, llm Generator, tts Synthesizer, history HistoryProjector, turns TurnAppender, opts ...Option) (*ConversationService, error) {
	if stt == nil {
		return nil, errors.New("usecase: transcriber must not be nil")
	}
	if llm == nil {
		return nil, errors.New("usecase: generator must not be nil")
	}
	if tts == nil {
		return nil, errors.New("usecase: synthesizer must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history projector must not be nil")
	}
	if turns == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	s := &ConversationService{
		stt:         stt,
		llm:         llm,
		tts:         tts,
		history:     history,
		turns:       turns,
		safety:      DefaultSafetyPolicy(),
		instruction: buildSystemInstruction(),
		timeouts: Timeouts{
			Transcription: defaultTranscriptionTimeout,
			Generation:    defaultGenerationTimeout,
			Synthesis:     defaultSynthesisTimeout,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Converse runs one round-trip. Nothing is persisted unless all three engine
// calls succeed, and then both turns are appended together. Engine failures
// are not retried.
func (s *ConversationService) Converse(ctx context.Context, in ConverseInput) (ConverseOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return ConverseOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}

	transcript, sttMs, err := s.userContent(ctx, in)
	if err != nil {
		return ConverseOutput{}, err
	}

	history, err := s.history.Project(ctx, sessionID)
	if err != nil {
		return ConverseOutput{}, newError(ErrorInternal, "history_read_error", err)
	}

	var reply string
	llmMs, err := s.timed(ctx, s.timeouts.Generation, func(ctx context.Context) error {
		var genErr error
		reply, genErr = s.llm.Generate(ctx, buildGenerationRequest(s.instruction, history, transcript))
		return genErr
	})
	if err != nil {
		return ConverseOutput{}, stageError(ErrorGeneration, stageGeneration, err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return ConverseOutput{}, newError(ErrorGeneration, "empty_reply", nil)
	}
	reply, disclaimed := s.safety.Review(reply)

	var audio []byte
	ttsMs, err := s.timed(ctx, s.timeouts.Synthesis, func(ctx context.Context) error {
		var synthErr error
		audio, synthErr = s.tts.Synthesize(ctx, reply)
		return synthErr
	})
	if err != nil {
		return ConverseOutput{}, stageError(ErrorSynthesis, stageSynthesis, err)
	}
	if len(audio) == 0 {
		return ConverseOutput{}, newError(ErrorSynthesis, "empty_audio", nil)
	}

	audioURL := s.saveAudio(ctx, sessionID, audio)

	saved, err := s.turns.AppendTurns(ctx, []domain.NewTurn{
		{SessionID: sessionID, Role: domain.RoleUser, Text: transcript, STTMs: sttMs},
		{SessionID: sessionID, Role: domain.RoleAssistant, Text: reply, AudioURL: audioURL, LLMMs: &llmMs, TTSMs: &ttsMs},
	})
	if err != nil {
		s.discardAudio(ctx, sessionID, audioURL)
		var fk *repository.ForeignKeyError
		if errors.As(err, &fk) {
			return ConverseOutput{}, newError(ErrorSessionNotFound, "session_not_found", err)
		}
		return ConverseOutput{}, newError(ErrorInternal, "store_write_error", err)
	}

	out := ConverseOutput{
		SessionID:     sessionID,
		Transcript:    transcript,
		Reply:         reply,
		Audio:         audio,
		AudioURL:      audioURL,
		STTMs:         sttMs,
		LLMMs:         llmMs,
		TTSMs:         ttsMs,
		Disclaimed:    disclaimed,
		UserTurn:      saved[0],
		AssistantTurn: saved[1],
	}
	s.afterPersist(ctx, out)
	return out, nil
}

// userContent resolves the user's utterance, transcribing audio when given.
func (s *ConversationService) userContent(ctx context.Context, in ConverseInput) (string, *int64, error) {
	if len(in.Audio) == 0 {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return "", nil, newError(ErrorTranscription, "empty_audio", nil)
		}
		return text, nil, nil
	}

	var transcript string
	ms, err := s.timed(ctx, s.timeouts.Transcription, func(ctx context.Context) error {
		var sttErr error
		transcript, sttErr = s.stt.Transcribe(ctx, in.Audio)
		return sttErr
	})
	if err != nil {
		return "", nil, stageError(ErrorTranscription, stageTranscription, err)
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", nil, newError(ErrorTranscription, "empty_transcript", nil)
	}
	return transcript, &ms, nil
}

// timed runs fn under its own deadline and reports the elapsed milliseconds.
func (s *ConversationService) timed(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (int64, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := s.now()
	err := fn(stageCtx)
	return s.now().Sub(start).Milliseconds(), err
}

func (s *ConversationService) saveAudio(ctx context.Context, sessionID string, audio []byte) *string {
	if s.audio == nil {
		return nil
	}
	ref, err := s.audio.Save(ctx, sessionID, audio)
	if err != nil {
		s.logger.Warn("failed to store synthesized audio", "session_id", sessionID, "err", err)
		return nil
	}
	return &ref
}

func (s *ConversationService) discardAudio(ctx context.Context, sessionID string, ref *string) {
	if s.audio == nil || ref == nil {
		return
	}
	if err := s.audio.Remove(ctx, *ref); err != nil {
		s.logger.Warn("failed to discard synthesized audio", "session_id", sessionID, "ref", *ref, "err", err)
	}
}

// afterPersist records the audit trail and publishes the round-trip event.
// Both are best effort: the turns are already committed.
func (s *ConversationService) afterPersist(ctx context.Context, out ConverseOutput) {
	s.logger.Info("round trip complete",
		"session_id", out.SessionID,
		"stt_ms", out.STTMs,
		"llm_ms", out.LLMMs,
		"tts_ms", out.TTSMs,
		"disclaimed", out.Disclaimed,
	)

	ev := domain.RoundTrip{
		SessionID:       out.SessionID,
		UserTurnID:      out.UserTurn.ID,
		AssistantTurnID: out.AssistantTurn.ID,
		STTMs:           out.STTMs,
		LLMMs:           out.LLMMs,
		TTSMs:           out.TTSMs,
		Disclaimed:      out.Disclaimed,
		AudioURL:        out.AudioURL,
		CompletedAt:     s.now().UTC(),
	}
	if s.audit != nil {
		actor := out.SessionID
		if _, err := s.audit.RecordAudit(ctx, &actor, auditActionRoundTrip, ev); err != nil {
			s.logger.Warn("failed to record audit", "session_id", out.SessionID, "err", err)
		}
	}
	if s.events != nil {
		if err := s.events.PublishRoundTrip(ctx, ev); err != nil {
			s.logger.Warn("failed to publish round trip", "session_id", out.SessionID, "err", err)
		}
	}
}

func stageError(code ErrorCode, stage string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(code, stage+"_rate_limited", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(code, stage+"_timeout", err)
	}
	return newError(code, stage+"_failed", err)
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
