// Package app assembles the conversation pipeline from configuration. Both
// the Lambda entry point and tutorctl build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"voice-tutor/internal/artifacts"
	"voice-tutor/internal/config"
	"voice-tutor/internal/domain"
	"voice-tutor/internal/events"
	"voice-tutor/internal/history"
	"voice-tutor/internal/integrations/llm"
	"voice-tutor/internal/integrations/paramstore"
	"voice-tutor/internal/integrations/stt"
	"voice-tutor/internal/integrations/tts"
	"voice-tutor/internal/repository"
	"voice-tutor/internal/usecase"
)

var loadAWSConfig = func(ctx context.Context) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx)
}

// ConversationStore is what both store backends provide.
type ConversationStore interface {
	CreateSession(ctx context.Context, sessionID string, userID *int64) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	AppendTurns(ctx context.Context, turns []domain.NewTurn) ([]domain.Turn, error)
	ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

type App struct {
	Store     ConversationStore
	SQL       *repository.Store // nil unless the sqlite backend is selected
	Projector *history.Projector
	Service   *usecase.ConversationService

	closers []func() error
}

// Build opens the store, creates the engine clients and the optional sinks,
// and wires the conversation service. The sqlite schema is migrated on open.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var awsCfg aws.Config
	if cfg.StoreBackend == config.StoreDynamoDB || cfg.LLMBackend == config.BackendOpenAI {
		awsCfg, err = loadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}

	store, sqlStore, err := openStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}
	a.Store = store
	if sqlStore != nil {
		a.SQL = sqlStore
		a.closers = append(a.closers, sqlStore.Close)
		if err := sqlStore.MigrateUp(ctx); err != nil {
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
	}

	var ssmGetter paramstore.Getter
	if cfg.LLMBackend == config.BackendOpenAI {
		ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, fmt.Errorf("app: create paramstore: %w", err)
		}
		ssmGetter = ps
	}

	transcriber, err := newTranscriber(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(cfg, ssmGetter)
	if err != nil {
		return nil, err
	}
	synthesizer, err := tts.NewHTTPClient(cfg.TTSURL, cfg.TTSTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: create synthesizer: %w", err)
	}

	a.Projector, err = history.NewProjector(a.Store)
	if err != nil {
		return nil, fmt.Errorf("app: create projector: %w", err)
	}

	opts := []usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithTimeouts(usecase.Timeouts{
			Transcription: cfg.STTTimeout,
			Generation:    cfg.LLMTimeout,
			Synthesis:     cfg.TTSTimeout,
		}),
	}
	if a.SQL != nil {
		opts = append(opts, usecase.WithAuditRecorder(a.SQL))
	}
	if cfg.AudioDir != "" {
		sink, err := artifacts.NewAudioDir(cfg.AudioDir)
		if err != nil {
			return nil, fmt.Errorf("app: create audio dir: %w", err)
		}
		opts = append(opts, usecase.WithAudioSink(sink))
	}
	if cfg.RedisAddr != "" {
		pub, err := events.Dial(ctx, events.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Channel:  cfg.EventsChannel,
		})
		if err != nil {
			return nil, fmt.Errorf("app: connect events: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, usecase.WithEventPublisher(pub))
	}

	a.Service, err = usecase.NewConversationService(transcriber, generator, synthesizer, a.Projector, a.Store, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create conversation service: %w", err)
	}
	logger.Info("pipeline ready",
		"store", cfg.StoreBackend,
		"stt", cfg.STTBackend,
		"llm", cfg.LLMBackend,
		"audio_dir", cfg.AudioDir != "",
		"events", cfg.RedisAddr != "",
	)
	return a, nil
}

// OpenStore opens the configured conversation store. The second result is
// the relational store when the sqlite backend is selected and nil otherwise.
func OpenStore(ctx context.Context, cfg config.Config) (ConversationStore, *repository.Store, error) {
	var awsCfg aws.Config
	if cfg.StoreBackend == config.StoreDynamoDB {
		var err error
		awsCfg, err = loadAWSConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("app: load AWS config: %w", err)
		}
	}
	return openStore(cfg, awsCfg)
}

func openStore(cfg config.Config, awsCfg aws.Config) (ConversationStore, *repository.Store, error) {
	if cfg.StoreBackend == config.StoreDynamoDB {
		store, err := repository.NewDynamo(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, nil, nil
	}
	store, err := repository.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, fmt.Errorf("app: open sqlite store: %w", err)
	}
	return store, store, nil
}

func newTranscriber(ctx context.Context, cfg config.Config, a *App) (usecase.Transcriber, error) {
	if cfg.STTBackend == config.BackendGoogle {
		c, err := stt.NewGoogleClient(ctx, cfg.STTLanguage)
		if err != nil {
			return nil, fmt.Errorf("app: create transcriber: %w", err)
		}
		a.closers = append(a.closers, c.Close)
		return c, nil
	}
	c, err := stt.NewHTTPClient(cfg.STTURL, cfg.STTTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: create transcriber: %w", err)
	}
	return c, nil
}

func newGenerator(cfg config.Config, getter paramstore.Getter) (usecase.Generator, error) {
	if cfg.LLMBackend == config.BackendOpenAI {
		var opts []llm.OpenAIOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.OpenAIBaseURL))
		}
		c, err := llm.NewOpenAIClient(getter, cfg.OpenAIKeyParam, cfg.OpenAIModel, opts...)
		if err != nil {
			return nil, fmt.Errorf("app: create generator: %w", err)
		}
		return c, nil
	}
	c, err := llm.NewHTTPClient(cfg.LLMURL, cfg.LLMTimeout)
	if err != nil {
		return nil, fmt.Errorf("app: create generator: %w", err)
	}
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
