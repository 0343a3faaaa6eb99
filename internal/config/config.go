// Package config is the only place that reads the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"

	BackendHTTP   = "http"
	BackendGoogle = "google"
	BackendOpenAI = "openai"
)

type Config struct {
	StoreBackend string
	DatabasePath string
	StateTable   string

	STTBackend  string
	STTURL      string
	STTLanguage string

	LLMBackend     string
	LLMURL         string
	OpenAIModel    string
	OpenAIBaseURL  string
	OpenAIKeyParam string

	TTSURL string

	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	AudioDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	EventsChannel string
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		StoreBackend: StoreSQLite,
		DatabasePath: "tutor.db",
		STTBackend:   BackendHTTP,
		STTURL:       "http://localhost:8001",
		STTLanguage:  "en-US",
		LLMBackend:   BackendHTTP,
		LLMURL:       "http://localhost:8002",
		OpenAIModel:  "gpt-4o-mini",
		TTSURL:       "http://localhost:8003",
		STTTimeout:   30 * time.Second,
		LLMTimeout:   60 * time.Second,
		TTSTimeout:   30 * time.Second,
	}
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup over Default and validates it.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := parseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
			return
		}
		*dst = d
	}

	str("STORE_BACKEND", &cfg.StoreBackend)
	str("DATABASE_PATH", &cfg.DatabasePath)
	str("STATE_TABLE", &cfg.StateTable)
	str("STT_BACKEND", &cfg.STTBackend)
	str("STT_URL", &cfg.STTURL)
	str("STT_LANGUAGE", &cfg.STTLanguage)
	str("LLM_BACKEND", &cfg.LLMBackend)
	str("LLM_URL", &cfg.LLMURL)
	str("OPENAI_MODEL", &cfg.OpenAIModel)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	str("OPENAI_KEY_PARAM", &cfg.OpenAIKeyParam)
	str("TTS_URL", &cfg.TTSURL)
	dur("STT_TIMEOUT", &cfg.STTTimeout)
	dur("LLM_TIMEOUT", &cfg.LLMTimeout)
	dur("TTS_TIMEOUT", &cfg.TTSTimeout)
	str("AUDIO_DIR", &cfg.AudioDir)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("EVENTS_CHANNEL", &cfg.EventsChannel)
	if v, ok := lookup("REDIS_DB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("config: REDIS_DB: invalid value %q", v))
		} else {
			cfg.RedisDB = n
		}
	}

	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	cfg.STTBackend = strings.ToLower(cfg.STTBackend)
	cfg.LLMBackend = strings.ToLower(cfg.LLMBackend)

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// parseDuration accepts Go durations ("45s") or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("must be positive, got %q", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %q", v)
	}
	return d, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DatabasePath == "" {
			errs = append(errs, errors.New("config: DATABASE_PATH is required for the sqlite store"))
		}
	case StoreDynamoDB:
		if c.StateTable == "" {
			errs = append(errs, errors.New("config: STATE_TABLE is required for the dynamodb store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.STTBackend {
	case BackendHTTP:
		if c.STTURL == "" {
			errs = append(errs, errors.New("config: STT_URL is required for the http transcriber"))
		}
	case BackendGoogle:
	default:
		errs = append(errs, fmt.Errorf("config: unknown STT_BACKEND %q", c.STTBackend))
	}

	switch c.LLMBackend {
	case BackendHTTP:
		if c.LLMURL == "" {
			errs = append(errs, errors.New("config: LLM_URL is required for the http generator"))
		}
	case BackendOpenAI:
		if c.OpenAIKeyParam == "" {
			errs = append(errs, errors.New("config: OPENAI_KEY_PARAM is required for the openai generator"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown LLM_BACKEND %q", c.LLMBackend))
	}

	if c.TTSURL == "" {
		errs = append(errs, errors.New("config: TTS_URL is required"))
	}
	return errors.Join(errs...)
}
