package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupFrom(vals map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vals[key]
		return v, ok
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(nil))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestFromLookup_Overrides(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{
		"STORE_BACKEND":    "DynamoDB",
		"STATE_TABLE":      "tutor-state",
		"STT_BACKEND":      "google",
		"STT_LANGUAGE":     "en-GB",
		"LLM_BACKEND":      "openai",
		"OPENAI_KEY_PARAM": "/voice-tutor/openai-token",
		"OPENAI_MODEL":     "gpt-4o",
		"TTS_URL":          "http://tts:8000",
		"STT_TIMEOUT":      "5s",
		"LLM_TIMEOUT":      "90",
		"AUDIO_DIR":        "/tmp/audio",
		"REDIS_ADDR":       "localhost:6379",
		"REDIS_DB":         "2",
		"EVENTS_CHANNEL":   "tutor",
	}))
	require.NoError(t, err)
	require.Equal(t, StoreDynamoDB, cfg.StoreBackend)
	require.Equal(t, "tutor-state", cfg.StateTable)
	require.Equal(t, BackendGoogle, cfg.STTBackend)
	require.Equal(t, "en-GB", cfg.STTLanguage)
	require.Equal(t, BackendOpenAI, cfg.LLMBackend)
	require.Equal(t, "gpt-4o", cfg.OpenAIModel)
	require.Equal(t, 5*time.Second, cfg.STTTimeout)
	require.Equal(t, 90*time.Second, cfg.LLMTimeout)
	require.Equal(t, 30*time.Second, cfg.TTSTimeout)
	require.Equal(t, "/tmp/audio", cfg.AudioDir)
	require.Equal(t, 2, cfg.RedisDB)
	require.Equal(t, "tutor", cfg.EventsChannel)
}

func TestFromLookup_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		vals map[string]string
		want string
	}{
		{name: "unknown store", vals: map[string]string{"STORE_BACKEND": "postgres"}, want: "STORE_BACKEND"},
		{name: "dynamo without table", vals: map[string]string{"STORE_BACKEND": "dynamodb"}, want: "STATE_TABLE"},
		{name: "unknown stt", vals: map[string]string{"STT_BACKEND": "whisper"}, want: "STT_BACKEND"},
		{name: "openai without key", vals: map[string]string{"LLM_BACKEND": "openai"}, want: "OPENAI_KEY_PARAM"},
		{name: "bad duration", vals: map[string]string{"TTS_TIMEOUT": "soon"}, want: "TTS_TIMEOUT"},
		{name: "negative duration", vals: map[string]string{"STT_TIMEOUT": "-1s"}, want: "STT_TIMEOUT"},
		{name: "bad redis db", vals: map[string]string{"REDIS_DB": "one"}, want: "REDIS_DB"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromLookup(lookupFrom(tc.vals))
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestFromLookup_BlankValuesKeepDefaults(t *testing.T) {
	cfg, err := FromLookup(lookupFrom(map[string]string{"STT_URL": "  ", "LLM_TIMEOUT": ""}))
	require.NoError(t, err)
	require.Equal(t, Default().STTURL, cfg.STTURL)
	require.Equal(t, Default().LLMTimeout, cfg.LLMTimeout)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("DATABASE_PATH=from-dotenv.db\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.Unsetenv("DATABASE_PATH"))
	t.Cleanup(func() { _ = os.Unsetenv("DATABASE_PATH") })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv.db", cfg.DatabasePath)
}
