package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/require"

	"voice-tutor/internal/config"
	"voice-tutor/internal/usecase"
)

func engineServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"transcript":"What is diabetes?"}`))
	})
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Diabetes is a condition where blood sugar stays too high."}`))
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVE"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBuild_SQLiteWithHTTPEngines(t *testing.T) {
	srv := engineServer(t)
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(dir, "tutor.db")
	cfg.STTURL = srv.URL
	cfg.LLMURL = srv.URL
	cfg.TTSURL = srv.URL
	cfg.AudioDir = filepath.Join(dir, "audio")

	ctx := context.Background()
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.NotNil(t, a.SQL)

	_, err = a.Store.CreateSession(ctx, "s1", nil)
	require.NoError(t, err)

	out, err := a.Service.Converse(ctx, usecase.ConverseInput{SessionID: "s1", Audio: []byte("pcm")})
	require.NoError(t, err)
	require.Equal(t, "What is diabetes?", out.Transcript)
	require.NotNil(t, out.AudioURL)

	msgs, err := a.Projector.Project(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	audits, err := a.SQL.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Equal(t, "conversation.round_trip", audits[0].Action)
}

func TestBuild_BadDatabasePath(t *testing.T) {
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "missing", "dir", "tutor.db")

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func stubAWSConfig(t *testing.T, calls *int) {
	t.Helper()
	orig := loadAWSConfig
	loadAWSConfig = func(context.Context) (aws.Config, error) {
		*calls++
		return aws.Config{Region: "us-east-1"}, nil
	}
	t.Cleanup(func() { loadAWSConfig = orig })
}

func TestBuild_DynamoDBAndOpenAIShareAWSConfig(t *testing.T) {
	calls := 0
	stubAWSConfig(t, &calls)
	cfg := config.Default()
	cfg.StoreBackend = config.StoreDynamoDB
	cfg.StateTable = "voice-tutor-state"
	cfg.LLMBackend = config.BackendOpenAI
	cfg.OpenAIKeyParam = "/voice-tutor/openai-token"

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Nil(t, a.SQL)
	require.Equal(t, 1, calls)
}

func TestBuild_SQLiteWithHTTPEnginesSkipsAWSConfig(t *testing.T) {
	calls := 0
	stubAWSConfig(t, &calls)
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "tutor.db")

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	require.Zero(t, calls)
}

func TestOpenStore_DynamoDB(t *testing.T) {
	calls := 0
	stubAWSConfig(t, &calls)
	cfg := config.Default()
	cfg.StoreBackend = config.StoreDynamoDB
	cfg.StateTable = "voice-tutor-state"

	store, sqlStore, err := OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Nil(t, sqlStore)
	require.Equal(t, 1, calls)
}
