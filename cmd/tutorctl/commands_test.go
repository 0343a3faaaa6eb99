package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "tutor.db")
	t.Setenv("DATABASE_PATH", db)
	t.Setenv("STORE_BACKEND", "sqlite")
	_, err := run(t, "migrate", "up")
	require.NoError(t, err)
	return db
}

func TestMigrate_UpAndDown(t *testing.T) {
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "tutor.db"))

	out, err := run(t, "migrate", "up")
	require.NoError(t, err)
	require.Equal(t, "migrated up: users, sessions, turns, voices, audit\n", out)

	out, err = run(t, "migrate", "down")
	require.NoError(t, err)
	require.Equal(t, "migrated down\n", out)
}

func TestSessionLifecycle(t *testing.T) {
	setupDB(t)

	out, err := run(t, "user", "create", "--name", "Ada", "--email", "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "1\n", out)

	out, err = run(t, "session", "create", "s1", "--user", "1")
	require.NoError(t, err)
	require.Equal(t, "s1\n", out)

	_, err = run(t, "session", "create", "s1")
	require.Error(t, err)

	_, err = run(t, "session", "status", "s1", "closed")
	require.NoError(t, err)

	out, err = run(t, "session", "show", "s1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "s1\tclosed\tuser=1\t"), out)

	out, err = run(t, "history", "s1")
	require.NoError(t, err)
	require.Empty(t, out)

	_, err = run(t, "session", "delete", "s1")
	require.NoError(t, err)
	_, err = run(t, "session", "show", "s1")
	require.Error(t, err)
}

func TestSessionCreate_GeneratesID(t *testing.T) {
	setupDB(t)

	out, err := run(t, "session", "create")
	require.NoError(t, err)
	require.Len(t, strings.TrimSpace(out), 36)
}

func TestVoices(t *testing.T) {
	setupDB(t)

	_, err := run(t, "voice", "add", "calm", "voices/calm.pt", "--description", "slow and warm")
	require.NoError(t, err)
	_, err = run(t, "voice", "add", "calm", "voices/other.pt")
	require.Error(t, err)

	out, err := run(t, "voice", "list")
	require.NoError(t, err)
	require.Equal(t, "calm\tvoices/calm.pt\n", out)
}

func TestConverse_TextRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"You should take medication to treat it"}`))
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	setupDB(t)
	t.Setenv("STT_URL", srv.URL)
	t.Setenv("LLM_URL", srv.URL)
	t.Setenv("TTS_URL", srv.URL)

	_, err := run(t, "session", "create", "s1")
	require.NoError(t, err)

	reply := filepath.Join(t.TempDir(), "reply.wav")
	out, err := run(t, "converse", "s1", "--text", "How is it treated?", "--out", reply)
	require.NoError(t, err)
	require.Contains(t, out, "user: How is it treated?")
	require.Contains(t, out, "Disclaimer: I am an AI tutor")
	data, err := os.ReadFile(reply)
	require.NoError(t, err)
	require.Equal(t, []byte("RIFF"), data)

	out, err = run(t, "history", "s1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "user: How is it treated?\nassistant: You should take medication to treat it"), out)

	out, err = run(t, "audit", "--limit", "5")
	require.NoError(t, err)
	require.Contains(t, out, "conversation.round_trip")
}

func TestAudio_ExportsStoredReply(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/generate", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"Insulin lowers blood sugar."}`))
	})
	mux.HandleFunc("/synthesize", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF....WAVE"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	setupDB(t)
	t.Setenv("LLM_URL", srv.URL)
	t.Setenv("TTS_URL", srv.URL)
	t.Setenv("AUDIO_DIR", filepath.Join(t.TempDir(), "audio"))

	_, err := run(t, "session", "create", "s1")
	require.NoError(t, err)
	out, err := run(t, "converse", "s1", "--text", "What does insulin do?")
	require.NoError(t, err)

	var ref string
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, "audio_url="); ok {
			ref = v
		}
	}
	require.True(t, strings.HasPrefix(ref, "s1/"), out)

	exported := filepath.Join(t.TempDir(), "reply.wav")
	_, err = run(t, "audio", ref, "--out", exported)
	require.NoError(t, err)
	data, err := os.ReadFile(exported)
	require.NoError(t, err)
	require.Equal(t, []byte("RIFF....WAVE"), data)

	out, err = run(t, "audio", ref)
	require.NoError(t, err)
	require.Equal(t, "RIFF....WAVE", out)

	_, err = run(t, "audio", "../escape.wav")
	require.Error(t, err)
}

func TestConverse_RequiresExactlyOneInput(t *testing.T) {
	setupDB(t)

	_, err := run(t, "converse", "s1")
	require.ErrorContains(t, err, "exactly one of")
	_, err = run(t, "converse", "s1", "--text", "hi", "--audio", "q.wav")
	require.ErrorContains(t, err, "exactly one of")
}
