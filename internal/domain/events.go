package domain

import "time"

// RoundTrip describes one completed transcription → generation → synthesis
// cycle after its turns were persisted.
type RoundTrip struct {
	SessionID       string    `json:"session_id"`
	UserTurnID      int64     `json:"user_turn_id"`
	AssistantTurnID int64     `json:"assistant_turn_id"`
	STTMs           *int64    `json:"stt_ms,omitempty"`
	LLMMs           int64     `json:"llm_ms"`
	TTSMs           int64     `json:"tts_ms"`
	Disclaimed      bool      `json:"disclaimed"`
	AudioURL        *string   `json:"audio_url,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}
