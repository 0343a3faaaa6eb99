package domain

import "time"

// Turn is a single persisted utterance within a session.
type Turn struct {
	ID        int64
	SessionID string
	Role      string
	Text      string
	AudioURL  *string
	STTMs     *int64
	LLMMs     *int64
	TTSMs     *int64
	CreatedAt time.Time
}

// NewTurn carries the caller-supplied fields of a turn to be appended.
type NewTurn struct {
	SessionID string
	Role      string
	Text      string
	AudioURL  *string
	STTMs     *int64
	LLMMs     *int64
	TTSMs     *int64
}
