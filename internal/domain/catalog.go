package domain

import "time"

// Voice names a synthesis voice profile. Ref is opaque to everything but the
// synthesis engine.
type Voice struct {
	ID          int64
	Name        string
	Description *string
	Ref         string
}

// Audit is a write-once log record.
type Audit struct {
	ID          int64
	Actor       *string
	Action      string
	DetailsJSON *string
	CreatedAt   time.Time
}
