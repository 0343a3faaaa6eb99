package domain

import "time"

const (
	SessionStatusActive = "active"
	DefaultUserRole     = "user"
)

// User is an identity record. A user references sessions but does not own them.
type User struct {
	ID        int64
	Name      *string
	Email     *string
	Role      string
	CreatedAt time.Time
}

// Session is one continuous conversation. The ID is chosen by the caller.
type Session struct {
	ID        string
	UserID    *int64
	Status    string
	CreatedAt time.Time
}
