// Package history replays stored conversation turns as generation-engine
// chat messages.
package history

import (
	"context"
	"errors"

	"voice-tutor/internal/domain"
)

// TurnLister is the read side of the turn store.
type TurnLister interface {
	ListTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

// Projector translates stored turns (role, text) into the role/content shape
// the generation engines consume. It is the only place that rename happens.
type Projector struct {
	turns TurnLister
}

func NewProjector(turns TurnLister) (*Projector, error) {
	if turns == nil {
		return nil, errors.New("history: turn lister must not be nil")
	}
	return &Projector{turns: turns}, nil
}

// Project returns the session's turns as chat messages, role and order
// preserved. Store errors are returned as-is.
func (p *Projector) Project(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	turns, err := p.turns.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return ToChatMessages(turns), nil
}

// ToChatMessages maps turns one-to-one onto chat messages.
func ToChatMessages(turns []domain.Turn) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, domain.ChatMessage{Role: t.Role, Content: t.Text})
	}
	return out
}
