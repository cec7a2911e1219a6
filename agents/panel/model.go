package panel

import (
	"context"

	"dlevel-stack/shared/ai"
)

// LocalModel is the on-device language model.
type LocalModel interface {
	Availability(ctx context.Context) (ai.Availability, error)
	Create(ctx context.Context) (Session, error)
}

// Session is one ephemeral prompt session. It must be destroyed after use.
type Session interface {
	Prompt(ctx context.Context, prompt string) (string, error)
	Destroy()
}

type localModel struct {
	m *ai.LocalModel
}

// FromLocalModel adapts the OpenAI compatible local model to the panel.
func FromLocalModel(m *ai.LocalModel) LocalModel {
	return localModel{m: m}
}

func (l localModel) Availability(ctx context.Context) (ai.Availability, error) {
	return l.m.Availability(ctx)
}

func (l localModel) Create(ctx context.Context) (Session, error) {
	s, err := l.m.Create(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}
