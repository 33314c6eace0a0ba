package capture

import (
	"context"

	"mirrorcast/internal/core/domain"
)

// StaticEnumerator serves a fixed set of windows and displays. It backs
// the synthetic source and is handy in tests.
type StaticEnumerator struct {
	Windows  []domain.Window
	Displays []domain.Display
}

// NewSyntheticEnumerator returns the enumerator matching the synthetic
// capture source: one virtual display, no windows.
func NewSyntheticEnumerator() *StaticEnumerator {
	return &StaticEnumerator{
		Displays: []domain.Display{
			{ID: 1, Name: "Virtual Display", Width: 1920, Height: 1080},
		},
	}
}

func (e *StaticEnumerator) ListWindows(ctx context.Context) ([]domain.Window, error) {
	return e.Windows, nil
}

func (e *StaticEnumerator) ListDisplays(ctx context.Context) ([]domain.Display, error) {
	return e.Displays, nil
}
