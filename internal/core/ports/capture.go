package ports

import (
	"context"

	"mirrorcast/internal/core/domain"
)

// Capture is the injected screen-capture primitive. The caller imposes
// the deadline through ctx; implementations must not retain the pixel
// buffer across calls.
type Capture interface {
	Capture(ctx context.Context, target domain.CaptureTarget, scaledWidth, scaledHeight int, cursor bool) (*domain.RawImage, error)
}

// Encoder compresses a raw frame. An empty output means encode failure
// and drops the frame.
type Encoder interface {
	EncodeJPEG(img *domain.RawImage, quality float64) ([]byte, error)
}

// AudioSource is the injected audio tap. The callback runs on the
// capture thread with interleaved float samples and must never block;
// buffer ownership returns to the source when the callback returns.
type AudioSource interface {
	Start(cb func(samples []float32, format domain.AudioFormat)) error
	Stop()
}

// ContentEnumerator lists capturable windows and displays.
type ContentEnumerator interface {
	ListWindows(ctx context.Context) ([]domain.Window, error)
	ListDisplays(ctx context.Context) ([]domain.Display, error)
}

// SystemMonitor reports host pressure inputs for the adaptive
// controller and the per-tick guard.
type SystemMonitor interface {
	ThermalState() domain.ThermalState
	MemoryUsageMiB() float64
}
