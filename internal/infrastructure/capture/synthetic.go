package capture

import (
	"context"
	"sync/atomic"

	"mirrorcast/internal/core/domain"
)

// SyntheticSource is a capture primitive that renders a moving test
// pattern. It stands in for a platform capture backend on hosts that
// have none and keeps the full pipeline exercisable end to end.
type SyntheticSource struct {
	frame atomic.Uint64
}

// NewSyntheticSource creates a synthetic capture source.
func NewSyntheticSource() *SyntheticSource {
	return &SyntheticSource{}
}

// Capture implements ports.Capture. The pattern is a diagonal gradient
// whose phase advances every call, so receivers see motion.
func (s *SyntheticSource) Capture(ctx context.Context, target domain.CaptureTarget, scaledWidth, scaledHeight int, cursor bool) (*domain.RawImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scaledWidth <= 0 || scaledHeight <= 0 {
		return nil, domain.ErrCaptureUnavailable
	}

	phase := s.frame.Add(1)
	stride := scaledWidth * 4
	pixels := make([]byte, stride*scaledHeight)
	for y := 0; y < scaledHeight; y++ {
		row := pixels[y*stride:]
		for x := 0; x < scaledWidth; x++ {
			v := byte(uint64(x+y) + phase*3)
			o := x * 4
			row[o] = v
			row[o+1] = byte(uint64(x) + phase)
			row[o+2] = byte(uint64(y) + phase*2)
			row[o+3] = 0xFF
		}
	}

	return &domain.RawImage{
		Width:  scaledWidth,
		Height: scaledHeight,
		Stride: stride,
		Pixels: pixels,
	}, nil
}
