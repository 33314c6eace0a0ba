package capture

import (
	"bytes"
	"context"
	"testing"

	"mirrorcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackImageGeometry(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	img := FallbackImage(cfg)

	assert.Equal(t, 640, img.Width)
	assert.Equal(t, 480, img.Height)
	assert.Len(t, img.Pixels, img.Stride*img.Height)

	// Corner pixel carries the solid fill.
	assert.Equal(t, []byte{0x1E, 0x3A, 0x8A, 0xFF}, img.Pixels[:4])
}

func TestFallbackImageDeterministic(t *testing.T) {
	cfg := domain.DefaultStreamConfig(domain.ModeBalanced)
	a := FallbackImage(cfg)
	b := FallbackImage(cfg)
	assert.Equal(t, a.Pixels, b.Pixels)
}

func TestJPEGEncoderProducesJPEG(t *testing.T) {
	img := FallbackImage(domain.DefaultStreamConfig(domain.ModeBalanced))

	out, err := (JPEGEncoder{}).EncodeJPEG(img, 0.5)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	// JPEG SOI marker.
	assert.True(t, bytes.HasPrefix(out, []byte{0xFF, 0xD8}))
}

func TestJPEGEncoderRejectsEmptyImage(t *testing.T) {
	_, err := (JPEGEncoder{}).EncodeJPEG(nil, 0.5)
	assert.Error(t, err)

	_, err = (JPEGEncoder{}).EncodeJPEG(&domain.RawImage{Width: 10, Height: 10, Stride: 40}, 0.5)
	assert.Error(t, err)
}

func TestSyntheticSourceHonorsSize(t *testing.T) {
	src := NewSyntheticSource()
	img, err := src.Capture(context.Background(), domain.CaptureTarget{}, 320, 180, false)
	require.NoError(t, err)

	assert.Equal(t, 320, img.Width)
	assert.Equal(t, 180, img.Height)
	assert.Len(t, img.Pixels, 320*4*180)
}

func TestSyntheticSourceMoves(t *testing.T) {
	src := NewSyntheticSource()
	a, err := src.Capture(context.Background(), domain.CaptureTarget{}, 64, 64, false)
	require.NoError(t, err)
	b, err := src.Capture(context.Background(), domain.CaptureTarget{}, 64, 64, false)
	require.NoError(t, err)

	assert.NotEqual(t, a.Pixels, b.Pixels)
}

func TestSyntheticSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSyntheticSource().Capture(ctx, domain.CaptureTarget{}, 64, 64, false)
	assert.ErrorIs(t, err, context.Canceled)
}
