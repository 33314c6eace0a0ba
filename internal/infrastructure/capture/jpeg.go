package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"mirrorcast/internal/core/domain"
)

// JPEGEncoder compresses raw RGBA frames with the standard library
// JPEG encoder.
type JPEGEncoder struct{}

// EncodeJPEG implements ports.Encoder. Quality is the stream's 0–1
// scale mapped onto the encoder's 1–100 range.
func (JPEGEncoder) EncodeJPEG(img *domain.RawImage, quality float64) ([]byte, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("encode: empty image")
	}
	if len(img.Pixels) < img.Stride*img.Height {
		return nil, fmt.Errorf("encode: pixel buffer shorter than stride*height")
	}

	rgba := &image.RGBA{
		Pix:    img.Pixels,
		Stride: img.Stride,
		Rect:   image.Rect(0, 0, img.Width, img.Height),
	}

	q := int(quality * 100)
	if q < 1 {
		q = 1
	}
	if q > 100 {
		q = 100
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: q}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}
