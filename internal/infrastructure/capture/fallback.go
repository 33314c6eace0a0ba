package capture

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"mirrorcast/internal/core/domain"
)

// Fallback image geometry. Deterministic so receivers can tell "server
// degraded" apart from "server gone".
const (
	fallbackWidth  = 640
	fallbackHeight = 480
)

var fallbackFill = color.RGBA{R: 0x1E, G: 0x3A, B: 0x8A, A: 0xFF}

// FallbackImage renders the solid-fill placeholder frame emitted when
// the capture target is unresolvable or the capture primitive fails.
// The text reflects the current stream settings.
func FallbackImage(cfg domain.StreamConfig) *domain.RawImage {
	img := image.NewRGBA(image.Rect(0, 0, fallbackWidth, fallbackHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fallbackFill}, image.Point{}, draw.Src)

	audio := "OFF"
	if cfg.AudioEnabled {
		audio = "ON"
	}
	lines := []string{
		"Mac Screen Mirroring",
		fmt.Sprintf("FPS: %d", cfg.FPSTarget),
		fmt.Sprintf("Quality: %d%%", int(cfg.ImageQuality*100+0.5)),
		fmt.Sprintf("Audio: %s", audio),
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	lineHeight := 24
	y := fallbackHeight/2 - lineHeight*len(lines)/2
	for _, line := range lines {
		w := d.MeasureString(line)
		d.Dot = fixed.P((fallbackWidth-w.Ceil())/2, y)
		d.DrawString(line)
		y += lineHeight
	}

	return &domain.RawImage{
		Width:  fallbackWidth,
		Height: fallbackHeight,
		Stride: img.Stride,
		Pixels: img.Pix,
	}
}
