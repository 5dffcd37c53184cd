package media

import (
	"fmt"
	"image"
	"image/color"
	"image/color/palette"

	"chromi/internal/logging"

	// Frame decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// DefaultPalette is used to quantize frames when no palette is supplied.
var DefaultPalette color.Palette = palette.Plan9

// LoadFrame decodes an extracted video frame and scales it down to fit
// within maxWidth x maxHeight, preserving aspect ratio. Frames that already
// fit are returned unscaled. libvips is used when it has been initialized.
func LoadFrame(path string, maxWidth, maxHeight int) (image.Image, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("invalid frame bounds %dx%d", maxWidth, maxHeight)
	}

	if IsVipsAvailable() {
		img, err := loadFrameWithVips(path, maxWidth, maxHeight)
		if err == nil {
			return img, nil
		}
		logging.Debug("vips frame load failed for %s, using imaging: %v", path, err)
	}

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}

	return FitFrame(img, maxWidth, maxHeight), nil
}

// FitFrame scales img down with a Lanczos filter so it fits inside the
// bounds. It never scales up.
func FitFrame(img image.Image, maxWidth, maxHeight int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxWidth && b.Dy() <= maxHeight {
		return img
	}
	return imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)
}

// Quantize maps img onto pal with Floyd-Steinberg error diffusion.
func Quantize(img image.Image, pal color.Palette) *image.Paletted {
	if len(pal) == 0 {
		pal = DefaultPalette
	}
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), pal)
	draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	return dst
}
