package metadata

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/tracewild/camtrap-go/internal/errors"
)

// thumbnailQuality is the JPEG quality used for generated thumbnails.
// Thumbnails are preview-only, so a lower quality keeps them small.
const thumbnailQuality = 75

// GenerateThumbnail reads the source image, scales it so its longest edge is
// at most maxPx and writes the result to thumbnailPath. The source aspect
// ratio is preserved. Images already smaller than maxPx are re-encoded
// without scaling.
func GenerateThumbnail(sourcePath, thumbnailPath string, maxPx int) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return errors.New(fmt.Errorf("reading source image: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			Context("path", sourcePath).
			Build()
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errors.New(fmt.Errorf("decoding source image: %w", err)).
			Component("metadata").
			Category(errors.CategoryImageDecode).
			Context("path", sourcePath).
			Build()
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	scaled := src
	if width > maxPx || height > maxPx {
		newWidth, newHeight := fitWithin(width, height, maxPx)
		dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		// ApproxBiLinear is the sweet spot here, CatmullRom is visibly
		// better but several times slower and thumbnails do not need it.
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		scaled = dst
	}

	if err := os.MkdirAll(filepath.Dir(thumbnailPath), 0o755); err != nil {
		return errors.New(fmt.Errorf("creating thumbnail directory: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			Build()
	}

	out, err := os.Create(thumbnailPath)
	if err != nil {
		return errors.New(fmt.Errorf("creating thumbnail file: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			Context("path", thumbnailPath).
			Build()
	}
	defer out.Close()

	if err := jpeg.Encode(out, scaled, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return errors.New(fmt.Errorf("encoding thumbnail: %w", err)).
			Component("metadata").
			Category(errors.CategoryFileIO).
			Context("path", thumbnailPath).
			Build()
	}

	return nil
}

// fitWithin scales (width, height) down proportionally so the longest edge
// equals maxPx.
func fitWithin(width, height, maxPx int) (int, int) {
	if width >= height {
		return maxPx, max(1, height*maxPx/width)
	}
	return max(1, width*maxPx/height), maxPx
}
