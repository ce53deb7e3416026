package detection

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/tracewild/camtrap-go/internal/datastore"
	"github.com/tracewild/camtrap-go/internal/errors"
)

// annotatedQuality is the JPEG quality for annotated review images.
const annotatedQuality = 85

// boxThickness is the bounding box outline width in pixels.
const boxThickness = 3

// classColors gives each species a stable review color. Unknown classes
// fall back to white.
var classColors = map[string]color.RGBA{
	"deer":   {R: 0, G: 200, B: 0, A: 255},
	"pig":    {R: 230, G: 80, B: 0, A: 255},
	"racoon": {R: 0, G: 120, B: 230, A: 255},
}

// annotateImage draws the kept detections' bounding boxes onto a copy of
// the source image and returns it encoded as JPEG.
func annotateImage(src image.Image, detections []datastore.Detection) ([]byte, error) {
	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	for _, d := range detections {
		c, ok := classColors[d.Class]
		if !ok {
			c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
		}
		drawBox(canvas, int(d.X1), int(d.Y1), int(d.X2), int(d.Y2), c)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: annotatedQuality}); err != nil {
		return nil, errors.New(fmt.Errorf("encoding annotated image: %w", err)).
			Component("detection").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return buf.Bytes(), nil
}

// drawBox draws a rectangle outline clipped to the canvas bounds.
func drawBox(canvas *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	for t := 0; t < boxThickness; t++ {
		drawHLine(canvas, x1, x2, y1+t, c)
		drawHLine(canvas, x1, x2, y2-t, c)
		drawVLine(canvas, y1, y2, x1+t, c)
		drawVLine(canvas, y1, y2, x2-t, c)
	}
}

func drawHLine(canvas *image.RGBA, x1, x2, y int, c color.RGBA) {
	for x := x1; x <= x2; x++ {
		if image.Pt(x, y).In(canvas.Bounds()) {
			canvas.SetRGBA(x, y, c)
		}
	}
}

func drawVLine(canvas *image.RGBA, y1, y2, x int, c color.RGBA) {
	for y := y1; y <= y2; y++ {
		if image.Pt(x, y).In(canvas.Bounds()) {
			canvas.SetRGBA(x, y, c)
		}
	}
}
