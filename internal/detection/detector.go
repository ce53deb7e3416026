package detection

import (
	"context"
	"image"

	"github.com/tracewild/camtrap-go/internal/datastore"
)

// RawDetection is one model detection before threshold filtering. Box
// coordinates are pixels in the source image's coordinate space.
type RawDetection struct {
	Class      string
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// Detector runs object detection over a single decoded image. Implementations
// must be safe for sequential reuse, the orchestrator serializes calls.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]RawDetection, error)
	Close() error
}

// Result is the shaped outcome of one image's detection pass.
type Result struct {
	BestClass   string
	Accuracy    float64 // confidence of the best detection, 0..1
	ObjectCount int
	Counts      map[string]int // detections kept per class
	Detections  []datastore.Detection
}

// shapeResult applies threshold and closed-set filtering to raw detections
// and derives the summary fields. Detections below the threshold or, when
// closedSet is true, with classes outside the label set are discarded. A nil
// result slice means no valid detections survived.
func shapeResult(raw []RawDetection, threshold float64, labels *LabelSet, closedSet bool) Result {
	result := Result{Counts: make(map[string]int)}

	for _, d := range raw {
		if d.Confidence < threshold {
			continue
		}
		if closedSet && !labels.Contains(d.Class) {
			continue
		}

		result.Detections = append(result.Detections, datastore.Detection{
			Class:      d.Class,
			Confidence: d.Confidence,
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
		})
		result.Counts[d.Class]++
		result.ObjectCount++

		if d.Confidence > result.Accuracy {
			result.Accuracy = d.Confidence
			result.BestClass = d.Class
		}
	}

	return result
}
