package detection

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/tphakala/go-tflite"
	"golang.org/x/image/draw"

	"github.com/tracewild/camtrap-go/internal/conf"
	"github.com/tracewild/camtrap-go/internal/errors"
	"github.com/tracewild/camtrap-go/internal/logging"
)

// detectionFields is the per-detection stride of the model's output tensor:
// x1, y1, x2, y2, confidence, class index.
const detectionFields = 6

// TFLiteDetector runs a TensorFlow Lite object detection model. The
// interpreter is not reentrant, a mutex serializes Detect calls.
type TFLiteDetector struct {
	model       *tflite.Model
	interpreter *tflite.Interpreter
	labels      *LabelSet
	inputSize   int

	mu sync.Mutex
}

// NewTFLiteDetector loads the model file and prepares an interpreter.
func NewTFLiteDetector(settings *conf.DetectionSettings, labels *LabelSet) (*TFLiteDetector, error) {
	modelData, err := os.ReadFile(settings.ModelPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("reading model file: %w", err)).
			Component("detection").
			Category(errors.CategoryModelInit).
			Context("path", settings.ModelPath).
			Build()
	}

	model := tflite.NewModel(modelData)
	if model == nil {
		return nil, errors.Newf("cannot load model from %s", settings.ModelPath).
			Component("detection").
			Category(errors.CategoryModelInit).
			Build()
	}

	logger := logging.ForService("detection")
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(runtime.NumCPU())
	options.SetErrorReporter(func(msg string, userData any) {
		logger.Error("tflite runtime error", "message", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, errors.NewStd("cannot create tflite interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, errors.Newf("tensor allocation failed").
			Component("detection").
			Category(errors.CategoryModelInit).
			Build()
	}

	// A configured input size that disagrees with the model would otherwise
	// only surface as an out-of-range write inside a job worker.
	if err := checkInputTensorSize(len(interpreter.GetInputTensor(0).Float32s()), settings.InputSize); err != nil {
		interpreter.Delete()
		model.Delete()
		return nil, err
	}

	return &TFLiteDetector{
		model:       model,
		interpreter: interpreter,
		labels:      labels,
		inputSize:   settings.InputSize,
	}, nil
}

// Detect runs one inference pass over the image and returns all raw
// detections with boxes mapped back to the source image's pixel space.
func (d *TFLiteDetector) Detect(ctx context.Context, img image.Image) ([]RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()

	input := d.interpreter.GetInputTensor(0)
	fillInputTensor(input.Float32s(), img, d.inputSize)

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.Newf("tflite invoke failed after %v", time.Since(started)).
			Component("detection").
			Category(errors.CategoryInference).
			Build()
	}

	output := d.interpreter.GetOutputTensor(0)
	return d.decodeOutput(output.Float32s(), img.Bounds()), nil
}

// Close releases the interpreter and model.
func (d *TFLiteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
	return nil
}

// checkInputTensorSize verifies that the model's input tensor holds exactly
// inputSize x inputSize RGB floats.
func checkInputTensorSize(tensorLen, inputSize int) error {
	if want := inputSize * inputSize * 3; tensorLen != want {
		return errors.Newf("model input tensor holds %d floats, input size %d requires %d", tensorLen, inputSize, want).
			Component("detection").
			Category(errors.CategoryModelInit).
			Build()
	}
	return nil
}

// fillInputTensor letterboxes the image into a square inputSize x inputSize
// RGB tensor normalized to 0..1.
func fillInputTensor(dst []float32, img image.Image, inputSize int) {
	scaled := image.NewRGBA(image.Rect(0, 0, inputSize, inputSize))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)

	i := 0
	for y := 0; y < inputSize; y++ {
		for x := 0; x < inputSize; x++ {
			offset := scaled.PixOffset(x, y)
			dst[i] = float32(scaled.Pix[offset]) / 255.0
			dst[i+1] = float32(scaled.Pix[offset+1]) / 255.0
			dst[i+2] = float32(scaled.Pix[offset+2]) / 255.0
			i += 3
		}
	}
}

// decodeOutput converts the flat output tensor into raw detections. Box
// coordinates in the tensor are normalized 0..1 and scaled here to the
// source image's dimensions.
func (d *TFLiteDetector) decodeOutput(output []float32, bounds image.Rectangle) []RawDetection {
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())

	var detections []RawDetection
	for i := 0; i+detectionFields <= len(output); i += detectionFields {
		confidence := float64(output[i+4])
		if confidence <= 0 {
			continue
		}
		class := d.labels.ClassName(int(output[i+5]))
		if class == "" {
			class = fmt.Sprintf("class_%d", int(output[i+5]))
		}
		detections = append(detections, RawDetection{
			Class:      class,
			Confidence: confidence,
			X1:         float64(output[i]) * width,
			Y1:         float64(output[i+1]) * height,
			X2:         float64(output[i+2]) * width,
			Y2:         float64(output[i+3]) * height,
		})
	}
	return detections
}
