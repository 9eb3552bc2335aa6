package vision

import (
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/neuraflow/internal/observability"
	"github.com/your-org/neuraflow/internal/tracking"
)

// Box is a raw detector box in original image pixels.
type Box struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// DetectorOptions tunes the person detector.
type DetectorOptions struct {
	InputSize    int
	Threshold    float32 // minimum person score kept before NMS
	NMSThreshold float32
	Filter       BoxFilter
}

// Detector runs a YOLOv8 person detector using ONNX Runtime.
type Detector struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	opts         DetectorOptions
	anchors      int
}

// YOLOv8 export: output0 is [1, 4+80, anchors], rows cx, cy, w, h then class scores.
const (
	yoloBoxRows   = 4
	yoloClasses   = 80
	personClassID = 0
)

// NewDetector loads the YOLOv8 ONNX model.
// ortOpts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, opts DetectorOptions, ortOpts *ort.SessionOptions) (*Detector, error) {
	if opts.InputSize <= 0 {
		return nil, fmt.Errorf("invalid detector input size %d", opts.InputSize)
	}
	size := int64(opts.InputSize)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// 640 input: 80*80 + 40*40 + 20*20 = 8400 anchors
	anchors := anchorCount(opts.InputSize)
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, yoloBoxRows+yoloClasses, int64(anchors)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		ortOpts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		opts:         opts,
		anchors:      anchors,
	}, nil
}

// Detect finds people in img and returns tracker-ready boxes in img pixels.
func (d *Detector) Detect(img image.Image) ([]tracking.Detection, error) {
	b := img.Bounds()
	origW, origH := b.Dx(), b.Dy()

	start := time.Now()
	copy(d.inputTensor.GetData(), preprocessForDetection(img, d.opts.InputSize, d.opts.InputSize))
	observability.StageDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	start = time.Now()
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	observability.StageDuration.WithLabelValues("inference").Observe(time.Since(start).Seconds())

	boxes := decodeYOLO(d.outputTensor.GetData(), d.anchors, d.opts.InputSize, d.opts.Threshold, origW, origH)
	boxes = nms(boxes, d.opts.NMSThreshold)
	return d.opts.Filter.Apply(boxes, origW, origH), nil
}

// InputSize returns the model's expected input dimensions.
func (d *Detector) InputSize() (int, int) {
	return d.opts.InputSize, d.opts.InputSize
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	if d.outputTensor != nil {
		d.outputTensor.Destroy()
	}
}

func anchorCount(inputSize int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		side := inputSize / stride
		n += side * side
	}
	return n
}

// decodeYOLO reads person boxes out of a [4+classes, anchors] output and
// scales them from the square model input back to the original frame.
func decodeYOLO(out []float32, anchors, inputSize int, threshold float32, origW, origH int) []Box {
	if len(out) < (yoloBoxRows+personClassID+1)*anchors {
		return nil
	}
	scaleW := float32(origW) / float32(inputSize)
	scaleH := float32(origH) / float32(inputSize)
	scores := out[(yoloBoxRows+personClassID)*anchors:]

	var boxes []Box
	for i := 0; i < anchors; i++ {
		score := scores[i]
		if score < threshold {
			continue
		}
		cx, cy := out[i], out[anchors+i]
		w, h := out[2*anchors+i], out[3*anchors+i]

		x1 := clampF((cx-w/2)*scaleW, 0, float32(origW))
		y1 := clampF((cy-h/2)*scaleH, 0, float32(origH))
		x2 := clampF((cx+w/2)*scaleW, 0, float32(origW))
		y2 := clampF((cy+h/2)*scaleH, 0, float32(origH))

		boxes = append(boxes, Box{
			BBox:       [4]float32{x1, y1, x2, y2},
			Confidence: score,
		})
	}
	return boxes
}

// nms performs Non-Maximum Suppression on detections.
func nms(boxes []Box, iouThreshold float32) []Box {
	if len(boxes) == 0 {
		return boxes
	}

	sort.SliceStable(boxes, func(i, j int) bool {
		return boxes[i].Confidence > boxes[j].Confidence
	})

	keep := make([]bool, len(boxes))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(boxes); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(boxes); j++ {
			if keep[j] && iou(boxes[i].BBox, boxes[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Box
	for i, b := range boxes {
		if keep[i] {
			result = append(result, b)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	intersection := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection

	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
