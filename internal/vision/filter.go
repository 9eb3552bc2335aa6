package vision

import (
	"github.com/your-org/neuraflow/internal/config"
	"github.com/your-org/neuraflow/internal/tracking"
)

// BoxFilter drops boxes that are unlikely to be a walking person.
// Ratio bounds are exclusive.
type BoxFilter struct {
	MinConfidence  float64
	MinHeight      int
	MinAreaRatio   float64
	MaxAreaRatio   float64
	MinAspectRatio float64 // height / width
	MaxAspectRatio float64
}

// NewBoxFilter builds a filter from vision config.
func NewBoxFilter(cfg config.VisionConfig) BoxFilter {
	return BoxFilter{
		MinConfidence:  cfg.MinConfidence,
		MinHeight:      cfg.MinHeight,
		MinAreaRatio:   cfg.MinAreaRatio,
		MaxAreaRatio:   cfg.MaxAreaRatio,
		MinAspectRatio: cfg.MinAspectRatio,
		MaxAspectRatio: cfg.MaxAspectRatio,
	}
}

// Accept reports whether a box of the given integer geometry passes.
func (f BoxFilter) Accept(x1, y1, x2, y2 int, confidence float64, frameW, frameH int) bool {
	if confidence < f.MinConfidence {
		return false
	}
	w, h := x2-x1, y2-y1
	if h < f.MinHeight || w <= 0 || frameW <= 0 || frameH <= 0 {
		return false
	}
	area := float64(w*h) / float64(frameW*frameH)
	if !(f.MinAreaRatio < area && area < f.MaxAreaRatio) {
		return false
	}
	aspect := float64(h) / float64(w)
	return f.MinAspectRatio < aspect && aspect < f.MaxAspectRatio
}

// Apply rounds boxes to pixels and keeps the accepted ones, in order.
func (f BoxFilter) Apply(boxes []Box, frameW, frameH int) []tracking.Detection {
	out := make([]tracking.Detection, 0, len(boxes))
	for _, b := range boxes {
		d := tracking.Detection{
			X1:         int(b.BBox[0]),
			Y1:         int(b.BBox[1]),
			X2:         int(b.BBox[2]),
			Y2:         int(b.BBox[3]),
			Confidence: float64(b.Confidence),
		}
		if f.Accept(d.X1, d.Y1, d.X2, d.Y2, d.Confidence, frameW, frameH) {
			out = append(out, d)
		}
	}
	return out
}
