// Package detector wraps the pretrained object detector and stove state
// classifier behind small interfaces so the pipeline can run against real
// networks or scripted doubles.
package detector

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
)

var (
	// ErrModelLoad is returned when network weights cannot be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference is returned when a frame or crop cannot be run through a network.
	ErrInference = errors.New("inference failed")
)

// Label is one of the fixed classes the detector reports.
type Label string

// The detector's label set.
const (
	Person   Label = "person"
	Knife    Label = "knife"
	Scissors Label = "scissors"
	Pan      Label = "pan"
	Stove    Label = "stove"
	Flame    Label = "flame"
)

// DefaultClassNames maps class ids to labels in the order the bundled model was trained with.
var DefaultClassNames = []Label{Person, Knife, Scissors, Pan, Stove, Flame}

// Labels returns the fixed label set.
func Labels() []Label {
	return []Label{Person, Knife, Scissors, Pan, Stove, Flame}
}

// Valid reports whether l belongs to the label set.
func (l Label) Valid() bool {
	switch l {
	case Person, Knife, Scissors, Pan, Stove, Flame:
		return true
	}
	return false
}

// ParseLabel normalises s ("Flame", " knife ") into a Label.
func ParseLabel(s string) (Label, error) {
	l := Label(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("unknown label %q", s)
	}
	return l, nil
}

// ParseClassNames parses a comma separated class list; position is class id.
func ParseClassNames(csv string) ([]Label, error) {
	parts := strings.Split(csv, ",")
	names := make([]Label, 0, len(parts))
	for _, p := range parts {
		l, err := ParseLabel(p)
		if err != nil {
			return nil, err
		}
		names = append(names, l)
	}
	return names, nil
}

// BBox is an axis aligned box in normalized image coordinates: X,Y is the
// top-left corner, W,H the size, all in [0,1].
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the normalized box center.
func (b BBox) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Clamp returns the box clipped to the unit square.
func (b BBox) Clamp() BBox {
	x1 := clamp01(b.X)
	y1 := clamp01(b.Y)
	x2 := clamp01(b.X + b.W)
	y2 := clamp01(b.Y + b.H)
	return BBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Rect converts the box into pixel coordinates for a width x height image.
func (b BBox) Rect(width, height int) image.Rectangle {
	c := b.Clamp()
	return image.Rect(
		int(math.Round(c.X*float64(width))),
		int(math.Round(c.Y*float64(height))),
		int(math.Round((c.X+c.W)*float64(width))),
		int(math.Round((c.Y+c.H)*float64(height))),
	)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Detection is a single object found in a frame.
type Detection struct {
	ClassID    int     `json:"class_id"`
	Label      Label   `json:"label"`
	Box        BBox    `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Detector defines the interface for object detection implementations.
type Detector interface {
	// Detect analyzes a frame and returns the detections whose confidence is at
	// least confidence, best first. A malformed frame yields ErrInference.
	Detect(frame *capture.Frame, confidence float64) ([]Detection, error)

	// Close releases any resources held by the detector.
	Close() error
}

// StoveState is the classifier's opinion of a stove crop.
type StoveState int

const (
	StoveUnknown StoveState = iota
	StoveOff
	StoveOn
)

func (s StoveState) String() string {
	switch s {
	case StoveOff:
		return "OFF"
	case StoveOn:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// StoveReading is a classified stove region.
type StoveReading struct {
	Box        BBox       `json:"box"`
	State      StoveState `json:"state"`
	Confidence float64    `json:"confidence"`
}

// StoveClassifier decides whether a cropped stove region is switched on.
type StoveClassifier interface {
	Classify(crop gocv.Mat) (StoveReading, error)
	Close() error
}

// Crop cuts box out of the frame into a new Mat owned by the caller.
func Crop(frame *capture.Frame, box BBox) (gocv.Mat, error) {
	if !frame.Valid() {
		return gocv.NewMat(), fmt.Errorf("crop: invalid frame: %w", ErrInference)
	}
	rect := box.Rect(frame.Width, frame.Height)
	if rect.Empty() {
		return gocv.NewMat(), fmt.Errorf("crop: empty region %v: %w", rect, ErrInference)
	}

	region := frame.Mat.Region(rect)
	defer region.Close()

	return region.Clone(), nil
}
