package capture

import (
	"image"

	"gocv.io/x/gocv"
)

// Freeze detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25

	// DefaultStillPercent is the changed pixel share at or below which two
	// frames count as identical.
	DefaultStillPercent = 0.05
)

// FreezeDetector notices a feed that stopped changing, e.g. a camera whose
// driver keeps returning the last buffer. It compares consecutive frames by
// blurred grayscale differencing. A FreezeDetector is owned by one goroutine.
type FreezeDetector struct {
	stillPercent float64
	limit        int
	prevGray     gocv.Mat
	initialized  bool
	still        int
}

// NewFreezeDetector returns a detector that reports the feed frozen after
// limit consecutive frames changed by at most stillPercent percent of pixels.
func NewFreezeDetector(stillPercent float64, limit int) *FreezeDetector {
	if stillPercent <= 0 {
		stillPercent = DefaultStillPercent
	}
	if limit < 1 {
		limit = 1
	}
	return &FreezeDetector{
		stillPercent: stillPercent,
		limit:        limit,
		prevGray:     gocv.NewMat(),
	}
}

// Observe compares frame with the previous one. It returns whether the feed
// is frozen and the percentage of pixels that changed.
//
// Algorithm:
// 1. Convert frame to grayscale and blur (21x21)
// 2. The first frame only becomes the baseline
// 3. Threshold the absolute difference with the previous frame (25)
// 4. changePercent = non-zero pixels / total pixels
// 5. A change at or below stillPercent extends the still run, anything else ends it
func (m *FreezeDetector) Observe(frame gocv.Mat) (bool, float64) {
	if frame.Empty() {
		return m.Frozen(), 0
	}

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	if !m.initialized || blurred.Rows() != m.prevGray.Rows() || blurred.Cols() != m.prevGray.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.initialized = true
		m.still = 0
		return false, 0
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changePercent := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	blurred.CopyTo(&m.prevGray)

	if changePercent <= m.stillPercent {
		m.still++
	} else {
		m.still = 0
	}
	return m.Frozen(), changePercent
}

// Frozen reports whether the last limit comparisons found no change.
func (m *FreezeDetector) Frozen() bool {
	return m.still >= m.limit
}

// Reset drops the baseline frame and the still run.
func (m *FreezeDetector) Reset() {
	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.initialized = false
	m.still = 0
}

// Close releases resources used by the detector.
func (m *FreezeDetector) Close() error {
	m.initialized = false
	m.still = 0
	return m.prevGray.Close()
}
