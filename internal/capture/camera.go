// Package capture provides camera capture functionality using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")

	// ErrDeviceUnavailable is returned when the capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("capture device unavailable")

	// ErrCapture is returned when a single frame read fails. It is transient:
	// the next read may succeed.
	ErrCapture = errors.New("frame capture failed")
)

// Frame is a captured video frame. It owns its pixel buffer; whoever holds
// the frame last must call Close.
type Frame struct {
	Mat       gocv.Mat
	Seq       uint64
	Timestamp time.Time
	Width     int
	Height    int
}

// NewFrame wraps mat as a frame. The frame takes ownership of mat.
func NewFrame(mat gocv.Mat, seq uint64, ts time.Time) *Frame {
	return &Frame{
		Mat:       mat,
		Seq:       seq,
		Timestamp: ts,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
	}
}

// Valid reports whether the frame carries a non-empty image.
func (f *Frame) Valid() bool {
	return f != nil && !f.Mat.Empty() && f.Width > 0 && f.Height > 0
}

// Close releases the pixel buffer.
func (f *Frame) Close() error {
	if f == nil {
		return nil
	}
	return f.Mat.Close()
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*Frame, error)
	IsOpen() bool
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	deviceID int
	capture  *gocv.VideoCapture
	clock    clock.Clock
	mu       sync.Mutex
	running  bool
	seq      uint64
}

// NewCamera creates a new Camera with the given device ID.
func NewCamera(deviceID int) Camera {
	return newCamera(deviceID, clock.New())
}

func newCamera(deviceID int, clk clock.Clock) *cameraImpl {
	return &cameraImpl{
		deviceID: deviceID,
		clock:    clk,
	}
}

// Open opens the camera for capturing frames.
// It requests 640x480; devices that cannot honour it keep their native size.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	capture, err := gocv.OpenVideoCapture(c.deviceID)
	if err != nil {
		return fmt.Errorf("open camera %d: %w: %v", c.deviceID, ErrDeviceUnavailable, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open camera %d: %w", c.deviceID, ErrDeviceUnavailable)
	}

	capture.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	capture.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)

	c.capture = capture
	c.running = true

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// The caller is responsible for closing the returned Frame.
func (c *cameraImpl) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, fmt.Errorf("read from camera %d: %w", c.deviceID, ErrCapture)
	}

	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("camera %d returned an empty frame: %w", c.deviceID, ErrCapture)
	}

	c.seq++
	return NewFrame(mat, c.seq, c.clock.Now()), nil
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
