package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

// MockCamera plays back pre-recorded frames for testing.
// Scripted read failures can be injected with FailNext.
type MockCamera struct {
	frames   []*gocv.Mat
	index    int
	loop     bool
	failures []error
	openErr  error
	clock    clock.Clock
	interval time.Duration
	seq      uint64
	opened   int
	closed   int
	mu       sync.Mutex
	running  bool
}

// NewMockCamera creates a mock camera that plays back frames in order.
// The frames are cloned on every read; the caller keeps ownership of them.
func NewMockCamera(frames []*gocv.Mat, loop bool) *MockCamera {
	return &MockCamera{
		frames:   frames,
		loop:     loop,
		clock:    clock.New(),
		interval: 0,
	}
}

// SetClock replaces the clock used to stamp frames. With a mock clock and a
// non-zero interval the clock is advanced by interval after every read.
func (c *MockCamera) SetClock(clk clock.Clock, interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clk
	c.interval = interval
}

// SetOpenError makes the next Open calls fail with err.
func (c *MockCamera) SetOpenError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openErr = err
}

// FailNext queues an error returned by the next ReadFrame instead of a frame.
func (c *MockCamera) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return fmt.Errorf("open mock camera: %w: %v", ErrDeviceUnavailable, c.openErr)
	}
	c.running = true
	c.index = 0
	c.opened++
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.closed++
	}
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}

	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, fmt.Errorf("%w: %v", ErrCapture, err)
	}

	if len(c.frames) == 0 {
		return nil, fmt.Errorf("no frames available: %w", ErrCapture)
	}

	if c.index >= len(c.frames) {
		if !c.loop {
			return nil, fmt.Errorf("no more frames: %w", ErrCapture)
		}
		c.index = 0
	}

	// Clone the frame so the original isn't modified
	mat := c.frames[c.index].Clone()
	c.index++
	c.seq++

	ts := c.clock.Now()
	if mock, ok := c.clock.(*clock.Mock); ok && c.interval > 0 {
		mock.Add(c.interval)
	}

	return NewFrame(mat, c.seq, ts), nil
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reads returns the number of frames handed out so far.
func (c *MockCamera) Reads() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Released reports whether every Open was matched by a Close.
func (c *MockCamera) Released() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.running && c.opened == c.closed
}

// SetFrames replaces the frame sequence
func (c *MockCamera) SetFrames(frames []*gocv.Mat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = frames
	c.index = 0
}

// Reset restarts playback from the beginning
func (c *MockCamera) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = 0
}
