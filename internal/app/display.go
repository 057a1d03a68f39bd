package app

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Display shows rendered frames and reports key presses.
type Display interface {
	// Show displays img. The display must not keep img after returning.
	Show(img gocv.Mat)

	// WaitKey waits up to delay for a key press and returns its code, or -1.
	WaitKey(delay time.Duration) int

	Close() error
}

// WindowDisplay is a HighGUI preview window.
type WindowDisplay struct {
	window *gocv.Window
}

// NewWindowDisplay opens a preview window titled title.
func NewWindowDisplay(title string) *WindowDisplay {
	return &WindowDisplay{window: gocv.NewWindow(title)}
}

func (d *WindowDisplay) Show(img gocv.Mat) {
	if img.Empty() {
		return
	}
	d.window.IMShow(img)
}

func (d *WindowDisplay) WaitKey(delay time.Duration) int {
	ms := int(delay / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return d.window.WaitKey(ms)
}

func (d *WindowDisplay) Close() error {
	return d.window.Close()
}

// HeadlessDisplay drops frames and never reports keys. Commands reach a
// headless controller through Submit.
type HeadlessDisplay struct {
	mu    sync.Mutex
	shown int
}

// NewHeadlessDisplay creates a HeadlessDisplay.
func NewHeadlessDisplay() *HeadlessDisplay {
	return &HeadlessDisplay{}
}

func (d *HeadlessDisplay) Show(img gocv.Mat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown++
}

func (d *HeadlessDisplay) WaitKey(time.Duration) int {
	return -1
}

// Shown returns how many frames were passed to Show.
func (d *HeadlessDisplay) Shown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

func (d *HeadlessDisplay) Close() error {
	return nil
}
