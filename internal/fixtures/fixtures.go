// Package fixtures builds synthetic kitchen frames for tests.
package fixtures

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Default fixture frame size.
const (
	Width  = 640
	Height = 480
)

// Blank returns a uniformly coloured BGR frame. The caller owns the Mat.
func Blank(width, height int, c color.RGBA) *gocv.Mat {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), height, width, gocv.MatTypeCV8UC3)
	return &mat
}

// Kitchen returns a 640x480 frame with a few flat shapes standing in for a
// counter, a stove and a person, so rendering has something to draw over.
func Kitchen() *gocv.Mat {
	mat := Blank(Width, Height, color.RGBA{R: 200, G: 200, B: 190, A: 255})
	gocv.Rectangle(mat, image.Rect(0, 320, Width, Height), color.RGBA{R: 120, G: 90, B: 60, A: 255}, -1)
	gocv.Rectangle(mat, image.Rect(380, 260, 560, 340), color.RGBA{R: 40, G: 40, B: 40, A: 255}, -1)
	gocv.Circle(mat, image.Pt(440, 280), 18, color.RGBA{R: 255, G: 120, B: 0, A: 255}, -1)
	gocv.Rectangle(mat, image.Rect(80, 120, 180, 420), color.RGBA{R: 70, G: 110, B: 200, A: 255}, -1)
	return mat
}

// Sequence returns n distinct frames; frame i has a marker at a different
// position so consecutive frames never compare equal.
func Sequence(n int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	for i := 0; i < n; i++ {
		mat := Kitchen()
		x := 10 + (i*23)%(Width-40)
		gocv.Rectangle(mat, image.Rect(x, 10, x+20, 30), color.RGBA{R: 0, G: 200, B: 0, A: 255}, -1)
		frames = append(frames, mat)
	}
	return frames
}

// Release closes every frame.
func Release(frames []*gocv.Mat) {
	for _, f := range frames {
		if f != nil {
			f.Close()
		}
	}
}
