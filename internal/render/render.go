// Package render draws detections and the confirmed hazard verdict onto a
// copy of a captured frame.
package render

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/hazard"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	black = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	gray  = color.RGBA{R: 128, G: 128, B: 128, A: 0}
)

// ClassColors holds the box color for each label.
var ClassColors = map[detector.Label]color.RGBA{
	detector.Flame:    {R: 255, G: 0, B: 0, A: 0},
	detector.Pan:      {R: 255, G: 165, B: 0, A: 0},
	detector.Person:   {R: 0, G: 255, B: 0, A: 0},
	detector.Stove:    {R: 255, G: 0, B: 255, A: 0},
	detector.Knife:    {R: 255, G: 255, B: 0, A: 0},
	detector.Scissors: {R: 0, G: 200, B: 255, A: 0},
}

// VerdictColors holds the banner color for each verdict.
var VerdictColors = map[hazard.Verdict]color.RGBA{
	hazard.Safe:    {R: 0, G: 160, B: 0, A: 0},
	hazard.Warning: {R: 255, G: 140, B: 0, A: 0},
	hazard.Danger:  {R: 220, G: 0, B: 0, A: 0},
}

// Options controls text layout.
type Options struct {
	Font         gocv.HersheyFont
	LabelScale   float64
	BannerScale  float64
	InfoScale    float64
	BannerHeight int
	Thickness    int
}

// DefaultOptions returns the layout used on 640x480 frames.
func DefaultOptions() Options {
	return Options{
		Font:         gocv.FontHersheySimplex,
		LabelScale:   0.6,
		BannerScale:  0.7,
		InfoScale:    0.5,
		BannerHeight: 36,
		Thickness:    2,
	}
}

// Renderer annotates frames. It holds no per-frame state, so one Renderer
// may be shared.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Annotate returns a new Mat with boxes, labels, the verdict banner and the
// info bar drawn over a copy of the frame. The source frame is not modified.
// An invalid frame yields an empty Mat.
func (r *Renderer) Annotate(f *capture.Frame, dets []detector.Detection, st hazard.State) gocv.Mat {
	if !f.Valid() {
		return gocv.NewMat()
	}

	out := f.Mat.Clone()

	for _, d := range dets {
		r.drawDetection(&out, d, f.Width, f.Height)
	}
	r.drawBanner(&out, st, f.Width)
	r.drawInfo(&out, f.Seq, len(dets), f.Height)

	return out
}

func (r *Renderer) drawDetection(img *gocv.Mat, d detector.Detection, width, height int) {
	c, ok := ClassColors[d.Label]
	if !ok {
		c = gray
	}

	rect := d.Box.Rect(width, height)
	gocv.Rectangle(img, rect, c, 2)

	label := fmt.Sprintf("%s: %.2f", d.Label, d.Confidence)
	size := gocv.GetTextSize(label, r.opts.Font, r.opts.LabelScale, r.opts.Thickness)

	top := rect.Min.Y - size.Y - 10
	if top < 0 {
		top = rect.Min.Y
	}
	tag := image.Rect(rect.Min.X, top, rect.Min.X+size.X, top+size.Y+10)
	gocv.Rectangle(img, tag, c, -1)
	gocv.PutText(img, label, image.Pt(tag.Min.X, tag.Max.Y-5), r.opts.Font, r.opts.LabelScale, white, r.opts.Thickness)
}

func (r *Renderer) drawBanner(img *gocv.Mat, st hazard.State, width int) {
	c, ok := VerdictColors[st.Current]
	if !ok {
		c = gray
	}

	gocv.Rectangle(img, image.Rect(0, 0, width, r.opts.BannerHeight), c, -1)
	gocv.PutText(img, BannerText(st), image.Pt(10, r.opts.BannerHeight-11), r.opts.Font, r.opts.BannerScale, white, r.opts.Thickness)
}

func (r *Renderer) drawInfo(img *gocv.Mat, seq uint64, objects, height int) {
	text := InfoText(seq, objects)
	size := gocv.GetTextSize(text, r.opts.Font, r.opts.InfoScale, 1)

	gocv.Rectangle(img, image.Rect(0, height-size.Y-16, 10+size.X+10, height), black, -1)
	gocv.PutText(img, text, image.Pt(10, height-10), r.opts.Font, r.opts.InfoScale, white, 1)
}

// BannerText is the verdict line, e.g. "DANGER: knife, flame".
func BannerText(st hazard.State) string {
	if len(st.Contributing) == 0 || st.Current == hazard.Safe {
		return st.Current.String()
	}

	names := make([]string, len(st.Contributing))
	for i, l := range st.Contributing {
		names[i] = string(l)
	}
	return st.Current.String() + ": " + strings.Join(names, ", ")
}

// InfoText is the bottom status line.
func InfoText(seq uint64, objects int) string {
	return fmt.Sprintf("Frame: %d | Objects: %d", seq, objects)
}

// JPEG encodes img for streaming. The caller owns the returned bytes.
func JPEG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
