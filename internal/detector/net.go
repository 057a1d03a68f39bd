package detector

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
)

// NetConfig holds configuration options for the DNN detector.
type NetConfig struct {
	// ModelPath is the weights file (.onnx, or a darknet/tensorflow model paired with ConfigPath).
	ModelPath string

	// ConfigPath is the optional network description for non-ONNX models.
	ConfigPath string

	// ClassNames maps output class ids to labels.
	ClassNames []Label

	// InputSize is the square network input in pixels (default: 640).
	InputSize int

	// NMSThreshold is the IoU above which overlapping boxes of one class are suppressed.
	NMSThreshold float64
}

// DefaultNetConfig returns a NetConfig with sensible default values.
func DefaultNetConfig() NetConfig {
	return NetConfig{
		ClassNames:   DefaultClassNames,
		InputSize:    640,
		NMSThreshold: 0.45,
	}
}

// NetDetector implements Detector with an OpenCV DNN running a YOLO export.
type NetDetector struct {
	config NetConfig
	net    gocv.Net
	mu     sync.Mutex
}

// NewNetDetector loads the network described by config.
func NewNetDetector(config NetConfig) (*NetDetector, error) {
	if len(config.ClassNames) == 0 {
		config.ClassNames = DefaultClassNames
	}
	if config.InputSize <= 0 {
		config.InputSize = DefaultNetConfig().InputSize
	}
	if config.NMSThreshold <= 0 {
		config.NMSThreshold = DefaultNetConfig().NMSThreshold
	}

	net, err := readNet(config.ModelPath, config.ConfigPath)
	if err != nil {
		return nil, err
	}

	return &NetDetector{config: config, net: net}, nil
}

// readNet loads weights, preferring the ONNX reader for .onnx files.
func readNet(modelPath, configPath string) (gocv.Net, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return gocv.Net{}, fmt.Errorf("model file %q: %w: %v", modelPath, ErrModelLoad, err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return gocv.Net{}, fmt.Errorf("model config %q: %w: %v", configPath, ErrModelLoad, err)
		}
	}

	var net gocv.Net
	if strings.EqualFold(filepath.Ext(modelPath), ".onnx") {
		net = gocv.ReadNetFromONNX(modelPath)
	} else {
		net = gocv.ReadNet(modelPath, configPath)
	}
	if net.Empty() {
		return gocv.Net{}, fmt.Errorf("load network %q: %w", modelPath, ErrModelLoad)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return net, nil
}

// Detect runs one forward pass over the frame.
func (d *NetDetector) Detect(frame *capture.Frame, confidence float64) ([]Detection, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("detect: malformed frame: %w", ErrInference)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	size := d.config.InputSize
	blob := gocv.BlobFromImage(frame.Mat, 1.0/255.0, image.Pt(size, size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return nil, fmt.Errorf("detect: empty network output: %w", ErrInference)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("detect: read output: %w: %v", ErrInference, err)
	}

	candidates, err := decodeYOLO(data, out.Size(), d.config.ClassNames, size, confidence)
	if err != nil {
		return nil, err
	}

	dets := suppress(candidates, frame.Width, frame.Height, confidence, d.config.NMSThreshold)
	return Apply(dets, NewScoreFilter(confidence), NewLabelFilter()), nil
}

// Close releases the network.
func (d *NetDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.net.Empty() {
		return nil
	}
	return d.net.Close()
}

// decodeYOLO turns a raw YOLO output tensor into detections. Two layouts are
// understood:
//
//	[1, 4+nc, N]  YOLOv8 style: cx, cy, w, h, class scores; column per anchor
//	[1, N, 5+nc]  YOLOv5 style: cx, cy, w, h, objectness, class scores; row per anchor
//
// Coordinates are in network input pixels and come back normalized.
func decodeYOLO(data []float32, dims []int, names []Label, inputSize int, minConf float64) ([]Detection, error) {
	nc := len(names)
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("decode: unexpected output shape %v: %w", dims, ErrInference)
	}

	var (
		anchors    int
		objectness bool
		at         func(anchor, attr int) float32
	)

	switch {
	case dims[1] == 4+nc:
		anchors = dims[2]
		at = func(anchor, attr int) float32 { return data[attr*anchors+anchor] }
	case dims[2] == 5+nc:
		anchors = dims[1]
		objectness = true
		at = func(anchor, attr int) float32 { return data[anchor*(5+nc)+attr] }
	case dims[2] == 4+nc:
		anchors = dims[1]
		at = func(anchor, attr int) float32 { return data[anchor*(4+nc)+attr] }
	default:
		return nil, fmt.Errorf("decode: shape %v does not match %d classes: %w", dims, nc, ErrInference)
	}

	if len(data) < dims[1]*dims[2] {
		return nil, fmt.Errorf("decode: %d values for shape %v: %w", len(data), dims, ErrInference)
	}

	first := 4
	if objectness {
		first = 5
	}

	scale := float64(inputSize)
	var out []Detection
	for i := 0; i < anchors; i++ {
		best, classID := float32(0), -1
		for c := 0; c < nc; c++ {
			if s := at(i, first+c); s > best {
				best, classID = s, c
			}
		}
		if classID < 0 {
			continue
		}

		conf := float64(best)
		if objectness {
			conf *= float64(at(i, 4))
		}
		if conf < minConf {
			continue
		}

		cx, cy := float64(at(i, 0))/scale, float64(at(i, 1))/scale
		w, h := float64(at(i, 2))/scale, float64(at(i, 3))/scale

		out = append(out, Detection{
			ClassID:    classID,
			Label:      names[classID],
			Box:        BBox{X: cx - w/2, Y: cy - h/2, W: w, H: h}.Clamp(),
			Confidence: conf,
		})
	}

	return out, nil
}

// suppress runs per-class non maximum suppression in frame pixel space.
func suppress(dets []Detection, width, height int, scoreThreshold, nmsThreshold float64) []Detection {
	byClass := make(map[int][]Detection)
	for _, d := range dets {
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	kept := make([]Detection, 0, len(dets))
	for _, group := range byClass {
		if len(group) == 1 {
			kept = append(kept, group[0])
			continue
		}

		rects := make([]image.Rectangle, len(group))
		scores := make([]float32, len(group))
		for i, d := range group {
			rects[i] = d.Box.Rect(width, height)
			scores[i] = float32(d.Confidence)
		}

		for _, idx := range gocv.NMSBoxes(rects, scores, float32(scoreThreshold), float32(nmsThreshold)) {
			kept = append(kept, group[idx])
		}
	}

	return kept
}
