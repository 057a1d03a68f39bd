package detector

import (
	"fmt"
	"image"
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// Classifier output indices.
const (
	classOff = 0
	classOn  = 1
)

// NetClassifier implements StoveClassifier with a two-class OpenCV DNN.
type NetClassifier struct {
	net       gocv.Net
	inputSize int
	mu        sync.Mutex
}

// NewNetClassifier loads a binary stove classifier. inputSize defaults to 224.
func NewNetClassifier(modelPath string, inputSize int) (*NetClassifier, error) {
	if inputSize <= 0 {
		inputSize = 224
	}

	net, err := readNet(modelPath, "")
	if err != nil {
		return nil, err
	}

	return &NetClassifier{net: net, inputSize: inputSize}, nil
}

// Classify returns ON or OFF for a stove crop.
func (c *NetClassifier) Classify(crop gocv.Mat) (StoveReading, error) {
	if crop.Empty() {
		return StoveReading{}, fmt.Errorf("classify: empty crop: %w", ErrInference)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	blob := gocv.BlobFromImage(crop, 1.0/255.0, image.Pt(c.inputSize, c.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	c.net.SetInput(blob, "")
	out := c.net.Forward("")
	defer out.Close()

	if out.Empty() {
		return StoveReading{}, fmt.Errorf("classify: empty network output: %w", ErrInference)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return StoveReading{}, fmt.Errorf("classify: read output: %w: %v", ErrInference, err)
	}

	return decodeStove(data)
}

// Close releases the network.
func (c *NetClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.net.Empty() {
		return nil
	}
	return c.net.Close()
}

// decodeStove reads a [OFF, ON] score pair. Raw logits are passed through a
// softmax; outputs that already form a distribution are used as is.
func decodeStove(data []float32) (StoveReading, error) {
	if len(data) < 2 {
		return StoveReading{}, fmt.Errorf("classify: %d outputs, want 2: %w", len(data), ErrInference)
	}

	off, on := float64(data[classOff]), float64(data[classOn])
	if off < 0 || on < 0 || math.Abs(off+on-1) > 1e-3 {
		off, on = softmax2(off, on)
	}

	if on > off {
		return StoveReading{State: StoveOn, Confidence: on}, nil
	}
	return StoveReading{State: StoveOff, Confidence: off}, nil
}

func softmax2(a, b float64) (float64, float64) {
	m := math.Max(a, b)
	ea, eb := math.Exp(a-m), math.Exp(b-m)
	return ea / (ea + eb), eb / (ea + eb)
}
