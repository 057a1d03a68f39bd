package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
)

type scripted struct {
	dets []Detection
	err  error
}

// MockDetector is a test implementation of the Detector interface.
// Results queued with Push are returned one per call; once the queue is
// empty the values set with SetDetections/SetError are returned.
type MockDetector struct {
	mu     sync.Mutex
	queue  []scripted
	dets   []Detection
	err    error
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections returned when no scripted result is queued.
func (m *MockDetector) SetDetections(dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dets = dets
}

// SetError sets the error returned when no scripted result is queued.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Push queues the result of one future Detect call.
func (m *MockDetector) Push(dets []Detection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{dets: dets, err: err})
}

// Detect returns the next scripted result, filtered by confidence.
func (m *MockDetector) Detect(frame *capture.Frame, confidence float64) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++

	next := scripted{dets: m.dets, err: m.err}
	if len(m.queue) > 0 {
		next = m.queue[0]
		m.queue = m.queue[1:]
	}

	if next.err != nil {
		return nil, next.err
	}
	if next.dets == nil {
		return nil, nil
	}

	out := make([]Detection, len(next.dets))
	copy(out, next.dets)
	return Apply(out, NewScoreFilter(confidence), NewLabelFilter()), nil
}

// Calls returns how many times Detect ran.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close marks the mock closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockClassifier is a test implementation of StoveClassifier.
type MockClassifier struct {
	mu      sync.Mutex
	reading StoveReading
	err     error
	calls   int
}

// NewMockClassifier returns a classifier that reports state with full confidence.
func NewMockClassifier(state StoveState) *MockClassifier {
	return &MockClassifier{reading: StoveReading{State: state, Confidence: 1}}
}

// SetState changes the reported state.
func (m *MockClassifier) SetState(state StoveState, confidence float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reading = StoveReading{State: state, Confidence: confidence}
}

// SetError makes Classify fail with err until cleared with nil.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Classify returns the configured reading.
func (m *MockClassifier) Classify(crop gocv.Mat) (StoveReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return StoveReading{}, m.err
	}
	return m.reading, nil
}

// Calls returns how many times Classify ran.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Close is a no-op for the mock classifier.
func (m *MockClassifier) Close() error {
	return nil
}
