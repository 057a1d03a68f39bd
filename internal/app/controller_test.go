package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/fixtures"
	"github.com/ayusman/kitchensafe/internal/hazard"
	"github.com/ayusman/kitchensafe/internal/render"
	"github.com/ayusman/kitchensafe/internal/screenshot"
)

const (
	testK         = 3
	testProximity = 0.25
)

var (
	unattendedKnife = []detector.Detection{
		{ClassID: 1, Label: detector.Knife, Box: detector.BBox{X: 0.08, Y: 0.08, W: 0.04, H: 0.04}, Confidence: 0.8},
	}
	attendedKnife = []detector.Detection{
		{ClassID: 0, Label: detector.Person, Box: detector.BBox{X: 0.4, Y: 0.3, W: 0.2, H: 0.4}, Confidence: 0.9},
		{ClassID: 1, Label: detector.Knife, Box: detector.BBox{X: 0.5, Y: 0.5, W: 0.04, H: 0.04}, Confidence: 0.7},
	}
	stoveOnly = []detector.Detection{
		{ClassID: 4, Label: detector.Stove, Box: detector.BBox{X: 0.6, Y: 0.55, W: 0.28, H: 0.16}, Confidence: 0.9},
	}
	empty = []detector.Detection{}
)

// recordingDisplay remembers what was shown and replays scripted keys.
type recordingDisplay struct {
	mu     sync.Mutex
	keys   []int
	shown  [][]byte
	closed bool
}

func (d *recordingDisplay) Show(img gocv.Mat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shown = append(d.shown, img.ToBytes())
}

func (d *recordingDisplay) WaitKey(time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.keys) == 0 {
		return -1
	}
	k := d.keys[0]
	d.keys = d.keys[1:]
	return k
}

func (d *recordingDisplay) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *recordingDisplay) press(keys ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, keys...)
}

func (d *recordingDisplay) lastShown() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.shown) == 0 {
		return nil
	}
	return d.shown[len(d.shown)-1]
}

type harness struct {
	ctrl     *Controller
	camera   *capture.MockCamera
	detector *detector.MockDetector
	display  *recordingDisplay
	clock    *clock.Mock

	mu    sync.Mutex
	saved []string
}

func (h *harness) savedPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.saved...)
}

type option func(*Config)

func withClassifier(c detector.StoveClassifier) option {
	return func(cfg *Config) { cfg.Classifier = c }
}

func withFreeze(fd *capture.FreezeDetector) option {
	return func(cfg *Config) { cfg.Freeze = fd }
}

func withLogger(l *zap.SugaredLogger) option {
	return func(cfg *Config) { cfg.Logger = l }
}

func withoutDrain() option {
	return func(cfg *Config) { cfg.DrainWhilePaused = false }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	frames := fixtures.Sequence(8)
	t.Cleanup(func() { fixtures.Release(frames) })

	h := &harness{
		camera:   capture.NewMockCamera(frames, true),
		detector: detector.NewMockDetector(),
		display:  &recordingDisplay{},
		clock:    clock.NewMock(),
	}
	h.clock.Set(time.Date(2026, 10, 19, 18, 0, 0, 0, time.UTC))
	h.camera.SetClock(h.clock, 100*time.Millisecond)

	writer, err := screenshot.New(screenshot.Config{
		Dir: t.TempDir(),
		Encoder: func(path string, img gocv.Mat) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.saved = append(h.saved, path)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("screenshot.New() error = %v", err)
	}

	machine, err := hazard.NewMachine(testK)
	if err != nil {
		t.Fatalf("hazard.NewMachine() error = %v", err)
	}

	cfg := Config{
		Camera:           h.camera,
		Detector:         h.detector,
		Machine:          machine,
		Rules:            hazard.UniformRules(testProximity),
		Renderer:         render.New(render.DefaultOptions()),
		Screenshots:      writer,
		Display:          h.display,
		Logger:           zaptest.NewLogger(t).Sugar(),
		Clock:            h.clock,
		Confidence:       0.5,
		DrainWhilePaused: true,
		RunID:            "test-run",
	}
	for _, o := range opts {
		o(&cfg)
	}

	h.ctrl, err = New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { h.ctrl.Close() })

	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Open(); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
}

func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.ctrl.Step()
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	machine, _ := hazard.NewMachine(testK)
	full := Config{
		Camera:      capture.NewMockCamera(nil, false),
		Detector:    detector.NewMockDetector(),
		Machine:     machine,
		Rules:       hazard.UniformRules(testProximity),
		Renderer:    render.New(render.DefaultOptions()),
		Screenshots: nopSaver{},
		Display:     NewHeadlessDisplay(),
		Confidence:  0.5,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "camera", mutate: func(c *Config) { c.Camera = nil }},
		{name: "detector", mutate: func(c *Config) { c.Detector = nil }},
		{name: "machine", mutate: func(c *Config) { c.Machine = nil }},
		{name: "renderer", mutate: func(c *Config) { c.Renderer = nil }},
		{name: "screenshots", mutate: func(c *Config) { c.Screenshots = nil }},
		{name: "display", mutate: func(c *Config) { c.Display = nil }},
		{name: "threshold", mutate: func(c *Config) { c.Confidence = 1.2 }},
		{name: "rules", mutate: func(c *Config) { c.Rules = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := full
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() succeeded with an incomplete config")
			}
		})
	}

	c, err := New(full)
	if err != nil {
		t.Fatalf("New(full) error = %v", err)
	}
	if c.State() != Running {
		t.Errorf("initial state = %v, want RUNNING", c.State())
	}
}

type nopSaver struct{}

func (nopSaver) Save(gocv.Mat, time.Time) (string, error) { return "", nil }
func (nopSaver) Stats() screenshot.Stats                 { return screenshot.Stats{} }
func (nopSaver) Close() error                            { return nil }

func TestController_ConfirmsVerdictAfterHysteresis(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	events, unsubscribe := h.ctrl.Subscribe(4)
	defer unsubscribe()

	h.detector.SetDetections(attendedKnife)
	h.steps(testK - 1)
	if got := h.ctrl.Status().Verdict; got != hazard.Safe {
		t.Fatalf("verdict after %d frames = %v, want SAFE", testK-1, got)
	}

	h.steps(1)
	st := h.ctrl.Status()
	if st.Verdict != hazard.Warning {
		t.Fatalf("verdict = %v, want WARNING", st.Verdict)
	}
	if st.Frames != testK || st.Objects != 2 {
		t.Errorf("frames = %d objects = %d, want %d and 2", st.Frames, st.Objects, testK)
	}

	select {
	case tr := <-events:
		if tr.From != hazard.Safe || tr.To != hazard.Warning {
			t.Errorf("transition = %+v, want SAFE->WARNING", tr)
		}
	default:
		t.Error("no transition delivered to subscriber")
	}
}

func TestController_FlickerSuppressed(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(testK + 1)

	h.detector.Push(empty, nil)
	h.steps(1)
	h.steps(2)

	st := h.ctrl.Status()
	if st.Verdict != hazard.Danger {
		t.Errorf("verdict = %v, want DANGER", st.Verdict)
	}
	if n := len(h.ctrl.Transitions()); n != 1 {
		t.Errorf("transitions = %d, want 1", n)
	}
}

func TestController_InferenceFailureHoldsState(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(testK - 1)
	before := h.ctrl.Status()

	h.detector.Push(nil, detector.ErrInference)
	h.steps(1)

	after := h.ctrl.Status()
	if after.Verdict != before.Verdict || after.Candidate != before.Candidate || after.Count != before.Count || after.RawVerdict != before.RawVerdict {
		t.Errorf("hazard state changed across a failed frame: before %+v after %+v", before, after)
	}
	if after.InferenceErrors != 1 {
		t.Errorf("InferenceErrors = %d, want 1", after.InferenceErrors)
	}

	h.steps(1)
	if got := h.ctrl.Status().Verdict; got != hazard.Danger {
		t.Errorf("verdict = %v, want DANGER once the run resumes", got)
	}
}

func TestController_StoveClassifier(t *testing.T) {
	t.Run("stove on without person is DANGER", func(t *testing.T) {
		h := newHarness(t, withClassifier(detector.NewMockClassifier(detector.StoveOn)))
		h.open(t)
		h.detector.SetDetections(stoveOnly)
		h.steps(testK)

		st := h.ctrl.Status()
		if st.Verdict != hazard.Danger {
			t.Fatalf("verdict = %v, want DANGER", st.Verdict)
		}
		if len(st.Contributing) != 1 || st.Contributing[0] != detector.Flame {
			t.Errorf("contributing = %v, want [flame]", st.Contributing)
		}
	})

	t.Run("no classifier leaves stove unknown", func(t *testing.T) {
		h := newHarness(t)
		h.open(t)
		h.detector.SetDetections(stoveOnly)
		h.steps(testK)

		if got := h.ctrl.Status().Verdict; got != hazard.Safe {
			t.Errorf("verdict = %v, want SAFE", got)
		}
	})

	t.Run("classifier not invoked without a stove", func(t *testing.T) {
		cls := detector.NewMockClassifier(detector.StoveOn)
		h := newHarness(t, withClassifier(cls))
		h.open(t)
		h.detector.SetDetections(attendedKnife)
		h.steps(testK)

		if cls.Calls() != 0 {
			t.Errorf("classifier called %d times, want 0", cls.Calls())
		}
	})

	t.Run("classifier failure holds state", func(t *testing.T) {
		cls := detector.NewMockClassifier(detector.StoveOn)
		h := newHarness(t, withClassifier(cls))
		h.open(t)
		h.detector.SetDetections(stoveOnly)
		h.steps(testK - 1)
		before := h.ctrl.Status()

		cls.SetError(detector.ErrInference)
		h.steps(1)

		after := h.ctrl.Status()
		if after.Count != before.Count || after.Verdict != before.Verdict {
			t.Errorf("state changed on classifier failure: before %+v after %+v", before, after)
		}
		if after.InferenceErrors != 1 {
			t.Errorf("InferenceErrors = %d, want 1", after.InferenceErrors)
		}
	})
}

func TestController_PauseFreezesAndResumeContinues(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(testK)
	if got := h.ctrl.Status().Verdict; got != hazard.Danger {
		t.Fatalf("verdict = %v, want DANGER", got)
	}
	frozen := h.display.lastShown()
	calls := h.detector.Calls()
	reads := h.camera.Reads()

	if err := h.ctrl.Handle(Pause()); err != nil {
		t.Fatalf("Handle(pause) error = %v", err)
	}
	h.detector.SetDetections(empty)
	h.steps(5)

	st := h.ctrl.Status()
	if st.State != Paused || st.Verdict != hazard.Danger {
		t.Errorf("status while paused = %v/%v, want PAUSED/DANGER", st.State, st.Verdict)
	}
	if h.detector.Calls() != calls {
		t.Errorf("detector called %d times while paused", h.detector.Calls()-calls)
	}
	if h.camera.Reads() != reads+5 {
		t.Errorf("camera reads while paused = %d, want 5 (drained)", h.camera.Reads()-reads)
	}
	if !bytes.Equal(h.display.lastShown(), frozen) {
		t.Error("displayed frame changed while paused")
	}

	if err := h.ctrl.Handle(Resume()); err != nil {
		t.Fatalf("Handle(resume) error = %v", err)
	}

	// Fusion resumes from the frozen DANGER state, not from a reset SAFE one.
	h.steps(testK - 1)
	if got := h.ctrl.Status().Verdict; got != hazard.Danger {
		t.Errorf("verdict %d frames after resume = %v, want DANGER", testK-1, got)
	}
	h.steps(1)
	if got := h.ctrl.Status().Verdict; got != hazard.Safe {
		t.Errorf("verdict %d frames after resume = %v, want SAFE", testK, got)
	}
}

func TestController_PausedWithoutDrain(t *testing.T) {
	h := newHarness(t, withoutDrain())
	h.open(t)
	h.steps(1)

	reads := h.camera.Reads()
	h.ctrl.Handle(Pause())
	h.steps(3)

	if h.camera.Reads() != reads {
		t.Errorf("camera read %d times while paused without drain", h.camera.Reads()-reads)
	}
}

func TestController_CommandStateRules(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		cmd     Command
		wantErr error
		want    State
	}{
		{cmd: Resume(), wantErr: ErrInvalidState, want: Running},
		{cmd: Pause(), want: Paused},
		{cmd: Pause(), wantErr: ErrInvalidState, want: Paused},
		{cmd: Command{Kind: CmdTogglePause}, want: Running},
		{cmd: Command{Kind: CmdTogglePause}, want: Paused},
		{cmd: Command{Kind: "dance"}, wantErr: ErrInvalidCommand, want: Paused},
		{cmd: Quit(), want: Stopped},
		{cmd: Resume(), wantErr: ErrInvalidState, want: Stopped},
		{cmd: Quit(), want: Stopped},
	}

	for i, tt := range tests {
		err := h.ctrl.Handle(tt.cmd)
		if tt.wantErr == nil && err != nil {
			t.Fatalf("step %d: Handle(%s) error = %v", i, tt.cmd, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Fatalf("step %d: Handle(%s) error = %v, want %v", i, tt.cmd, err, tt.wantErr)
		}
		if got := h.ctrl.State(); got != tt.want {
			t.Fatalf("step %d: state after %s = %v, want %v", i, tt.cmd, got, tt.want)
		}
	}
}

func TestController_Threshold(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	if err := h.ctrl.Handle(SetThreshold(1.5)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("SetThreshold(1.5) error = %v, want ErrInvalidCommand", err)
	}
	if h.ctrl.Threshold() != 0.5 {
		t.Errorf("threshold = %v after rejected change, want 0.5", h.ctrl.Threshold())
	}

	// The knife is reported at 0.8; above that it disappears from the next cycle.
	h.detector.SetDetections(unattendedKnife)
	if err := h.ctrl.Handle(SetThreshold(0.9)); err != nil {
		t.Fatalf("SetThreshold(0.9) error = %v", err)
	}
	h.steps(testK)
	if got := h.ctrl.Status(); got.Verdict != hazard.Safe || got.Objects != 0 {
		t.Errorf("status = %v with %d objects, want SAFE with none", got.Verdict, got.Objects)
	}

	tests := []struct {
		delta float64
		want  float64
	}{
		{delta: ThresholdStep, want: 0.95},
		{delta: ThresholdStep, want: 1},
		{delta: ThresholdStep, want: 1},
		{delta: -ThresholdStep, want: 0.95},
	}
	for _, tt := range tests {
		if err := h.ctrl.Handle(Command{Kind: CmdAdjustThreshold, Value: tt.delta}); err != nil {
			t.Fatalf("adjust error = %v", err)
		}
		if got := h.ctrl.Threshold(); got != tt.want {
			t.Errorf("threshold = %v, want %v", got, tt.want)
		}
	}
}

func TestController_Screenshot(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	if err := h.ctrl.Handle(Screenshot()); !errors.Is(err, ErrNoFrame) {
		t.Errorf("screenshot before any frame error = %v, want ErrNoFrame", err)
	}

	h.steps(1)
	if err := h.ctrl.Handle(Screenshot()); err != nil {
		t.Fatalf("screenshot error = %v", err)
	}

	h.ctrl.Handle(Pause())
	if err := h.ctrl.Handle(Screenshot()); err != nil {
		t.Fatalf("screenshot while paused error = %v", err)
	}

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	saved := h.savedPaths()
	if len(saved) != 2 || saved[0] == saved[1] {
		t.Errorf("saved = %v, want two distinct files", saved)
	}
	if got := h.ctrl.Status().Screenshots.Written; got != 2 {
		t.Errorf("Screenshots.Written = %d, want 2", got)
	}
}

func TestController_Keys(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.display.press('p')
	h.steps(1)
	if h.ctrl.State() != Paused {
		t.Fatalf("state after 'p' = %v, want PAUSED", h.ctrl.State())
	}

	h.display.press('-')
	h.steps(1)
	if h.ctrl.Threshold() != 0.45 {
		t.Errorf("threshold after '-' = %v, want 0.45", h.ctrl.Threshold())
	}

	h.display.press('q')
	h.steps(1)
	if h.ctrl.State() != Stopped {
		t.Errorf("state after 'q' = %v, want STOPPED", h.ctrl.State())
	}
}

func TestController_ResetCommand(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(testK)
	if err := h.ctrl.Handle(Reset()); err != nil {
		t.Fatalf("reset error = %v", err)
	}

	st := h.ctrl.Status()
	if st.Verdict != hazard.Safe || st.Count != 0 {
		t.Errorf("status after reset = %v count %d, want SAFE count 0", st.Verdict, st.Count)
	}
}

func TestController_TransientCaptureError(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(testK - 1)
	before := h.ctrl.Status()

	h.camera.FailNext(errors.New("usb hiccup"))
	h.steps(1)

	after := h.ctrl.Status()
	if after.CaptureErrors != 1 {
		t.Errorf("CaptureErrors = %d, want 1", after.CaptureErrors)
	}
	if after.Count != before.Count || after.Frames != before.Frames {
		t.Errorf("a failed read changed the pipeline: before %+v after %+v", before, after)
	}
}

func TestController_FrozenFeed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test that requires GoCV Mat processing")
	}

	core, logs := observer.New(zap.InfoLevel)
	h := newHarness(t,
		withFreeze(capture.NewFreezeDetector(capture.DefaultStillPercent, 2)),
		withLogger(zap.New(core).Sugar()),
	)

	still := fixtures.Sequence(1)
	defer fixtures.Release(still)
	h.camera.SetFrames(still)
	h.open(t)

	h.detector.SetDetections(unattendedKnife)
	h.steps(4)

	st := h.ctrl.Status()
	if !st.FeedFrozen {
		t.Error("FeedFrozen = false after repeated identical frames")
	}
	if st.Verdict != hazard.Danger {
		t.Errorf("verdict = %v, a frozen feed must not stop fusion", st.Verdict)
	}
	if n := logs.FilterMessage("camera feed appears frozen").Len(); n != 1 {
		t.Errorf("frozen warnings = %d, want 1", n)
	}

	moving := fixtures.Sequence(4)
	defer fixtures.Release(moving)
	h.camera.SetFrames(moving)
	h.steps(2)

	if h.ctrl.Status().FeedFrozen {
		t.Error("FeedFrozen = true after the feed changed")
	}
	if n := logs.FilterMessage("camera feed changing again").Len(); n != 1 {
		t.Errorf("recovery logs = %d, want 1", n)
	}
}

func TestController_RunWithCommands(t *testing.T) {
	defer goleak.VerifyNone(t)

	frames := fixtures.Sequence(4)
	defer fixtures.Release(frames)

	cam := capture.NewMockCamera(frames, true)
	det := detector.NewMockDetector()
	det.SetDetections(unattendedKnife)
	machine, _ := hazard.NewMachine(testK)
	writer, err := screenshot.New(screenshot.Config{Dir: t.TempDir(), Encoder: func(string, gocv.Mat) error { return nil }})
	if err != nil {
		t.Fatal(err)
	}

	ctrl, err := New(Config{
		Camera:           cam,
		Detector:         det,
		Machine:          machine,
		Rules:            hazard.UniformRules(testProximity),
		Renderer:         render.New(render.DefaultOptions()),
		Screenshots:      writer,
		Display:          NewHeadlessDisplay(),
		Confidence:       0.5,
		DrainWhilePaused: true,
		EncodeFrames:     true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	waitFor(t, func() bool { return ctrl.Status().Verdict == hazard.Danger })

	if err := ctrl.Request(ctx, Pause()); err != nil {
		t.Fatalf("Request(pause) error = %v", err)
	}
	if got := ctrl.Status().State; got != Paused {
		t.Errorf("state = %v, want PAUSED", got)
	}
	if err := ctrl.Request(ctx, Resume()); err != nil {
		t.Fatalf("Request(resume) error = %v", err)
	}
	if err := ctrl.Request(ctx, Resume()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second resume error = %v, want ErrInvalidState", err)
	}
	if data, seq := ctrl.Frame(); len(data) == 0 || seq == 0 {
		t.Error("no encoded frame published")
	}
	if err := ctrl.Submit(Quit()); err != nil {
		t.Fatalf("Submit(quit) error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Run did not return after quit")
	}

	if !cam.Released() {
		t.Error("camera not released")
	}
	if err := ctrl.Request(context.Background(), Pause()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Request after stop error = %v, want ErrInvalidState", err)
	}
}

func TestController_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(t)
	events, _ := h.ctrl.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if !h.camera.Released() || !h.display.closed {
		t.Error("resources not released after cancel")
	}
	if _, ok := <-events; ok {
		t.Error("subscriber channel still open after stop")
	}
}

func TestController_RunCameraUnavailable(t *testing.T) {
	h := newHarness(t)
	h.camera.SetOpenError(errors.New("no such device"))

	err := h.ctrl.Run(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Errorf("Run() error = %v, want ErrDeviceUnavailable", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
