// Package app runs the capture, inference, fusion and render loop and routes
// control commands to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/kitchensafe/internal/capture"
	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/hazard"
	"github.com/ayusman/kitchensafe/internal/render"
	"github.com/ayusman/kitchensafe/internal/screenshot"
)

// Loop timing.
const (
	// KeyWait is how long the preview window is polled for keys each cycle.
	KeyWait = time.Millisecond

	// DefaultIdleInterval is the pause between cycles while paused and not
	// draining the camera.
	DefaultIdleInterval = 50 * time.Millisecond

	// CommandQueueSize bounds commands submitted from other goroutines.
	CommandQueueSize = 16
)

// State is the controller's run state.
type State int

const (
	Running State = iota
	Paused
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ScreenshotSaver persists rendered frames.
type ScreenshotSaver interface {
	Save(img gocv.Mat, captured time.Time) (string, error)
	Stats() screenshot.Stats
	Close() error
}

// Config wires a Controller. Camera, Detector, Machine, Renderer,
// Screenshots and Display are required.
type Config struct {
	Camera      capture.Camera
	Detector    detector.Detector
	Classifier  detector.StoveClassifier
	Machine     *hazard.Machine
	Rules       hazard.RuleSet
	Renderer    *render.Renderer
	Screenshots ScreenshotSaver
	Display     Display
	Logger      *zap.SugaredLogger
	Clock       clock.Clock

	// Freeze, if set, watches for a feed that stopped changing. It is
	// closed with the controller.
	Freeze *capture.FreezeDetector

	// Confidence is the initial detection threshold.
	Confidence float64

	// DrainWhilePaused keeps reading (and discarding) camera frames while paused.
	DrainWhilePaused bool

	// IdleInterval is slept per cycle while paused without draining.
	IdleInterval time.Duration

	// EncodeFrames keeps a JPEG of the latest rendered frame for streaming.
	EncodeFrames bool

	RunID string
}

// Status is a point in time copy of the controller's observable state.
type Status struct {
	RunID           string           `json:"run_id"`
	State           State            `json:"state"`
	Verdict         hazard.Verdict   `json:"verdict"`
	RawVerdict      hazard.Verdict   `json:"raw_verdict"`
	Candidate       hazard.Verdict   `json:"candidate"`
	Count           int              `json:"count"`
	Contributing    []detector.Label `json:"contributing"`
	LastTransition  time.Time        `json:"last_transition"`
	Threshold       float64          `json:"threshold"`
	Frames          uint64           `json:"frames"`
	Drained         uint64           `json:"drained"`
	CaptureErrors   uint64           `json:"capture_errors"`
	InferenceErrors uint64           `json:"inference_errors"`
	Objects         int              `json:"objects"`
	FeedFrozen      bool             `json:"feed_frozen"`
	Screenshots     screenshot.Stats `json:"screenshots"`
}

type request struct {
	cmd   Command
	reply chan error
}

// Controller owns the processing loop. Step, Handle and Run must be called
// from a single goroutine; Submit, Request, Status, Subscribe and Frame are
// safe from any goroutine.
type Controller struct {
	camera      capture.Camera
	detector    detector.Detector
	classifier  detector.StoveClassifier
	machine     *hazard.Machine
	rules       hazard.RuleSet
	renderer    *render.Renderer
	screenshots ScreenshotSaver
	display     Display
	freeze      *capture.FreezeDetector
	logger      *zap.SugaredLogger
	clock       clock.Clock
	drain       bool
	idle        time.Duration
	encode      bool
	runID       string

	// Loop goroutine only.
	state        State
	threshold    float64
	last         gocv.Mat
	lastCaptured time.Time
	frames       uint64
	drained      uint64
	captureErrs  uint64
	inferErrs    uint64
	objects      int
	frozen       bool
	transitions  []hazard.Transition
	opened       bool
	released     bool

	commands chan request
	done     chan struct{}

	mu          sync.Mutex
	status      Status
	jpeg        []byte
	jpegSeq     uint64
	subscribers map[int]chan hazard.Transition
	nextSub     int
}

// New creates a Controller in the RUNNING state.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Camera == nil:
		return nil, errors.New("controller: camera is required")
	case cfg.Detector == nil:
		return nil, errors.New("controller: detector is required")
	case cfg.Machine == nil:
		return nil, errors.New("controller: hazard machine is required")
	case cfg.Renderer == nil:
		return nil, errors.New("controller: renderer is required")
	case cfg.Screenshots == nil:
		return nil, errors.New("controller: screenshot writer is required")
	case cfg.Display == nil:
		return nil, errors.New("controller: display is required")
	}
	if err := validThreshold(cfg.Confidence); err != nil {
		return nil, err
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.IdleInterval < 0 {
		cfg.IdleInterval = 0
	}

	c := &Controller{
		camera:      cfg.Camera,
		detector:    cfg.Detector,
		classifier:  cfg.Classifier,
		machine:     cfg.Machine,
		rules:       cfg.Rules,
		renderer:    cfg.Renderer,
		screenshots: cfg.Screenshots,
		display:     cfg.Display,
		freeze:      cfg.Freeze,
		logger:      cfg.Logger,
		clock:       cfg.Clock,
		drain:       cfg.DrainWhilePaused,
		idle:        cfg.IdleInterval,
		encode:      cfg.EncodeFrames,
		runID:       cfg.RunID,
		state:       Running,
		threshold:   cfg.Confidence,
		last:        gocv.NewMat(),
		commands:    make(chan request, CommandQueueSize),
		done:        make(chan struct{}),
		subscribers: make(map[int]chan hazard.Transition),
	}

	if c.classifier == nil {
		c.logger.Infow("no stove classifier configured, stove state stays unknown")
	}

	c.publish()
	return c, nil
}

// Open opens the camera.
func (c *Controller) Open() error {
	if err := c.camera.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	c.opened = true
	return nil
}

// Run opens the camera and steps until a quit command or ctx is done. The
// camera, the screenshot queue and the display are released on every path.
func (c *Controller) Run(ctx context.Context) (err error) {
	if err := c.Open(); err != nil {
		return multierr.Append(err, c.Close())
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()

	c.logger.Infow("controller running", "threshold", c.threshold, "hysteresis_frames", c.machine.Frames())

	for c.state != Stopped {
		select {
		case <-ctx.Done():
			c.logger.Infow("context cancelled, stopping", "reason", ctx.Err())
			c.Handle(Quit())
			continue
		default:
		}
		c.Step()
	}

	return nil
}

// Step handles pending commands, runs one cycle for the current state and
// polls the display for a key press.
func (c *Controller) Step() {
	c.drainCommands()

	switch c.state {
	case Running:
		c.process()
	case Paused:
		c.idleCycle()
	case Stopped:
		return
	}

	if cmd, ok := KeyCommand(c.display.WaitKey(KeyWait)); ok {
		if err := c.Handle(cmd); err != nil {
			c.logger.Warnw("key command failed", "command", cmd.String(), "error", err)
		}
	}

	c.publish()
}

// process runs capture, inference, fusion and render for one frame.
func (c *Controller) process() {
	frame, err := c.camera.ReadFrame()
	if err != nil {
		c.captureErrs++
		c.logger.Warnw("frame capture failed, skipping cycle", "error", err)
		return
	}
	defer frame.Close()

	c.frames++
	c.watchFeed(frame)

	dets, stoves, err := c.infer(frame)
	if err != nil {
		c.inferErrs++
		c.machine.Hold()
		c.logger.Warnw("inference failed, holding hazard state", "seq", frame.Seq, "error", err)
	} else {
		a := hazard.Assess(dets, stoves, c.rules, frame.Width, frame.Height)
		if t, ok := c.machine.Observe(a, frame.Timestamp); ok {
			c.onTransition(t)
		}
	}

	c.objects = len(dets)
	img := c.renderer.Annotate(frame, dets, c.machine.State())
	c.setLast(img, frame.Timestamp)
	c.display.Show(c.last)
}

// watchFeed logs when the feed freezes and when it recovers.
func (c *Controller) watchFeed(frame *capture.Frame) {
	if c.freeze == nil {
		return
	}
	frozen, change := c.freeze.Observe(frame.Mat)
	switch {
	case frozen && !c.frozen:
		c.logger.Warnw("camera feed appears frozen", "seq", frame.Seq, "change_percent", change)
	case !frozen && c.frozen:
		c.logger.Infow("camera feed changing again", "seq", frame.Seq)
	}
	c.frozen = frozen
}

// infer runs the detector and, for every stove found, the classifier.
func (c *Controller) infer(frame *capture.Frame) ([]detector.Detection, []detector.StoveReading, error) {
	dets, err := c.detector.Detect(frame, c.threshold)
	if err != nil {
		return nil, nil, fmt.Errorf("detect: %w", err)
	}

	var stoves []detector.StoveReading
	for _, d := range dets {
		if d.Label != detector.Stove {
			continue
		}

		reading := detector.StoveReading{Box: d.Box, State: detector.StoveUnknown}
		if c.classifier != nil {
			r, err := c.classify(frame, d.Box)
			if err != nil {
				return dets, nil, fmt.Errorf("classify stove: %w", err)
			}
			reading.State, reading.Confidence = r.State, r.Confidence
		}
		stoves = append(stoves, reading)
	}

	return dets, stoves, nil
}

func (c *Controller) classify(frame *capture.Frame, box detector.BBox) (detector.StoveReading, error) {
	crop, err := detector.Crop(frame, box)
	defer crop.Close()
	if err != nil {
		return detector.StoveReading{}, err
	}
	return c.classifier.Classify(crop)
}

// idleCycle keeps the last rendered frame on screen while paused.
func (c *Controller) idleCycle() {
	if c.drain {
		frame, err := c.camera.ReadFrame()
		if err != nil {
			c.captureErrs++
			c.logger.Debugw("drain read failed", "error", err)
		} else {
			c.drained++
			frame.Close()
		}
	} else if c.idle > 0 {
		c.clock.Sleep(c.idle)
	}

	c.display.Show(c.last)
}

func (c *Controller) setLast(img gocv.Mat, captured time.Time) {
	c.last.Close()
	c.last = img
	c.lastCaptured = captured

	if !c.encode || img.Empty() {
		return
	}
	data, err := render.JPEG(img)
	if err != nil {
		c.logger.Debugw("frame encode failed", "error", err)
		return
	}
	c.mu.Lock()
	c.jpeg = data
	c.jpegSeq++
	c.mu.Unlock()
}

func (c *Controller) onTransition(t hazard.Transition) {
	c.transitions = append(c.transitions, t)

	log := c.logger.Infow
	if t.To == hazard.Danger {
		log = c.logger.Warnw
	}
	log("hazard verdict changed", "from", t.From, "to", t.To, "contributing", t.Contributing)

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.subscribers {
		select {
		case ch <- t:
		default:
			c.logger.Debugw("transition subscriber is behind, dropping event", "subscriber", id)
		}
	}
}

// Handle applies cmd immediately. It must be called from the loop goroutine.
func (c *Controller) Handle(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if c.state == Stopped && cmd.Kind != CmdQuit {
		return fmt.Errorf("%s: %w: %s", cmd, ErrInvalidState, c.state)
	}

	switch cmd.Kind {
	case CmdPause:
		if c.state != Running {
			return fmt.Errorf("%s: %w: %s", cmd, ErrInvalidState, c.state)
		}
		c.state = Paused
		c.logger.Infow("paused")

	case CmdResume:
		if c.state != Paused {
			return fmt.Errorf("%s: %w: %s", cmd, ErrInvalidState, c.state)
		}
		c.state = Running
		c.logger.Infow("resumed")

	case CmdTogglePause:
		if c.state == Running {
			return c.Handle(Pause())
		}
		return c.Handle(Resume())

	case CmdQuit:
		if c.state != Stopped {
			c.state = Stopped
			c.logger.Infow("quitting")
		}

	case CmdScreenshot:
		return c.screenshot()

	case CmdSetThreshold:
		return c.setThreshold(cmd.Value)

	case CmdAdjustThreshold:
		v := math.Round((c.threshold+cmd.Value)*100) / 100
		return c.setThreshold(math.Max(0, math.Min(1, v)))

	case CmdReset:
		c.machine.Reset()
		c.logger.Infow("hazard state reset")
	}

	c.publish()
	return nil
}

func (c *Controller) screenshot() error {
	if c.last.Empty() {
		return fmt.Errorf("screenshot: %w", ErrNoFrame)
	}

	path, err := c.screenshots.Save(c.last, c.lastCaptured)
	if err != nil {
		c.logger.Warnw("screenshot not saved", "error", err)
		return fmt.Errorf("screenshot: %w", err)
	}
	c.logger.Infow("screenshot queued", "path", path)
	c.publish()
	return nil
}

func validThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("confidence threshold %v outside [0,1]: %w", v, ErrInvalidCommand)
	}
	return nil
}

func (c *Controller) setThreshold(v float64) error {
	if err := validThreshold(v); err != nil {
		return err
	}
	if v != c.threshold {
		c.logger.Infow("confidence threshold changed", "from", c.threshold, "to", v)
	}
	c.threshold = v
	c.publish()
	return nil
}

// Submit queues cmd for the loop goroutine without waiting for it.
func (c *Controller) Submit(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	select {
	case c.commands <- request{cmd: cmd}:
		return nil
	default:
		return fmt.Errorf("%s: %w", cmd, ErrCommandQueueFull)
	}
}

// Request queues cmd and waits until the loop has applied it.
func (c *Controller) Request(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	reply := make(chan error, 1)
	select {
	case c.commands <- request{cmd: cmd, reply: reply}:
	case <-c.done:
		return fmt.Errorf("%s: %w: %s", cmd, ErrInvalidState, Stopped)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-c.done:
		return fmt.Errorf("%s: %w: %s", cmd, ErrInvalidState, Stopped)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) drainCommands() {
	for {
		select {
		case req := <-c.commands:
			err := c.Handle(req.cmd)
			if err != nil {
				c.logger.Warnw("command failed", "command", req.cmd.String(), "error", err)
			}
			if req.reply != nil {
				req.reply <- err
			}
		default:
			return
		}
	}
}

// State returns the run state. Loop goroutine only; other goroutines use Status.
func (c *Controller) State() State {
	return c.state
}

// Threshold returns the live confidence threshold. Loop goroutine only.
func (c *Controller) Threshold() float64 {
	return c.threshold
}

// Transitions returns the confirmed verdict changes so far. Loop goroutine only.
func (c *Controller) Transitions() []hazard.Transition {
	return append([]hazard.Transition(nil), c.transitions...)
}

func (c *Controller) publish() {
	hs := c.machine.State()
	st := Status{
		RunID:           c.runID,
		State:           c.state,
		Verdict:         hs.Current,
		RawVerdict:      hs.Raw,
		Candidate:       hs.Candidate,
		Count:           hs.Count,
		Contributing:    hs.Contributing,
		LastTransition:  hs.LastTransition,
		Threshold:       c.threshold,
		Frames:          c.frames,
		Drained:         c.drained,
		CaptureErrors:   c.captureErrs,
		InferenceErrors: c.inferErrs,
		Objects:         c.objects,
		FeedFrozen:      c.frozen,
		Screenshots:     c.screenshots.Stats(),
	}

	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

// Status returns the latest published snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.status
	st.Contributing = append([]detector.Label(nil), st.Contributing...)
	return st
}

// Frame returns the latest rendered frame as JPEG and its sequence number.
// It is empty unless the controller was configured with EncodeFrames.
func (c *Controller) Frame() ([]byte, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jpeg, c.jpegSeq
}

// Subscribe returns a channel receiving confirmed verdict transitions and a
// function that unsubscribes. Slow subscribers miss events rather than
// stalling the loop. The channel is closed on unsubscribe or Close.
func (c *Controller) Subscribe(buffer int) (<-chan hazard.Transition, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan hazard.Transition, buffer)
	if c.released {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
}

// Close stops the controller and releases the camera, the screenshot queue
// (after it drains), the display and the last rendered frame. Errors are
// combined. It is safe to call more than once.
func (c *Controller) Close() error {
	if c.released {
		return nil
	}
	c.state = Stopped

	var err error
	if c.opened {
		err = multierr.Append(err, c.camera.Close())
	}
	err = multierr.Append(err, c.screenshots.Close())
	err = multierr.Append(err, c.display.Close())
	err = multierr.Append(err, c.last.Close())
	if c.freeze != nil {
		err = multierr.Append(err, c.freeze.Close())
	}

	c.publish()

	c.drainCommands()
	close(c.done)

	c.mu.Lock()
	c.released = true
	for id, ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, id)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Errorw("release failed", "error", err)
	}
	return err
}
