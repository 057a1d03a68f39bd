// Package screenshot persists annotated frames as JPEG files on a background
// worker fed by a small bounded queue.
package screenshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

var (
	// ErrQueueFull is returned when a screenshot is dropped because the
	// write queue is at capacity.
	ErrQueueFull = errors.New("screenshot queue full")

	// ErrWrite is reported when a queued screenshot cannot be written.
	ErrWrite = errors.New("screenshot write failed")

	// ErrClosed is returned by Save after Close.
	ErrClosed = errors.New("screenshot writer closed")
)

// DefaultQueueSize is the number of pending writes held before new requests are dropped.
const DefaultQueueSize = 4

// Encoder writes img to path.
type Encoder func(path string, img gocv.Mat) error

// Result is the outcome of one queued write.
type Result struct {
	Path string
	Err  error
}

// Stats counts what happened to save requests.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Config configures a Writer.
type Config struct {
	// Dir receives the files; it is created if missing.
	Dir string

	// QueueSize bounds pending writes (default: DefaultQueueSize).
	QueueSize int

	Logger *zap.SugaredLogger

	// OnResult, if set, is called from the worker after every write attempt.
	OnResult func(Result)

	// Encoder overrides the JPEG writer.
	Encoder Encoder
}

type job struct {
	path string
	img  gocv.Mat
}

// Writer saves screenshots without blocking the caller.
type Writer struct {
	dir      string
	logger   *zap.SugaredLogger
	encode   Encoder
	onResult func(Result)

	jobs chan job
	wg   sync.WaitGroup

	mu     sync.Mutex
	names  map[string]int
	closed bool

	queued  atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New creates the output directory and starts the write worker.
func New(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("screenshot directory is empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screenshot directory: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Encoder == nil {
		cfg.Encoder = writeJPEG
	}

	w := &Writer{
		dir:      cfg.Dir,
		logger:   cfg.Logger,
		encode:   cfg.Encoder,
		onResult: cfg.OnResult,
		jobs:     make(chan job, cfg.QueueSize),
		names:    make(map[string]int),
	}

	w.wg.Add(1)
	go w.run()

	return w, nil
}

func writeJPEG(path string, img gocv.Mat) error {
	if ok := gocv.IMWrite(path, img); !ok {
		return fmt.Errorf("imwrite %s", path)
	}
	return nil
}

// FileName returns the base name for a screenshot captured at ts, without
// the collision suffix.
func FileName(ts time.Time) string {
	return fmt.Sprintf("screenshot_%s_%03d", ts.Format("20060102_150405"), ts.Nanosecond()/int(time.Millisecond))
}

// Save queues a copy of img, named after its capture time. It never blocks:
// when the queue is full the request is dropped and ErrQueueFull returned.
// The returned path is where the file will appear once written.
func (w *Writer) Save(img gocv.Mat, captured time.Time) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("save screenshot: empty image: %w", ErrWrite)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return "", ErrClosed
	}

	path := filepath.Join(w.dir, w.uniqueName(FileName(captured))+".jpg")

	j := job{path: path, img: img.Clone()}
	select {
	case w.jobs <- j:
		w.queued.Add(1)
		return path, nil
	default:
		j.img.Close()
		w.dropped.Add(1)
		w.logger.Warnw("screenshot dropped, write queue full", "path", path, "dropped", w.dropped.Load())
		return "", fmt.Errorf("%s: %w", filepath.Base(path), ErrQueueFull)
	}
}

// uniqueName returns base the first time and base_N on the Nth repeat.
func (w *Writer) uniqueName(base string) string {
	n := w.names[base]
	w.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s_%d", base, n)
}

func (w *Writer) run() {
	defer w.wg.Done()

	for j := range w.jobs {
		err := w.encode(j.path, j.img)
		j.img.Close()

		if err != nil {
			err = fmt.Errorf("%s: %w: %v", j.path, ErrWrite, err)
			w.failed.Add(1)
			w.logger.Errorw("screenshot write failed", "path", j.path, "error", err)
		} else {
			w.written.Add(1)
			w.logger.Infow("screenshot saved", "path", j.path)
		}

		if w.onResult != nil {
			w.onResult(Result{Path: j.path, Err: err})
		}
	}
}

// Stats returns the request counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Queued:  w.queued.Load(),
		Written: w.written.Load(),
		Dropped: w.dropped.Load(),
		Failed:  w.failed.Load(),
	}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Close stops accepting screenshots, writes everything still queued and
// waits for the worker to exit. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.jobs)
	}
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}
