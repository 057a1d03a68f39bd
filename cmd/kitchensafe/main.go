package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/kitchensafe/internal/app"
	"github.com/ayusman/kitchensafe/internal/capture"
	"github.com/ayusman/kitchensafe/internal/config"
	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/hazard"
	"github.com/ayusman/kitchensafe/internal/logging"
	"github.com/ayusman/kitchensafe/internal/render"
	"github.com/ayusman/kitchensafe/internal/screenshot"
	"github.com/ayusman/kitchensafe/internal/server"
	"github.com/ayusman/kitchensafe/internal/tray"
)

// Exit codes.
const (
	exitOK            = 0
	exitFatal         = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitInvalidConfig
	}

	code := exitOK
	cliApp := &cli.App{
		Name:            "kitchensafe",
		Usage:           "watch a kitchen camera and flag unattended knives, scissors, pans and flames",
		Flags:           config.Flags(),
		HideHelpCommand: true,
		Action: func(c *cli.Context) error {
			cfg, err := config.FromContext(c)
			if err != nil {
				fmt.Fprintf(c.App.ErrWriter, "error: %v\n\n", err)
				cli.ShowAppHelp(c)
				code = exitInvalidConfig
				return nil
			}
			code = monitor(c.Context, cfg)
			return nil
		},
	}

	if err := cliApp.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitInvalidConfig
	}
	return code
}

// monitor builds the pipeline from cfg and runs it until quit or a signal.
func monitor(parent context.Context, cfg config.Config) int {
	runID := uuid.NewString()
	logger, err := logging.New("kitchensafe", runID, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitFatal
	}
	defer logger.Sync()

	modelPath := cfg.DetectorModelPath
	if modelPath == "" {
		if modelPath = detector.FindModel(); modelPath == "" {
			logger.Errorw("no detector model found, pass --model", "error", detector.ErrModelLoad)
			return exitFatal
		}
		logger.Infow("using discovered detector model", "path", modelPath)
	}

	det, err := detector.NewNetDetector(detector.NetConfig{
		ModelPath:    modelPath,
		ConfigPath:   cfg.DetectorConfigPath,
		ClassNames:   cfg.ClassNames,
		InputSize:    cfg.InputSize,
		NMSThreshold: cfg.NMSThreshold,
	})
	if err != nil {
		logger.Errorw("failed to load detector", "error", err)
		return exitFatal
	}
	defer det.Close()

	var classifier detector.StoveClassifier
	if cfg.ClassifierModelPath != "" {
		cls, err := detector.NewNetClassifier(cfg.ClassifierModelPath, 0)
		if err != nil {
			logger.Errorw("failed to load stove classifier", "error", err)
			return exitFatal
		}
		defer cls.Close()
		classifier = cls
	}

	machine, err := hazard.NewMachine(cfg.HysteresisFrames)
	if err != nil {
		logger.Errorw("invalid hysteresis", "error", err)
		return exitInvalidConfig
	}

	shots, err := screenshot.New(screenshot.Config{
		Dir:       cfg.SaveDir,
		QueueSize: cfg.ScreenshotQueue,
		Logger:    logger.Named("screenshot"),
	})
	if err != nil {
		logger.Errorw("failed to prepare screenshot directory", "error", err)
		return exitFatal
	}

	var freeze *capture.FreezeDetector
	if cfg.FreezeFrames > 0 {
		freeze = capture.NewFreezeDetector(capture.DefaultStillPercent, cfg.FreezeFrames)
	}

	var display app.Display = app.NewHeadlessDisplay()
	if !cfg.Headless {
		display = app.NewWindowDisplay("Kitchen Safety Monitor")
	}

	ctrl, err := app.New(app.Config{
		Camera:           capture.NewCamera(cfg.CameraIndex),
		Detector:         det,
		Classifier:       classifier,
		Machine:          machine,
		Rules:            cfg.Rules,
		Renderer:         render.New(render.DefaultOptions()),
		Screenshots:      shots,
		Display:          display,
		Freeze:           freeze,
		Logger:           logger.Named("controller"),
		Confidence:       cfg.ConfidenceThreshold,
		DrainWhilePaused: cfg.DrainWhilePaused,
		IdleInterval:     app.DefaultIdleInterval,
		EncodeFrames:     cfg.Listen != "",
		RunID:            runID,
	})
	if err != nil {
		shots.Close()
		display.Close()
		if freeze != nil {
			freeze.Close()
		}
		logger.Errorw("failed to create controller", "error", err)
		return exitFatal
	}

	logger.Infow("starting",
		"camera", cfg.CameraIndex,
		"model", modelPath,
		"stove_classifier", cfg.ClassifierModelPath != "",
		"threshold", cfg.ConfidenceThreshold,
		"hysteresis_frames", cfg.HysteresisFrames,
		"save_dir", cfg.SaveDir,
		"listen", cfg.Listen,
	)

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Listen != "" {
		srv, err := server.New(server.Config{Controller: ctrl, Logger: logger.Named("server")})
		if err != nil {
			ctrl.Close()
			logger.Errorw("failed to create server", "error", err)
			return exitFatal
		}
		g.Go(func() error {
			return srv.ListenAndServe(gctx, cfg.Listen)
		})
	}

	runController := func() error {
		defer cancel()
		return ctrl.Run(gctx)
	}

	var runErr error
	if cfg.Tray {
		t := tray.New(ctrl)
		t.OnError(func(cmd app.Command, err error) {
			logger.Warnw("tray command rejected", "command", cmd.String(), "error", err)
		})
		events, _ := ctrl.Subscribe(8)
		g.Go(func() error {
			t.Follow(events)
			return nil
		})
		g.Go(func() error {
			defer t.Quit()
			return runController()
		})
		// The tray owns the main thread until it is quit.
		t.Run()
	} else {
		runErr = runController()
	}

	if err := g.Wait(); err != nil {
		runErr = multierr.Append(runErr, err)
	}

	logger.Infow("run finished", "summary", ctrl.Summary(time.Now()).String())

	switch {
	case runErr == nil:
		return exitOK
	case errors.Is(runErr, capture.ErrDeviceUnavailable):
		logger.Errorw("camera unavailable", "camera", cfg.CameraIndex, "error", runErr)
	default:
		logger.Errorw("monitor stopped with errors", "error", runErr)
	}
	return exitFatal
}
