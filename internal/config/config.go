// Package config turns command line flags, environment variables and the
// optional hazard rules file into a validated runtime configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ayusman/kitchensafe/internal/detector"
	"github.com/ayusman/kitchensafe/internal/hazard"
	"github.com/ayusman/kitchensafe/internal/screenshot"
)

// ErrInvalidConfiguration is returned for any unusable flag, variable or rules file.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// Flags.
const (
	FlagCamera           = "camera"
	FlagConfidence       = "conf"
	FlagModel            = "model"
	FlagModelConfig      = "model-config"
	FlagClassifier       = "classifier"
	FlagClassNames       = "class-names"
	FlagInputSize        = "input-size"
	FlagNMS              = "nms"
	FlagHysteresisFrames = "hysteresis-frames"
	FlagProximity        = "proximity"
	FlagRules            = "rules"
	FlagSaveDir          = "save-dir"
	FlagScreenshotQueue  = "screenshot-queue"
	FlagDrainPaused      = "drain-paused"
	FlagFreezeFrames     = "freeze-frames"
	FlagHeadless         = "headless"
	FlagListen           = "listen"
	FlagTray             = "tray"
	FlagDebug            = "debug"
)

const envPrefix = "KITCHENSAFE_"

// Config is the runtime configuration. It is not modified after startup.
type Config struct {
	CameraIndex         int
	ConfidenceThreshold float64
	DetectorModelPath   string
	DetectorConfigPath  string
	ClassifierModelPath string
	ClassNames          []detector.Label
	InputSize           int
	NMSThreshold        float64
	HysteresisFrames    int
	Rules               hazard.RuleSet
	SaveDir             string
	ScreenshotQueue     int
	DrainWhilePaused    bool
	FreezeFrames        int
	Headless            bool
	Listen              string
	Tray                bool
	Debug               bool
}

func env(flag string) []string {
	return []string{envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))}
}

// Flags returns the command line flags. Every flag can also be set through
// a KITCHENSAFE_* environment variable, e.g. KITCHENSAFE_SAVE_DIR.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: FlagCamera, Value: 0, Usage: "camera device `INDEX`", EnvVars: env(FlagCamera)},
		&cli.Float64Flag{Name: FlagConfidence, Value: 0.5, Usage: "detection confidence threshold in [0,1]", EnvVars: env(FlagConfidence)},
		&cli.StringFlag{Name: FlagModel, Usage: "detector weights `FILE` (searched for when empty)", EnvVars: env(FlagModel)},
		&cli.StringFlag{Name: FlagModelConfig, Usage: "network description `FILE` for non-ONNX detectors", EnvVars: env(FlagModelConfig)},
		&cli.StringFlag{Name: FlagClassifier, Usage: "stove on/off classifier `FILE` (stove state stays unknown when empty)", EnvVars: env(FlagClassifier)},
		&cli.StringFlag{Name: FlagClassNames, Value: "person,knife,scissors,pan,stove,flame", Usage: "detector class names in class id order", EnvVars: env(FlagClassNames)},
		&cli.IntFlag{Name: FlagInputSize, Value: 640, Usage: "detector input size in pixels", EnvVars: env(FlagInputSize)},
		&cli.Float64Flag{Name: FlagNMS, Value: 0.45, Usage: "non maximum suppression IoU threshold", EnvVars: env(FlagNMS)},
		&cli.IntFlag{Name: FlagHysteresisFrames, Usage: "consecutive frames needed to confirm a verdict (required here or in the rules file)", EnvVars: env(FlagHysteresisFrames)},
		&cli.Float64Flag{Name: FlagProximity, Usage: "normalized guardian distance below which a hazard is attended (required here or in the rules file)", EnvVars: env(FlagProximity)},
		&cli.StringFlag{Name: FlagRules, Usage: "hazard rules YAML `FILE`", EnvVars: env(FlagRules)},
		&cli.StringFlag{Name: FlagSaveDir, Value: "outputs/screenshots", Usage: "screenshot `DIR`", EnvVars: env(FlagSaveDir)},
		&cli.IntFlag{Name: FlagScreenshotQueue, Value: screenshot.DefaultQueueSize, Usage: "pending screenshot writes before new ones are dropped", EnvVars: env(FlagScreenshotQueue)},
		&cli.BoolFlag{Name: FlagDrainPaused, Value: true, Usage: "keep reading the camera while paused", EnvVars: env(FlagDrainPaused)},
		&cli.IntFlag{Name: FlagFreezeFrames, Value: 150, Usage: "identical frames in a row before the feed is reported frozen (0 disables)", EnvVars: env(FlagFreezeFrames)},
		&cli.BoolFlag{Name: FlagHeadless, Usage: "run without a preview window", EnvVars: env(FlagHeadless)},
		&cli.StringFlag{Name: FlagListen, Usage: "serve the local control API on `ADDR` (disabled when empty)", EnvVars: env(FlagListen)},
		&cli.BoolFlag{Name: FlagTray, Usage: "show a system tray menu (implies --headless)", EnvVars: env(FlagTray)},
		&cli.BoolFlag{Name: FlagDebug, Usage: "enable debug logging", EnvVars: env(FlagDebug)},
	}
}

// LoadDotEnv loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// FromContext builds and validates a Config from parsed flags.
func FromContext(c *cli.Context) (Config, error) {
	cfg := Config{
		CameraIndex:         c.Int(FlagCamera),
		ConfidenceThreshold: c.Float64(FlagConfidence),
		DetectorModelPath:   c.String(FlagModel),
		DetectorConfigPath:  c.String(FlagModelConfig),
		ClassifierModelPath: c.String(FlagClassifier),
		InputSize:           c.Int(FlagInputSize),
		NMSThreshold:        c.Float64(FlagNMS),
		SaveDir:             c.String(FlagSaveDir),
		ScreenshotQueue:     c.Int(FlagScreenshotQueue),
		DrainWhilePaused:    c.Bool(FlagDrainPaused),
		FreezeFrames:        c.Int(FlagFreezeFrames),
		Headless:            c.Bool(FlagHeadless) || c.Bool(FlagTray),
		Listen:              c.String(FlagListen),
		Tray:                c.Bool(FlagTray),
		Debug:               c.Bool(FlagDebug),
	}

	names, err := detector.ParseClassNames(c.String(FlagClassNames))
	if err != nil {
		return Config{}, fmt.Errorf("--%s: %w: %v", FlagClassNames, ErrInvalidConfiguration, err)
	}
	cfg.ClassNames = names

	var file RulesFile
	if path := c.String(FlagRules); path != "" {
		if file, err = LoadRules(path); err != nil {
			return Config{}, err
		}
	}

	cfg.HysteresisFrames = file.HysteresisFrames
	if c.IsSet(FlagHysteresisFrames) {
		cfg.HysteresisFrames = c.Int(FlagHysteresisFrames)
	}

	proximity := file.Proximity
	if c.IsSet(FlagProximity) {
		proximity = c.Float64(FlagProximity)
	}
	if cfg.Rules, err = file.ruleSet(proximity); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that both hysteresis and proximity were given.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidConfiguration)
	}

	switch {
	case c.CameraIndex < 0:
		return invalid("--%s must not be negative, got %d", FlagCamera, c.CameraIndex)
	case !unit(c.ConfidenceThreshold):
		return invalid("--%s must be in [0,1], got %v", FlagConfidence, c.ConfidenceThreshold)
	case c.NMSThreshold <= 0 || c.NMSThreshold > 1:
		return invalid("--%s must be in (0,1], got %v", FlagNMS, c.NMSThreshold)
	case c.InputSize <= 0 || c.InputSize%32 != 0:
		return invalid("--%s must be a positive multiple of 32, got %d", FlagInputSize, c.InputSize)
	case len(c.ClassNames) == 0:
		return invalid("--%s is empty", FlagClassNames)
	case c.HysteresisFrames < 1:
		return invalid("--%s must be set to at least 1 (flag or rules file), got %d", FlagHysteresisFrames, c.HysteresisFrames)
	case c.SaveDir == "":
		return invalid("--%s is empty", FlagSaveDir)
	case c.ScreenshotQueue < 1:
		return invalid("--%s must be at least 1, got %d", FlagScreenshotQueue, c.ScreenshotQueue)
	case c.FreezeFrames < 0:
		return invalid("--%s must not be negative, got %d", FlagFreezeFrames, c.FreezeFrames)
	}

	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	for _, l := range hazard.HazardLabels {
		if _, ok := c.Rules.For(l); !ok {
			return invalid("no proximity for %q: set --%s or a rule in the rules file", l, FlagProximity)
		}
	}
	return nil
}

func unit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
