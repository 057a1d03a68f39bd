package app

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCommand is returned for unknown commands and out of range values.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidState is returned for a command that does not apply in the
	// controller's current state, e.g. resume while running.
	ErrInvalidState = errors.New("command not valid in current state")

	// ErrCommandQueueFull is returned by Submit when the loop is not keeping up.
	ErrCommandQueueFull = errors.New("command queue full")

	// ErrNoFrame is returned for a screenshot before anything was rendered.
	ErrNoFrame = errors.New("no rendered frame yet")
)

// CommandKind names a control command.
type CommandKind string

const (
	CmdPause           CommandKind = "pause"
	CmdResume          CommandKind = "resume"
	CmdTogglePause     CommandKind = "toggle_pause"
	CmdQuit            CommandKind = "quit"
	CmdScreenshot      CommandKind = "screenshot"
	CmdSetThreshold    CommandKind = "set_threshold"
	CmdAdjustThreshold CommandKind = "adjust_threshold"
	CmdReset           CommandKind = "reset"
)

// ThresholdStep is the confidence change applied by the +/- keys.
const ThresholdStep = 0.05

// Command is a request to the controller. Value carries the threshold for
// CmdSetThreshold and the signed delta for CmdAdjustThreshold.
type Command struct {
	Kind  CommandKind `json:"kind"`
	Value float64     `json:"value,omitempty"`
}

func (c Command) String() string {
	switch c.Kind {
	case CmdSetThreshold, CmdAdjustThreshold:
		return fmt.Sprintf("%s(%.2f)", c.Kind, c.Value)
	default:
		return string(c.Kind)
	}
}

// Validate checks the command kind.
func (c Command) Validate() error {
	switch c.Kind {
	case CmdPause, CmdResume, CmdTogglePause, CmdQuit, CmdScreenshot, CmdSetThreshold, CmdAdjustThreshold, CmdReset:
		return nil
	}
	return fmt.Errorf("%q: %w", c.Kind, ErrInvalidCommand)
}

// Pause, Resume, Quit and friends build commands.
func Pause() Command      { return Command{Kind: CmdPause} }
func Resume() Command     { return Command{Kind: CmdResume} }
func Quit() Command       { return Command{Kind: CmdQuit} }
func Screenshot() Command { return Command{Kind: CmdScreenshot} }
func Reset() Command      { return Command{Kind: CmdReset} }

// SetThreshold builds a command changing the confidence threshold to v.
func SetThreshold(v float64) Command {
	return Command{Kind: CmdSetThreshold, Value: v}
}

// KeyCommand maps a key code from the preview window to a command.
func KeyCommand(key int) (Command, bool) {
	if key < 0 {
		return Command{}, false
	}

	switch key & 0xFF {
	case 'q', 'Q':
		return Quit(), true
	case 's', 'S':
		return Screenshot(), true
	case 'p', 'P':
		return Command{Kind: CmdTogglePause}, true
	case 'r', 'R':
		return Reset(), true
	case '+', '=':
		return Command{Kind: CmdAdjustThreshold, Value: ThresholdStep}, true
	case '-', '_':
		return Command{Kind: CmdAdjustThreshold, Value: -ThresholdStep}, true
	}
	return Command{}, false
}
