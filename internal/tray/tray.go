// Package tray provides a system tray menu for controlling the monitor.
package tray

import (
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/kitchensafe/internal/app"
	"github.com/ayusman/kitchensafe/internal/hazard"
)

// Commander accepts commands from the menu.
type Commander interface {
	Submit(cmd app.Command) error
}

// Tray represents the system tray application.
type Tray struct {
	ctrl    Commander
	onError func(cmd app.Command, err error)
	verdict hazard.Verdict
	mu      sync.RWMutex

	// Menu items stored for later updates
	menuPause   *systray.MenuItem
	menuVerdict *systray.MenuItem
	ready       chan struct{}
}

// New creates a Tray that submits menu commands to ctrl.
func New(ctrl Commander) *Tray {
	return &Tray{
		ctrl:  ctrl,
		ready: make(chan struct{}),
	}
}

// OnError sets the callback invoked when a submitted command is rejected.
func (t *Tray) OnError(fn func(cmd app.Command, err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called or the quit item is clicked.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit removes the tray icon and makes Run return. It waits until the menu
// has been set up.
func (t *Tray) Quit() {
	<-t.ready
	systray.Quit()
}

// Follow updates the menu from verdict transitions until events is closed.
func (t *Tray) Follow(events <-chan hazard.Transition) {
	<-t.ready
	for tr := range events {
		t.SetVerdict(tr.To)
	}
}

func (t *Tray) onReady() {
	systray.SetTitle(Title(hazard.Safe))
	systray.SetTooltip("Kitchen safety monitor")

	t.menuVerdict = systray.AddMenuItem(StatusText(hazard.Safe), "Current hazard verdict")
	t.menuVerdict.Disable()
	systray.AddSeparator()

	t.menuPause = systray.AddMenuItem("Pause / resume", "Pause or resume monitoring")
	menuScreenshot := systray.AddMenuItem("Save screenshot", "Save the current annotated frame")
	menuReset := systray.AddMenuItem("Reset verdict", "Return the hazard state to SAFE")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Stop the monitor")

	close(t.ready)

	go func() {
		for {
			select {
			case <-t.menuPause.ClickedCh:
				t.submit(app.Command{Kind: app.CmdTogglePause})
			case <-menuScreenshot.ClickedCh:
				t.submit(app.Screenshot())
			case <-menuReset.ClickedCh:
				t.submit(app.Reset())
			case <-menuQuit.ClickedCh:
				t.submit(app.Quit())
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

func (t *Tray) submit(cmd app.Command) bool {
	err := t.ctrl.Submit(cmd)
	if err == nil {
		return true
	}

	t.mu.RLock()
	callback := t.onError
	t.mu.RUnlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(cmd, err)
	}
	return false
}

// SetVerdict updates the title and the status item.
func (t *Tray) SetVerdict(v hazard.Verdict) {
	t.mu.Lock()
	t.verdict = v
	t.mu.Unlock()

	systray.SetTitle(Title(v))
	if t.menuVerdict != nil {
		t.menuVerdict.SetTitle(StatusText(v))
	}
}

// Verdict returns the last verdict shown.
func (t *Tray) Verdict() hazard.Verdict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.verdict
}

// Title is the tray title for a verdict.
func Title(v hazard.Verdict) string {
	switch v {
	case hazard.Danger:
		return "⚠ DANGER"
	case hazard.Warning:
		return "● WARNING"
	default:
		return "○ SAFE"
	}
}

// StatusText is the label of the disabled status item.
func StatusText(v hazard.Verdict) string {
	return "Verdict: " + v.String()
}
