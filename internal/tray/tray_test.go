package tray

import (
	"errors"
	"testing"

	"github.com/ayusman/kitchensafe/internal/app"
	"github.com/ayusman/kitchensafe/internal/hazard"
)

type recorder struct {
	got []app.Command
	err error
}

func (r *recorder) Submit(cmd app.Command) error {
	r.got = append(r.got, cmd)
	return r.err
}

func TestTitle(t *testing.T) {
	tests := []struct {
		v    hazard.Verdict
		want string
	}{
		{hazard.Safe, "○ SAFE"},
		{hazard.Warning, "● WARNING"},
		{hazard.Danger, "⚠ DANGER"},
	}
	for _, tt := range tests {
		if got := Title(tt.v); got != tt.want {
			t.Errorf("Title(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}
	if got := StatusText(hazard.Danger); got != "Verdict: DANGER" {
		t.Errorf("StatusText = %q", got)
	}
}

func TestTray_Submit(t *testing.T) {
	rec := &recorder{}
	tr := New(rec)

	if !tr.submit(app.Screenshot()) {
		t.Error("submit() = false for an accepted command")
	}
	if len(rec.got) != 1 || rec.got[0] != app.Screenshot() {
		t.Errorf("submitted = %v, want [screenshot]", rec.got)
	}
}

func TestTray_RejectedCommand(t *testing.T) {
	rec := &recorder{err: app.ErrCommandQueueFull}
	tr := New(rec)

	var reported error
	tr.OnError(func(cmd app.Command, err error) { reported = err })

	if tr.submit(app.Pause()) {
		t.Error("submit() = true for a rejected command")
	}
	if !errors.Is(reported, app.ErrCommandQueueFull) {
		t.Errorf("reported = %v, want ErrCommandQueueFull", reported)
	}
}
