package ui

import (
	"fmt"
	"io"
	"sync"
)

// UI receives user-facing feedback from console operations.
type UI interface {
	// UpdateStatus sets the persistent status label.
	UpdateStatus(status string)
	// Prompt asks the user to fix their input before retrying.
	Prompt(msg string)
	// Notify shows a transient, non-blocking notice such as a failure.
	Notify(msg string)
	// ClearNotice removes the current prompt or notice.
	ClearNotice()
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Prompt(msg string)          {}
func (s SilentUI) Notify(msg string)          {}
func (s SilentUI) ClearNotice()               {}

// LineUI prints every message as a line, for one-shot commands.
type LineUI struct {
	mu sync.Mutex
	w  io.Writer
}

func NewLineUI(w io.Writer) *LineUI {
	return &LineUI{w: w}
}

func (l *LineUI) UpdateStatus(status string) { l.line("status", status) }
func (l *LineUI) Prompt(msg string)          { l.line("prompt", msg) }
func (l *LineUI) Notify(msg string)          { l.line("notice", msg) }

// ClearNotice does nothing; printed lines stay printed.
func (l *LineUI) ClearNotice() {}

func (l *LineUI) line(kind, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s: %s\n", kind, msg)
}

// Multi fans out to several UIs.
type Multi []UI

func (m Multi) UpdateStatus(status string) {
	for _, u := range m {
		u.UpdateStatus(status)
	}
}

func (m Multi) Prompt(msg string) {
	for _, u := range m {
		u.Prompt(msg)
	}
}

func (m Multi) Notify(msg string) {
	for _, u := range m {
		u.Notify(msg)
	}
}

func (m Multi) ClearNotice() {
	for _, u := range m {
		u.ClearNotice()
	}
}
