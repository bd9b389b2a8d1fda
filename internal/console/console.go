// Package console implements the user actions against the backend: text and
// file uploads, intents, canned commands and feedback.
//
// Every action validates its input first. Invalid input shows a prompt and
// never reaches the backend. A successful action is followed by exactly one
// memory refresh; a failed refresh does not fail the action.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/guard"
	"github.com/felixgeelhaar/neai/internal/observe"
	"github.com/felixgeelhaar/neai/internal/ui"
)

var (
	ErrEmptyText = errors.New("text is empty")
	ErrNoFile    = errors.New("no file selected")
	ErrEmptyID   = errors.New("memory item id is empty")
)

// Kind names a console action in events and the journal.
type Kind string

const (
	KindUploadText     Kind = "upload_text"
	KindUploadFile     Kind = "upload_file"
	KindExecuteIntent  Kind = "execute_intent"
	KindExecuteCommand Kind = "execute_command"
	KindFeedback       Kind = "feedback"
)

// Canned commands bound to dashboard keys and buttons.
const (
	CommandStartStreaming = "start streaming"
	CommandStopStreaming  = "stop streaming"
)

// Prompts shown when input is missing.
const (
	PromptEmptyText   = "Type something before sending"
	PromptNoFile      = "Select a file"
	PromptEmptyIntent = "Type something to execute"
	PromptEmptyID     = "Select a memory item first"
)

// Backend is the subset of the backend client the console drives.
type Backend interface {
	UploadText(ctx context.Context, text string) error
	UploadFile(ctx context.Context, name string, content io.Reader) error
	ExecuteIntent(ctx context.Context, text string) error
	SendFeedback(ctx context.Context, id string, positive bool) error
}

// Refresher reloads the memory view.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Console runs actions and reports their outcome.
type Console struct {
	backend   Backend
	refresher Refresher
	guard     *guard.Guard
	obs       *observe.Observer
	bus       *events.Bus
	ui        ui.UI
}

func New(b Backend, r Refresher, g *guard.Guard, o *observe.Observer, bus *events.Bus) *Console {
	if o == nil {
		o = observe.Discard()
	}
	if g == nil {
		g = guard.New(guard.DefaultPolicy)
	}
	return &Console{
		backend:   b,
		refresher: r,
		guard:     g,
		obs:       o,
		bus:       bus,
		ui:        ui.SilentUI{},
	}
}

func (c *Console) SetUI(u ui.UI) {
	if u != nil {
		c.ui = u
	}
}

// Every action first clears the previous notice, so a prompt or failure
// shown again after a retry is a new notice.

// UploadText submits free text for learning. A nil error means the input
// field can be cleared.
func (c *Console) UploadText(ctx context.Context, text string) error {
	c.ui.ClearNotice()
	if strings.TrimSpace(text) == "" {
		return c.reject(KindUploadText, "", ErrEmptyText, PromptEmptyText)
	}
	return c.run(ctx, KindUploadText, text, func(ctx context.Context) error {
		return c.backend.UploadText(ctx, text)
	})
}

// UploadFile submits the file at path for learning. An empty path means no
// file is selected.
func (c *Console) UploadFile(ctx context.Context, path string) error {
	c.ui.ClearNotice()
	if strings.TrimSpace(path) == "" {
		return c.reject(KindUploadFile, "", ErrNoFile, PromptNoFile)
	}
	name := filepath.Base(path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c.reject(KindUploadFile, name, fmt.Errorf("%w: %s", ErrNoFile, path), PromptNoFile)
		}
		return c.fail(KindUploadFile, name, fmt.Errorf("failed to stat %s: %w", path, err), 0)
	}
	if info.IsDir() {
		return c.reject(KindUploadFile, name, fmt.Errorf("%w: %s is a directory", ErrNoFile, path), PromptNoFile)
	}
	if v := c.guard.CheckFile(path, info.Size()); v != nil {
		return c.reject(KindUploadFile, name, v, v.Message)
	}

	return c.run(ctx, KindUploadFile, name, func(ctx context.Context) error {
		f, err := os.Open(path) // #nosec G304 -- path chosen by the user
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		return c.backend.UploadFile(ctx, name, f)
	})
}

// ExecuteIntent submits the text of the input field as an intent.
func (c *Console) ExecuteIntent(ctx context.Context, text string) error {
	c.ui.ClearNotice()
	if strings.TrimSpace(text) == "" {
		return c.reject(KindExecuteIntent, "", ErrEmptyText, PromptEmptyIntent)
	}
	return c.run(ctx, KindExecuteIntent, text, func(ctx context.Context) error {
		return c.backend.ExecuteIntent(ctx, text)
	})
}

// ExecuteCommand submits a canned command. On success the status label shows
// the command and the view is refreshed.
func (c *Console) ExecuteCommand(ctx context.Context, cmd string) error {
	c.ui.ClearNotice()
	if strings.TrimSpace(cmd) == "" {
		return c.reject(KindExecuteCommand, "", ErrEmptyText, PromptEmptyIntent)
	}
	return c.run(ctx, KindExecuteCommand, cmd, func(ctx context.Context) error {
		if err := c.backend.ExecuteIntent(ctx, cmd); err != nil {
			return err
		}
		c.ui.UpdateStatus("Last command: " + cmd)
		return nil
	})
}

// SendFeedback records a positive or negative judgment for a memory item.
func (c *Console) SendFeedback(ctx context.Context, id string, positive bool) error {
	c.ui.ClearNotice()
	if strings.TrimSpace(id) == "" {
		return c.reject(KindFeedback, "", ErrEmptyID, PromptEmptyID)
	}
	subject := id + " negative"
	if positive {
		subject = id + " positive"
	}
	return c.run(ctx, KindFeedback, subject, func(ctx context.Context) error {
		return c.backend.SendFeedback(ctx, id, positive)
	})
}

// Refresh reloads the view without a preceding action.
func (c *Console) Refresh(ctx context.Context) error {
	if c.refresher == nil {
		return nil
	}
	return c.refresher.Refresh(ctx)
}

func (c *Console) run(ctx context.Context, kind Kind, subject string, op func(context.Context) error) error {
	ctx, span := c.obs.StartSpan(ctx, "console."+string(kind))
	defer span.End()

	start := time.Now()
	if err := op(ctx); err != nil {
		span.RecordError(err)
		return c.fail(kind, subject, err, time.Since(start))
	}
	elapsed := time.Since(start)

	c.obs.Log().Info().Str("action", string(kind)).Str("subject", subject).Msg("action succeeded")
	c.bus.Publish(events.Event{
		Type:     events.ActionSucceeded,
		Action:   string(kind),
		Subject:  subject,
		Duration: elapsed,
	})

	if c.refresher != nil {
		if err := c.refresher.Refresh(ctx); err != nil {
			c.obs.Log().Warn().Str("action", string(kind)).Err(err).Msg("refresh after action failed")
		}
	}
	return nil
}

func (c *Console) reject(kind Kind, subject string, err error, prompt string) error {
	c.obs.Log().Info().Str("action", string(kind)).Err(err).Msg("action rejected")
	c.ui.Prompt(prompt)
	c.bus.Publish(events.Event{
		Type:    events.ActionRejected,
		Action:  string(kind),
		Subject: subject,
		Err:     err,
	})
	return err
}

func (c *Console) fail(kind Kind, subject string, err error, elapsed time.Duration) error {
	c.obs.Log().Error().Str("action", string(kind)).Str("subject", subject).Err(err).Msg("action failed")
	c.ui.Notify(fmt.Sprintf("%s failed: %v", Label(kind), err))
	c.bus.Publish(events.Event{
		Type:     events.ActionFailed,
		Action:   string(kind),
		Subject:  subject,
		Err:      err,
		Duration: elapsed,
	})
	return fmt.Errorf("%s: %w", kind, err)
}

// Label is the human name of an action kind.
func Label(kind Kind) string {
	switch kind {
	case KindUploadText:
		return "Text upload"
	case KindUploadFile:
		return "File upload"
	case KindExecuteIntent:
		return "Intent"
	case KindExecuteCommand:
		return "Command"
	case KindFeedback:
		return "Feedback"
	}
	return string(kind)
}
