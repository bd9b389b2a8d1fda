// Package batch runs a file of console actions in order.
//
// A batch file is YAML or JSON:
//
//	name: teach the basics
//	continue_on_error: true
//	steps:
//	  - text: the start button is green
//	  - file: screenshots/menu.png
//	  - intent: open the settings menu
//	  - command: start streaming
//	  - feedback: {id: abc123, positive: true}
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/felixgeelhaar/neai/internal/console"
	"github.com/felixgeelhaar/neai/internal/observe"
	"gopkg.in/yaml.v3"
)

// Feedback is a judgment on one memory item.
type Feedback struct {
	ID       string `json:"id" yaml:"id"`
	Positive bool   `json:"positive" yaml:"positive"`
}

// Step holds exactly one action.
type Step struct {
	Text     string    `json:"text,omitempty" yaml:"text,omitempty"`
	File     string    `json:"file,omitempty" yaml:"file,omitempty"`
	Intent   string    `json:"intent,omitempty" yaml:"intent,omitempty"`
	Command  string    `json:"command,omitempty" yaml:"command,omitempty"`
	Feedback *Feedback `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// Kind returns the console action of the step, or "" when the step sets
// no action or more than one.
func (s Step) Kind() console.Kind {
	var kinds []console.Kind
	if s.Text != "" {
		kinds = append(kinds, console.KindUploadText)
	}
	if s.File != "" {
		kinds = append(kinds, console.KindUploadFile)
	}
	if s.Intent != "" {
		kinds = append(kinds, console.KindExecuteIntent)
	}
	if s.Command != "" {
		kinds = append(kinds, console.KindExecuteCommand)
	}
	if s.Feedback != nil {
		kinds = append(kinds, console.KindFeedback)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Batch is a named list of steps.
type Batch struct {
	Name            string `json:"name" yaml:"name"`
	ContinueOnError bool   `json:"continue_on_error" yaml:"continue_on_error"`
	Steps           []Step `json:"steps" yaml:"steps"`

	// dir resolves relative file paths.
	dir string
}

// ValidationResult represents the outcome of a linting pass.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Load reads a batch from a file (JSON or YAML). Relative file paths in the
// batch are resolved against the batch file's directory.
func Load(path string) (*Batch, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}

	var b Batch
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON batch: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML batch: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported batch format: %s (use .json or .yaml)", ext)
	}

	b.dir = filepath.Dir(path)
	return &b, nil
}

// Resolve returns the path a file step refers to.
func (b *Batch) Resolve(file string) string {
	if file == "" || filepath.IsAbs(file) || b.dir == "" {
		return file
	}
	return filepath.Join(b.dir, file)
}

// Validate checks that every step names exactly one action.
func (b *Batch) Validate() ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if len(b.Steps) == 0 {
		res.Valid = false
		res.Errors = append(res.Errors, "Batch has no steps")
	}

	for i, s := range b.Steps {
		n := i + 1
		switch s.Kind() {
		case "":
			res.Valid = false
			res.Errors = append(res.Errors, fmt.Sprintf("Step %d must set exactly one of text, file, intent, command, feedback", n))
		case console.KindFeedback:
			if strings.TrimSpace(s.Feedback.ID) == "" {
				res.Valid = false
				res.Errors = append(res.Errors, fmt.Sprintf("Step %d: feedback id is required", n))
			}
		case console.KindUploadFile:
			if _, err := os.Stat(b.Resolve(s.File)); err != nil {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Step %d: file %s is not readable now", n, s.File))
			}
		case console.KindExecuteCommand:
			if s.Command != console.CommandStartStreaming && s.Command != console.CommandStopStreaming {
				res.Warnings = append(res.Warnings, fmt.Sprintf("Step %d: %q is not a canned command", n, s.Command))
			}
		}
	}

	if b.Name == "" {
		res.Warnings = append(res.Warnings, "Batch has no name")
	}
	return res
}

// Actions is what a batch drives; *console.Console implements it.
type Actions interface {
	UploadText(ctx context.Context, text string) error
	UploadFile(ctx context.Context, path string) error
	ExecuteIntent(ctx context.Context, text string) error
	ExecuteCommand(ctx context.Context, cmd string) error
	SendFeedback(ctx context.Context, id string, positive bool) error
}

// Result is the outcome of one step.
type Result struct {
	Step int
	Kind console.Kind
	Err  error
}

// Run executes the steps in order. It stops at the first failure unless
// the batch sets continue_on_error. Invalid batches are not run.
func Run(ctx context.Context, b *Batch, a Actions, obs *observe.Observer) ([]Result, error) {
	if obs == nil {
		obs = observe.Discard()
	}
	if res := b.Validate(); !res.Valid {
		return nil, fmt.Errorf("invalid batch: %s", strings.Join(res.Errors, "; "))
	}

	ctx, span := obs.StartSpan(ctx, "batch.Run")
	defer span.End()

	var (
		results []Result
		failed  int
	)
	for i, s := range b.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		err := runStep(ctx, b, s, a)
		results = append(results, Result{Step: i + 1, Kind: s.Kind(), Err: err})
		if err == nil {
			obs.Log().Info().Int("step", i+1).Str("kind", string(s.Kind())).Msg("batch step done")
			continue
		}

		failed++
		obs.Log().Warn().Int("step", i+1).Str("kind", string(s.Kind())).Err(err).Msg("batch step failed")
		if !b.ContinueOnError {
			return results, fmt.Errorf("step %d (%s): %w", i+1, s.Kind(), err)
		}
	}

	if failed > 0 {
		return results, fmt.Errorf("%d of %d steps failed", failed, len(b.Steps))
	}
	return results, nil
}

func runStep(ctx context.Context, b *Batch, s Step, a Actions) error {
	switch s.Kind() {
	case console.KindUploadText:
		return a.UploadText(ctx, s.Text)
	case console.KindUploadFile:
		return a.UploadFile(ctx, b.Resolve(s.File))
	case console.KindExecuteIntent:
		return a.ExecuteIntent(ctx, s.Intent)
	case console.KindExecuteCommand:
		return a.ExecuteCommand(ctx, s.Command)
	case console.KindFeedback:
		return a.SendFeedback(ctx, s.Feedback.ID, s.Feedback.Positive)
	}
	return fmt.Errorf("step has no single action")
}
