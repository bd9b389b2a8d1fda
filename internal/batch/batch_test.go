package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/neai/internal/console"
)

// fakeActions records calls and fails those listed in fail.
type fakeActions struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeActions) record(call string) error {
	f.calls = append(f.calls, call)
	if f.fail[call] {
		return errors.New("backend down")
	}
	return nil
}

func (f *fakeActions) UploadText(ctx context.Context, text string) error {
	return f.record("text:" + text)
}

func (f *fakeActions) UploadFile(ctx context.Context, path string) error {
	return f.record("file:" + path)
}

func (f *fakeActions) ExecuteIntent(ctx context.Context, text string) error {
	return f.record("intent:" + text)
}

func (f *fakeActions) ExecuteCommand(ctx context.Context, cmd string) error {
	return f.record("command:" + cmd)
}

func (f *fakeActions) SendFeedback(ctx context.Context, id string, positive bool) error {
	return f.record(fmt.Sprintf("feedback:%s:%t", id, positive))
}

const sampleYAML = `name: teach the basics
steps:
  - text: the start button is green
  - file: shots/menu.png
  - intent: open the settings menu
  - command: start streaming
  - feedback: {id: abc123, positive: true}
`

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	yamlPath := filepath.Join(tmpDir, "batch.yaml")
	os.WriteFile(yamlPath, []byte(sampleYAML), 0600)

	jsonPath := filepath.Join(tmpDir, "batch.json")
	os.WriteFile(jsonPath, []byte(`{"name": "json", "steps": [{"intent": "stop streaming"}]}`), 0600)

	t.Run("YAML", func(t *testing.T) {
		b, err := Load(yamlPath)
		if err != nil {
			t.Fatalf("Failed to load YAML: %v", err)
		}
		if len(b.Steps) != 5 {
			t.Fatalf("Expected 5 steps, got %d", len(b.Steps))
		}
		if b.Steps[4].Feedback == nil || b.Steps[4].Feedback.ID != "abc123" || !b.Steps[4].Feedback.Positive {
			t.Errorf("Unexpected feedback step: %+v", b.Steps[4].Feedback)
		}
		if got := b.Resolve("shots/menu.png"); got != filepath.Join(tmpDir, "shots", "menu.png") {
			t.Errorf("Relative path not resolved against batch dir: %s", got)
		}
		if got := b.Resolve("/abs/a.png"); got != "/abs/a.png" {
			t.Errorf("Absolute path changed: %s", got)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		b, err := Load(jsonPath)
		if err != nil {
			t.Fatalf("Failed to load JSON: %v", err)
		}
		if b.Steps[0].Kind() != console.KindExecuteIntent {
			t.Errorf("Expected intent step, got %q", b.Steps[0].Kind())
		}
	})

	t.Run("Invalid Extension", func(t *testing.T) {
		path := filepath.Join(tmpDir, "batch.txt")
		os.WriteFile(path, []byte("steps: []"), 0600)
		if _, err := Load(path); err == nil {
			t.Error("Expected error for .txt extension")
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := Load(filepath.Join(tmpDir, "nope.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		b := &Batch{Name: "ok", Steps: []Step{{Text: "hi"}, {Command: console.CommandStopStreaming}}}
		res := b.Validate()
		if !res.Valid {
			t.Errorf("Expected valid, got errors: %v", res.Errors)
		}
		if len(res.Warnings) != 0 {
			t.Errorf("Expected no warnings, got %v", res.Warnings)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if res := (&Batch{}).Validate(); res.Valid {
			t.Error("Expected invalid for empty batch")
		}
	})

	t.Run("Two Actions In One Step", func(t *testing.T) {
		res := (&Batch{Steps: []Step{{Text: "a", Intent: "b"}}}).Validate()
		if res.Valid || len(res.Errors) != 1 {
			t.Errorf("Expected one error, got %v", res.Errors)
		}
	})

	t.Run("No Action", func(t *testing.T) {
		if res := (&Batch{Steps: []Step{{}}}).Validate(); res.Valid {
			t.Error("Expected invalid for empty step")
		}
	})

	t.Run("Feedback Without ID", func(t *testing.T) {
		if res := (&Batch{Steps: []Step{{Feedback: &Feedback{}}}}).Validate(); res.Valid {
			t.Error("Expected invalid for feedback without id")
		}
	})

	t.Run("Warnings", func(t *testing.T) {
		res := (&Batch{Steps: []Step{{Command: "dance"}, {File: "/does/not/exist.png"}}}).Validate()
		if !res.Valid {
			t.Errorf("Warnings must not invalidate: %v", res.Errors)
		}
		// unknown command, missing file, no name
		if len(res.Warnings) != 3 {
			t.Errorf("Expected 3 warnings, got %v", res.Warnings)
		}
	})
}

func TestRun(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "batch.yaml")
	os.WriteFile(path, []byte(sampleYAML), 0600)
	b, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("All Steps In Order", func(t *testing.T) {
		a := &fakeActions{}
		results, err := Run(context.Background(), b, a, nil)
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := []string{
			"text:the start button is green",
			"file:" + filepath.Join(tmpDir, "shots", "menu.png"),
			"intent:open the settings menu",
			"command:start streaming",
			"feedback:abc123:true",
		}
		if fmt.Sprint(a.calls) != fmt.Sprint(want) {
			t.Errorf("calls = %v, want %v", a.calls, want)
		}
		if len(results) != 5 || results[4].Kind != console.KindFeedback {
			t.Errorf("Unexpected results: %+v", results)
		}
	})

	t.Run("Stops On First Failure", func(t *testing.T) {
		a := &fakeActions{fail: map[string]bool{"intent:open the settings menu": true}}
		results, err := Run(context.Background(), b, a, nil)
		if err == nil {
			t.Fatal("Expected error")
		}
		if len(a.calls) != 3 || len(results) != 3 {
			t.Errorf("Expected to stop after step 3, calls = %v", a.calls)
		}
	})

	t.Run("Continue On Error", func(t *testing.T) {
		cont := *b
		cont.ContinueOnError = true
		a := &fakeActions{fail: map[string]bool{"text:the start button is green": true}}
		results, err := Run(context.Background(), &cont, a, nil)
		if err == nil {
			t.Fatal("Expected summary error")
		}
		if len(a.calls) != 5 {
			t.Errorf("Expected all 5 steps to run, got %d", len(a.calls))
		}
		if results[0].Err == nil || results[1].Err != nil {
			t.Errorf("Unexpected per-step errors: %+v", results)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		a := &fakeActions{}
		if _, err := Run(ctx, b, a, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		if len(a.calls) != 0 {
			t.Errorf("Expected no calls, got %v", a.calls)
		}
	})

	t.Run("Invalid Batch Not Run", func(t *testing.T) {
		a := &fakeActions{}
		if _, err := Run(context.Background(), &Batch{Steps: []Step{{}}}, a, nil); err == nil {
			t.Error("Expected validation error")
		}
		if len(a.calls) != 0 {
			t.Errorf("Expected no calls, got %v", a.calls)
		}
	})
}
