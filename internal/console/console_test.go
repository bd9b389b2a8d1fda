package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/felixgeelhaar/neai/internal/backend"
	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/guard"
	"github.com/felixgeelhaar/neai/internal/memory"
	"github.com/felixgeelhaar/neai/internal/viewer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend records every request it receives.
type fakeBackend struct {
	mu       sync.Mutex
	requests []recorded
	items    []memory.Item
	// failPath makes that endpoint answer 500.
	failPath string
}

type recorded struct {
	Method      string
	Path        string
	ContentType string
	Body        string
	FileName    string
	FileContent string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{Method: r.Method, Path: r.URL.Path, ContentType: r.Header.Get("Content-Type")}
	if r.URL.Path == backend.PathUploadFile {
		if file, hdr, err := r.FormFile("file"); err == nil {
			data, _ := io.ReadAll(file)
			rec.FileName = hdr.Filename
			rec.FileContent = string(data)
			file.Close()
		}
	} else {
		data, _ := io.ReadAll(r.Body)
		rec.Body = string(data)
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	items := f.items
	fail := f.failPath == r.URL.Path
	f.mu.Unlock()

	if fail {
		http.Error(w, "backend exploded", http.StatusInternalServerError)
		return
	}
	if r.URL.Path == backend.PathMemory {
		_ = json.NewEncoder(w).Encode(items)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakeBackend) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeBackend) posts() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []recorded
	for _, r := range f.requests {
		if r.Method == http.MethodPost {
			out = append(out, r)
		}
	}
	return out
}

// recordingUI captures console feedback.
type recordingUI struct {
	statuses, prompts, notices []string
	clears                     int
}

func (u *recordingUI) UpdateStatus(s string) { u.statuses = append(u.statuses, s) }
func (u *recordingUI) Prompt(s string)       { u.prompts = append(u.prompts, s) }
func (u *recordingUI) Notify(s string)       { u.notices = append(u.notices, s) }
func (u *recordingUI) ClearNotice()          { u.clears++ }

type harness struct {
	fake    *fakeBackend
	console *Console
	viewer  *viewer.Viewer
	ui      *recordingUI
	events  []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		fake: &fakeBackend{items: []memory.Item{
			{ID: "abc123", Type: "text", Content: "hello", Confidence: 0.9, Relevance: 0.4, TimesSeen: 2},
		}},
		ui: &recordingUI{},
	}
	srv := httptest.NewServer(h.fake)
	t.Cleanup(srv.Close)

	client := backend.New(srv.URL, backend.WithRetry(backend.RetryPolicy{MaxTries: 1}))
	bus := events.NewBus()
	bus.SubscribeAll(func(e events.Event) { h.events = append(h.events, e) })

	h.viewer = viewer.New(client, nil, bus)
	h.console = New(client, h.viewer, guard.New(guard.DefaultPolicy), nil, bus)
	h.console.SetUI(h.ui)
	return h
}

func (h *harness) eventTypes() []events.Type {
	var out []events.Type
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}

func TestUploadText_EmptyIsRejectedWithoutRequest(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t"} {
		h := newHarness(t)

		err := h.console.UploadText(context.Background(), text)
		require.ErrorIs(t, err, ErrEmptyText)

		assert.Empty(t, h.fake.requests, "no request expected for %q", text)
		assert.Equal(t, []string{PromptEmptyText}, h.ui.prompts)
		assert.Equal(t, []events.Type{events.ActionRejected}, h.eventTypes())
	}
}

func TestUploadText_SinglePostThenRefresh(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.console.UploadText(context.Background(), "olá & bem-vindo"))

	posts := h.fake.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, backend.PathUploadText, posts[0].Path)
	assert.Equal(t, "application/x-www-form-urlencoded", posts[0].ContentType)
	assert.Equal(t, "text=ol%C3%A1+%26+bem-vindo", posts[0].Body)

	assert.Equal(t, 1, h.fake.count(http.MethodGet, backend.PathMemory))
	assert.Equal(t, 1, h.viewer.State().Snapshot.Len())
	assert.Equal(t, []events.Type{events.ActionSucceeded, events.MemoryRefreshed}, h.eventTypes())
}

func TestSendFeedback_ExactBodyAndOneRefresh(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.console.SendFeedback(context.Background(), "abc123", true))

	posts := h.fake.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, backend.PathFeedback, posts[0].Path)
	assert.Equal(t, "id=abc123&positive=true", posts[0].Body)
	assert.Equal(t, 1, h.fake.count(http.MethodGet, backend.PathMemory))
}

func TestSendFeedback_Negative(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.console.SendFeedback(context.Background(), "abc123", false))
	require.Len(t, h.fake.posts(), 1)
	assert.Equal(t, "id=abc123&positive=false", h.fake.posts()[0].Body)
	assert.Equal(t, "abc123 negative", h.events[0].Subject)
}

func TestSendFeedback_EmptyIDRejected(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.console.SendFeedback(context.Background(), "", true), ErrEmptyID)
	assert.Empty(t, h.fake.requests)
	assert.Equal(t, []string{PromptEmptyID}, h.ui.prompts)
}

func TestUploadFile_NoFileSelected(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.console.UploadFile(context.Background(), ""), ErrNoFile)
	require.ErrorIs(t, h.console.UploadFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt")), ErrNoFile)
	require.ErrorIs(t, h.console.UploadFile(context.Background(), t.TempDir()), ErrNoFile)

	assert.Empty(t, h.fake.requests)
	assert.Equal(t, []string{PromptNoFile, PromptNoFile, PromptNoFile}, h.ui.prompts)
}

func TestUploadFile_Multipart(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("remember this"), 0o600))

	require.NoError(t, h.console.UploadFile(context.Background(), path))

	posts := h.fake.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, backend.PathUploadFile, posts[0].Path)
	assert.Contains(t, posts[0].ContentType, "multipart/form-data")
	assert.Equal(t, "notes.txt", posts[0].FileName)
	assert.Equal(t, "remember this", posts[0].FileContent)
	assert.Equal(t, 1, h.fake.count(http.MethodGet, backend.PathMemory))
}

func TestUploadFile_GuardRejects(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "tool.exe")
	require.NoError(t, os.WriteFile(path, []byte("MZ"), 0o600))

	err := h.console.UploadFile(context.Background(), path)
	var v *guard.Violation
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "allowed_file_globs", v.Rule)
	assert.Empty(t, h.fake.requests)
	assert.Equal(t, []string{v.Message}, h.ui.prompts)
}

func TestExecuteIntent(t *testing.T) {
	h := newHarness(t)

	require.ErrorIs(t, h.console.ExecuteIntent(context.Background(), " "), ErrEmptyText)
	assert.Equal(t, []string{PromptEmptyIntent}, h.ui.prompts)
	assert.Empty(t, h.fake.requests)

	require.NoError(t, h.console.ExecuteIntent(context.Background(), "open the menu"))
	posts := h.fake.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, backend.PathExecuteIntent, posts[0].Path)
	assert.Equal(t, "text=open+the+menu", posts[0].Body)
	assert.Equal(t, 1, h.fake.count(http.MethodGet, backend.PathMemory))
	assert.Empty(t, h.ui.statuses)
}

func TestExecuteCommand_SetsStatusAndRefreshes(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.console.ExecuteCommand(context.Background(), CommandStopStreaming))

	posts := h.fake.posts()
	require.Len(t, posts, 1)
	assert.Equal(t, backend.PathExecuteIntent, posts[0].Path)
	assert.Equal(t, "text=stop+streaming", posts[0].Body)
	assert.Equal(t, []string{"Last command: stop streaming"}, h.ui.statuses)
	assert.Equal(t, 1, h.fake.count(http.MethodGet, backend.PathMemory))
}

func TestAction_FailureNotifiesAndSkipsRefresh(t *testing.T) {
	h := newHarness(t)
	h.fake.failPath = backend.PathUploadText

	err := h.console.UploadText(context.Background(), "hello")
	require.Error(t, err)

	var se *backend.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)

	require.Len(t, h.ui.notices, 1)
	assert.Contains(t, h.ui.notices[0], "Text upload failed")
	assert.Zero(t, h.fake.count(http.MethodGet, backend.PathMemory))
	assert.Equal(t, []events.Type{events.ActionFailed}, h.eventTypes())
}

func TestCommand_FailureKeepsStatus(t *testing.T) {
	h := newHarness(t)
	h.fake.failPath = backend.PathExecuteIntent

	require.Error(t, h.console.ExecuteCommand(context.Background(), CommandStartStreaming))
	assert.Empty(t, h.ui.statuses)
}

func TestAction_RefreshFailureDoesNotFailAction(t *testing.T) {
	h := newHarness(t)
	h.fake.failPath = backend.PathMemory

	require.NoError(t, h.console.SendFeedback(context.Background(), "abc123", true))
	assert.Error(t, h.viewer.State().Err)
	assert.Equal(t, []events.Type{events.ActionSucceeded, events.RefreshFailed}, h.eventTypes())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "Feedback", Label(KindFeedback))
	assert.Equal(t, "other", Label(Kind("other")))
}

func TestNew_Defaults(t *testing.T) {
	c := New(nil, nil, nil, nil, nil)
	assert.NoError(t, c.Refresh(context.Background()))
	assert.True(t, errors.Is(c.UploadText(context.Background(), ""), ErrEmptyText))
}

func TestAction_ClearsPreviousNotice(t *testing.T) {
	h := newHarness(t)
	h.console.SetUI(h.viewer)

	h.fake.failPath = backend.PathUploadText
	require.Error(t, h.console.UploadText(context.Background(), "hello"))
	assert.Contains(t, h.viewer.State().Notice, "Text upload failed")

	h.fake.mu.Lock()
	h.fake.failPath = ""
	h.fake.mu.Unlock()
	require.NoError(t, h.console.UploadText(context.Background(), "hello"))
	assert.Empty(t, h.viewer.State().Notice)
}

func TestAction_RepeatedPromptIsANewNotice(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 2; i++ {
		require.ErrorIs(t, h.console.UploadText(context.Background(), ""), ErrEmptyText)
	}
	assert.Equal(t, 2, h.ui.clears)
	assert.Equal(t, []string{PromptEmptyText, PromptEmptyText}, h.ui.prompts)
}
