package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() Option {
	return WithRetry(RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
}

func TestClient_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, PathMemory, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"a","type":"text","content":"hello","confidence":0.91,"relevance":0.4,"times_seen":2},
			{"id":"b","type":"vision","content":"button","confidence":0.6,"relevance":0.75,"times_seen":1}
		]`))
	}))
	defer server.Close()

	c := New(server.URL)
	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "vision", items[1].Type)
	assert.Equal(t, 0.75, items[1].Relevance)
	assert.Equal(t, 2, items[0].TimesSeen)
}

func TestClient_ListRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(server.URL, fastRetry())
	items, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ListDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer server.Close()

	c := New(server.URL, fastRetry())
	_, err := c.List(context.Background())
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "nope", se.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_ListRejectsMalformedJSON(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"not":"a list"}`))
	}))
	defer server.Close()

	c := New(server.URL, fastRetry())
	_, err := c.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_UploadText(t *testing.T) {
	var body, contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathUploadText, r.URL.Path)
		contentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.UploadText(context.Background(), "olá & bem-vindo"))
	assert.Equal(t, "application/x-www-form-urlencoded", contentType)
	assert.Equal(t, "text=ol%C3%A1+%26+bem-vindo", body)
}

func TestClient_ExecuteIntent(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathExecuteIntent, r.URL.Path)
		require.NoError(t, r.ParseForm())
		got = r.PostForm.Get("text")
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.ExecuteIntent(context.Background(), "start streaming"))
	assert.Equal(t, "start streaming", got)
}

func TestClient_SendFeedback(t *testing.T) {
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathFeedback, r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.SendFeedback(context.Background(), "abc123", true))
	assert.Equal(t, "id=abc123&positive=true", body)

	require.NoError(t, c.SendFeedback(context.Background(), "abc123", false))
	assert.Equal(t, "id=abc123&positive=false", body)
}

func TestClient_UploadFile(t *testing.T) {
	var name, content string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathUploadFile, r.URL.Path)
		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		raw, _ := io.ReadAll(f)
		name = fh.Filename
		content = string(raw)
	}))
	defer server.Close()

	c := New(server.URL)
	require.NoError(t, c.UploadFile(context.Background(), "notes.txt", strings.NewReader("file body")))
	assert.Equal(t, "notes.txt", name)
	assert.Equal(t, "file body", content)
}

func TestClient_MutationsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, fastRetry())
	err := c.UploadText(context.Background(), "x")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, PathUploadText, se.Endpoint)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_BearerToken(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := New(server.URL, WithToken("s3cret"))
	_, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestNew_AddsScheme(t *testing.T) {
	c := New("localhost:5000/")
	assert.Equal(t, "http://localhost:5000", c.BaseURL)

	c = New("https://neai.example")
	assert.Equal(t, "https://neai.example", c.BaseURL)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	c := New(server.URL, WithTimeout(20*time.Millisecond))
	err := c.UploadText(context.Background(), "slow")
	require.Error(t, err)
}
