// Package web serves the local HTML dashboard.
//
// The page renders the current view state server-side. Every button is a
// plain form post that runs the matching console action and redirects back
// to the page, so the browser never talks to the backend directly.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/neai/internal/console"
	"github.com/felixgeelhaar/neai/internal/memory"
	"github.com/felixgeelhaar/neai/internal/observe"
	"github.com/felixgeelhaar/neai/internal/viewer"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Actions is what the dashboard triggers; *console.Console implements it.
type Actions interface {
	UploadText(ctx context.Context, text string) error
	UploadFile(ctx context.Context, path string) error
	ExecuteIntent(ctx context.Context, text string) error
	ExecuteCommand(ctx context.Context, cmd string) error
	SendFeedback(ctx context.Context, id string, positive bool) error
	Refresh(ctx context.Context) error
}

// StateSource provides the view state to render.
type StateSource interface {
	State() viewer.State
}

// Config holds web server configuration.
type Config struct {
	Addr string
	// MaxUploadBytes bounds request bodies; 0 means 64MB.
	MaxUploadBytes int64
	// RefreshInterval is how often the page reloads the memory list; 0 means 3s.
	RefreshInterval time.Duration
}

// Server provides the dashboard endpoints.
type Server struct {
	echo    *echo.Echo
	actions Actions
	views   StateSource
	metrics *observe.Metrics
	obs     *observe.Observer
	config  Config
}

// NewServer creates a dashboard server. metrics may be nil.
func NewServer(actions Actions, views StateSource, metrics *observe.Metrics, obs *observe.Observer, cfg Config) *Server {
	if obs == nil {
		obs = observe.Discard()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 64 << 20
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 3 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	// Room for multipart framing on top of the file itself.
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dK", cfg.MaxUploadBytes/1024+1024)))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			obs.Log().Debug().
				Str("method", c.Request().Method).
				Str("uri", c.Request().RequestURI).
				Int("status", c.Response().Status).
				Str("duration", time.Since(start).String()).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Msg("http request")
			return err
		}
	})

	s := &Server{
		echo:    e,
		actions: actions,
		views:   views,
		metrics: metrics,
		obs:     obs,
		config:  cfg,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleIndex)
	s.echo.GET("/memory.html", s.handleLive)
	s.echo.GET("/memory.json", s.handleMemoryJSON)
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.echo.POST("/upload_text", s.handleUploadText)
	s.echo.POST("/upload_file", s.handleUploadFile)
	s.echo.POST("/execute_intent", s.handleExecuteIntent)
	s.echo.POST("/command", s.handleCommand)
	s.echo.POST("/feedback", s.handleFeedback)
	s.echo.POST("/refresh", s.handleRefresh)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// The live block is rendered inside the page and served alone on
// /memory.html; the page swaps it in place so the form inputs keep their
// contents between refreshes.
var pageTemplate = template.Must(template.New("page").Parse(`{{define "live"}}<div id="live">
<p id="status">{{.Status}}</p>
{{- if .Stale}}
<p class="stale">View may be stale: {{.Stale}}</p>
{{- end}}
{{- if .Notice}}
<p class="notice">{{.Notice}}</p>
{{- end}}
{{.Memory}}
</div>{{end}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>NE-AI Memory</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.memory-item { border: 1px solid #ccc; padding: .5em; margin: .5em 0; }
.notice { color: #b00; }
.stale { color: #a60; }
form.feedback { display: inline; }
</style>
</head>
<body>
<h1>NE-AI Memory</h1>
<form method="post" action="/upload_text"><input type="text" name="text" id="text_input"><button>Send text</button></form>
<form method="post" action="/execute_intent"><input type="text" name="text"><button>Execute</button></form>
<form method="post" action="/upload_file" enctype="multipart/form-data"><input type="file" name="file"><button>Upload file</button></form>
<form method="post" action="/command"><input type="hidden" name="command" value="start streaming"><button>Start streaming</button></form>
<form method="post" action="/command"><input type="hidden" name="command" value="stop streaming"><button>Stop streaming</button></form>
<form method="post" action="/refresh"><button>Refresh</button></form>
{{template "live" .}}
<script>
setInterval(function () {
  fetch("/memory.html").then(function (r) { return r.ok ? r.text() : null; }).then(function (html) {
    if (html) { document.getElementById("live").outerHTML = html; }
  }).catch(function () {});
}, {{.RefreshMillis}});
</script>
</body>
</html>
`))

type pageData struct {
	Status        string
	Stale         string
	Notice        string
	Memory        template.HTML
	RefreshMillis int64
}

func (s *Server) pageData() (pageData, error) {
	st := s.views.State()

	var frag bytes.Buffer
	if err := viewer.RenderHTML(&frag, st); err != nil {
		return pageData{}, err
	}
	data := pageData{
		Status: st.Status,
		Notice: st.Notice,
		// RenderHTML escapes every field.
		Memory:        template.HTML(frag.String()), // #nosec G203
		RefreshMillis: s.config.RefreshInterval.Milliseconds(),
	}
	if st.Err != nil {
		data.Stale = st.Err.Error()
	}
	return data, nil
}

func (s *Server) render(c echo.Context, name string) error {
	data, err := s.pageData()
	if err != nil {
		s.obs.Log().Error().Err(err).Msg("failed to render memory list")
		return echo.NewHTTPError(http.StatusInternalServerError, "render failed")
	}
	var out bytes.Buffer
	if err := pageTemplate.ExecuteTemplate(&out, name, data); err != nil {
		s.obs.Log().Error().Err(err).Str("template", name).Msg("failed to render page")
		return echo.NewHTTPError(http.StatusInternalServerError, "render failed")
	}
	return c.HTMLBlob(http.StatusOK, out.Bytes())
}

func (s *Server) handleIndex(c echo.Context) error {
	return s.render(c, "page")
}

// handleLive serves the status, notice and memory list block alone.
func (s *Server) handleLive(c echo.Context) error {
	return s.render(c, "live")
}

// MemoryResponse is the body of GET /memory.json.
type MemoryResponse struct {
	Seq       uint64        `json:"seq"`
	FetchedAt time.Time     `json:"fetched_at"`
	Status    string        `json:"status,omitempty"`
	Error     string        `json:"error,omitempty"`
	Items     []memory.Item `json:"items"`
}

func (s *Server) handleMemoryJSON(c echo.Context) error {
	st := s.views.State()
	resp := MemoryResponse{
		Seq:       st.Snapshot.Seq,
		FetchedAt: st.Snapshot.FetchedAt,
		Status:    st.Status,
		Items:     st.Snapshot.Items,
	}
	if resp.Items == nil {
		resp.Items = []memory.Item{}
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Action handlers redirect back to the page whatever the outcome; the
// console has already put any prompt or failure notice on the view state.

func (s *Server) handleUploadText(c echo.Context) error {
	_ = s.actions.UploadText(c.Request().Context(), c.FormValue("text"))
	return s.back(c)
}

func (s *Server) handleExecuteIntent(c echo.Context) error {
	_ = s.actions.ExecuteIntent(c.Request().Context(), c.FormValue("text"))
	return s.back(c)
}

func (s *Server) handleCommand(c echo.Context) error {
	_ = s.actions.ExecuteCommand(c.Request().Context(), c.FormValue("command"))
	return s.back(c)
}

func (s *Server) handleRefresh(c echo.Context) error {
	_ = s.actions.Refresh(c.Request().Context())
	return s.back(c)
}

func (s *Server) handleFeedback(c echo.Context) error {
	positive, err := strconv.ParseBool(c.FormValue("positive"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "positive must be true or false")
	}
	_ = s.actions.SendFeedback(c.Request().Context(), c.FormValue("id"), positive)
	return s.back(c)
}

// handleUploadFile stores the browser upload in a temporary directory under
// its original base name and hands it to the console.
func (s *Server) handleUploadFile(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			s.obs.Log().Warn().Err(err).Msg("failed to read upload form")
		}
		_ = s.actions.UploadFile(ctx, "")
		return s.back(c)
	}

	dir, err := os.MkdirTemp("", "neai-upload-*")
	if err != nil {
		return fmt.Errorf("failed to create upload dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, safeName(fh.Filename))
	if err := saveUpload(fh, path); err != nil {
		return err
	}

	_ = s.actions.UploadFile(ctx, path)
	return s.back(c)
}

func saveUpload(fh *multipart.FileHeader, path string) error {
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600) // #nosec G304 -- inside our temp dir
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return dst.Close()
}

// safeName keeps only the base name of a browser-supplied file name.
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	return name
}

func (s *Server) back(c echo.Context) error {
	return c.Redirect(http.StatusSeeOther, "/")
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.obs.Log().Info().Str("addr", s.config.Addr).Msg("starting web dashboard")
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.obs.Log().Info().Msg("shutting down web dashboard")
	return s.echo.Shutdown(ctx)
}

var _ Actions = (*console.Console)(nil)
