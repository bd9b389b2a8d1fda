package cli

import (
	"fmt"

	"github.com/felixgeelhaar/neai/internal/backend"
	"github.com/felixgeelhaar/neai/internal/config"
	"github.com/felixgeelhaar/neai/internal/console"
	"github.com/felixgeelhaar/neai/internal/credential"
	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/guard"
	"github.com/felixgeelhaar/neai/internal/observe"
	"github.com/felixgeelhaar/neai/internal/store"
	"github.com/felixgeelhaar/neai/internal/ui"
	"github.com/felixgeelhaar/neai/internal/viewer"
	"github.com/spf13/cobra"
)

// app holds everything one command invocation needs.
type app struct {
	cfg     *config.Config
	obs     *observe.Observer
	store   store.Storage
	bus     *events.Bus
	metrics *observe.Metrics
	client  *backend.Client
	viewer  *viewer.Viewer
	guard   *guard.Guard
	console *console.Console
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.Backend.URL = backendURL
	}
	return cfg, nil
}

func newObserver(cmd *cobra.Command) *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(cmd.ErrOrStderr(), verbose)
	}
	return observe.New(cmd.ErrOrStderr(), verbose)
}

func getStore(cfg *config.Config) (store.Storage, error) {
	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}
	return s, nil
}

// backendToken prefers a token from the config file or environment and
// falls back to the sealed token saved with `neai config set`.
func backendToken(cfg *config.Config, s store.Storage) (string, error) {
	if cfg.Backend.Token != "" {
		return cfg.Backend.Token, nil
	}
	stored, err := s.GetConfig("backend.token")
	if err != nil || stored == "" {
		return "", err
	}
	sealer, err := credential.NewSealer()
	if err != nil {
		return "", err
	}
	token, err := sealer.Open(stored)
	if err != nil {
		return "", fmt.Errorf("failed to read stored backend token: %w", err)
	}
	return token, nil
}

// newApp wires the client stack. One-shot commands print prompts and
// notices as lines on stderr; the dashboards replace the UI.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	obs := newObserver(cmd)

	s, err := getStore(cfg)
	if err != nil {
		return nil, err
	}
	token, err := backendToken(cfg, s)
	if err != nil {
		s.Close()
		return nil, err
	}

	bus := events.NewBus()
	metrics := observe.NewMetrics()
	metrics.Attach(bus)
	bus.SubscribeAll(store.JournalHandler(s, obs))

	client := backend.New(cfg.Backend.URL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithToken(token),
		backend.WithRetry(backend.RetryPolicy{
			MaxTries:        cfg.Backend.RetryMaxTries,
			InitialInterval: cfg.Backend.RetryInitial,
			MaxInterval:     cfg.Backend.RetryMax,
		}),
		backend.WithObserver(obs),
	)
	v := viewer.New(client, obs, bus)
	g := guard.New(cfg.Upload)
	c := console.New(client, v, g, obs, bus)
	c.SetUI(ui.Multi{v, ui.NewLineUI(cmd.ErrOrStderr())})

	obs.Log().Debug().Str("backend", client.BaseURL).Str("store", cfg.Store.Path).Msg("client ready")

	return &app{
		cfg:     cfg,
		obs:     obs,
		store:   s,
		bus:     bus,
		metrics: metrics,
		client:  client,
		viewer:  v,
		guard:   g,
		console: c,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.obs.Log().Warn().Err(err).Msg("failed to close store")
	}
}
