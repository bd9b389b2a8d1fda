package cli

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/neai/internal/scheduler"
	"github.com/felixgeelhaar/neai/internal/ui/tui"
	"github.com/felixgeelhaar/neai/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var webAddr string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Start the interactive terminal dashboard",
	Args:  cobra.NoArgs,
	RunE:  runDashboard,
}

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the dashboard as a local web page",
	Long: `Serve the memory dashboard on a local address. The page refreshes itself,
and Prometheus metrics are exposed on /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWeb,
}

func init() {
	RootCmd.AddCommand(dashboardCmd)
	RootCmd.AddCommand(webCmd)
	webCmd.Flags().StringVar(&webAddr, "addr", "", "Listen address (overrides config)")
}

// pollJob refreshes the memory view on the configured interval.
func pollJob(a *app, immediate bool) scheduler.Job {
	return scheduler.Job{
		Name:      "memory",
		Interval:  a.cfg.Poll.Interval,
		Immediate: immediate,
		Run:       a.viewer.Refresh,
	}
}

func runDashboard(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// The notice line in the dashboard replaces stderr output.
	a.console.SetUI(a.viewer)

	program := tea.NewProgram(tui.NewModel(ctx, a.console), tea.WithAltScreen(), tea.WithContext(ctx))
	tui.Bind(program, a.viewer)

	// The model refreshes once on start, so the first poll waits a full interval.
	sched := scheduler.New(a.obs, a.bus)
	if err := sched.Add(pollJob(a, false)); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}

func runWeb(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Web.Addr
	if webAddr != "" {
		addr = webAddr
	}

	a.console.SetUI(a.viewer)
	srv := web.NewServer(a.console, a.viewer, a.metrics, a.obs, web.Config{
		Addr:            addr,
		MaxUploadBytes:  a.cfg.Upload.MaxFileBytes,
		RefreshInterval: a.cfg.Poll.Interval,
	})

	sched := scheduler.New(a.obs, a.bus)
	if err := sched.Add(pollJob(a, true)); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(srv.Start)
	g.Go(func() error {
		if err := sched.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Web.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Dashboard on http://%s (Ctrl+C to stop)\n", addr)
	return g.Wait()
}
