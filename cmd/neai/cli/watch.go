package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/neai/internal/batch"
	"github.com/felixgeelhaar/neai/internal/watch"
	"github.com/spf13/cobra"
)

var watchExisting bool

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Upload files as they appear in a directory",
	Long: `Watch a directory and upload every new or changed file once it has settled.
Files the upload policy rejects, hidden files and editor backups are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := watch.New(args[0], a.console, a.guard, a.obs, watch.Options{
			Settle:   a.cfg.Watch.Settle,
			Existing: watchExisting,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", args[0])
		return w.Run(cmd.Context())
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply [batch-file]",
	Short: "Run the steps of a YAML or JSON batch file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := batch.Load(args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		res := b.Validate()
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if !res.Valid {
			return fmt.Errorf("invalid batch: %s", strings.Join(res.Errors, "; "))
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		results, err := batch.Run(cmd.Context(), b, a.console, a.obs)
		for _, r := range results {
			status := "ok"
			if r.Err != nil {
				status = "failed"
			}
			fmt.Fprintf(out, "step %d %s: %s\n", r.Step, r.Kind, status)
		}
		if err != nil {
			return shown(err)
		}
		fmt.Fprintf(out, "%d steps done.\n", len(results))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(applyCmd)
	watchCmd.Flags().BoolVar(&watchExisting, "existing", false, "Also upload files already in the directory")
}
