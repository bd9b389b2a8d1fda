package cli

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/neai/internal/console"
	"github.com/felixgeelhaar/neai/internal/viewer"
	"github.com/spf13/cobra"
)

var memoryHTML bool

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Fetch and print the current memory items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.viewer.Refresh(cmd.Context()); err != nil {
			return fmt.Errorf("failed to fetch memory: %w", err)
		}
		st := a.viewer.State()
		if memoryHTML {
			return viewer.RenderHTML(cmd.OutOrStdout(), st)
		}
		return viewer.RenderText(cmd.OutOrStdout(), st)
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload text or a file for the backend to learn",
}

var uploadTextCmd = &cobra.Command{
	Use:   "text [text]",
	Short: "Upload free text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "Text uploaded.", func(c *console.Console) error {
			return c.UploadText(cmd.Context(), args[0])
		})
	},
}

var uploadFileCmd = &cobra.Command{
	Use:   "file [path]",
	Short: "Upload a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "File uploaded.", func(c *console.Console) error {
			return c.UploadFile(cmd.Context(), args[0])
		})
	},
}

var intentCmd = &cobra.Command{
	Use:   "intent [text]",
	Short: "Ask the backend to execute an intent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "Intent sent.", func(c *console.Console) error {
			return c.ExecuteIntent(cmd.Context(), args[0])
		})
	},
}

var commandCmd = &cobra.Command{
	Use:   "command [start|stop|text]",
	Short: "Send a canned command",
	Long: `Send a canned command to the backend. "start" and "stop" are short for
"start streaming" and "stop streaming"; any other text is sent as is.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := cannedCommand(strings.Join(args, " "))
		return runAction(cmd, "Command sent.", func(c *console.Console) error {
			return c.ExecuteCommand(cmd.Context(), text)
		})
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [id] [positive|negative]",
	Short: "Rate a memory item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		positive, err := parseVerdict(args[1])
		if err != nil {
			return err
		}
		return runAction(cmd, "Feedback sent.", func(c *console.Console) error {
			return c.SendFeedback(cmd.Context(), args[0], positive)
		})
	},
}

func init() {
	RootCmd.AddCommand(memoryCmd)
	RootCmd.AddCommand(uploadCmd)
	RootCmd.AddCommand(intentCmd)
	RootCmd.AddCommand(commandCmd)
	RootCmd.AddCommand(feedbackCmd)
	uploadCmd.AddCommand(uploadTextCmd)
	uploadCmd.AddCommand(uploadFileCmd)
	memoryCmd.Flags().BoolVar(&memoryHTML, "html", false, "Render the list as HTML")
}

// runAction runs one console action. Prompts and failure notices are
// printed by the console, so a failed action only sets the exit code.
func runAction(cmd *cobra.Command, done string, fn func(*console.Console) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := fn(a.console); err != nil {
		return shown(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), done)
	return nil
}

func cannedCommand(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return console.CommandStartStreaming
	case "stop":
		return console.CommandStopStreaming
	}
	return s
}

func parseVerdict(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "positive", "+", "up", "true", "yes":
		return true, nil
	case "negative", "-", "down", "false", "no":
		return false, nil
	}
	return false, fmt.Errorf("feedback must be positive or negative, got %q", s)
}
