package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/felixgeelhaar/neai/internal/config"
	"github.com/felixgeelhaar/neai/internal/credential"
	"github.com/felixgeelhaar/neai/internal/viewer"
	"github.com/spf13/cobra"
)

var historyLimit int

// storedKeys are the only settings read back from the store. Everything
// else comes from the config file and environment.
var storedKeys = map[string]bool{
	"backend.token": true,
}

func configFileHint() string {
	if configPath != "" {
		return configPath
	}
	if p, err := config.DefaultPath(); err == nil {
		return p
	}
	return "config.yaml"
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage stored configuration",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value",
	Long: `Set a stored configuration value. Only backend.token is stored; it is
encrypted before it is written. Other settings belong in the config file.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !storedKeys[key] {
			return fmt.Errorf("unknown stored key %q: set other options in the config file (%s) or via NEAI_* environment variables", key, configFileHint())
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if credential.IsSecretKey(key) {
			sealer, err := credential.NewSealer()
			if err != nil {
				return err
			}
			if value, err = sealer.Seal(value); err != nil {
				return fmt.Errorf("failed to encrypt %s: %w", key, err)
			}
		}

		if err := s.SetConfig(key, value); err != nil {
			return fmt.Errorf("failed to set config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Long:  `Get a stored configuration value. Secrets are shown masked. Without a key, list all keys.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		out := cmd.OutOrStdout()
		if len(args) == 0 {
			all, err := s.ListConfig()
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s = %s\n", k, displayValue(k, all[k]))
			}
			return nil
		}

		val, err := s.GetConfig(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			fmt.Fprintln(out, "(not set)")
		} else {
			fmt.Fprintln(out, displayValue(args[0], val))
		}
		return nil
	},
}

// displayValue masks secrets. Sealed values that no longer open on this
// machine are reported as such instead of failing the command.
func displayValue(key, stored string) string {
	if !credential.IsSecretKey(key) {
		return stored
	}
	sealer, err := credential.NewSealer()
	if err != nil {
		return "(unreadable)"
	}
	plain, err := sealer.Open(stored)
	if err != nil {
		return "(unreadable)"
	}
	return credential.Mask(plain)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent actions and their outcome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		s, err := getStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		actions, err := s.ListActions(historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(actions) == 0 {
			fmt.Fprintln(out, "No actions recorded yet.")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tACTION\tOUTCOME\tSUBJECT\tERROR")
		for _, a := range actions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				a.CreatedAt.Local().Format(time.DateTime), a.Kind, a.Outcome, viewer.Sanitize(a.Subject), viewer.Sanitize(a.Error))
		}
		return tw.Flush()
	},
}

func init() {
	RootCmd.AddCommand(configCmd)
	RootCmd.AddCommand(historyCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of actions to show")
}
