package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/config"
)

// newConfigCmd implements `treesync config`:
// inspecting the effective configuration and bootstrapping/editing a
// config file's profile sections.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigUnsetCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the active profile's effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(cc.Profile)
			}

			return config.RenderEffective(cc.Profile, cmd.OutOrStdout())
		},
	}
}

// newConfigInitCmd bootstraps a config file before one exists, so it must
// skip the normal PersistentPreRunE config load (there is nothing to
// resolve yet).
func newConfigInitCmd() *cobra.Command {
	var localRoot, cloudBaseURL string

	cmd := &cobra.Command{
		Use:   "init <profile-name>",
		Short: "Create a config file with a first profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if _, err := os.Stat(path); err == nil {
				if err := config.AppendProfileSection(path, name, localRoot, cloudBaseURL); err != nil {
					return fmt.Errorf("adding profile %s: %w", name, err)
				}
			} else {
				if err := config.CreateConfigWithProfile(path, name, localRoot, cloudBaseURL); err != nil {
					return fmt.Errorf("creating config: %w", err)
				}
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "profile %s written to %s\n", name, path)
			}

			return nil
		},
	}

	cmd.Annotations = map[string]string{skipConfigAnnotation: "true"}

	cmd.Flags().StringVar(&localRoot, "local-root", "", "local filesystem root this profile syncs")
	cmd.Flags().StringVar(&cloudBaseURL, "cloud-base-url", "", "base URL of the cloud API this profile talks to")

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a key in the active profile's config section",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if err := config.SetProfileKey(path, cc.Profile.Name, args[0], args[1]); err != nil {
				return fmt.Errorf("setting %s: %w", args[0], err)
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "%s.%s = %s\n", cc.Profile.Name, args[0], args[1])
			}

			return nil
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a key from the active profile's config section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}

			if err := config.DeleteProfileKey(path, cc.Profile.Name, args[0]); err != nil {
				return fmt.Errorf("removing %s: %w", args[0], err)
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s.%s\n", cc.Profile.Name, args[0])
			}

			return nil
		},
	}
}
