package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/clouddrive"
)

// newLogoutCmd implements `treesync logout` (supplementary
// commands): removes the active profile's saved OAuth2 token.
func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the active profile's saved cloud credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if err := clouddrive.Logout(cc.Profile.TokenPath(), cc.Logger); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}

			if !flagQuiet {
				fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			}

			return nil
		},
	}
}
