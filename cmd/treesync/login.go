package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treesync/treesync/internal/clouddrive"
)

// newLoginCmd implements `treesync login` (supplementary
// commands): runs the device-code OAuth2 flow against the active
// profile's cloud endpoint and persists the resulting token.
func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authenticate the active profile against its cloud account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()

			ep := newCloudEndpoint(cc.Profile)

			display := func(auth clouddrive.DeviceAuth) {
				fmt.Fprintf(cmd.OutOrStdout(), "To authorize this device, visit %s and enter code: %s\n",
					auth.VerificationURI, auth.UserCode)
			}

			if _, err := clouddrive.Login(ctx, ep, cc.Profile.TokenPath(), display, cc.Logger); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if !flagQuiet {
				fmt.Fprintf(cmd.OutOrStdout(), "logged in, token saved to %s\n", cc.Profile.TokenPath())
			}

			return nil
		},
	}
}
