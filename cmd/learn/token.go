package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mdcat/companion/internal/identity"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a learner",
	Long:  "Issue a bearer token signed with AUTH_SECRET. Run it where the server secret is available.",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		secret, _ := cmd.Flags().GetString("secret")
		if secret == "" {
			secret = os.Getenv("AUTH_SECRET")
		}
		if secret == "" {
			return fmt.Errorf("--secret or AUTH_SECRET is required")
		}

		ttl, _ := cmd.Flags().GetDuration("ttl")
		token, err := identity.IssueToken([]byte(secret), userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", "", "Signing secret (defaults to AUTH_SECRET)")
	tokenCmd.Flags().Duration("ttl", identity.DefaultTokenTTL, "How long the token stays valid")
}
