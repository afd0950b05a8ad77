package cmd

import (
	"fmt"

	"github.com/behzadon/rulebook/internal/auth"
	"github.com/spf13/cobra"
)

var (
	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	tokenIssueCmd = &cobra.Command{
		Use:   "issue [subject]",
		Short: "Issue a bearer token for a transport adapter",
		Long: `Issue a signed bearer token for the chat transport that calls the
HTTP API. The subject names the caller and scopes its rate limit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := GetConfig()
			jwtManager, err := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Issuer, cfg.JWT.TokenDuration)
			if err != nil {
				return fmt.Errorf("create jwt manager: %w", err)
			}

			token, err := jwtManager.GenerateToken(args[0])
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenIssueCmd)
}
