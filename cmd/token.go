package cmd

import (
	"fmt"
	"os"

	"github.com/markb/firelite/internal/auth"
	"github.com/markb/firelite/internal/config"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token for a user id",
	Long: `Signs a JWT for the given user id with the configured secret. Use it as
"Authorization: Bearer <token>" on the REST API or in a realtime auth message.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}
		if ttl <= 0 {
			return fmt.Errorf("--ttl must be positive")
		}

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath, cmd.Flags())
		if err != nil {
			return err
		}

		secret, isDefault := cfg.JWTSecret()
		if isDefault {
			fmt.Fprintln(os.Stderr, "Warning: Using default JWT secret. Set FIRELITE_AUTH_JWT_SECRET in production.")
		}

		token, err := auth.NewService(secret).GenerateAccessToken(userID, ttl)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("user", "", "User id to put in the sub claim")
	tokenCmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	tokenCmd.Flags().String("jwt-secret", "", "JWT signing secret")
}
