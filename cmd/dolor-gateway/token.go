// ABOUTME: token command: mints a JWT for the web stream API from the configured secret
// ABOUTME: The subject should match a key in the subjects map to link an athlete

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dolor/dolor-gateway/internal/auth"
	"github.com/dolor/dolor-gateway/internal/config"
)

func buildTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate a bearer token for the conversation API",
		Example: `  # Token for a linked athlete, valid for a week
  dolor-gateway token --subject athlete@example.com --ttl 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*configPath))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := generateToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Token subject (caller identity)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func generateToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth.jwt_secret is not configured")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}
	return auth.NewJWTVerifier([]byte(secret)).Generate(subject, ttl)
}
