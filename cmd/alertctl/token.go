package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mr1hm/go-emergency-alerts/internal/auth"
	"github.com/mr1hm/go-emergency-alerts/internal/config"
)

func tokenCMD(cfg func() *config.Config) *cobra.Command {
	var (
		subject string
		admin   bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token",
		Long: `Issue a signed bearer token for a portal user,
using: token --subject CLIENT_ID [--admin] [--ttl 24h]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			issuer, err := auth.NewIssuer(c.Auth.Secret, c.Auth.Issuer, c.Auth.TokenTTL)
			if err != nil {
				return err
			}
			role := auth.RoleClient
			if admin {
				role = auth.RoleAdmin
			}
			tok, err := issuer.Issue(subject, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "client id, or operator name with --admin")
	cmd.Flags().BoolVar(&admin, "admin", false, "issue an administrator token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default AUTH_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
