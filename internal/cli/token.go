package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"invoicely/internal/auth"
)

func newTokenCmd(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token helpers for the HTTP API",
	}

	var (
		email string
		ttl   time.Duration
	)
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token for --user with the configured key",
		RunE: func(_ *cobra.Command, _ []string) error {
			userID, err := st.requireUser()
			if err != nil {
				return err
			}
			if !st.cfg.Auth.JWTSigningKey.IsSet() {
				return errors.New("JWT_SIGNING_KEY is not set")
			}
			token, err := auth.NewJWTAuthenticator(st.cfg.Auth.JWTSigningKey.Unmask(), st.cfg.Auth.JWTIssuer).Mint(userID, email, ttl)
			if err != nil {
				return err
			}
			return st.print(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}
	mint.Flags().StringVar(&email, "email", "", "email claim")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	cmd.AddCommand(mint)
	return cmd
}
