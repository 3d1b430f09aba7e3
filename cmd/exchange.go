package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"toolauth/internal/config"
	"toolauth/internal/federated"
	"toolauth/internal/protect"
	"toolauth/internal/toolcall"
)

// Environment variables read when the subject token flags are empty, so
// tokens do not need to appear on the command line.
const (
	EnvRefreshToken = "TOOLAUTH_REFRESH_TOKEN"
	EnvAccessToken  = "TOOLAUTH_ACCESS_TOKEN"
)

func newExchangeCmd(cfg *config.Config) *cobra.Command {
	opts := &toolOptions{}
	var (
		connection   string
		refreshToken string
		accessToken  string
		tokenVault   bool
		loginHint    string
	)

	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Run a tool with a connection token obtained by token exchange",
		Long: `Exchange the user's refresh or access token for an access token of an
upstream connection and run the whoami tool with it.

If the exchanged token lacks a required scope, an interrupt listing the
scopes a fresh consent must request is printed instead.

Examples:
  TOOLAUTH_REFRESH_TOKEN=... toolauth exchange --connection google-oauth2 --scopes openid,read:calendar
  toolauth exchange --connection github --access-token $TOKEN --token-vault`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resolve(cmd, cfg.Federated.SharingScope)
			if err != nil {
				return err
			}
			client, err := newOAuthClient(cfg.AuthorizationServer)
			if err != nil {
				return err
			}
			st, closeStore, err := openStore(cfg.Store)
			if err != nil {
				return err
			}
			defer closeStore()

			variant := federated.Variant(cfg.Federated.Variant)
			if tokenVault {
				variant = federated.VariantTokenVault
			}
			fc := federated.Config{
				Client:           client,
				Store:            st,
				Connection:       orDefault(connection, cfg.Federated.Connection),
				Scopes:           firstNonEmpty(opts.scopes, cfg.Federated.Scopes),
				Variant:          variant,
				CredentialsScope: r.sharing,
			}
			if t := orDefault(refreshToken, os.Getenv(EnvRefreshToken)); t != "" {
				fc.RefreshToken = protect.Static(t)
			}
			if t := orDefault(accessToken, os.Getenv(EnvAccessToken)); t != "" {
				fc.AccessToken = protect.Static(t)
			}
			if loginHint != "" {
				fc.LoginHint = protect.Static(loginHint)
			}

			authorizer, err := federated.New(fc)
			if err != nil {
				return err
			}
			tool := federated.Protect(authorizer, toolcall.Static[struct{}](r.call), whoami, toolOptionsFor(r, opts.maxWait, nil))
			return runProtected(cmd, r, tool)
		},
	}

	bindToolFlags(cmd, opts)
	cmd.Flags().StringVar(&connection, "connection", "", "upstream connection name (default from config)")
	cmd.Flags().StringVar(&refreshToken, "refresh-token", "", "subject refresh token (or "+EnvRefreshToken+")")
	cmd.Flags().StringVar(&accessToken, "access-token", "", "subject access token (or "+EnvAccessToken+")")
	cmd.Flags().BoolVar(&tokenVault, "token-vault", false, "use token vault interrupt codes")
	cmd.Flags().StringVar(&loginHint, "login-hint", "", "upstream account to select")
	return cmd
}
