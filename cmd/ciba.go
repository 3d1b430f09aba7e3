package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"toolauth/internal/ciba"
	"toolauth/internal/config"
	"toolauth/internal/interrupt"
	"toolauth/internal/protect"
	"toolauth/internal/toolcall"
)

func newCIBACmd(cfg *config.Config) *cobra.Command {
	opts := &toolOptions{}
	var (
		userID          string
		bindingMessage  string
		requestedExpiry int
	)

	cmd := &cobra.Command{
		Use:   "ciba",
		Short: "Run a tool after approval on the user's device (CIBA)",
		Long: `Run the whoami tool behind a Client-Initiated Backchannel Authentication
request sent to the user's registered device.

In interrupt mode the first run starts the request and prints an
AUTH_INTERRUPT. Re-run with the same --thread and --tool-call to poll it;
once the user approves, the tool runs with the obtained credentials.

Examples:
  toolauth ciba --user-id auth0|123 --binding-message "Read calendar"
  toolauth ciba --user-id auth0|123 --tool-call <id>    # resume
  toolauth ciba --user-id auth0|123 --mode block --max-wait 2m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resolve(cmd, cfg.CIBA.SharingScope)
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

			var message protect.Value
			if m := orDefault(bindingMessage, cfg.CIBA.BindingMessage); m != "" {
				message = protect.Static(m)
			}
			expiry := requestedExpiry
			if expiry == 0 {
				expiry = cfg.CIBA.RequestedExpiry
			}

			authorizer, err := ciba.New(ciba.Config{
				Client:           client,
				Store:            st,
				Scopes:           firstNonEmpty(opts.scopes, cfg.CIBA.Scopes),
				Audience:         orDefault(opts.audience, cfg.AuthorizationServer.Audience),
				UserID:           protect.Static(userID),
				BindingMessage:   message,
				RequestedExpiry:  expiry,
				CredentialsScope: r.sharing,
			})
			if err != nil {
				return err
			}

			tool := ciba.Protect(authorizer, toolcall.Static[struct{}](r.call), whoami,
				toolOptionsFor(r, opts.maxWait, func(*interrupt.Interrupt) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s Waiting for approval on the device of %s...\n",
						text.FgYellow.Sprint("⏳"), userID)
				}))
			return runProtected(cmd, r, tool)
		},
	}

	bindToolFlags(cmd, opts)
	cmd.Flags().StringVar(&userID, "user-id", "", "subject to send the request to")
	cmd.Flags().StringVar(&bindingMessage, "binding-message", "", "message shown on the user's device")
	cmd.Flags().IntVar(&requestedExpiry, "requested-expiry", 0, "requested lifetime of the request in seconds")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
