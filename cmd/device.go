package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"toolauth/internal/config"
	"toolauth/internal/device"
	"toolauth/internal/interrupt"
	"toolauth/internal/toolcall"
)

func newDeviceCmd(cfg *config.Config) *cobra.Command {
	opts := &toolOptions{}

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Run a tool after the user enters a code on another device",
		Long: `Run the whoami tool behind an OAuth 2.0 Device Authorization Grant.

The interrupt carries the user code and verification URI. In block mode
they are printed to stderr and the command waits until the user has
completed the flow.

Examples:
  toolauth device --scopes openid,profile
  toolauth device --tool-call <id>      # resume
  toolauth device --mode block`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := opts.resolve(cmd, cfg.Device.SharingScope)
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

			authorizer, err := device.New(device.Config{
				Client:           client,
				Store:            st,
				Scopes:           firstNonEmpty(opts.scopes, cfg.Device.Scopes),
				Audience:         orDefault(opts.audience, cfg.AuthorizationServer.Audience),
				CredentialsScope: r.sharing,
			})
			if err != nil {
				return err
			}

			var s *spinner.Spinner
			protected := device.Protect(authorizer, toolcall.Static[struct{}](r.call), whoami,
				toolOptionsFor(r, opts.maxWait, func(intr *interrupt.Interrupt) {
					printDeviceCode(cmd, intr.Request)
					s = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
					s.Suffix = " Waiting for the user to complete sign-in..."
					s.Start()
				}))
			tool := func(ctx context.Context, args struct{}) (*identity, error) {
				id, err := protected(ctx, args)
				if s != nil {
					s.Stop()
				}
				return id, err
			}
			return runProtected(cmd, r, tool)
		},
	}

	bindToolFlags(cmd, opts)
	return cmd
}

func printDeviceCode(cmd *cobra.Command, req *interrupt.AuthorizationRequest) {
	if req == nil {
		return
	}
	w := cmd.ErrOrStderr()
	uri := req.VerificationURI
	if req.VerificationURIComplete != "" {
		uri = req.VerificationURIComplete
	}
	fmt.Fprintf(w, "Open %s and enter the code %s\n", text.FgHiCyan.Sprint(uri), text.Bold.Sprint(req.UserCode))
	fmt.Fprintf(w, "The code expires at %s.\n", req.Deadline().Local().Format(time.Kitchen))
}
