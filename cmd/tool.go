package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"toolauth/internal/credentials"
	"toolauth/internal/formatting"
	"toolauth/internal/interrupt"
	"toolauth/internal/protect"
	"toolauth/internal/toolcall"
)

// whoamiToolName is the name of the built-in tool the CLI protects.
const whoamiToolName = "whoami"

// toolOptions are the flags shared by the commands that run a protected tool.
type toolOptions struct {
	thread   string
	toolCall string
	mode     string
	sharing  string
	scopes   []string
	audience string
	maxWait  time.Duration
	output   string
}

func bindToolFlags(cmd *cobra.Command, opts *toolOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.thread, "thread", "cli", "thread identifier")
	flags.StringVar(&opts.toolCall, "tool-call", "", "tool call identifier; pass the printed value again to resume")
	flags.StringVar(&opts.mode, "mode", string(protect.ModeInterrupt), "interrupt or block")
	flags.StringVar(&opts.sharing, "sharing-scope", "", "credential sharing scope: tool-call, tool, thread, agent (default from config)")
	flags.StringSliceVar(&opts.scopes, "scopes", nil, "scopes to request")
	flags.StringVar(&opts.audience, "audience", "", "API audience")
	flags.DurationVar(&opts.maxWait, "max-wait", 0, "maximum time to wait in block mode (0 waits until the request expires)")
	flags.StringVarP(&opts.output, "output", "o", string(formatting.FormatTable), "output format: table, json, yaml")
}

// resolved holds validated tool options.
type resolved struct {
	call    toolcall.Context
	mode    protect.Mode
	sharing toolcall.Scope
	format  formatting.OutputFormat
}

// resolve validates opts and builds the tool call context. configSharing
// applies when --sharing-scope is not given. A missing --tool-call is
// generated and printed so the invocation can be resumed.
func (opts *toolOptions) resolve(cmd *cobra.Command, configSharing string) (resolved, error) {
	mode, err := protect.ParseMode(opts.mode)
	if err != nil {
		return resolved{}, err
	}
	sharing, err := toolcall.ParseScope(orDefault(opts.sharing, configSharing))
	if err != nil {
		return resolved{}, err
	}
	format, err := formatting.ParseFormat(opts.output)
	if err != nil {
		return resolved{}, err
	}

	toolCall := opts.toolCall
	if toolCall == "" {
		toolCall = uuid.NewString()
		fmt.Fprintf(cmd.ErrOrStderr(), "Tool call: %s\n", text.FgHiCyan.Sprint(toolCall))
	}
	return resolved{
		call: toolcall.Context{
			ThreadID:   opts.thread,
			ToolCallID: toolCall,
			ToolName:   whoamiToolName,
		},
		mode:    mode,
		sharing: sharing,
		format:  format,
	}, nil
}

// firstNonEmpty returns the first non-empty slice.
func firstNonEmpty(lists ...[]string) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return l
		}
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// identity is what the whoami tool reports about the credentials it ran with.
type identity struct {
	Subject   string   `json:"subject,omitempty" yaml:"subject,omitempty"`
	TokenType string   `json:"tokenType" yaml:"tokenType"`
	Scope     []string `json:"scope" yaml:"scope"`
	ExpiresAt string   `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
}

// whoami is the tool the CLI protects. It never sees more than the
// credentials the authorizer put on its context.
func whoami(ctx context.Context, _ struct{}) (*identity, error) {
	creds, ok := credentials.FromContext(ctx)
	if !ok {
		return nil, errors.New("no credentials on context")
	}
	id := &identity{TokenType: creds.TokenType, Scope: creds.Scope}
	if sub, err := creds.Subject(); err == nil {
		id.Subject = sub
	}
	if exp := creds.ExpiresAt(); !exp.IsZero() {
		id.ExpiresAt = exp.UTC().Format(time.RFC3339)
	}
	return id, nil
}

func (id *identity) fields() []formatting.Field {
	return []formatting.Field{
		{Key: "subject", Value: orDefault(id.Subject, "-")},
		{Key: "token type", Value: id.TokenType},
		{Key: "scope", Value: strings.Join(id.Scope, " ")},
		{Key: "expires", Value: orDefault(id.ExpiresAt, "never")},
	}
}

// toolOptionsFor builds protect options for the CLI. In block mode a
// terminal interrupt is returned as the command error.
func toolOptionsFor(r resolved, maxWait time.Duration, onRequest func(*interrupt.Interrupt)) protect.Options[*identity] {
	opts := protect.Options[*identity]{Mode: r.mode, MaxWait: maxWait}
	if r.mode == protect.ModeBlock && onRequest != nil {
		opts.OnAuthorizationRequest = func(_ context.Context, _ toolcall.Context, intr *interrupt.Interrupt) {
			onRequest(intr)
		}
	}
	return opts
}

// runProtected invokes tool and writes its result. Interrupts are written
// to stdout as JSON and returned so the exit code reflects them.
func runProtected(cmd *cobra.Command, r resolved, tool protect.Tool[struct{}, *identity]) error {
	id, err := tool(cmd.Context(), struct{}{})
	if err != nil {
		if intr, ok := interrupt.As(err); ok {
			return writeInterrupt(cmd, intr)
		}
		return err
	}
	return formatting.Write(cmd.OutOrStdout(), r.format, id, id.fields())
}

func writeInterrupt(cmd *cobra.Command, intr *interrupt.Interrupt) error {
	data, err := interrupt.Marshal(intr)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return intr
}
