package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"toolauth/internal/formatting"
	"toolauth/internal/interrupt"
	"toolauth/pkg/logging"
)

func newInterruptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interrupt",
		Short: "Work with AUTH_INTERRUPT payloads",
	}
	cmd.AddCommand(newInterruptInspectCmd())
	return cmd
}

func newInterruptInspectCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "inspect [file|-]",
		Short: "Describe an AUTH_INTERRUPT payload",
		Long: `Read an AUTH_INTERRUPT as printed by a protected tool and describe it.
Identifiers are truncated in table output.

Examples:
  toolauth ciba --user-id auth0|123 | toolauth interrupt inspect
  toolauth interrupt inspect interrupt.json -o yaml`,
		Args: cobra.MaximumNArgs(1),
		// Inspecting a payload needs no configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := formatting.ParseFormat(output)
			if err != nil {
				return err
			}
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			intr, err := interrupt.Parse(data)
			if err != nil {
				return err
			}
			return formatting.Write(cmd.OutOrStdout(), format, intr, interruptFields(intr))
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", string(formatting.FormatTable), "output format: table, json, yaml")
	return cmd
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	return data, nil
}

func interruptFields(intr *interrupt.Interrupt) []formatting.Field {
	fields := []formatting.Field{
		{Key: "code", Value: string(intr.Code)},
		{Key: "kind", Value: string(intr.Kind())},
		{Key: "protocol", Value: orDefault(intr.Protocol, "-")},
		{Key: "message", Value: intr.Message},
	}
	if intr.Kind().Retryable() {
		fields = append(fields, formatting.Field{Key: "retry after", Value: intr.RetryAfter().String()})
	}
	if req := intr.Request; req != nil {
		if req.ID != "" {
			fields = append(fields, formatting.Field{Key: "request", Value: logging.TruncateID(req.ID)})
		}
		if req.IsDevice() {
			fields = append(fields,
				formatting.Field{Key: "user code", Value: req.UserCode},
				formatting.Field{Key: "verification uri", Value: req.VerificationURI},
			)
		}
		fields = append(fields, formatting.Field{Key: "expires", Value: req.Deadline().UTC().Format(time.RFC3339)})
	}
	if intr.Connection != "" {
		fields = append(fields, formatting.Field{Key: "connection", Value: intr.Connection})
	}
	if len(intr.Scopes) > 0 {
		fields = append(fields, formatting.Field{Key: "granted scopes", Value: strings.Join(intr.Scopes, " ")})
	}
	if len(intr.RequiredScopes) > 0 {
		fields = append(fields, formatting.Field{Key: "required scopes", Value: strings.Join(intr.RequiredScopes, " ")})
	}
	return fields
}
