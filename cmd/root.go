package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"toolauth/internal/config"
	"toolauth/internal/interrupt"
	"toolauth/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthPending indicates the authorization request is still
	// pending; re-run the command with the same --thread and --tool-call.
	ExitCodeAuthPending = 2
	// ExitCodeAuthFailed indicates authorization was denied, expired or
	// otherwise failed.
	ExitCodeAuthFailed = 3
)

// globalOptions are the persistent flags shared by all commands.
type globalOptions struct {
	configDir string
	logLevel  string
	logFormat string
	issuer    string
	clientID  string
	store     string
}

// rootCmd represents the base command for the toolauth application.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "toolauth",
		Short: "Authorize agent tool calls with CIBA, device flow or token exchange",
		Long: `toolauth runs tools behind an out-of-band authorization step.

A protected tool either returns an AUTH_INTERRUPT describing the pending
authorization (interrupt mode) or waits until the user has approved it
(block mode). Pending requests and obtained credentials are kept in the
configured store, so an interrupted command can be re-run later with the
same --thread and --tool-call to resume.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := loadConfig(opts)
			if err != nil {
				return err
			}
			*cfg = loaded
			logging.Init(logging.ParseLevel(cfg.Logging.Level), logging.Format(cfg.Logging.Format), cmd.ErrOrStderr())
			return nil
		},
	}
	root.SetVersionTemplate(`{{printf "toolauth version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configDir, "config", "", "configuration directory (default $HOME/.config/toolauth)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.issuer, "issuer", "", "authorization server issuer URL")
	flags.StringVar(&opts.clientID, "client-id", "", "OAuth client ID")
	flags.StringVar(&opts.store, "store", "", "store backend: memory, file, redis, keyring")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCIBACmd(cfg))
	root.AddCommand(newDeviceCmd(cfg))
	root.AddCommand(newExchangeCmd(cfg))
	root.AddCommand(newInterruptCmd())
	return root
}

func loadConfig(opts *globalOptions) (config.Config, error) {
	dir := opts.configDir
	if dir == "" {
		var err error
		if dir, err = config.DefaultConfigDir(); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load(dir)
	if err != nil {
		var cerr config.ConfigurationError
		if errors.As(err, &cerr) {
			return config.Config{}, errors.New(cerr.DetailedError())
		}
		return config.Config{}, err
	}

	if opts.issuer != "" {
		cfg.AuthorizationServer.Issuer = opts.issuer
	}
	if opts.clientID != "" {
		cfg.AuthorizationServer.ClientID = opts.clientID
	}
	if opts.store != "" {
		cfg.Store.Backend = opts.store
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the
// returned error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if intr, ok := interrupt.As(err); ok {
		if intr.Kind().Retryable() {
			return ExitCodeAuthPending
		}
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}
