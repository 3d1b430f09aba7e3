// Package logging provides a structured logging system for toolauth with unified
// log handling and flexible output formatting.
//
// This package implements a logging system built on Go's standard slog package,
// providing consistent logging behavior with structured output and level filtering.
//
// # Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// # Usage Examples
//
//	import "toolauth/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("CIBA", "Started authorization request for call=%s", logging.TruncateID(callID))
//	logging.Debug("Store", "Loaded entry %s", key)
//	logging.Error("OAuth", err, "Token exchange failed")
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Config**: Configuration loading and validation
//   - **Store**: Keyed store backends
//   - **OAuth**: Authorization server requests
//   - **CIBA**, **Device**, **Federated**: authorizer state machines
//   - **Protect**: tool wrapping, nesting guard and block-mode polling
//
// # Audit Logging
//
// Security-relevant transitions are logged through Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:   "credentials_cached",
//	    Outcome:  "success",
//	    Protocol: "ciba",
//	    CallID:   logging.TruncateID(call.ToolCallID),
//	})
//
// Audit events are logged at INFO level with an [AUDIT] prefix for easy filtering
// by log aggregation systems. Token values are never part of an audit event.
package logging
