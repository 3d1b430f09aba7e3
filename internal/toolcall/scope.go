package toolcall

import (
	"fmt"
	"strings"
)

// Scope is the granularity at which obtained credentials are shared.
type Scope string

const (
	// ScopeToolCall shares credentials with a single invocation only.
	ScopeToolCall Scope = "tool-call"
	// ScopeTool shares credentials between invocations of one tool in one thread.
	ScopeTool Scope = "tool"
	// ScopeThread shares credentials between all tools of one thread.
	ScopeThread Scope = "thread"
	// ScopeAgent shares credentials globally.
	ScopeAgent Scope = "agent"
)

// Scopes lists all scopes from narrowest to broadest.
var Scopes = []Scope{ScopeToolCall, ScopeTool, ScopeThread, ScopeAgent}

// ParseScope parses a textual scope. The empty string yields ScopeToolCall.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScopeToolCall:
		return ScopeToolCall, nil
	case ScopeTool:
		return ScopeTool, nil
	case ScopeThread:
		return ScopeThread, nil
	case ScopeAgent:
		return ScopeAgent, nil
	default:
		return "", fmt.Errorf("unknown sharing scope %q (expected one of tool-call, tool, thread, agent)", s)
	}
}

// Namespace returns the store namespace path for c under this scope.
// Segments are taken in the order thread, tool, tool-call; broader scopes
// keep a prefix of that list and ScopeAgent keeps none.
func (s Scope) Namespace(c Context) []string {
	switch s {
	case ScopeAgent:
		return []string{}
	case ScopeThread:
		return []string{c.ThreadID}
	case ScopeTool:
		return []string{c.ThreadID, c.ToolName}
	default:
		return []string{c.ThreadID, c.ToolName, c.ToolCallID}
	}
}

func (s Scope) String() string {
	if s == "" {
		return string(ScopeToolCall)
	}
	return string(s)
}
