// Package toolcall identifies tool invocations and maps them onto store
// namespaces according to a credential sharing scope.
package toolcall

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidContext is returned when a resolved Context lacks a required field.
var ErrInvalidContext = errors.New("invalid tool call context")

// Context identifies one logical tool invocation.
type Context struct {
	ThreadID   string `json:"threadId"`
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

// Resolver derives the Context of a tool invocation from its arguments.
// It is supplied by the host because only the surrounding agent framework
// knows where thread and call identifiers live.
type Resolver[A any] func(ctx context.Context, args A) (Context, error)

// Static returns a Resolver that always yields c.
func Static[A any](c Context) Resolver[A] {
	return func(context.Context, A) (Context, error) {
		return c, nil
	}
}

// WithFallbackID returns a copy of c whose ToolCallID is a fresh random
// identifier when the framework did not supply one. Callers invoke it once
// per logical call and keep the result for the duration of that call.
func (c Context) WithFallbackID() Context {
	if c.ToolCallID == "" {
		c.ToolCallID = uuid.NewString()
	}
	return c
}

// Validate checks that the thread and tool are identified.
func (c Context) Validate() error {
	var missing []string
	if c.ThreadID == "" {
		missing = append(missing, "threadId")
	}
	if c.ToolName == "" {
		missing = append(missing, "toolName")
	}
	if c.ToolCallID == "" {
		missing = append(missing, "toolCallId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidContext, strings.Join(missing, ", "))
	}
	return nil
}

// Key returns a stable identity string for the invocation.
func (c Context) Key() string {
	return c.ThreadID + "/" + c.ToolName + "/" + c.ToolCallID
}

// Namespace is shorthand for ScopeToolCall.Namespace(c), the namespace
// owned by this invocation alone.
func (c Context) Namespace() []string {
	return ScopeToolCall.Namespace(c)
}
