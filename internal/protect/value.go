package protect

import (
	"context"

	"toolauth/internal/toolcall"
)

// Value is a string option that is either fixed or computed per invocation,
// such as a binding message or the user to authorize.
type Value struct {
	static string
	fn     func(ctx context.Context, call toolcall.Context) (string, error)
}

// Static returns a Value that always resolves to s.
func Static(s string) Value {
	return Value{static: s}
}

// FromFunc returns a Value computed by fn on every invocation.
func FromFunc(fn func(ctx context.Context, call toolcall.Context) (string, error)) Value {
	return Value{fn: fn}
}

// IsZero reports whether v was never set.
func (v Value) IsZero() bool {
	return v.fn == nil && v.static == ""
}

// Resolve returns the value for call.
func (v Value) Resolve(ctx context.Context, call toolcall.Context) (string, error) {
	if v.fn != nil {
		return v.fn(ctx, call)
	}
	return v.static, nil
}
