package protect

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ErrNestedInvocation is returned when a tool call is invoked again while an
// invocation with the same identity is still in flight on the same flow.
var ErrNestedInvocation = errors.New("tool call is already being authorized")

// guardKey scopes an invocation to one flow instance. Two authorizers of the
// same protocol never block each other.
type guardKey struct {
	flow Flow
	call string
}

// inflight tracks the invocations currently running per flow.
type inflight struct {
	mu      sync.Mutex
	running map[guardKey]struct{}
}

var guard = &inflight{running: make(map[guardKey]struct{})}

// enter claims k and returns the function releasing it.
func (g *inflight) enter(k guardKey) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.running[k]; busy {
		return nil, ErrNestedInvocation
	}
	g.running[k] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.running, k)
		g.mu.Unlock()
	}, nil
}

// mustGuardable panics unless flow can identify itself in a guardKey.
func mustGuardable(flow Flow) {
	t := reflect.TypeOf(flow)
	if t == nil {
		panic("protect: nil flow")
	}
	if !t.Comparable() {
		panic(fmt.Sprintf("protect: flow type %s is not comparable; implement Flow on a pointer receiver", t))
	}
}
