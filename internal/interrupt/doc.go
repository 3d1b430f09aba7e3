// Package interrupt defines the closed set of authorization interrupts.
//
// An Interrupt is both a Go error and a plain, JSON-serializable value. It is
// returned by an authorizer when a tool call cannot proceed yet (the user has
// not approved a request, the server asked to slow down) or cannot proceed at
// all (access denied, request expired, scopes missing). Hosts that pause an
// invocation persist or display the interrupt and later re-invoke the tool;
// all continuation state lives in the store, never in the interrupt itself.
//
// Every interrupt carries the same Name discriminant so IsInterrupt works
// without knowing the protocol. The Code identifies the exact condition, and
// Code.Kind classifies it for consumers that only care about the outcome class:
//
//	if intr, ok := interrupt.As(err); ok {
//	    switch intr.Code.Kind() {
//	    case interrupt.KindPending, interrupt.KindSlowDown:
//	        // retry after intr.RetryAfter()
//	    default:
//	        // show intr.Message to the user
//	    }
//	}
//
// Interrupts never carry tokens.
package interrupt
