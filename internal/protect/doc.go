// Package protect wraps tools with an authorization flow.
//
// A wrapped tool resolves the identity of its invocation, asks its Flow for
// credentials and only then runs the tool, with the credentials available
// through credentials.FromContext.
//
// In interrupt mode (the default) a flow that cannot produce credentials yet
// makes the wrapped tool return an *interrupt.Interrupt; the caller persists
// nothing and simply invokes the tool again later with the same identity.
// In block mode the wrapper polls the flow itself, honouring the interval
// hints the flow returns, until credentials arrive or the attempt fails.
package protect
