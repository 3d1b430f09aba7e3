// Package metrics holds the Prometheus collectors shared by the authorizers.
// Collectors are registered with the default registry at package init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	oauthRequestDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "toolauth_oauth_request_duration_ms",
		Help:    "Latency of authorization server requests in milliseconds",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"operation", "outcome"})

	interruptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolauth_interrupts_total",
		Help: "Authorization interrupts raised, by protocol and code",
	}, []string{"protocol", "code"})

	toolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolauth_tool_executions_total",
		Help: "Protected tool executions after successful authorization",
	}, []string{"protocol"})

	nestedInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolauth_nested_invocations_total",
		Help: "Invocations rejected because the same tool call was already in flight",
	}, []string{"protocol"})

	credentialLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "toolauth_credential_lookups_total",
		Help: "Credential cache lookups, by protocol and result (hit, miss, stale)",
	}, []string{"protocol", "result"})
)

// ObserveOAuthRequest records the latency of one authorization server call.
func ObserveOAuthRequest(operation, outcome string, start time.Time) {
	oauthRequestDurationMs.WithLabelValues(operation, outcome).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}

// IncInterrupt counts an interrupt raised by protocol.
func IncInterrupt(protocol, code string) {
	interruptsTotal.WithLabelValues(protocol, code).Inc()
}

// IncToolExecution counts a tool run after authorization.
func IncToolExecution(protocol string) {
	toolExecutionsTotal.WithLabelValues(protocol).Inc()
}

// IncNestedInvocation counts a nesting guard rejection.
func IncNestedInvocation(protocol string) {
	nestedInvocationsTotal.WithLabelValues(protocol).Inc()
}

// Credential lookup results.
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
)

// IncCredentialLookup counts a credential cache lookup.
func IncCredentialLookup(protocol, result string) {
	credentialLookupsTotal.WithLabelValues(protocol, result).Inc()
}
