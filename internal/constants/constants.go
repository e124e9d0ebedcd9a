// Package constants holds named values shared across the engine's
// components, following the same pattern as the upstream controller: no
// package-level mutable state, just values looked up at construction time.
package constants

import "time"

const (
	// ExecutionModeKubewardenWapc is the message-oriented guest ABI: a
	// wapc-style `validate` entrypoint with synchronous host callbacks.
	ExecutionModeKubewardenWapc = "kubewarden-wapc"
	// ExecutionModeWasi is the command-line guest ABI, run as a one-shot
	// wasi process with the request on stdin and the response on stdout.
	ExecutionModeWasi = "wasi"
	// ExecutionModeOPA is the policy-as-data, plain Rego dialect.
	ExecutionModeOPA = "opa"
	// ExecutionModeGatekeeper is the policy-as-data, constrained Rego
	// dialect (Gatekeeper-style ConstraintTemplates).
	ExecutionModeGatekeeper = "gatekeeper"

	// SupportedProtocolVersion is the single protocol-version value accepted
	// for ExecutionModeKubewardenWapc modules.
	SupportedProtocolVersion = "V1"

	// MemoCacheTTL is the lifetime of the short-TTL point lookup and
	// subject-access-review memo caches in the Kubernetes data plane.
	MemoCacheTTL = 5 * time.Second

	// MetricsShutdownTimeout is a flush deadline for the metrics exporter.
	// No code passes it to metrics.Recorder.Shutdown.
	MetricsShutdownTimeout = 5 * time.Second

	// DefaultHostCapabilityBusSize is the default bound on the host-capability
	// bus; senders back-pressure once it fills.
	DefaultHostCapabilityBusSize = 64

	// MutationNotAllowedErrorKind is the runtime-error kind reported when a
	// non-mutating policy returns a patch.
	MutationNotAllowedErrorKind = "mutation-not-allowed"
	// RuntimeTrapErrorKind is the runtime-error kind reported when a guest
	// panics or traps mid-evaluation.
	RuntimeTrapErrorKind = "guest-runtime-error"
	// CancellationErrorKind names the cancellation error kind. The bus
	// reports shutdown with its own error, matched by bus.IsCancellation,
	// and does not use this value.
	CancellationErrorKind = "cancelled"
)
