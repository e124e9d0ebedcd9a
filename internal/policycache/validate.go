package policycache

import (
	"fmt"

	"github.com/kubewarden/policy-engine/internal/constants"
	"github.com/kubewarden/policy-engine/pkg/types"
)

var knownExecutionModes = map[string]bool{
	constants.ExecutionModeKubewardenWapc: true,
	constants.ExecutionModeWasi:           true,
	constants.ExecutionModeOPA:            true,
	constants.ExecutionModeGatekeeper:     true,
}

// validateMetadata enforces spec §3's policy-module invariants: a known
// execution mode must be declared; message-oriented modules must declare
// the single supported protocol version; the declared minimum platform
// version, truncated to (major, minor), must not exceed platformMajor.platformMinor.
func validateMetadata(metadata types.Metadata, platformMajor, platformMinor uint64) error {
	if metadata.ExecutionMode == "" {
		return fmt.Errorf("policy metadata does not declare an execution mode")
	}
	if !knownExecutionModes[metadata.ExecutionMode] {
		return fmt.Errorf("policy declares unknown execution mode %q", metadata.ExecutionMode)
	}

	if metadata.ExecutionMode == constants.ExecutionModeKubewardenWapc {
		if metadata.ProtocolVersion == "" {
			return fmt.Errorf("policy is missing protocol version, required for execution mode %q", constants.ExecutionModeKubewardenWapc)
		}
		if metadata.ProtocolVersion != constants.SupportedProtocolVersion {
			return fmt.Errorf("policy uses protocol version %q but only %q is supported", metadata.ProtocolVersion, constants.SupportedProtocolVersion)
		}
	}

	major, minor, ok, err := metadata.TruncatedMinimumPlatformVersion()
	if err != nil {
		return err
	}
	if ok && versionLess(platformMajor, platformMinor, major, minor) {
		return fmt.Errorf("policy requires minimum platform version %d.%d but running platform is %d.%d",
			major, minor, platformMajor, platformMinor)
	}
	return nil
}

// versionLess reports whether (major, minor) < (wantMajor, wantMinor).
func versionLess(major, minor, wantMajor, wantMinor uint64) bool {
	if major != wantMajor {
		return major < wantMajor
	}
	return minor < wantMinor
}
