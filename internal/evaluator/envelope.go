package evaluator

import (
	"encoding/json"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// envelope is the wire shape fed to a guest's validate entrypoint: the
// tagged-union request alongside raw policy settings (spec §6 "Validation
// request envelope"). types.ValidateRequest already implements the
// {"request": ...} half via its own MarshalJSON; embedding it here composes
// that with the settings field the caller assembles separately.
type envelope struct {
	Request  types.ValidateRequest `json:"request"`
	Settings json.RawMessage       `json:"settings,omitempty"`
}

// guestCallRequest is the shape a guest sends over its embedded
// host-callback function: a bus verb plus that verb's JSON-encoded payload.
type guestCallRequest struct {
	Verb    string          `json:"verb"`
	Payload json.RawMessage `json:"payload"`
}

// guestCallResponse is the shape written back to the guest after the host
// bridges a callback onto the bus and awaits its reply.
type guestCallResponse struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
