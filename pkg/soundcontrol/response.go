package soundcontrol

import (
	"errors"
	"net/http"

	"github.com/stalexteam/soundcontrol/pkg/soundcontrol/mixer"
)

const (
	errorKindMalformed        = "malformed_command"
	errorKindUnknownOpcode    = "unknown_opcode"
	errorKindSessionNotFound  = "session_not_found"
	errorKindEndpointNotFound = "endpoint_not_found"
	errorKindPartialMutation  = "partial_mutation"
	errorKindProvider         = "provider_failure"
)

// errorBody is sent instead of a payload when a command fails
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`

	// set for partially applied default-device switches only
	AppliedRoles []mixer.Role    `json:"appliedRoles,omitempty"`
	FailedRole   *mixer.Role     `json:"failedRole,omitempty"`
	Snapshot     *mixer.Snapshot `json:"snapshot,omitempty"`
}

// classifyError maps a command error to an HTTP status and an error kind
func classifyError(err error) (int, string) {
	var partial *mixer.PartialMutationError

	switch {
	case errors.As(err, &partial):
		return http.StatusConflict, errorKindPartialMutation
	case errors.Is(err, mixer.ErrMalformedCommand):
		return http.StatusBadRequest, errorKindMalformed
	case errors.Is(err, mixer.ErrUnknownOpcode):
		return http.StatusBadRequest, errorKindUnknownOpcode
	case errors.Is(err, mixer.ErrSessionNotFound):
		return http.StatusNotFound, errorKindSessionNotFound
	case errors.Is(err, mixer.ErrEndpointNotFound):
		return http.StatusNotFound, errorKindEndpointNotFound
	default:
		return http.StatusBadGateway, errorKindProvider
	}
}

// replyBody returns the status and the value to serialize for a command outcome
func replyBody(reply mixer.Reply, err error) (int, interface{}) {
	if err == nil {
		return http.StatusOK, reply.Payload()
	}

	status, kind := classifyError(err)
	body := errorBody{
		Error: err.Error(),
		Kind:  kind,
	}

	var partial *mixer.PartialMutationError
	if errors.As(err, &partial) {
		failed := partial.Failed
		body.AppliedRoles = partial.Applied
		body.FailedRole = &failed
		body.Snapshot = reply.Snapshot
	}

	return status, body
}
