package errfilter

import (
	"net/http"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// Body is the error envelope returned by every endpoint.
//
// Payload is an apperr.ValidationPayload only when ErrorCode is
// validation-failed; otherwise it is a stack trace string or omitted.
type Body struct {
	ErrorCode apperr.Kind `json:"errorCode" example:"common-error-with-message"`
	Message   string      `json:"message"   example:"Invalid login or password"`
	Payload   any         `json:"payload,omitempty" swaggertype:"string"`
}

// Input is what a matched rule hands to Format.
type Input struct {
	Kind    apperr.Kind
	Message string
	// Status is the resolved HTTP status; 0 falls back to 400.
	Status  int
	Details apperr.ValidationPayload
	Stack   string
	// AttachStack is set only by the catch-all rule.
	AttachStack bool
}

// Format builds the response body and status. It has no side effects and
// returns the same result for the same input.
func Format(in Input, policy Policy) (Body, int) {
	status := in.Status
	if status == 0 {
		status = http.StatusBadRequest
	}

	kind := in.Kind
	if !kind.Valid() {
		kind = apperr.KindUnknown
	}

	msg := in.Message
	if msg == "" {
		msg = kind.DefaultMessage()
	}

	body := Body{ErrorCode: kind, Message: msg}
	switch {
	case kind == apperr.KindValidationFailed:
		details := in.Details
		if details == nil {
			details = apperr.ValidationPayload{}
		}
		body.Payload = details
	case in.AttachStack && policy.AttachStackTrace && in.Stack != "":
		body.Payload = in.Stack
	}
	return body, status
}
