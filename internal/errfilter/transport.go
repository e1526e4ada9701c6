package errfilter

import (
	"encoding/json"
	"errors"
)

// Target names the transport a failure is being delivered on.
type Target string

const (
	// TargetHTTP writes the body to an HTTP response.
	TargetHTTP Target = "http"
	// TargetOther covers background jobs and any non-HTTP caller; the body
	// is re-signalled as a *Resignal error.
	TargetOther Target = "other"
)

// ErrNoSink is returned when an HTTP delivery has nowhere to write.
var ErrNoSink = errors.New("errfilter: http target without response sink")

// Sink receives a status and a JSON-serialisable body.
type Sink interface {
	WriteJSON(status int, body any) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(status int, body any) error

func (f SinkFunc) WriteJSON(status int, body any) error { return f(status, body) }

// Resignal carries a formatted error body to an outer, transport-specific
// handler. Its Error() is the serialised body.
type Resignal struct {
	Status int
	Body   Body
	raw    string
}

func (r *Resignal) Error() string { return r.raw }

// Deliver emits body on target. HTTP targets write to sink and return the
// write error, if any; every other target returns a *Resignal.
func Deliver(target Target, status int, body Body, sink Sink) error {
	if target == TargetHTTP {
		if sink == nil {
			return ErrNoSink
		}
		return sink.WriteJSON(status, body)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		// Drop the payload, keep code and message.
		raw, _ = json.Marshal(Body{ErrorCode: body.ErrorCode, Message: body.Message})
	}
	return &Resignal{Status: status, Body: body, raw: string(raw)}
}
