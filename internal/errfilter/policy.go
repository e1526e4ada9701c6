// Package errfilter turns raised failures into deterministic error responses.
//
// A Chain holds an ordered, immutable list of Rules. Handle scans the rules
// most-specific-first; the first match owns status, code and message, Format
// builds the wire Body under the process-wide Policy, and Deliver either
// writes the body to an HTTP sink or re-signals it as a *Resignal error for
// non-HTTP callers (background jobs).
//
// Wire shape:
//
//	{ "errorCode": "<kind>", "message": "<text>", "payload": <string | validation list | omitted> }
//
// The Chain holds no mutable state and is safe for concurrent use.
package errfilter

import (
	"strings"

	"github.com/tbourn/go-users-backend/internal/config"
)

// Policy holds the environment-dependent switches of the chain. It is
// computed once at startup and treated as read-only afterwards.
type Policy struct {
	// AttachStackTrace adds the stack trace as payload of unhandled errors.
	AttachStackTrace bool
	// LogCommonErrors logs common/access conditions (404, 401, ...).
	LogCommonErrors bool
}

// PolicyFor derives the Policy for an environment tag.
//
//	local, development, test → stack traces attached
//	local, development       → common errors logged
//	staging, production, any → neither
func PolicyFor(env string) Policy {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case config.EnvLocal, config.EnvDevelopment:
		return Policy{AttachStackTrace: true, LogCommonErrors: true}
	case config.EnvTest:
		return Policy{AttachStackTrace: true}
	default:
		return Policy{}
	}
}
