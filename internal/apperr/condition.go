package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	pkgerrors "github.com/pkg/errors"
)

// maxStackDepth bounds the number of frames captured per condition.
const maxStackDepth = 32

// Condition is a classified failure raised somewhere in request processing.
//
// A Condition is immutable once created; WithKind and WithStatus return
// modified copies. The zero value is not useful, use the constructors.
type Condition struct {
	family  Family
	kind    Kind // explicit code; "" means derive from family
	message string
	status  int // status hint; 0 means "use the rule default"
	details ValidationPayload
	cause   error
	stack   pkgerrors.StackTrace
}

func newCondition(f Family, status int, msg string, cause error) *Condition {
	return &Condition{
		family:  f,
		status:  status,
		message: msg,
		cause:   cause,
		stack:   captureStack(2),
	}
}

// Error implements error. It includes the wrapped cause, so it must never be
// sent to clients as-is; the response formatter decides what is exposed.
func (c *Condition) Error() string {
	msg := c.message
	if msg == "" {
		msg = c.Kind().DefaultMessage()
	}
	if c.cause != nil {
		return msg + ": " + c.cause.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause to errors.Is / errors.As.
func (c *Condition) Unwrap() error { return c.cause }

// Family returns the structural category of the raise site.
func (c *Condition) Family() Family { return c.family }

// Kind returns the explicit kind if one was set, otherwise the family's kind.
func (c *Condition) Kind() Kind {
	if c.kind != "" {
		return c.kind
	}
	return kindForFamily(c.family)
}

// ExplicitKind returns the kind set via WithKind (or a constructor that sets
// one) and whether it was set.
func (c *Condition) ExplicitKind() (Kind, bool) { return c.kind, c.kind != "" }

// Message returns the raise-site message, possibly empty.
func (c *Condition) Message() string { return c.message }

// Status returns the HTTP status hint, 0 when the raise site gave none.
func (c *Condition) Status() int { return c.status }

// Details returns the field-level validation payload. It is nil for every
// family other than FamilyValidation.
func (c *Condition) Details() ValidationPayload { return c.details }

// StackTrace returns the frames captured when the condition was raised.
func (c *Condition) StackTrace() pkgerrors.StackTrace { return c.stack }

// WithKind returns a copy of c carrying an explicit kind.
func (c *Condition) WithKind(k Kind) *Condition {
	cp := *c
	cp.kind = k
	return &cp
}

// WithStatus returns a copy of c carrying an HTTP status hint.
func (c *Condition) WithStatus(status int) *Condition {
	cp := *c
	cp.status = status
	return &cp
}

// As finds the first *Condition in err's chain.
func As(err error) (*Condition, bool) {
	var c *Condition
	if errors.As(err, &c) && c != nil {
		return c, true
	}
	return nil, false
}

// FamilyOf returns the family of the first *Condition in err's chain, or
// FamilyNone for unclassified errors.
func FamilyOf(err error) Family {
	if c, ok := As(err); ok {
		return c.family
	}
	return FamilyNone
}

// KindOf maps any error to exactly one Kind. Explicit kinds win, then the
// family decides; everything else is unknown-error.
func KindOf(err error) Kind {
	if c, ok := As(err); ok {
		return c.Kind()
	}
	return KindUnknown
}

// Stack renders the stack trace of err for diagnostics. Conditions and
// github.com/pkg/errors values carry their own frames; other errors render as
// their message only.
func Stack(err error) string {
	if err == nil {
		return ""
	}
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok && len(st.StackTrace()) > 0 {
			return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
		}
	}
	return err.Error()
}

// EnsureStack returns err unchanged when it already carries stack frames and
// otherwise wraps it with the caller's stack. Classification and messages
// are unaffected.
func EnsureStack(err error) error {
	if err == nil || hasStack(err) {
		return err
	}
	return pkgerrors.WithStack(err)
}

func hasStack(err error) bool {
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok && len(st.StackTrace()) > 0 {
			return true
		}
	}
	return false
}

// --- constructors ---

// Validation raises a field-level validation failure.
func Validation(details ValidationPayload) *Condition {
	c := newCondition(FamilyValidation, http.StatusBadRequest, "", nil)
	c.details = details
	return c
}

// Query wraps a persistence-layer failure. The driver message stays in the
// cause and is never exposed to clients.
func Query(err error) *Condition {
	return newCondition(FamilyQuery, http.StatusInternalServerError, "", err)
}

// Data raises a business-rule violation with the default 400 status.
func Data(msg string) *Condition {
	return newCondition(FamilyData, 0, msg, nil)
}

// DataWithStatus raises a business-rule violation with an explicit status.
func DataWithStatus(status int, msg string) *Condition {
	return newCondition(FamilyData, status, msg, nil)
}

// TokenGeneration reports that an access or refresh token could not be
// produced (missing secret, signing failure).
func TokenGeneration(msg string) *Condition {
	c := newCondition(FamilyData, http.StatusInternalServerError, msg, nil)
	c.kind = KindAccess
	return c
}

// AccessDenied raises the access-denied domain condition. It carries no
// status hint, so it is reported as 400.
func AccessDenied(msg string) *Condition {
	return newCondition(FamilyAccess, 0, msg, nil)
}

// Common raises an HTTP-style condition with an explicit status.
func Common(status int, msg string) *Condition {
	return newCondition(FamilyCommon, status, msg, nil)
}

func BadRequest(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusBadRequest, msg, nil)
}

func Unauthorized(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusUnauthorized, msg, nil)
}

func Forbidden(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusForbidden, msg, nil)
}

func NotFound(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusNotFound, msg, nil)
}

func NotAcceptable(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusNotAcceptable, msg, nil)
}

func Unprocessable(msg string) *Condition {
	return newCondition(FamilyCommon, http.StatusUnprocessableEntity, msg, nil)
}

// PanicError is an unclassified failure recovered from a panic.
type PanicError struct {
	Value any
	stack pkgerrors.StackTrace
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic: %v", p.Value) }

// StackTrace returns the frames of the panicking goroutine.
func (p *PanicError) StackTrace() pkgerrors.StackTrace { return p.stack }

// FromPanic converts a recovered value into an error. Errors are returned
// unchanged when they already carry a Condition; everything else becomes an
// unclassified *PanicError so the catch-all rule owns it.
func FromPanic(v any) error {
	if err, ok := v.(error); ok {
		if _, ok := As(err); ok {
			return err
		}
	}
	// Skip runtime.gopanic and the deferred recover closure.
	return &PanicError{Value: v, stack: captureStack(3)}
}

// captureStack records the caller's stack, skipping skip frames above it.
func captureStack(skip int) pkgerrors.StackTrace {
	var pcs [maxStackDepth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	st := make(pkgerrors.StackTrace, n)
	for i := 0; i < n; i++ {
		st[i] = pkgerrors.Frame(pcs[i])
	}
	return st
}
