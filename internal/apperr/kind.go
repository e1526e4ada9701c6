// Package apperr defines the application error taxonomy.
//
// Every failure raised by services, repositories, auth and validation code is
// either a *Condition (tagged with a family and optionally an explicit Kind)
// or a plain error. KindOf maps any error to exactly one Kind, so the HTTP
// layer can always produce a stable, machine-readable errorCode.
//
// Wire codes are kebab-case and are part of the public API contract:
//
//	unknown-error
//	validation-failed
//	common-error-with-message
//	data-processing-error
//	database-server-error
//	access-error
package apperr

import "slices"

// Kind is the canonical, client-facing error code.
type Kind string

const (
	KindUnknown           Kind = "unknown-error"
	KindValidationFailed  Kind = "validation-failed"
	KindCommonWithMessage Kind = "common-error-with-message"
	KindDataProcessing    Kind = "data-processing-error"
	KindDatabaseServer    Kind = "database-server-error"
	KindAccess            Kind = "access-error"
)

// Kinds lists every Kind in declaration order.
var Kinds = []Kind{
	KindUnknown,
	KindValidationFailed,
	KindCommonWithMessage,
	KindDataProcessing,
	KindDatabaseServer,
	KindAccess,
}

var defaultMessages = map[Kind]string{
	KindUnknown:           "Unhandled error",
	KindValidationFailed:  "Validation failed",
	KindCommonWithMessage: "Common error with message",
	KindDataProcessing:    "Data processing error",
	KindDatabaseServer:    "database error",
	KindAccess:            "Access error",
}

// DefaultMessage returns the human-readable fallback message for k.
// Unknown values fall back to the unknown-error message.
func (k Kind) DefaultMessage() string {
	if m, ok := defaultMessages[k]; ok {
		return m
	}
	return defaultMessages[KindUnknown]
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

func (k Kind) String() string { return string(k) }

// Family is the structural category of the raise site. The classifier chain
// dispatches on it; it never leaves the process.
type Family uint8

const (
	// FamilyNone marks an unclassified failure.
	FamilyNone Family = iota
	// FamilyValidation is a field-level input validation failure.
	FamilyValidation
	// FamilyQuery is a persistence-layer failure (constraint, connectivity).
	FamilyQuery
	// FamilyData is an explicitly raised business-rule violation.
	FamilyData
	// FamilyCommon covers HTTP-style conditions: bad request, not found,
	// unauthorized, forbidden, not acceptable, unprocessable.
	FamilyCommon
	// FamilyAccess is an access-denied domain condition.
	FamilyAccess
)

func (f Family) String() string {
	switch f {
	case FamilyValidation:
		return "validation"
	case FamilyQuery:
		return "query"
	case FamilyData:
		return "data"
	case FamilyCommon:
		return "common"
	case FamilyAccess:
		return "access"
	default:
		return "none"
	}
}

// kindForFamily is the implicit code of each family.
func kindForFamily(f Family) Kind {
	switch f {
	case FamilyValidation:
		return KindValidationFailed
	case FamilyQuery:
		return KindDatabaseServer
	case FamilyData:
		return KindDataProcessing
	case FamilyCommon, FamilyAccess:
		return KindCommonWithMessage
	default:
		return KindUnknown
	}
}
