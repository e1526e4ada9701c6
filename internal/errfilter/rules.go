package errfilter

import (
	"net/http"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// LogMode selects what a rule logs when it fires.
type LogMode uint8

const (
	// LogNever keeps the rule silent (expected, frequent failures).
	LogNever LogMode = iota
	// LogError always logs at error severity.
	LogError
	// LogCommon logs at info severity when Policy.LogCommonErrors is set.
	LogCommon
)

// Rule maps one family of conditions to a response. The condition passed to
// the resolvers is nil for unclassified errors; only the catch-all rule ever
// sees nil.
type Rule struct {
	Name        string
	Match       func(*apperr.Condition) bool
	Status      func(*apperr.Condition) int
	Code        func(*apperr.Condition) apperr.Kind
	Message     func(*apperr.Condition) string
	Log         LogMode
	AttachStack bool
}

// DefaultRules returns the classified rules in priority order. Every rule
// requires a family tag, so an error matches at most one of them; whatever
// matches none is owned by CatchAll.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "validation",
			Match:   familyIs(apperr.FamilyValidation),
			Status:  fixedStatus(http.StatusBadRequest),
			Code:    explicitOr(apperr.KindValidationFailed),
			Message: messageOr(apperr.KindValidationFailed.DefaultMessage()),
			Log:     LogNever,
		},
		{
			Name:    "query",
			Match:   familyIs(apperr.FamilyQuery),
			Status:  fixedStatus(http.StatusInternalServerError),
			Code:    explicitOr(apperr.KindDatabaseServer),
			Message: fixedMessage(apperr.KindDatabaseServer.DefaultMessage()),
			Log:     LogError,
		},
		{
			Name:    "data",
			Match:   familyIs(apperr.FamilyData),
			Status:  hintOr(http.StatusBadRequest),
			Code:    explicitOr(apperr.KindDataProcessing),
			Message: messageOr(apperr.KindDataProcessing.DefaultMessage()),
			Log:     LogError,
		},
		{
			Name:    "common",
			Match:   familyIs(apperr.FamilyCommon, apperr.FamilyAccess),
			Status:  hintOr(http.StatusBadRequest),
			Code:    explicitOr(apperr.KindCommonWithMessage),
			Message: messageOr(apperr.KindCommonWithMessage.DefaultMessage()),
			Log:     LogCommon,
		},
	}
}

// CatchAll owns every error no classified rule matched.
func CatchAll() Rule {
	return Rule{
		Name:        "unhandled",
		Match:       func(*apperr.Condition) bool { return true },
		Status:      fixedStatus(http.StatusInternalServerError),
		Code:        fixedKind(apperr.KindUnknown),
		Message:     fixedMessage(apperr.KindUnknown.DefaultMessage()),
		Log:         LogError,
		AttachStack: true,
	}
}

func familyIs(families ...apperr.Family) func(*apperr.Condition) bool {
	return func(c *apperr.Condition) bool {
		if c == nil {
			return false
		}
		for _, f := range families {
			if c.Family() == f {
				return true
			}
		}
		return false
	}
}

func fixedStatus(status int) func(*apperr.Condition) int {
	return func(*apperr.Condition) int { return status }
}

func hintOr(def int) func(*apperr.Condition) int {
	return func(c *apperr.Condition) int {
		if c != nil && c.Status() > 0 {
			return c.Status()
		}
		return def
	}
}

func fixedKind(k apperr.Kind) func(*apperr.Condition) apperr.Kind {
	return func(*apperr.Condition) apperr.Kind { return k }
}

func explicitOr(def apperr.Kind) func(*apperr.Condition) apperr.Kind {
	return func(c *apperr.Condition) apperr.Kind {
		if c != nil {
			if k, ok := c.ExplicitKind(); ok {
				return k
			}
		}
		return def
	}
}

func fixedMessage(msg string) func(*apperr.Condition) string {
	return func(*apperr.Condition) string { return msg }
}

func messageOr(def string) func(*apperr.Condition) string {
	return func(c *apperr.Condition) string {
		if c != nil && c.Message() != "" {
			return c.Message()
		}
		return def
	}
}
