package errfilter

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/apperr"
)

// Request describes where a failure happened and how to answer it.
type Request struct {
	Target Target
	Method string
	// Path is the concrete request path or job name.
	Path string
	// Route is the matched route template, if any.
	Route string
	// Sink is required for TargetHTTP.
	Sink Sink
	// Logger overrides the chain logger (e.g. a request-scoped logger).
	Logger *zerolog.Logger
}

// Observer is notified once per handled failure.
type Observer func(kind apperr.Kind, status int)

// Option customises a Chain at construction.
type Option func(*Chain)

// WithObserver registers fn to be called for every handled failure.
func WithObserver(fn Observer) Option {
	return func(c *Chain) { c.observe = fn }
}

// Chain is the ordered set of rules that owns every uncaught failure.
type Chain struct {
	rules    []Rule
	fallback Rule
	policy   Policy
	log      zerolog.Logger
	observe  Observer
}

// New builds a chain with DefaultRules and CatchAll.
func New(policy Policy, log zerolog.Logger, opts ...Option) *Chain {
	c := &Chain{
		rules:    DefaultRules(),
		fallback: CatchAll(),
		policy:   policy,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the environment policy the chain was built with.
func (c *Chain) Policy() Policy { return c.policy }

// Rules returns a copy of the classified rules followed by the catch-all.
func (c *Chain) Rules() []Rule {
	out := make([]Rule, 0, len(c.rules)+1)
	out = append(out, c.rules...)
	return append(out, c.fallback)
}

// Classify returns the rule that owns err and the condition it matched on
// (nil for unclassified errors).
func (c *Chain) Classify(err error) (Rule, *apperr.Condition) {
	cond, _ := apperr.As(err)
	for _, r := range c.rules {
		if r.Match(cond) {
			return r, cond
		}
	}
	return c.fallback, cond
}

// Resolve classifies and formats err without side effects.
func (c *Chain) Resolve(err error) (Body, int, Rule) {
	rule, cond := c.Classify(err)
	in := Input{
		Kind:        rule.Code(cond),
		Message:     rule.Message(cond),
		Status:      rule.Status(cond),
		AttachStack: rule.AttachStack,
	}
	if cond != nil {
		in.Details = cond.Details()
	}
	if rule.AttachStack && c.policy.AttachStackTrace {
		in.Stack = apperr.Stack(err)
	}
	body, status := Format(in, c.policy)
	return body, status, rule
}

// Handle is the single entry point for uncaught failures. On TargetHTTP it
// writes the response and returns nil; on any other target it returns a
// *Resignal. A failed HTTP write is logged and never re-enters the chain.
func (c *Chain) Handle(err error, req Request) error {
	if err == nil {
		return nil
	}
	body, status, rule := c.Resolve(err)
	lg := c.logger(req)

	c.logOutcome(lg, req, rule, body, status, err)
	if c.observe != nil {
		c.observe(body.ErrorCode, status)
	}

	out := Deliver(req.Target, status, body, req.Sink)
	var rs *Resignal
	if out == nil || errors.As(out, &rs) {
		return out
	}
	lg.Warn().
		Err(out).
		Str("method", req.Method).
		Str("path", req.Path).
		Int("status", status).
		Msg("error response not delivered")
	return nil
}

func (c *Chain) logger(req Request) *zerolog.Logger {
	if req.Logger != nil {
		return req.Logger
	}
	return &c.log
}

func (c *Chain) logOutcome(lg *zerolog.Logger, req Request, rule Rule, body Body, status int, err error) {
	var ev *zerolog.Event
	switch rule.Log {
	case LogError:
		ev = lg.Error().Str("stack", apperr.Stack(err))
	case LogCommon:
		if !c.policy.LogCommonErrors {
			return
		}
		ev = lg.Info()
	default:
		return
	}
	ev.Err(err).
		Str("rule", rule.Name).
		Str("family", apperr.FamilyOf(err).String()).
		Str("target", string(req.Target)).
		Str("method", req.Method).
		Str("path", req.Path).
		Str("route", req.Route).
		Int("status", status).
		Interface("errorResponseBody", body).
		Msg("request failed")
}
