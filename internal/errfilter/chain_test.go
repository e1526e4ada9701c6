package errfilter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-users-backend/internal/apperr"
	"github.com/tbourn/go-users-backend/internal/config"
)

// recordingSink captures what the chain writes.
type recordingSink struct {
	status int
	body   Body
	calls  int
	err    error
}

func (s *recordingSink) WriteJSON(status int, body any) error {
	s.calls++
	s.status = status
	s.body = body.(Body)
	return s.err
}

func newTestChain(t *testing.T, env string) (*Chain, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(PolicyFor(env), zerolog.New(&buf)), &buf
}

func handleHTTP(t *testing.T, c *Chain, err error) (*recordingSink, error) {
	t.Helper()
	sink := &recordingSink{}
	out := c.Handle(err, Request{Target: TargetHTTP, Method: http.MethodPost, Path: "/api/v1/users", Sink: sink})
	if sink.calls != 1 {
		t.Fatalf("sink called %d times", sink.calls)
	}
	return sink, out
}

// roundTrip marshals a body as the client sees it.
func roundTrip(t *testing.T, b Body) map[string]any {
	t.Helper()
	raw, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return m
}

// --- end-to-end cases ---

func TestValidationInProduction(t *testing.T) {
	c, logs := newTestChain(t, config.EnvProduction)
	details := apperr.ValidationPayload{{Field: "email", Error: "invalid"}}

	sink, out := handleHTTP(t, c, apperr.Validation(details))
	if out != nil {
		t.Fatalf("http delivery must return nil, got %v", out)
	}
	if sink.status != http.StatusBadRequest {
		t.Fatalf("status = %d", sink.status)
	}
	if sink.body.ErrorCode != apperr.KindValidationFailed || sink.body.Message != "Validation failed" {
		t.Fatalf("body = %+v", sink.body)
	}
	got, ok := sink.body.Payload.(apperr.ValidationPayload)
	if !ok || len(got) != 1 || got[0] != details[0] {
		t.Fatalf("payload = %#v", sink.body.Payload)
	}
	if logs.Len() != 0 {
		t.Fatalf("validation must not log, got %s", logs.String())
	}
}

func TestUnclassifiedInDevelopment(t *testing.T) {
	c, logs := newTestChain(t, config.EnvDevelopment)

	sink, _ := handleHTTP(t, c, pkgerrors.New("boom"))
	if sink.status != http.StatusInternalServerError {
		t.Fatalf("status = %d", sink.status)
	}
	if sink.body.ErrorCode != apperr.KindUnknown || sink.body.Message != "Unhandled error" {
		t.Fatalf("body = %+v", sink.body)
	}
	stack, ok := sink.body.Payload.(string)
	if !ok || !strings.Contains(stack, "boom") || !strings.Contains(stack, "TestUnclassifiedInDevelopment") {
		t.Fatalf("payload should be the stack trace, got %#v", sink.body.Payload)
	}
	if !strings.Contains(logs.String(), `"level":"error"`) {
		t.Fatalf("unhandled errors must log at error level: %s", logs.String())
	}
	for _, want := range []string{`"method":"POST"`, `"path":"/api/v1/users"`, `"errorResponseBody"`} {
		if !strings.Contains(logs.String(), want) {
			t.Fatalf("log missing %s: %s", want, logs.String())
		}
	}
}

func TestUnclassifiedInProduction(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)

	sink, _ := handleHTTP(t, c, errors.New("boom"))
	if sink.status != http.StatusInternalServerError || sink.body.ErrorCode != apperr.KindUnknown {
		t.Fatalf("unexpected: %d %+v", sink.status, sink.body)
	}
	if sink.body.Payload != nil {
		t.Fatalf("payload must be omitted in production, got %#v", sink.body.Payload)
	}
	if _, present := roundTrip(t, sink.body)["payload"]; present {
		t.Fatalf("payload key must be absent on the wire")
	}
}

func TestAccessDeniedAnyEnvironment(t *testing.T) {
	for _, env := range []string{config.EnvLocal, config.EnvDevelopment, config.EnvStaging, config.EnvProduction, config.EnvTest} {
		c, _ := newTestChain(t, env)
		sink, _ := handleHTTP(t, c, apperr.AccessDenied("Invalid login or password"))
		if sink.status != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", env, sink.status)
		}
		want := Body{ErrorCode: apperr.KindCommonWithMessage, Message: "Invalid login or password"}
		if sink.body != want {
			t.Fatalf("%s: body = %+v", env, sink.body)
		}
	}
}

func TestDatabaseMessageNeverLeaks(t *testing.T) {
	const driverMsg = "duplicate key value violates unique constraint"
	for _, env := range []string{config.EnvLocal, config.EnvProduction} {
		c, logs := newTestChain(t, env)
		sink, _ := handleHTTP(t, c, apperr.Query(errors.New(driverMsg)))

		if sink.status != http.StatusInternalServerError {
			t.Fatalf("status = %d", sink.status)
		}
		want := Body{ErrorCode: apperr.KindDatabaseServer, Message: "database error"}
		if sink.body != want {
			t.Fatalf("%s: body = %+v", env, sink.body)
		}
		raw, _ := json.Marshal(sink.body)
		if strings.Contains(string(raw), driverMsg) {
			t.Fatalf("driver text leaked: %s", raw)
		}
		if !strings.Contains(logs.String(), driverMsg) {
			t.Fatalf("driver text must be in the server log: %s", logs.String())
		}
	}
}

// --- properties ---

func TestExplicitKindIsEmitted(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)
	raised := []*apperr.Condition{
		apperr.Validation(nil),
		apperr.Query(errors.New("x")),
		apperr.Data("x"),
		apperr.NotFound("x"),
		apperr.AccessDenied("x"),
	}
	for _, base := range raised {
		for _, k := range apperr.Kinds {
			body, _, _ := c.Resolve(base.WithKind(k))
			if body.ErrorCode != k {
				t.Fatalf("family %s kind %s: got %s", base.Family(), k, body.ErrorCode)
			}
		}
	}
}

func TestUnclassifiedIsUnknown500(t *testing.T) {
	c, _ := newTestChain(t, config.EnvTest)
	for _, err := range []error{
		errors.New("plain"),
		fmt.Errorf("wrapped: %w", context.DeadlineExceeded),
		apperr.FromPanic("kaboom"),
	} {
		body, status, rule := c.Resolve(err)
		if body.ErrorCode != apperr.KindUnknown || status != http.StatusInternalServerError || rule.Name != "unhandled" {
			t.Fatalf("%v: %+v %d %s", err, body, status, rule.Name)
		}
	}
}

func TestValidationPayloadIffValidationCode(t *testing.T) {
	c, _ := newTestChain(t, config.EnvLocal)
	details := apperr.ValidationPayload{{Field: "name", Error: "too long"}}

	for _, err := range []error{
		apperr.Validation(details),
		apperr.Validation(details).WithKind(apperr.KindAccess),
		apperr.Data("x").WithKind(apperr.KindValidationFailed),
		apperr.NotFound("x"),
		errors.New("x"),
	} {
		first, _, _ := c.Resolve(err)
		second, _, _ := c.Resolve(err)
		_, isPayload := first.Payload.(apperr.ValidationPayload)
		if isPayload != (first.ErrorCode == apperr.KindValidationFailed) {
			t.Fatalf("%v: code=%s payload=%#v", err, first.ErrorCode, first.Payload)
		}
		a, _ := json.Marshal(first)
		b, _ := json.Marshal(second)
		if !bytes.Equal(a, b) {
			t.Fatalf("formatting not idempotent: %s vs %s", a, b)
		}
	}
}

func TestStackOnlyForCatchAllInDiagnosticEnvs(t *testing.T) {
	envs := map[string]bool{
		config.EnvLocal:       true,
		config.EnvDevelopment: true,
		config.EnvTest:        true,
		config.EnvStaging:     false,
		config.EnvProduction:  false,
	}
	for env, wantStack := range envs {
		c, _ := newTestChain(t, env)

		body, _, _ := c.Resolve(pkgerrors.New("boom"))
		_, hasStack := body.Payload.(string)
		if hasStack != wantStack {
			t.Fatalf("%s: catch-all stack=%v want %v", env, hasStack, wantStack)
		}

		for _, classified := range []error{
			apperr.Query(errors.New("x")),
			apperr.Data("x"),
			apperr.Forbidden("x"),
		} {
			body, _, _ := c.Resolve(classified)
			if body.Payload != nil {
				t.Fatalf("%s: classified rule attached payload %#v", env, body.Payload)
			}
		}
	}
}

func TestQueryMessageIsGeneric(t *testing.T) {
	c, _ := newTestChain(t, config.EnvLocal)
	q := apperr.Query(errors.New(`pq: relation "users" does not exist`))
	body, _, _ := c.Resolve(fmt.Errorf("load user: %w", q))
	if body.Message != "database error" || strings.Contains(body.Message, "relation") {
		t.Fatalf("message leaked: %q", body.Message)
	}
}

// --- rule behaviour ---

func TestRules_StatusResolution(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)
	cases := []struct {
		err  error
		want int
		code apperr.Kind
	}{
		{apperr.Data("x"), http.StatusBadRequest, apperr.KindDataProcessing},
		{apperr.DataWithStatus(http.StatusConflict, "x"), http.StatusConflict, apperr.KindDataProcessing},
		{apperr.TokenGeneration("no secret"), http.StatusInternalServerError, apperr.KindAccess},
		{apperr.Unauthorized("x"), http.StatusUnauthorized, apperr.KindCommonWithMessage},
		{apperr.Forbidden("x"), http.StatusForbidden, apperr.KindCommonWithMessage},
		{apperr.NotFound("x"), http.StatusNotFound, apperr.KindCommonWithMessage},
		{apperr.NotAcceptable("x"), http.StatusNotAcceptable, apperr.KindCommonWithMessage},
		{apperr.Unprocessable("x"), http.StatusUnprocessableEntity, apperr.KindCommonWithMessage},
		{apperr.AccessDenied("x").WithStatus(http.StatusForbidden), http.StatusForbidden, apperr.KindCommonWithMessage},
	}
	for _, tc := range cases {
		body, status, _ := c.Resolve(tc.err)
		if status != tc.want || body.ErrorCode != tc.code {
			t.Fatalf("%v: got %d/%s want %d/%s", tc.err, status, body.ErrorCode, tc.want, tc.code)
		}
	}
}

func TestRules_DefaultMessages(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)
	if b, _, _ := c.Resolve(apperr.Data("")); b.Message != "Data processing error" {
		t.Fatalf("data default = %q", b.Message)
	}
	if b, _, _ := c.Resolve(apperr.Common(http.StatusNotFound, "")); b.Message != "Common error with message" {
		t.Fatalf("common default = %q", b.Message)
	}
}

func TestRules_AtMostOneClassifiedRuleMatches(t *testing.T) {
	conds := []*apperr.Condition{
		nil,
		apperr.Validation(nil),
		apperr.Query(errors.New("x")),
		apperr.Data("x"),
		apperr.NotFound("x"),
		apperr.AccessDenied("x"),
	}
	for _, cond := range conds {
		n := 0
		for _, r := range DefaultRules() {
			if r.Match(cond) {
				n++
			}
		}
		want := 1
		if cond == nil {
			want = 0
		}
		if n != want {
			t.Fatalf("%v matched %d rules", cond, n)
		}
	}
	if !CatchAll().Match(nil) {
		t.Fatalf("catch-all must match everything")
	}
}

func TestChain_RulesOrder(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)
	var names []string
	for _, r := range c.Rules() {
		names = append(names, r.Name)
	}
	if got := strings.Join(names, ","); got != "validation,query,data,common,unhandled" {
		t.Fatalf("rule order = %s", got)
	}
}

// --- logging policy ---

func TestLogging_CommonErrorsFollowPolicy(t *testing.T) {
	c, logs := newTestChain(t, config.EnvDevelopment)
	handleHTTP(t, c, apperr.NotFound("user not found"))
	if !strings.Contains(logs.String(), `"level":"info"`) || !strings.Contains(logs.String(), `"rule":"common"`) {
		t.Fatalf("development should log common errors: %s", logs.String())
	}

	c, logs = newTestChain(t, config.EnvTest)
	handleHTTP(t, c, apperr.NotFound("user not found"))
	if logs.Len() != 0 {
		t.Fatalf("test env must not log common errors: %s", logs.String())
	}
}

func TestLogging_DataAndQueryAlwaysLog(t *testing.T) {
	c, logs := newTestChain(t, config.EnvProduction)
	handleHTTP(t, c, apperr.Data("rule broken"))
	handleHTTP(t, c, apperr.Query(errors.New("conn refused")))
	if strings.Count(logs.String(), `"level":"error"`) != 2 {
		t.Fatalf("expected two error records: %s", logs.String())
	}
}

func TestLogging_RequestLoggerOverride(t *testing.T) {
	c, chainLogs := newTestChain(t, config.EnvProduction)
	var reqBuf bytes.Buffer
	reqLog := zerolog.New(&reqBuf).With().Str("request_id", "rid-1").Logger()

	_ = c.Handle(errors.New("boom"), Request{Target: TargetHTTP, Sink: &recordingSink{}, Logger: &reqLog})
	if chainLogs.Len() != 0 || !strings.Contains(reqBuf.String(), `"request_id":"rid-1"`) {
		t.Fatalf("request logger not used: chain=%q req=%q", chainLogs.String(), reqBuf.String())
	}
}

// --- delivery ---

func TestHandle_FailedWriteIsNotEscalated(t *testing.T) {
	c, logs := newTestChain(t, config.EnvProduction)
	sink := &recordingSink{err: context.Canceled}

	if out := c.Handle(apperr.NotFound("x"), Request{Target: TargetHTTP, Sink: sink}); out != nil {
		t.Fatalf("write failures must not escalate, got %v", out)
	}
	if sink.calls != 1 {
		t.Fatalf("sink called %d times", sink.calls)
	}
	if !strings.Contains(logs.String(), "error response not delivered") {
		t.Fatalf("failed write should be logged once: %s", logs.String())
	}
}

func TestHandle_OtherTargetResignals(t *testing.T) {
	c, _ := newTestChain(t, config.EnvProduction)

	out := c.Handle(apperr.Data("seed failed"), Request{Target: TargetOther, Method: "JOB", Path: "seed-admin"})
	var rs *Resignal
	if !errors.As(out, &rs) {
		t.Fatalf("expected *Resignal, got %T", out)
	}
	if rs.Status != http.StatusBadRequest || rs.Body.ErrorCode != apperr.KindDataProcessing {
		t.Fatalf("resignal = %+v", rs)
	}
	var decoded Body
	if err := json.Unmarshal([]byte(rs.Error()), &decoded); err != nil {
		t.Fatalf("Error() must be the serialised body: %v", err)
	}
	if decoded.Message != "seed failed" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestHandle_NilErrorIsNoop(t *testing.T) {
	c, logs := newTestChain(t, config.EnvLocal)
	sink := &recordingSink{}
	if out := c.Handle(nil, Request{Target: TargetHTTP, Sink: sink}); out != nil || sink.calls != 0 || logs.Len() != 0 {
		t.Fatalf("nil error must be ignored")
	}
}

func TestHandle_ObserverCalledOnce(t *testing.T) {
	var got []string
	c := New(PolicyFor(config.EnvProduction), zerolog.Nop(), WithObserver(func(k apperr.Kind, status int) {
		got = append(got, fmt.Sprintf("%s/%d", k, status))
	}))
	_ = c.Handle(apperr.Unauthorized("x"), Request{Target: TargetHTTP, Sink: &recordingSink{}})
	if len(got) != 1 || got[0] != "common-error-with-message/401" {
		t.Fatalf("observer calls = %v", got)
	}
}

func TestHandle_ConcurrentUse(t *testing.T) {
	c := New(PolicyFor(config.EnvLocal), zerolog.Nop())
	errs := []error{
		apperr.Validation(apperr.ValidationPayload{{Field: "f", Error: "e"}}),
		apperr.Query(errors.New("x")),
		apperr.Data("x"),
		apperr.NotFound("x"),
		errors.New("x"),
	}
	want := []int{400, 500, 400, 404, 500}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for j := range errs {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				sink := &recordingSink{}
				_ = c.Handle(errs[j], Request{Target: TargetHTTP, Sink: sink})
				if sink.status != want[j] {
					t.Errorf("err %d: status %d want %d", j, sink.status, want[j])
				}
			}(j)
		}
	}
	wg.Wait()
}
