// Package validator asks the backend whether a realm's session is still
// valid, without ever touching the Session Store.
//
// At most one check per realm is in flight; concurrent callers share its
// result. The check runs detached from the first caller's cancellation, and a
// positive answer is handed to the caller's CommitFunc inside the flight, so a
// navigation that is abandoned part way still records what the backend said.
//
// Validate never returns an error. Transport failures, negative answers,
// malformed identities and panics inside the Checker all come back as an
// unauthenticated Result.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/telemetry"
)

// DefaultTimeout bounds a single detached check.
const DefaultTimeout = 10 * time.Second

// ErrUnsupportedRealm is returned by a Checker for realms it has no way to
// check. The validator treats it as a quiet negative answer.
var ErrUnsupportedRealm = errors.New("validator: realm has no check endpoint")

// Result is the outcome of a validation.
type Result struct {
	Authenticated bool
	Identity      auth.Identity
	Session       auth.Session

	// Abandoned is set when the caller's context ended before the shared
	// check completed. The check and its commit still run to completion.
	Abandoned bool
}

// CommitFunc receives a positive Result inside the shared check, before any
// caller sees it. A non-nil error turns the shared answer negative.
type CommitFunc func(ctx context.Context, res Result) error

// Checker performs the actual backend call for one realm.
type Checker interface {
	Check(ctx context.Context, realm auth.Realm) (Result, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, realm auth.Realm) (Result, error)

// Check calls f.
func (f CheckerFunc) Check(ctx context.Context, realm auth.Realm) (Result, error) {
	return f(ctx, realm)
}

// Validator deduplicates and sanitizes Checker calls.
type Validator struct {
	checker Checker
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// Option configures a Validator.
type Option func(*Validator)

// WithTimeout bounds each detached check. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithMetrics records every result in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// New creates a Validator around checker.
func New(checker Checker, logger *slog.Logger, opts ...Option) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := &Validator{
		checker: checker,
		timeout: DefaultTimeout,
		logger:  logger.With("component", "validator"),
		tracer:  telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate reports whether realm's session is valid right now.
//
// commit may be nil. Callers joining a flight that is already running share
// the commit of the caller that started it, so everyone sharing a Validator
// must pass equivalent commits.
//
// If ctx ends before the shared check completes, Validate returns a Result
// with Abandoned set; the check and its commit keep running regardless.
func (v *Validator) Validate(ctx context.Context, realm auth.Realm, commit CommitFunc) Result {
	if !realm.Valid() {
		return Result{}
	}

	ch := v.group.DoChan(string(realm), func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
		defer cancel()
		res := v.check(fctx, realm)
		if res.Authenticated && commit != nil {
			res = v.commit(fctx, realm, res, commit)
		}
		return res, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		return Result{Abandoned: true}
	}
}

// commit hands a positive answer to fn. The flight runs on its own goroutine,
// so a panic here must not escape.
func (v *Validator) commit(ctx context.Context, realm auth.Realm, res Result, fn CommitFunc) (out Result) {
	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("commit panic",
				"realm", realm,
				"panic", p,
				"stack", string(debug.Stack()))
			out = Result{}
		}
	}()

	if err := fn(ctx, res); err != nil {
		v.logger.Warn("validated session rejected", "realm", realm, "error", err)
		return Result{}
	}
	return res
}

// check runs one Checker call and normalizes its outcome.
func (v *Validator) check(ctx context.Context, realm auth.Realm) (result Result) {
	ctx, span := v.tracer.Start(ctx, "portal.validator.validate",
		trace.WithAttributes(attribute.String("portal.realm", string(realm))),
	)
	outcome := telemetry.ResultUnauthenticated
	var spanErr error
	defer func() {
		span.SetAttributes(attribute.String("portal.validation_result", outcome))
		v.metrics.RecordValidation(string(realm), outcome)
		telemetry.EndSpan(span, spanErr)
	}()

	defer func() {
		if p := recover(); p != nil {
			v.logger.Error("validation panic",
				"realm", realm,
				"panic", p,
				"stack", string(debug.Stack()))
			outcome = telemetry.ResultPanic
			spanErr = fmt.Errorf("panic: %v", p)
			result = Result{}
		}
	}()

	res, err := v.checker.Check(ctx, realm)
	switch {
	case errors.Is(err, ErrUnsupportedRealm):
		outcome = telemetry.ResultSkipped
		return Result{}
	case errors.Is(err, auth.ErrValidationTransport):
		v.logger.Warn("ValidationTransportFailure", "realm", realm, "error", err)
		outcome = telemetry.ResultTransportError
		spanErr = err
		return Result{}
	case err != nil:
		v.logger.Debug("session not valid", "realm", realm, "error", err)
		return Result{}
	case !res.Authenticated:
		return Result{}
	}

	if res.Session.Realm == "" {
		res.Session.Realm = realm
	}
	if res.Session.Realm != realm {
		v.logger.Warn("checker answered for the wrong realm", "realm", realm, "got", res.Session.Realm)
		return Result{}
	}
	if err := auth.Check(res.Identity, res.Session); err != nil {
		v.logger.Warn("checker returned unusable identity", "realm", realm, "error", err)
		return Result{}
	}

	outcome = telemetry.ResultAuthenticated
	return res
}
