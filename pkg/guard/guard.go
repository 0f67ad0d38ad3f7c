package guard

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/realm"
	"github.com/quota-bridge/portal/pkg/routepath"
	"github.com/quota-bridge/portal/pkg/telemetry"
	"github.com/quota-bridge/portal/pkg/toast"
	"github.com/quota-bridge/portal/pkg/validator"
)

// SessionStore is the part of session.Store the guard reads and writes.
type SessionStore interface {
	Get(r auth.Realm) (auth.Identity, auth.Session, bool)
	Active(preferred auth.Realm) (auth.Identity, auth.Session, bool)
	SetIdentity(ctx context.Context, identity auth.Identity, sess auth.Session) error
}

// Validator checks a realm's session with the backend. A positive answer goes
// through commit before Validate returns, even for a caller whose ctx ended.
type Validator interface {
	Validate(ctx context.Context, r auth.Realm, commit validator.CommitFunc) validator.Result
}

// Evaluator decides a navigation attempt. *Guard implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, target string) Decision
}

// Guard evaluates navigation attempts for one tab.
type Guard struct {
	store     SessionStore
	validator Validator
	resolver  *realm.Resolver
	logger    *slog.Logger
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
}

// Option configures a Guard.
type Option func(*Guard)

// WithMetrics records decisions in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// New creates a Guard.
func New(store SessionStore, v Validator, resolver *realm.Resolver, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if resolver == nil {
		resolver = realm.Default()
	}
	g := &Guard{
		store:     store,
		validator: v,
		resolver:  resolver,
		logger:    logger.With("component", "guard"),
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Resolver returns the route resolver the guard classifies with.
func (g *Guard) Resolver() *realm.Resolver {
	return g.resolver
}

// Evaluate decides the navigation to target. It never fails: every attempt
// ends in exactly one outcome.
func (g *Guard) Evaluate(ctx context.Context, target string) Decision {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "portal.guard.evaluate",
		trace.WithAttributes(attribute.String("portal.target", target)),
	)

	d := g.evaluate(ctx, target)
	if d.Abandoned {
		telemetry.EndSpan(span, ctx.Err())
		g.logger.Debug("navigation abandoned", "target", target)
		return d
	}
	g.annotate(&d)

	span.SetAttributes(
		attribute.String("portal.outcome", string(d.Outcome)),
		attribute.String("portal.location", d.Location),
		attribute.Int("portal.rule", d.Rule),
	)
	telemetry.EndSpan(span, nil)
	g.metrics.RecordGuardDecision(string(d.Outcome), time.Since(start))

	g.logger.Debug("navigation decided",
		"target", target,
		"outcome", d.Outcome,
		"location", d.Location,
		"rule", d.Rule)
	return d
}

func (g *Guard) evaluate(ctx context.Context, raw string) Decision {
	paths := g.resolver.Paths()

	t, err := routepath.Parse(raw)
	if err != nil {
		g.logger.Warn("unparsable navigation target", "target", raw, "error", err)
		return forbidden(paths.Forbidden, 0, nil)
	}

	path := g.resolver.Resolve(t.Path)
	target := routepath.Target{Path: path, Query: t.Query}.String()
	cls := g.resolver.Classify(path)
	targetRealm := g.resolver.RealmOf(path)

	base := Decision{Target: target, Realm: targetRealm}

	// Rule 1
	if cls.Public {
		return base.with(Allow, target, 1)
	}

	// Rule 2
	if path == "/" {
		res := g.rootIdentity(ctx)
		if res.Abandoned {
			return abandoned(base)
		}
		identity, ok := res.Identity, res.Authenticated
		if !ok {
			return base.with(RedirectLogin, paths.UserLogin, 2)
		}
		d := base.with(RedirectLanding, g.resolver.LandingPathFor(identity), 2)
		d.Identity = &identity
		return d
	}

	identity, _, ok := g.store.Active(targetRealm)

	// Rule 3
	if cls.RequiresAuth && !ok {
		res := g.validate(ctx, targetRealm)
		if res.Abandoned {
			return abandoned(base)
		}
		if !res.Authenticated {
			d := base.with(RedirectLogin, g.resolver.LoginPathFor(path), 3)
			d.ReturnTo = target
			d.Notice = notice(toast.Warning(toast.MsgSignInRequired))
			return d
		}
		identity = res.Identity
	}

	// Rule 4
	if cls.RequiresAdminRole && !identity.IsAdmin() {
		return forbidden(paths.Forbidden, 4, &base)
	}

	// Rule 5
	if identity.IsAdmin() && g.resolver.IsUserPath(path) && !g.resolver.IsSharedCallback(path) {
		d := base.with(RedirectLanding, paths.AdminLanding, 5)
		d.Identity = &identity
		return d
	}

	// Rule 6
	if !identity.IsAdmin() && g.resolver.IsAdminPath(path) {
		d := forbidden(paths.Forbidden, 6, &base)
		d.Notice = notice(toast.Error(toast.MsgAdminOnly))
		return d
	}

	// Rule 7
	d := base.with(Allow, target, 7)
	d.Identity = &identity
	return d
}

// rootIdentity finds the identity "/" lands with: the admin slot, then the
// user slot, then one user realm validation.
func (g *Guard) rootIdentity(ctx context.Context) validator.Result {
	if id, _, ok := g.store.Get(auth.RealmAdmin); ok {
		return validator.Result{Authenticated: true, Identity: id}
	}
	if id, _, ok := g.store.Get(auth.RealmUser); ok {
		return validator.Result{Authenticated: true, Identity: id}
	}
	return g.validate(ctx, auth.RealmUser)
}

// validate asks the validator about r. A positive answer is stored from
// inside the validation itself, so the write happens even if the navigation
// that asked was superseded or abandoned meanwhile.
func (g *Guard) validate(ctx context.Context, r auth.Realm) (res validator.Result) {
	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("validator panic",
				"realm", r,
				"panic", p,
				"stack", string(debug.Stack()))
			res = validator.Result{}
		}
	}()

	res = g.validator.Validate(ctx, r, func(ctx context.Context, res validator.Result) error {
		return g.commit(ctx, r, res)
	})
	if res.Abandoned {
		return validator.Result{Abandoned: true}
	}
	if !res.Authenticated {
		return validator.Result{}
	}
	return res
}

// commit writes a validated identity for r into the store. A persistence
// failure is logged and the answer still counts for this navigation.
func (g *Guard) commit(ctx context.Context, r auth.Realm, res validator.Result) error {
	if res.Identity.Role.Realm() != r {
		g.logger.Warn("validated identity belongs to another realm", "realm", r, "role", res.Identity.Role)
		return fmt.Errorf("identity with role %q for realm %q", res.Identity.Role, r)
	}
	if err := g.store.SetIdentity(ctx, res.Identity, res.Session); err != nil {
		g.logger.Warn("failed to store validated identity", "realm", r, "error", err)
	}
	return nil
}

// annotate fills in the presentation fields for the decision's location.
func (g *Guard) annotate(d *Decision) {
	t, err := routepath.Parse(d.Location)
	if err != nil {
		return
	}
	_, d.Known = g.resolver.Lookup(t.Path)
	d.Title = g.resolver.Title(t.Path)
	d.Breadcrumbs = g.resolver.Breadcrumbs(t.Path)
}

func (d Decision) with(outcome Outcome, location string, rule int) Decision {
	d.Outcome = outcome
	d.Location = location
	d.Rule = rule
	return d
}

func forbidden(location string, rule int, base *Decision) Decision {
	var d Decision
	if base != nil {
		d = *base
	}
	d = d.with(RedirectForbidden, location, rule)
	d.Notice = notice(toast.Error(toast.MsgForbidden))
	return d
}

func abandoned(base Decision) Decision {
	base.Abandoned = true
	return base
}

func notice(n toast.Notice) *toast.Notice {
	return &n
}

// String renders d for logs and the CLI.
func (d Decision) String() string {
	return fmt.Sprintf("%s -> %s (rule %d)", d.Outcome, d.URL(), d.Rule)
}
