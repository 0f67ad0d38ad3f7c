package guard

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/realm"
	"github.com/quota-bridge/portal/pkg/session"
	"github.com/quota-bridge/portal/pkg/telemetry"
	"github.com/quota-bridge/portal/pkg/toast"
	"github.com/quota-bridge/portal/pkg/validator"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	unboundUser = auth.Identity{SubjectID: "u-1", DisplayName: "alice", Role: auth.RoleUser}
	boundUser   = auth.Identity{SubjectID: "u-2", DisplayName: "bob", Role: auth.RoleUser, BoundExternalAccount: "kyx-bob"}
	adminUser   = auth.Identity{SubjectID: "admin", DisplayName: "admin", Role: auth.RoleAdmin}
)

// fakeValidator answers from a per-realm table and counts calls.
type fakeValidator struct {
	mu      sync.Mutex
	answers map[auth.Realm]validator.Result
	calls   map[auth.Realm]int
	panics  bool
	block   chan struct{}
}

func newFakeValidator() *fakeValidator {
	return &fakeValidator{
		answers: map[auth.Realm]validator.Result{},
		calls:   map[auth.Realm]int{},
	}
}

func (f *fakeValidator) authenticate(id auth.Identity, token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[id.Role.Realm()] = validator.Result{
		Authenticated: true,
		Identity:      id,
		Session:       auth.NewSession(id, token, time.Now()),
	}
}

func (f *fakeValidator) Validate(ctx context.Context, r auth.Realm, commit validator.CommitFunc) validator.Result {
	f.mu.Lock()
	f.calls[r]++
	res := f.answers[r]
	block := f.block
	panics := f.panics
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if panics {
		panic("validator exploded")
	}
	if res.Authenticated && commit != nil {
		if err := commit(ctx, res); err != nil {
			return validator.Result{}
		}
	}
	return res
}

func (f *fakeValidator) callCount(r auth.Realm) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[r]
}

type fixture struct {
	store     *session.Store
	backend   *kv.MemoryStore
	validator *fakeValidator
	guard     *Guard
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	backend := kv.NewMemoryStore()
	store := session.NewStore(backend, testLogger)
	v := newFakeValidator()
	return &fixture{
		store:     store,
		backend:   backend,
		validator: v,
		guard:     New(store, v, realm.Default(), testLogger, opts...),
	}
}

func (f *fixture) signIn(t *testing.T, id auth.Identity) {
	t.Helper()
	token := "bearer-" + id.SubjectID
	if id.Role == auth.RoleUser {
		token = auth.CookieSessionToken
	}
	if err := f.store.SetIdentity(context.Background(), id, auth.NewSession(id, token, time.Now())); err != nil {
		t.Fatalf("SetIdentity error: %v", err)
	}
}

// waitAuthenticated polls until a detached validation lands in the store.
func waitAuthenticated(t *testing.T, store *session.Store, r auth.Realm) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !store.IsAuthenticated(r) {
		if time.Now().After(deadline) {
			t.Fatalf("%s realm never became authenticated", r)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expect(t *testing.T, d Decision, outcome Outcome, location string) {
	t.Helper()
	if d.Outcome != outcome || d.Location != location {
		t.Fatalf("decision = %s %s (rule %d), want %s %s", d.Outcome, d.Location, d.Rule, outcome, location)
	}
}

func TestScenarioA_AnonymousAdminPage(t *testing.T) {
	f := newFixture(t)
	d := f.guard.Evaluate(context.Background(), "/admin/users")

	expect(t, d, RedirectLogin, "/admin/login")
	if d.ReturnTo != "/admin/users" {
		t.Fatalf("ReturnTo = %q", d.ReturnTo)
	}
	if got := d.URL(); got != "/admin/login?redirect=%2Fadmin%2Fusers" {
		t.Fatalf("URL = %q", got)
	}
	if d.Notice == nil || d.Notice.Level != toast.TypeWarning {
		t.Fatalf("expected warning notice, got %+v", d.Notice)
	}
	if f.validator.callCount(auth.RealmAdmin) != 1 {
		t.Fatalf("admin realm validated %d times, want 1", f.validator.callCount(auth.RealmAdmin))
	}
}

func TestScenarioB_UnboundUserAtRoot(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, unboundUser)

	d := f.guard.Evaluate(context.Background(), "/")
	expect(t, d, RedirectLanding, "/user/bind")
}

func TestScenarioC_AdminOnUserPage(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, adminUser)

	d := f.guard.Evaluate(context.Background(), "/user/dashboard")
	expect(t, d, RedirectLanding, "/admin/dashboard")
	if d.Rule != 5 {
		t.Fatalf("rule = %d, want 5", d.Rule)
	}
}

func TestScenarioD_UserOnAdminPage(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, boundUser)

	d := f.guard.Evaluate(context.Background(), "/admin/dashboard")
	expect(t, d, RedirectForbidden, "/403")
	if d.Notice == nil || d.Notice.Level != toast.TypeError {
		t.Fatalf("expected error notice, got %+v", d.Notice)
	}
}

func TestScenarioE_ValidationPopulatesStore(t *testing.T) {
	f := newFixture(t)
	f.validator.authenticate(unboundUser, auth.CookieSessionToken)

	d := f.guard.Evaluate(context.Background(), "/user/dashboard")
	expect(t, d, Allow, "/user/dashboard")

	id, sess, ok := f.store.Get(auth.RealmUser)
	if !ok || id.SubjectID != "u-1" || sess.Token != auth.CookieSessionToken {
		t.Fatalf("store not populated: %+v %+v %v", id, sess, ok)
	}
	if data, _ := f.backend.Get(context.Background(), "user-session"); data == nil {
		t.Fatal("validated identity not persisted")
	}

	// The next navigation uses the stored identity without validating again.
	f.guard.Evaluate(context.Background(), "/user/claim")
	if n := f.validator.callCount(auth.RealmUser); n != 1 {
		t.Fatalf("validator called %d times, want 1", n)
	}
}

func TestAbandonedNavigationStillPopulatesStore(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.NewMetrics(telemetry.WithRegistry(reg))

	store := session.NewStore(kv.NewMemoryStore(), testLogger)
	release := make(chan struct{})
	started := make(chan struct{})
	checker := validator.CheckerFunc(func(ctx context.Context, r auth.Realm) (validator.Result, error) {
		close(started)
		<-release
		return validator.Result{
			Authenticated: true,
			Identity:      boundUser,
			Session:       auth.NewSession(boundUser, auth.CookieSessionToken, time.Now()),
		}, nil
	})
	g := New(store, validator.New(checker, testLogger), realm.Default(), testLogger, WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Decision, 1)
	go func() { done <- g.Evaluate(ctx, "/user/dashboard") }()

	<-started
	cancel()

	var d Decision
	select {
	case d = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Evaluate did not return after cancellation")
	}
	if !d.Abandoned || d.Outcome != "" {
		t.Fatalf("abandoned navigation decided %s", d)
	}
	if store.IsAuthenticated(auth.RealmUser) {
		t.Fatal("store populated before the backend answered")
	}

	close(release)
	waitAuthenticated(t, store, auth.RealmUser)

	id, _, _ := store.Get(auth.RealmUser)
	if id.SubjectID != boundUser.SubjectID {
		t.Fatalf("stored identity = %+v", id)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() == "portal_guard_decisions_total" && len(f.GetMetric()) > 0 {
			t.Fatalf("abandoned navigation was recorded as a decision: %v", f.GetMetric())
		}
	}
}

func TestPublicPathsAlwaysAllowed(t *testing.T) {
	identities := map[string]*auth.Identity{
		"anonymous": nil,
		"user":      &boundUser,
		"admin":     &adminUser,
	}
	publics := []string{"/user/login", "/user/oauth/callback", "/admin/login", "/403", "/404", "/500"}

	for name, id := range identities {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			if id != nil {
				f.signIn(t, *id)
			}
			for _, p := range publics {
				d := f.guard.Evaluate(context.Background(), p)
				expect(t, d, Allow, p)
				if d.Rule != 1 {
					t.Fatalf("%s decided by rule %d", p, d.Rule)
				}
			}
			if f.validator.callCount(auth.RealmUser)+f.validator.callCount(auth.RealmAdmin) != 0 {
				t.Fatal("public paths must not validate")
			}
		})
	}
}

func TestAdminRolePathsForbidNonAdmins(t *testing.T) {
	r := realm.Default()
	for _, user := range []auth.Identity{unboundUser, boundUser} {
		f := newFixture(t)
		f.signIn(t, user)
		for _, route := range r.Routes() {
			if !route.RequiresAdminRole {
				continue
			}
			d := f.guard.Evaluate(context.Background(), route.Path)
			if d.Outcome != RedirectForbidden {
				t.Errorf("%s as %s: outcome %s, want forbidden", route.Path, user.SubjectID, d.Outcome)
			}
		}
	}
}

func TestRootPath(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		d := f.guard.Evaluate(context.Background(), "/")
		expect(t, d, RedirectLogin, "/user/login")
		if d.ReturnTo != "" {
			t.Fatalf("root login redirect should not carry a return target, got %q", d.ReturnTo)
		}
		if f.validator.callCount(auth.RealmUser) != 1 {
			t.Fatal("root should validate the user realm once")
		}
		if f.validator.callCount(auth.RealmAdmin) != 0 {
			t.Fatal("root should not validate the admin realm")
		}
	})

	t.Run("bound user", func(t *testing.T) {
		f := newFixture(t)
		f.signIn(t, boundUser)
		expect(t, f.guard.Evaluate(context.Background(), "/"), RedirectLanding, "/user/dashboard")
	})

	t.Run("admin", func(t *testing.T) {
		f := newFixture(t)
		f.signIn(t, adminUser)
		expect(t, f.guard.Evaluate(context.Background(), "/"), RedirectLanding, "/admin/dashboard")
	})

	t.Run("admin wins when both realms are signed in", func(t *testing.T) {
		f := newFixture(t)
		f.signIn(t, boundUser)
		f.signIn(t, adminUser)
		expect(t, f.guard.Evaluate(context.Background(), "/"), RedirectLanding, "/admin/dashboard")
	})

	t.Run("validated user", func(t *testing.T) {
		f := newFixture(t)
		f.validator.authenticate(boundUser, auth.CookieSessionToken)
		expect(t, f.guard.Evaluate(context.Background(), "/"), RedirectLanding, "/user/dashboard")
		if !f.store.IsAuthenticated(auth.RealmUser) {
			t.Fatal("validated identity should be stored")
		}
	})
}

func TestAnonymousUserPageRedirectsToUserLogin(t *testing.T) {
	f := newFixture(t)
	d := f.guard.Evaluate(context.Background(), "/user/claim?tab=history")
	expect(t, d, RedirectLogin, "/user/login")
	if d.ReturnTo != "/user/claim?tab=history" {
		t.Fatalf("ReturnTo = %q", d.ReturnTo)
	}
}

func TestBothRealmsSignedIn(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, boundUser)
	f.signIn(t, adminUser)

	expect(t, f.guard.Evaluate(context.Background(), "/user/claim"), Allow, "/user/claim")
	expect(t, f.guard.Evaluate(context.Background(), "/admin/keys"), Allow, "/admin/keys")
}

func TestAdminMayVisitOAuthCallback(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, adminUser)
	expect(t, f.guard.Evaluate(context.Background(), "/user/oauth/callback?code=x"), Allow, "/user/oauth/callback?code=x")
}

func TestUnknownPathsFailClosed(t *testing.T) {
	f := newFixture(t)

	d := f.guard.Evaluate(context.Background(), "/admin/secret")
	expect(t, d, RedirectLogin, "/admin/login")

	d = f.guard.Evaluate(context.Background(), "/somewhere")
	expect(t, d, RedirectLogin, "/user/login")

	f.signIn(t, boundUser)
	d = f.guard.Evaluate(context.Background(), "/admin/secret")
	expect(t, d, RedirectForbidden, "/403")

	d = f.guard.Evaluate(context.Background(), "/somewhere")
	expect(t, d, Allow, "/somewhere")
	if d.Known {
		t.Fatal("unknown location reported as known")
	}
}

func TestUnparsableTargetIsForbidden(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, adminUser)

	for _, target := range []string{"", "admin", "https://evil.example/", "/../etc", "/admin\\keys", "/a%zz"} {
		d := f.guard.Evaluate(context.Background(), target)
		expect(t, d, RedirectForbidden, "/403")
		if d.Rule != 0 {
			t.Fatalf("%q decided by rule %d", target, d.Rule)
		}
	}
}

func TestCanonicalTargets(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, adminUser)

	expect(t, f.guard.Evaluate(context.Background(), "/admin//keys/"), Allow, "/admin/keys")
	expect(t, f.guard.Evaluate(context.Background(), "/admin"), Allow, "/admin/dashboard")
	expect(t, f.guard.Evaluate(context.Background(), "/%61dmin/users"), Allow, "/admin/users")
}

func TestCanonicalizationCannotBypassAdminCheck(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, boundUser)

	for _, target := range []string{"/user/../admin/keys", "/%61dmin/keys", "//admin/keys", "/user/%2e%2e/admin/keys"} {
		d := f.guard.Evaluate(context.Background(), target)
		if d.Outcome == Allow {
			t.Fatalf("%q was allowed for a non-admin", target)
		}
	}
}

func TestValidatorPanicTreatedAsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	f.validator.panics = true

	d := f.guard.Evaluate(context.Background(), "/user/dashboard")
	expect(t, d, RedirectLogin, "/user/login")
}

func TestValidatedIdentityFromWrongRealmIgnored(t *testing.T) {
	f := newFixture(t)
	f.validator.answers[auth.RealmUser] = validator.Result{
		Authenticated: true,
		Identity:      adminUser,
		Session:       auth.Session{Token: "t", Realm: auth.RealmAdmin},
	}

	expect(t, f.guard.Evaluate(context.Background(), "/user/dashboard"), RedirectLogin, "/user/login")
	if f.store.IsAuthenticated(auth.RealmAdmin) {
		t.Fatal("cross-realm identity was stored")
	}
}

func TestDecisionPresentation(t *testing.T) {
	f := newFixture(t)
	f.signIn(t, adminUser)

	d := f.guard.Evaluate(context.Background(), "/admin/keys")
	if d.Title != "Key Management" {
		t.Errorf("Title = %q", d.Title)
	}
	if len(d.Breadcrumbs) != 2 {
		t.Errorf("Breadcrumbs = %+v", d.Breadcrumbs)
	}
	if !d.Known || d.Realm != auth.RealmAdmin {
		t.Errorf("Known=%v Realm=%s", d.Known, d.Realm)
	}
	if d.Identity == nil || d.Identity.SubjectID != "admin" {
		t.Errorf("Identity = %+v", d.Identity)
	}

	// Redirects describe the page they lead to.
	f2 := newFixture(t)
	d = f2.guard.Evaluate(context.Background(), "/admin/keys")
	if d.Title != "Admin Sign In" {
		t.Errorf("login Title = %q", d.Title)
	}
}

func TestGuardRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixture(t, WithMetrics(telemetry.NewMetrics(telemetry.WithRegistry(reg))))

	f.guard.Evaluate(context.Background(), "/404")
	f.guard.Evaluate(context.Background(), "/admin/users")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	counts := map[string]float64{}
	for _, fam := range families {
		if fam.GetName() != "portal_guard_decisions_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	if counts[string(Allow)] != 1 || counts[string(RedirectLogin)] != 1 {
		t.Fatalf("decision counts = %v", counts)
	}
}

type failingSetStore struct {
	SessionStore
}

func (failingSetStore) SetIdentity(context.Context, auth.Identity, auth.Session) error {
	return errors.New("disk full")
}

func TestPersistFailureStillAllows(t *testing.T) {
	f := newFixture(t)
	f.validator.authenticate(boundUser, auth.CookieSessionToken)
	g := New(failingSetStore{f.store}, f.validator, realm.Default(), testLogger)

	expect(t, g.Evaluate(context.Background(), "/user/claim"), Allow, "/user/claim")
}

func TestDecisionURL(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{Decision{Location: "/user/dashboard"}, "/user/dashboard"},
		{Decision{Location: "/user/login", ReturnTo: "/user/claim?tab=1"}, "/user/login?redirect=%2Fuser%2Fclaim%3Ftab%3D1"},
		{Decision{Location: "/user/claim?tab=1"}, "/user/claim?tab=1"},
		{Decision{Location: "/user/my page"}, "/user/my%20page"},
	}
	for _, tt := range tests {
		if got := tt.d.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestDecisionString(t *testing.T) {
	d := Decision{Outcome: RedirectLogin, Location: "/user/login", ReturnTo: "/user/claim", Rule: 3}
	want := "redirect_login -> /user/login?redirect=%2Fuser%2Fclaim (rule 3)"
	if got := d.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
