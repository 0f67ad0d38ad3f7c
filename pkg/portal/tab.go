package portal

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/backend"
	"github.com/quota-bridge/portal/pkg/guard"
	"github.com/quota-bridge/portal/pkg/kv"
	"github.com/quota-bridge/portal/pkg/session"
	"github.com/quota-bridge/portal/pkg/validator"
)

// TabHeader echoes the tab cookie on script-issued requests. It never selects
// a tab on its own.
const TabHeader = "X-Portal-Tab"

// restoreTimeout bounds loading a tab's persisted slots.
const restoreTimeout = 5 * time.Second

// Tab is the per-browser-tab state: one session store with its validator,
// guard and navigator.
type Tab struct {
	ID        string
	Sessions  *session.Store
	Validator *validator.Validator
	Guard     *guard.Guard
	Navigator *guard.Navigator

	loginLimiter *rate.Limiter

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func (t *Tab) attach(c *conn) {
	t.mu.Lock()
	t.conns[c] = struct{}{}
	t.mu.Unlock()
}

func (t *Tab) detach(c *conn) {
	t.mu.Lock()
	delete(t.conns, c)
	t.mu.Unlock()
}

// disconnect closes every navigation channel of the tab.
func (t *Tab) disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.conns {
		c.close()
	}
}

// broadcast sends msg to every navigation channel of the tab.
func (t *Tab) broadcast(msg serverMessage) {
	t.mu.Lock()
	conns := make([]*conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.send(msg)
	}
}

// tabID returns the tab id of r, or "" when r carries none that parses.
// The id comes from the tab cookie only. A TabHeader that disagrees with the
// cookie voids the id.
func (p *Portal) tabID(r *http.Request) string {
	c, err := r.Cookie(p.config.TabCookie)
	if err != nil {
		return ""
	}
	u, err := uuid.Parse(strings.TrimSpace(c.Value))
	if err != nil {
		return ""
	}
	id := u.String()

	if h := strings.TrimSpace(r.Header.Get(TabHeader)); h != "" {
		hu, err := uuid.Parse(h)
		if err != nil || hu.String() != id {
			return ""
		}
	}
	return id
}

// tabFor returns the tab of r, issuing a new tab cookie when r has none.
func (p *Portal) tabFor(w http.ResponseWriter, r *http.Request) (*Tab, error) {
	id := p.tabID(r)
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     p.config.TabCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			Secure:   p.config.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return p.tab(r.Context(), id)
}

// existingTab returns the tab of r without issuing a cookie. It fails with
// auth.ErrNotAuthenticated when r carries no tab id.
func (p *Portal) existingTab(r *http.Request) (*Tab, error) {
	id := p.tabID(r)
	if id == "" {
		return nil, auth.ErrNotAuthenticated
	}
	return p.tab(r.Context(), id)
}

// tab returns the tab with the given id, creating and restoring it once.
func (p *Portal) tab(ctx context.Context, id string) (*Tab, error) {
	if t, ok := p.tabs.Get(id); ok {
		return t, nil
	}

	v, err, _ := p.tabGroup.Do(id, func() (any, error) {
		if t, ok := p.tabs.Get(id); ok {
			return t, nil
		}
		t := p.newTab(id)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
		defer cancel()
		if err := t.Sessions.Restore(rctx); err != nil {
			return nil, err
		}

		p.tabs.Add(id, t)
		p.metrics.SetActiveTabs(p.tabs.Len())
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tab), nil
}

func (p *Portal) newTab(id string) *Tab {
	logger := p.logger.With("tab", id)
	t := &Tab{
		ID:           id,
		loginLimiter: p.config.loginLimiter(),
		conns:        make(map[*conn]struct{}),
	}

	store := kv.Prefixed(p.store, "tab/"+id+"/")
	t.Sessions = session.NewStore(store, logger, session.WithChangeHook(func(r auth.Realm) {
		// Runs inside the store's write lock: reads only.
		t.broadcast(sessionMessage(r, t.Sessions.IsAuthenticated(r)))
	}))
	t.Validator = validator.New(backend.NewRealmChecker(p.backend), logger,
		validator.WithTimeout(p.config.ValidateTimeout),
		validator.WithMetrics(p.metrics),
	)
	t.Guard = guard.New(t.Sessions, t.Validator, p.resolver, logger, guard.WithMetrics(p.metrics))
	t.Navigator = guard.NewNavigator(t.Guard)
	return t
}
