package portal

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/guard"
)

func (b *browser) dial(header http.Header) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{Jar: b.jar, HandshakeTimeout: 5 * time.Second}
	u := "ws" + strings.TrimPrefix(b.base.String(), "http") + "/_portal/ws"
	return dialer.Dial(u, header)
}

func readMessage(t *testing.T, ws *websocket.Conn) serverMessage {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg serverMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func navigate(t *testing.T, ws *websocket.Conn, seq uint64, path string) serverMessage {
	t.Helper()
	if err := ws.WriteJSON(clientMessage{Type: msgNavigate, Seq: seq, Path: path}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, ws)
	if msg.Type != msgDecision || msg.Seq != seq || msg.Decision == nil {
		t.Fatalf("reply = %+v, want decision %d", msg, seq)
	}
	return msg
}

func TestWebSocketNavigate(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)
	b.adminLogin()

	ws, _, err := b.dial(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	msg := navigate(t, ws, 1, "/admin/keys")
	if d := msg.Decision; d.Outcome != guard.Allow || d.Location != "/admin/keys" || d.Title != "Key Management" {
		t.Errorf("decision = %+v", d)
	}

	msg = navigate(t, ws, 2, "/user/claim")
	if d := msg.Decision; d.Outcome != guard.RedirectLanding || d.Location != "/admin/dashboard" {
		t.Errorf("decision = %+v", d)
	}

	msg = navigate(t, ws, 3, "https://evil.example/")
	if d := msg.Decision; d.Outcome != guard.RedirectForbidden || d.Rule != 0 {
		t.Errorf("decision = %+v", d)
	}

	if err := ws.WriteJSON(clientMessage{Type: "reload", Seq: 4}); err != nil {
		t.Fatal(err)
	}
	if msg := readMessage(t, ws); msg.Type != msgError || msg.Seq != 4 {
		t.Errorf("reply = %+v, want error", msg)
	}
}

func TestWebSocketPushesSessionChanges(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)
	b.adminLogin()

	ws, _, err := b.dial(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// A round trip guarantees the channel is attached to the tab.
	navigate(t, ws, 1, "/admin/dashboard")

	b.post("/_portal/logout?realm=admin", nil)

	msg := readMessage(t, ws)
	if msg.Type != msgSession || msg.Realm != auth.RealmAdmin {
		t.Fatalf("message = %+v, want admin session event", msg)
	}
	if msg.Authenticated == nil || *msg.Authenticated {
		t.Errorf("authenticated = %v, want false", msg.Authenticated)
	}

	msg = navigate(t, ws, 2, "/admin/dashboard")
	if d := msg.Decision; d.Outcome != guard.RedirectLogin || d.ReturnTo != "/admin/dashboard" {
		t.Errorf("decision = %+v", d)
	}
}

func TestWebSocketRequiresTab(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)

	_, resp, err := b.dial(nil)
	if err == nil {
		t.Fatal("dial without tab succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("response = %v, want 400", resp)
	}
}

func TestWebSocketRejectsCrossOrigin(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)
	b.get("/user/login")

	_, resp, err := b.dial(http.Header{"Origin": {"http://evil.example"}})
	if err == nil {
		t.Fatal("cross-origin dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}

	if _, _, err := b.dial(http.Header{"Origin": {b.base.String()}}); err != nil {
		t.Errorf("same-origin dial: %v", err)
	}
}

func TestTabEvictionClosesChannels(t *testing.T) {
	f := newFixture(t, Config{MaxTabs: 1})
	a := f.browser(t)
	a.get("/user/login")

	ws, _, err := a.dial(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	navigate(t, ws, 1, "/user/login")

	f.browser(t).get("/user/login")

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("channel still open after eviction")
	}
}

func TestWebSocketSupersededNavigationPopulatesStore(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)
	b.get("/user/login")
	f.backend.seedSession(b)
	entered, release := f.backend.holdChecks()

	ws, _, err := b.dial(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	if err := ws.WriteJSON(clientMessage{Type: msgNavigate, Seq: 1, Path: "/user/dashboard"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("session check never started")
	}

	msg := navigate(t, ws, 2, "/user/login")
	if d := msg.Decision; d.Outcome != guard.Allow {
		t.Fatalf("decision = %+v", d)
	}

	release()

	// The superseded decision is dropped; its session write is not.
	msg = readMessage(t, ws)
	if msg.Type != msgSession || msg.Realm != auth.RealmUser {
		t.Fatalf("message = %+v, want user session event", msg)
	}
	if msg.Authenticated == nil || !*msg.Authenticated {
		t.Errorf("authenticated = %v, want true", msg.Authenticated)
	}

	msg = navigate(t, ws, 3, "/user/dashboard")
	if d := msg.Decision; d.Outcome != guard.Allow || d.Identity == nil || d.Identity.SubjectID != "7" {
		t.Errorf("decision = %+v", d)
	}
}

func TestWebSocketCloseStillPopulatesStore(t *testing.T) {
	f := newFixture(t, Config{})
	b := f.browser(t)
	b.get("/user/login")
	f.backend.seedSession(b)
	entered, release := f.backend.holdChecks()

	ws, _, err := b.dial(nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := ws.WriteJSON(clientMessage{Type: msgNavigate, Seq: 1, Path: "/user/dashboard"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("session check never started")
	}

	ws.Close()
	release()

	deadline := time.Now().Add(5 * time.Second)
	for b.session().User == nil {
		if time.Now().After(deadline) {
			t.Fatal("validation for a closed channel never reached the tab")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
