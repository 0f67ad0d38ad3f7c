package portal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quota-bridge/portal/pkg/auth"
	"github.com/quota-bridge/portal/pkg/guard"
)

const (
	msgNavigate = "navigate"
	msgDecision = "decision"
	msgSession  = "session"
	msgError    = "error"
)

const (
	wsReadLimit    = 4096
	wsSendBuffer   = 16
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = wsPongWait * 9 / 10
)

type clientMessage struct {
	Type string `json:"type"`
	Seq  uint64 `json:"seq"`
	Path string `json:"path"`
}

type serverMessage struct {
	Type string `json:"type"`

	// Seq echoes the client's sequence number on decisions and errors.
	Seq uint64 `json:"seq,omitempty"`

	Decision *guard.Decision `json:"decision,omitempty"`
	URL      string          `json:"url,omitempty"`

	Realm         auth.Realm `json:"realm,omitempty"`
	Authenticated *bool      `json:"authenticated,omitempty"`

	Error string `json:"error,omitempty"`
}

func sessionMessage(r auth.Realm, authenticated bool) serverMessage {
	return serverMessage{Type: msgSession, Realm: r, Authenticated: &authenticated}
}

// conn is one navigation channel. Writes go through a single writer
// goroutine; send never blocks.
type conn struct {
	ws   *websocket.Conn
	out  chan serverMessage
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:   ws,
		out:  make(chan serverMessage, wsSendBuffer),
		done: make(chan struct{}),
	}
}

// send queues msg. A client too slow to drain its queue is disconnected.
func (c *conn) send(msg serverMessage) {
	select {
	case <-c.done:
	case c.out <- msg:
	default:
		c.close()
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *conn) writeLoop() error {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return nil
		case msg := <-c.out:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (p *Portal) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	t, err := p.existingTab(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing tab id")
		return
	}

	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.metrics.RecordWebSocketError("upgrade")
		p.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	p.metrics.RecordWebSocketOpen()
	defer p.metrics.RecordWebSocketClose()

	c := newConn(ws)
	t.attach(c)
	defer t.detach(c)
	defer c.close()

	go func() {
		if err := c.writeLoop(); err != nil {
			p.metrics.RecordWebSocketError("write")
		}
		c.close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	// Credentials of the upgrade request stay valid for the channel's life.
	ctx, cancel := context.WithCancel(p.requestContext(r))
	defer cancel()

	ws.SetReadLimit(wsReadLimit)
	ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg clientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.metrics.RecordWebSocketError("read")
				p.logger.Debug("websocket read failed", "tab", t.ID, "error", err)
			}
			return
		}

		if msg.Type != msgNavigate {
			c.send(serverMessage{Type: msgError, Seq: msg.Seq, Error: "unknown message type"})
			continue
		}

		attempt := t.Navigator.Dispatch(msg.Path)
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			d, err := t.Navigator.Resolve(ctx, attempt)
			if errors.Is(err, guard.ErrSuperseded) || errors.Is(err, guard.ErrAbandoned) {
				return
			}
			c.send(serverMessage{Type: msgDecision, Seq: seq, Decision: &d, URL: d.URL()})
		}(msg.Seq)
	}
}
