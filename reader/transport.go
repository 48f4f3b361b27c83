package reader

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// pongWait bounds the silence tolerated on a connection. Every frame
	// received extends it.
	pongWait   = 90 * time.Second
	pingPeriod = (pongWait * 4) / 10
)

// Transport is one websocket connection. Reads must come from a single
// goroutine; writes are serialised.
type Transport struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Dialer opens websocket connections, optionally bound to a local address.
type Dialer struct {
	LocalIP string
}

func (d Dialer) Dial(ctx context.Context, u *url.URL) (*Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 15 * time.Second,
	}
	if d.LocalIP != "" {
		ip := net.ParseIP(d.LocalIP)
		if ip == nil {
			return nil, fmt.Errorf("invalid local ip %q", d.LocalIP)
		}
		dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	t := &Transport{conn: conn}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	return t, nil
}

// Read returns the next frame payload.
func (t *Transport) Read() ([]byte, error) {
	_, payload, err := t.conn.ReadMessage()
	return payload, err
}

// Write sends one frame.
func (t *Transport) Write(msg WsMessage) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	typ := msg.Type
	if typ == 0 {
		typ = websocket.TextMessage
	}
	return t.conn.WriteMessage(typ, msg.Payload)
}

// ping sends a protocol level ping control frame.
func (t *Transport) ping() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (t *Transport) setReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

// Close is safe to call more than once.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}
