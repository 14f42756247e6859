// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = ((pongWait - writeWait) * 2 / 3)
)

// wireMessage is the JSON encoding of a message on a websocket. The key is
// the full topic, and the data is encoded as base64.
type wireMessage struct {
	ID   string `json:"id,omitempty"`
	Key  string `json:"key"`
	Data []byte `json:"data"`
}

// EncodeJSON encodes msg as a websocket text frame.
func EncodeJSON(msg tether.Message) ([]byte, error) {
	return json.Marshal(wireMessage{ID: msg.ID, Key: msg.Topic, Data: msg.Data})
}

// DecodeJSON decodes a websocket text frame. A message without an ID whose
// key names telemetry is reported as published.
func DecodeJSON(data []byte) (tether.Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return tether.Message{}, errors.Wrap(err, "decoding message")
	}
	if w.Key == "" {
		return tether.Message{}, errors.New("decoding message: missing key")
	}
	return tether.Message{
		ID:        w.ID,
		Topic:     w.Key,
		Data:      w.Data,
		Published: w.ID == "" && registry.KindOf(registry.KeyOf(w.Key)) == registry.Telemetry,
	}, nil
}

// IsExpectedCloseError reports whether err indicates a clean disconnection.
func IsExpectedCloseError(err error) bool {
	return err == io.EOF || err == io.ErrClosedPipe || errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
			websocket.CloseAbnormalClosure,
		)
}

// wsConn adds a periodic ping to a websocket connection and serializes
// access to it.
type wsConn struct {
	pinger    *time.Timer
	readLock  sync.Mutex
	writeLock sync.Mutex
	conn      *websocket.Conn
}

func pingConn(c *websocket.Conn) *wsConn {
	p := &wsConn{conn: c}
	p.conn.SetPongHandler(p.pong)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.pinger = time.AfterFunc(pingPeriod, p.ping)
	return p
}

func (p *wsConn) ping() {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		p.conn.Close()
		return
	}
	p.pinger.Reset(pingPeriod)
}

func (p *wsConn) pong(string) error {
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	return nil
}

func (p *wsConn) read() (tether.Message, error) {
	p.readLock.Lock()
	defer p.readLock.Unlock()
	for {
		mt, data, err := p.conn.ReadMessage()
		if err != nil {
			if IsExpectedCloseError(err) {
				return tether.Message{}, net.ErrClosed
			}
			return tether.Message{}, err
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage {
			continue // ignore binary frames
		}
		return DecodeJSON(data)
	}
}

func (p *wsConn) write(msg tether.Message) error {
	data, err := EncodeJSON(msg)
	if err != nil {
		return err
	}
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *wsConn) close() error {
	p.writeLock.Lock()
	defer p.writeLock.Unlock()
	p.pinger.Stop()
	if err := p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ok"),
		time.Now().Add(writeWait)); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}

// DialError is reported when the websocket handshake is rejected by the
// server.
type DialError struct {
	URL        string
	StatusCode int
}

func (d *DialError) Error() string {
	return fmt.Sprintf("connecting to websocket %s (http status code = %d)", d.URL, d.StatusCode)
}

// Websocket is a transport that exchanges JSON text frames with the vehicle
// over a websocket. Each request carries a unique ID that the vehicle echoes
// in its reply. It implements the [tether.Transport] interface.
type Websocket struct {
	URL    string
	Header http.Header       // additional handshake headers, or nil
	Dialer *websocket.Dialer // if nil, websocket.DefaultDialer

	μ    sync.Mutex
	conn *wsConn
}

// NewWebsocket constructs a websocket transport for the given URL.
func NewWebsocket(url string) *Websocket { return &Websocket{URL: url} }

func (w *Websocket) current() *wsConn {
	w.μ.Lock()
	defer w.μ.Unlock()
	return w.conn
}

// Open implements a method of the [tether.Transport] interface.
func (w *Websocket) Open(ctx context.Context) error {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.conn != nil {
		return errAlreadyOpen
	}
	d := w.Dialer
	if d == nil {
		d = websocket.DefaultDialer
	}
	conn, resp, err := d.DialContext(ctx, w.URL, w.Header)
	if err != nil {
		if resp != nil {
			return &DialError{URL: w.URL, StatusCode: resp.StatusCode}
		}
		return errors.Wrapf(err, "dialing %s", w.URL)
	}
	w.conn = pingConn(conn)
	return nil
}

// Send implements a method of the [tether.Transport] interface.
func (w *Websocket) Send(msg tether.Message) error {
	c := w.current()
	if c == nil {
		return net.ErrClosed
	}
	return c.write(msg)
}

// SendControl implements a method of the [tether.Transport] interface.
func (w *Websocket) SendControl(msg tether.Message) error {
	msg.ID = ""
	return w.Send(msg)
}

// Recv implements a method of the [tether.Transport] interface.
func (w *Websocket) Recv() (tether.Message, error) {
	c := w.current()
	if c == nil {
		return tether.Message{}, net.ErrClosed
	}
	return c.read()
}

// Close implements a method of the [tether.Transport] interface.
func (w *Websocket) Close() error {
	w.μ.Lock()
	c := w.conn
	w.conn = nil
	w.μ.Unlock()
	if c == nil {
		return net.ErrClosed
	}
	if err := c.close(); err != nil && !IsExpectedCloseError(err) {
		return err
	}
	return nil
}

// Correlation implements a method of the [tether.Transport] interface.
func (*Websocket) Correlation() tether.Correlation { return tether.ByID }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Upgrade upgrades an HTTP server connection to a websocket, and returns the
// vehicle end of the connection.
func Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*WebsocketLink, error) {
	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, err
	}
	return &WebsocketLink{c: pingConn(conn)}, nil
}

// WebsocketLink is the vehicle end of a websocket connection. It implements
// the [Link] interface.
type WebsocketLink struct{ c *wsConn }

// Recv implements a method of the [Link] interface.
func (l *WebsocketLink) Recv() (tether.Message, error) {
	msg, err := l.c.read()
	msg.Published = false
	return msg, err
}

// Reply implements a method of the [Link] interface.
func (l *WebsocketLink) Reply(msg tether.Message) error { return l.c.write(msg) }

// Publish implements a method of the [Link] interface.
func (l *WebsocketLink) Publish(msg tether.Message) error {
	msg.ID = ""
	return l.c.write(msg)
}

// Close implements a method of the [Link] interface.
func (l *WebsocketLink) Close() error { return l.c.close() }
