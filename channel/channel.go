// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package channel provides implementations of the tether.Transport interface,
// and of the vehicle end of those transports.
package channel

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/tether-rov/tether"
)

// A Link is the vehicle end of a transport. Recv reports requests and control
// messages sent by the client; the vehicle answers with Reply and pushes
// telemetry with Publish.
type Link interface {
	// Recv receives the next request or control message from the client.
	Recv() (tether.Message, error)

	// Reply sends a reply to the client. A reply to a request that carried
	// an ID should carry the same ID.
	Reply(tether.Message) error

	// Publish sends a telemetry message to the client.
	Publish(tether.Message) error

	// Close closes the link, causing any pending Recv to report an error.
	Close() error
}

// errAlreadyOpen is reported by Open on a transport that is already open.
var errAlreadyOpen = errors.New("channel: transport is already open")

// Direct constructs an in-memory transport and the vehicle end it connects
// to. Messages pass directly without encoding. The transport may be closed
// and opened again, and the link follows each new connection until the link
// itself is closed.
func Direct(corr tether.Correlation) (*DirectTransport, *DirectLink) {
	l := &direct{wait: make(chan struct{}), shut: make(chan struct{})}
	return &DirectTransport{corr: corr, d: l}, &DirectLink{d: l}
}

type direct struct {
	μ      sync.Mutex
	cur    *pipe         // the current connection, or nil
	wait   chan struct{} // closed when a connection is opened
	shut   chan struct{} // closed when the link is closed
	closed bool
}

func (d *direct) current() *pipe {
	d.μ.Lock()
	defer d.μ.Unlock()
	return d.cur
}

type pipe struct {
	up   chan tether.Message // client → vehicle
	down chan tether.Message // vehicle → client
	done chan struct{}
	once sync.Once
}

func newPipe() *pipe {
	return &pipe{
		up:   make(chan tether.Message, 16),
		down: make(chan tether.Message, 16),
		done: make(chan struct{}),
	}
}

func (p *pipe) close() { p.once.Do(func() { close(p.done) }) }

func (p *pipe) send(ch chan<- tether.Message, msg tether.Message) error {
	if p == nil {
		return net.ErrClosed
	}
	select {
	case <-p.done:
		return net.ErrClosed
	default:
	}
	select {
	case ch <- msg:
		return nil
	case <-p.done:
		return net.ErrClosed
	}
}

// DirectTransport is the client end of an in-memory connection. It
// implements the [tether.Transport] interface.
type DirectTransport struct {
	corr tether.Correlation
	d    *direct
}

// Open implements a method of the [tether.Transport] interface.
func (t *DirectTransport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.d.μ.Lock()
	defer t.d.μ.Unlock()
	if t.d.closed {
		return net.ErrClosed
	} else if t.d.cur != nil {
		return errAlreadyOpen
	}
	t.d.cur = newPipe()
	close(t.d.wait)
	return nil
}

// Send implements a method of the [tether.Transport] interface.
func (t *DirectTransport) Send(msg tether.Message) error {
	p := t.d.current()
	if p == nil {
		return net.ErrClosed
	}
	return p.send(p.up, msg)
}

// SendControl implements a method of the [tether.Transport] interface.
func (t *DirectTransport) SendControl(msg tether.Message) error { return t.Send(msg) }

// Recv implements a method of the [tether.Transport] interface.
func (t *DirectTransport) Recv() (tether.Message, error) {
	p := t.d.current()
	if p == nil {
		return tether.Message{}, net.ErrClosed
	}
	select {
	case msg := <-p.down:
		return msg, nil
	case <-p.done:
		return tether.Message{}, net.ErrClosed
	}
}

// Close implements a method of the [tether.Transport] interface.
func (t *DirectTransport) Close() error {
	t.d.μ.Lock()
	p := t.d.cur
	if p != nil {
		t.d.cur = nil
		t.d.wait = make(chan struct{})
	}
	t.d.μ.Unlock()
	if p == nil {
		return net.ErrClosed
	}
	p.close()
	return nil
}

// Correlation implements a method of the [tether.Transport] interface.
func (t *DirectTransport) Correlation() tether.Correlation { return t.corr }

// DirectLink is the vehicle end of an in-memory connection. It implements
// the [Link] interface.
type DirectLink struct{ d *direct }

// Recv implements a method of the [Link] interface. It waits for the client
// to connect if it is not connected.
func (l *DirectLink) Recv() (tether.Message, error) {
	for {
		l.d.μ.Lock()
		p, wait, closed := l.d.cur, l.d.wait, l.d.closed
		l.d.μ.Unlock()
		if closed {
			return tether.Message{}, net.ErrClosed
		}
		if p == nil {
			select {
			case <-wait:
			case <-l.d.shut:
			}
			continue
		}
		select {
		case msg := <-p.up:
			return msg, nil
		case <-p.done:
			// The client disconnected; wait for the next connection.
		case <-l.d.shut:
		}
	}
}

// Reply implements a method of the [Link] interface.
func (l *DirectLink) Reply(msg tether.Message) error {
	p := l.d.current()
	msg.Published = false
	return p.send(p.downChan(), msg)
}

// Publish implements a method of the [Link] interface.
func (l *DirectLink) Publish(msg tether.Message) error {
	p := l.d.current()
	msg.Published = true
	return p.send(p.downChan(), msg)
}

func (p *pipe) downChan() chan<- tether.Message {
	if p == nil {
		return nil
	}
	return p.down
}

// Connected reports whether a client is currently connected to l.
func (l *DirectLink) Connected() bool { return l.d.current() != nil }

// Close implements a method of the [Link] interface. Closing the link also
// disconnects the client, if it is connected.
func (l *DirectLink) Close() error {
	l.d.μ.Lock()
	defer l.d.μ.Unlock()
	if l.d.closed {
		return net.ErrClosed
	}
	l.d.closed = true
	close(l.d.shut)
	if l.d.cur != nil {
		l.d.cur.close()
		l.d.cur = nil
	}
	return nil
}
