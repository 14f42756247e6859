// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/registry"
)

// TopicHeader is the NATS header that carries the topic of a reply. The
// subject of a reply is the reply inbox of its request, so the topic travels
// separately.
const TopicHeader = "Tether-Topic"

// NATS is a transport that reaches the vehicle through a NATS relay. Message
// subjects are topics. Requests are published with a reply subject whose last
// token is the request ID; telemetry arrives on a subscription to every topic
// in the namespace. It implements the [tether.Transport] interface.
type NATS struct {
	URL       string
	Namespace string // subject prefix, e.g. "vehicle.protocol"
	Name      string // client connection name, optional

	μ     sync.Mutex
	conn  *nats.Conn
	inbox string
	subs  []*nats.Subscription
	in    chan tether.Message
	errc  chan error
	done  chan struct{}
}

// NewNATS constructs a NATS transport for the given server URL and namespace.
func NewNATS(url, namespace string) *NATS { return &NATS{URL: url, Namespace: namespace} }

// Open implements a method of the [tether.Transport] interface.
func (n *NATS) Open(ctx context.Context) error {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.conn != nil {
		return errAlreadyOpen
	}
	opts := []nats.Option{nats.MaxReconnects(-1)}
	if n.Name != "" {
		opts = append(opts, nats.Name(n.Name))
	}
	if dl, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(dl)))
	}
	conn, err := nats.Connect(n.URL, opts...)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", n.URL)
	}

	in := make(chan tether.Message)
	errc := make(chan error, 1)
	done := make(chan struct{})
	forward := func(msg tether.Message) {
		select {
		case in <- msg:
		case <-done:
		}
	}
	inbox := conn.NewRespInbox()
	inbox = inbox[:strings.LastIndexByte(inbox, '.')]
	replies, err := conn.Subscribe(inbox+".*", func(m *nats.Msg) {
		topic := m.Header.Get(TopicHeader)
		if topic == "" {
			return // not a reply from the vehicle
		}
		forward(tether.Message{
			ID:    m.Subject[len(inbox)+1:],
			Topic: topic,
			Data:  m.Data,
		})
	})
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "subscribing to replies")
	}
	telemetry, err := conn.Subscribe(n.Namespace+".>", func(m *nats.Msg) {
		if registry.KindOf(registry.KeyOf(m.Subject)) != registry.Telemetry {
			return // requests and control messages share the namespace
		}
		forward(tether.Message{Topic: m.Subject, Data: m.Data, Published: true})
	})
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "subscribing to telemetry")
	}
	conn.SetClosedHandler(func(*nats.Conn) {
		select {
		case errc <- net.ErrClosed:
		default:
		}
	})
	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return errors.Wrap(err, "flushing subscriptions")
	}

	n.conn, n.inbox = conn, inbox
	n.subs = []*nats.Subscription{replies, telemetry}
	n.in, n.errc, n.done = in, errc, done
	return nil
}

func (n *NATS) publish(msg *nats.Msg) error {
	n.μ.Lock()
	conn := n.conn
	n.μ.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	return errors.Wrapf(conn.PublishMsg(msg), "publishing %s", msg.Subject)
}

// Send implements a method of the [tether.Transport] interface.
func (n *NATS) Send(msg tether.Message) error {
	n.μ.Lock()
	inbox := n.inbox
	n.μ.Unlock()
	nm := nats.NewMsg(msg.Topic)
	nm.Data = msg.Data
	if msg.ID != "" {
		nm.Reply = inbox + "." + msg.ID
	}
	return n.publish(nm)
}

// SendControl implements a method of the [tether.Transport] interface.
func (n *NATS) SendControl(msg tether.Message) error {
	nm := nats.NewMsg(msg.Topic)
	nm.Data = msg.Data
	return n.publish(nm)
}

// Recv implements a method of the [tether.Transport] interface.
func (n *NATS) Recv() (tether.Message, error) {
	n.μ.Lock()
	in, errc, done := n.in, n.errc, n.done
	n.μ.Unlock()
	if in == nil {
		return tether.Message{}, net.ErrClosed
	}
	select {
	case msg := <-in:
		return msg, nil
	case err := <-errc:
		return tether.Message{}, err
	case <-done:
		return tether.Message{}, net.ErrClosed
	}
}

// Close implements a method of the [tether.Transport] interface.
func (n *NATS) Close() error {
	n.μ.Lock()
	defer n.μ.Unlock()
	if n.conn == nil {
		return net.ErrClosed
	}
	close(n.done)
	for _, s := range n.subs {
		s.Unsubscribe()
	}
	n.conn.Close()
	n.conn, n.subs = nil, nil
	n.in, n.errc, n.done = nil, nil, nil
	return nil
}

// Correlation implements a method of the [tether.Transport] interface.
func (*NATS) Correlation() tether.Correlation { return tether.ByID }

// ReplyTo builds the NATS reply to a request received by a vehicle relay.
// The reply is addressed to the request's reply subject and carries its own
// topic in the [TopicHeader] header.
func ReplyTo(req *nats.Msg, rsp tether.Message) *nats.Msg {
	nm := nats.NewMsg(req.Reply)
	nm.Header.Set(TopicHeader, rsp.Topic)
	nm.Data = rsp.Data
	return nm
}
