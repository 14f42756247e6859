// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Options configure a [Client]. A zero field takes its value from
// [DefaultOptions].
type Options struct {
	// Namespace is the topic prefix of all messages, e.g. "vehicle.protocol".
	Namespace string

	// RequestTimeout bounds each request/reply exchange when the caller does
	// not give a timeout. It includes time spent waiting in the queue.
	RequestTimeout time.Duration

	// DrainTimeout is how long a timed-out exchange on a ByTopic transport
	// keeps the request channel, waiting for its late reply, before the
	// transport is reset and the channel handed to the next request. A ByTopic
	// transport that is not a [Resetter] keeps the channel until the late reply
	// arrives or the session ends.
	DrainTimeout time.Duration

	// EmptyReply is the key of the reply that carries no payload. Call reports
	// a nil message for it.
	EmptyReply string

	// TelemetryRequest is the key of the request used to query telemetry
	// on demand, and TelemetryField is its string field naming the key of
	// the telemetry wanted.
	TelemetryRequest string
	TelemetryField   string

	// Logger receives diagnostic output. If nil, logs are discarded.
	Logger log.Logger
}

// DefaultOptions returns the default client options.
func DefaultOptions() Options {
	return Options{
		Namespace:        "vehicle.protocol",
		RequestTimeout:   time.Second,
		DrainTimeout:     time.Second,
		EmptyReply:       "EmptyRep",
		TelemetryRequest: "GetTelemetryReq",
		TelemetryField:   "message_type",
		Logger:           log.NewNopLogger(),
	}
}

func (o *Options) fill() Options {
	out := DefaultOptions()
	if o == nil {
		return out
	}
	if o.Namespace != "" {
		out.Namespace = o.Namespace
	}
	if o.RequestTimeout > 0 {
		out.RequestTimeout = o.RequestTimeout
	}
	if o.DrainTimeout > 0 {
		out.DrainTimeout = o.DrainTimeout
	}
	if o.EmptyReply != "" {
		out.EmptyReply = o.EmptyReply
	}
	if o.TelemetryRequest != "" {
		out.TelemetryRequest = o.TelemetryRequest
	}
	if o.TelemetryField != "" {
		out.TelemetryField = o.TelemetryField
	}
	if o.Logger != nil {
		out.Logger = o.Logger
	}
	return out
}

// A Client is a session with a vehicle over a [Transport].
//
// Call Connect to attach the transport and start the receive loop. Once
// connected, a client runs until Disconnect is called or the transport fails.
// A disconnected client may be connected again.
//
// Request methods (Call, GetTelemetry) are serialized through a FIFO queue so
// that at most one exchange is outstanding at a time. SendControl and the
// telemetry methods do not use the queue. All methods are safe for concurrent
// use by multiple goroutines.
type Client struct {
	reg   *registry.Registry
	tr    Transport
	opts  Options
	log   log.Logger
	queue Queue

	μ sync.Mutex

	state    State
	closing  bool                // Disconnect is in progress
	tasks    *taskgroup.Group    // receive loop
	pending  map[string]*pending // token → outstanding request
	active   string              // token of the most recent request, if live
	nexto    uint64              // next unused ByTopic token
	stateObs []*stateObserver
	obs      map[string][]*observer // key → telemetry observers
	latest   map[string]proto.Message
	mlog     MessageLogger
}

// pending is an outstanding request. A pending request whose caller gave up
// remains in the table, abandoned, until its late reply arrives or the drain
// window ends, so that the reply is never delivered to another caller.
type pending struct {
	key       string
	reply     chan Message  // buffered; closed if the session ends
	abandoned bool          // the caller gave up waiting
	late      chan struct{} // closed when an abandoned request is resolved
}

// NewClient constructs a new disconnected client that exchanges messages
// described by reg over tr. If opts == nil, default options are used.
func NewClient(reg *registry.Registry, tr Transport, opts *Options) *Client {
	o := opts.fill()
	return &Client{
		reg:     reg,
		tr:      tr,
		opts:    o,
		log:     log.With(o.Logger, "component", "tether"),
		pending: make(map[string]*pending),
		obs:     make(map[string][]*observer),
		latest:  make(map[string]proto.Message),
	}
}

// Registry returns the message registry used by c.
func (c *Client) Registry() *registry.Registry { return c.reg }

// Options returns the effective options of c.
func (c *Client) Options() Options { return c.opts }

// Connect attaches the transport and starts the receive loop. It is a no-op,
// with a warning logged, if c is already connected or connecting. If the
// transport cannot be opened, c returns to the Disconnected state and Connect
// reports the error.
func (c *Client) Connect(ctx context.Context) error {
	if prev, ok := c.transition(Connecting, Disconnected); !ok {
		c.log.Log("warning", "connect ignored", "state", prev)
		return nil
	}
	if err := c.tr.Open(ctx); err != nil {
		c.log.Log("err", err, "event", "connect failed")
		c.transition(Disconnected, Connecting)
		return fmt.Errorf("connect: %w", err)
	}

	g := taskgroup.New(nil)
	c.μ.Lock()
	c.tasks = g
	c.μ.Unlock()
	g.Go(func() error {
		for {
			msg, err := c.tr.Recv()
			if err != nil {
				c.fail(err)
				return nil
			}
			c.dispatch(msg)
		}
	})

	if _, ok := c.transition(Connected, Connecting); !ok {
		// The transport failed before the session was established.
		return fmt.Errorf("connect: %w", ErrNotReady)
	}
	return nil
}

// Disconnect detaches the transport and waits for the receive loop to exit.
// Requests still outstanding fail with ErrNotReady.
//
// Disconnect is a no-op, with a warning logged, if c is not connected. While
// a connection attempt is in progress Disconnect logs an error, leaves the
// state unchanged, and reports ErrBusy.
func (c *Client) Disconnect() error {
	c.μ.Lock()
	switch {
	case c.state == Connecting:
		c.μ.Unlock()
		c.log.Log("err", ErrBusy, "event", "disconnect refused")
		return ErrBusy
	case c.state != Connected || c.closing:
		s := c.state
		c.μ.Unlock()
		c.log.Log("warning", "disconnect ignored", "state", s)
		return nil
	}
	c.closing = true
	g := c.tasks
	c.μ.Unlock()

	err := c.tr.Close()
	if g != nil {
		g.Wait()
	}

	c.μ.Lock()
	c.failPendingLocked()
	c.tasks = nil
	c.closing = false
	c.μ.Unlock()
	c.transition(Disconnected, Connected)
	return err
}

// LogMessages registers a callback that will be invoked for each message
// exchanged with the vehicle, including messages to be discarded. Passing nil
// disables message logging. The logger is invoked synchronously, before a
// message is sent or dispatched. LogMessages returns c to permit chaining.
func (c *Client) LogMessages(f MessageLogger) *Client {
	c.μ.Lock()
	defer c.μ.Unlock()
	c.mlog = f
	return c
}

func (c *Client) logMessage(msg Message, sent bool) {
	c.μ.Lock()
	f := c.mlog
	c.μ.Unlock()
	if f != nil {
		f(MessageInfo{Message: msg, Sent: sent, Time: time.Now()})
	}
}

// fail handles termination of the receive loop.
func (c *Client) fail(err error) {
	c.μ.Lock()
	c.failPendingLocked()
	closing := c.closing
	c.μ.Unlock()
	if closing {
		return // Disconnect will finish the job
	}

	c.log.Log("err", err, "event", "session lost")
	c.tr.Close()
	c.μ.Lock()
	c.tasks = nil
	c.μ.Unlock()
	c.transition(Disconnected, Connected, Connecting)
}

// failPendingLocked resolves all outstanding requests. Callers waiting for a
// reply observe a closed channel. The caller must hold c.μ.
func (c *Client) failPendingLocked() {
	for token, p := range c.pending {
		if p.abandoned {
			close(p.late)
		} else {
			close(p.reply)
		}
		delete(c.pending, token)
	}
	c.active = ""
	clientMetrics.callPending.Set(0)
}

// dispatch routes a received message to the telemetry subscribers or to the
// pending request it answers. Telemetry without an ID is published even if the
// transport did not mark it so.
func (c *Client) dispatch(msg Message) {
	c.logMessage(msg, false)
	if msg.Published || (msg.ID == "" && registry.KindOf(msg.Key()) == registry.Telemetry) {
		clientMetrics.messageRecv.With("channel", "telemetry").Add(1)
		c.publish(msg)
		return
	}
	clientMetrics.messageRecv.With("channel", "reply").Add(1)
	c.deliver(msg)
}

// deliver hands a reply to the request it answers. A reply carrying an ID
// answers the request with that token; otherwise it answers the most recent
// request.
func (c *Client) deliver(msg Message) {
	c.μ.Lock()
	defer c.μ.Unlock()

	token := msg.ID
	if token == "" {
		token = c.active
	}
	p, ok := c.pending[token]
	if !ok {
		clientMetrics.messageDropped.With("reason", "unsolicited").Add(1)
		c.log.Log("warning", "discarding unsolicited reply", "key", msg.Key())
		return
	}
	delete(c.pending, token)
	if c.active == token {
		c.active = ""
	}
	if p.abandoned {
		close(p.late)
		clientMetrics.messageDropped.With("reason", "late").Add(1)
		c.log.Log("warning", "discarding late reply", "key", msg.Key(), "request", p.key)
		return
	}
	p.reply <- msg // buffered, does not block
}

// register records a new outstanding request for key and returns its token.
func (c *Client) register(key string) (string, chan Message, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if c.state != Connected || c.closing {
		return "", nil, ErrNotReady
	}
	var token string
	if c.tr.Correlation() == ByID {
		token = uuid.NewString()
	} else {
		c.nexto++
		token = strconv.FormatUint(c.nexto, 10)
	}
	p := &pending{key: key, reply: make(chan Message, 1)}
	c.pending[token] = p
	c.active = token
	clientMetrics.callPending.Add(1)
	return token, p.reply, nil
}

// release removes the request for token if it is still outstanding.
func (c *Client) release(token string) {
	c.μ.Lock()
	defer c.μ.Unlock()
	if _, ok := c.pending[token]; ok {
		delete(c.pending, token)
		clientMetrics.callPending.Add(-1)
	}
	if c.active == token {
		c.active = ""
	}
}

// abandon marks the request for token as abandoned by its caller, and
// arranges for done to be called when the request channel is free.
//
// On a ByID transport the channel is free at once, since a late reply is
// recognized by its ID. On a ByTopic transport the channel stays held until
// the late reply arrives, or until the drain window ends and the transport
// has been reset. A ByTopic transport that cannot be reset holds the channel
// until the late reply arrives or the session ends, since a reply without a
// token cannot be told apart from the answer to the next request.
func (c *Client) abandon(token string, done func()) {
	c.μ.Lock()
	p, ok := c.pending[token]
	if !ok {
		// The request was resolved concurrently.
		c.μ.Unlock()
		clientMetrics.callPending.Add(-1)
		done()
		return
	}
	p.abandoned = true
	p.late = make(chan struct{})
	c.μ.Unlock()
	clientMetrics.callPending.Add(-1)

	hold := c.tr.Correlation() == ByTopic
	r, canReset := c.tr.(Resetter)
	if !hold {
		done()
	}
	go func() {
		defer func() {
			if hold {
				done()
			}
		}()
		t := time.NewTimer(c.opts.DrainTimeout)
		defer t.Stop()
		select {
		case <-p.late:
			return
		case <-t.C:
		}
		if hold && !canReset {
			c.log.Log("warning", "request channel held for late reply", "request", p.key)
			<-p.late
			return
		}

		c.μ.Lock()
		if q, ok := c.pending[token]; ok && q == p {
			delete(c.pending, token)
		}
		if c.active == token {
			c.active = ""
		}
		c.μ.Unlock()
		if hold {
			if err := r.Reset(); err != nil {
				c.log.Log("err", err, "event", "reset failed", "request", p.key)
			}
		}
	}()
}

// send writes msg to the request channel.
func (c *Client) send(msg Message) error {
	c.logMessage(msg, true)
	clientMetrics.messageSent.With("channel", "request").Add(1)
	return c.tr.Send(msg)
}

// roundTrip sends a request with the given key and payload, and waits for the
// reply until ctx ends.
func (c *Client) roundTrip(ctx context.Context, key string, data []byte) (Message, error) {
	if c.State() != Connected {
		return Message{}, ErrNotReady
	}
	done, err := c.queue.Acquire(ctx)
	if err != nil {
		return Message{}, ctxError(err)
	}
	token, rc, err := c.register(key)
	if err != nil {
		done()
		return Message{}, err
	}

	out := Message{Topic: registry.Topic(c.opts.Namespace, key), Data: data}
	if c.tr.Correlation() == ByID {
		out.ID = token
	}
	if err := c.send(out); err != nil {
		c.release(token)
		done()
		return Message{}, fmt.Errorf("send: %w", err)
	}

	select {
	case rsp, ok := <-rc:
		done()
		if !ok {
			return Message{}, ErrNotReady
		}
		clientMetrics.callPending.Add(-1)
		return rsp, nil
	case <-ctx.Done():
		c.abandon(token, done)
		return Message{}, ctxError(ctx.Err())
	}
}

func ctxError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		clientMetrics.callTimeout.Add(1)
		return ErrTimeout
	}
	return err
}

// Call sends msg as a request with the given key and waits for the reply.
// If timeout ≤ 0, the default request timeout is used.
//
// A nil msg sends an empty request. If the vehicle replies with the empty
// reply, Call reports nil, nil. An error reported by Call has concrete type
// *CallError.
func (c *Client) Call(ctx context.Context, key string, msg proto.Message, timeout time.Duration) (_ proto.Message, err error) {
	start := time.Now()
	clientMetrics.callOut.Add(1)
	defer func() {
		clientMetrics.requestDuration.With("key", key, "success", fmt.Sprint(err == nil)).
			Observe(time.Since(start).Seconds())
		if err != nil {
			clientMetrics.callOutErr.Add(1)
		}
	}()

	if k := c.reg.Classify(key); k != registry.Request {
		if _, ok := c.reg.Lookup(key); !ok {
			return nil, callError(key, fmt.Errorf("%w: %q", ErrUnknownType, key))
		}
		return nil, callError(key, fmt.Errorf("%w: %q is %v", ErrInvalidChannel, key, k))
	}
	data, err := c.reg.Encode(key, msg)
	if err != nil {
		return nil, callError(key, err)
	}
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rsp, err := c.roundTrip(ctx, key, data)
	if err != nil {
		return nil, callError(key, err)
	}
	out, err := c.decodeReply(rsp)
	return out, callError(key, err)
}

// decodeReply decodes the payload of a reply message.
func (c *Client) decodeReply(rsp Message) (proto.Message, error) {
	rkey := rsp.Key()
	if rkey == c.opts.EmptyReply {
		return nil, nil
	}
	if c.reg.Classify(rkey) != registry.Reply {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedReply, rkey)
	}
	return c.reg.Decode(rkey, rsp.Data)
}

// GetTelemetry queries the vehicle for the current value of the telemetry
// message with the given key. The reply must carry an envelope holding a
// message of that same key. An error reported by GetTelemetry has concrete
// type *CallError.
func (c *Client) GetTelemetry(ctx context.Context, key string) (proto.Message, error) {
	if k := c.reg.Classify(key); k != registry.Telemetry {
		if _, ok := c.reg.Lookup(key); !ok {
			return nil, callError(key, fmt.Errorf("%w: %q", ErrUnknownType, key))
		}
		return nil, callError(key, fmt.Errorf("%w: %q is %v", ErrInvalidChannel, key, k))
	}
	req, err := c.telemetryRequest(key)
	if err != nil {
		return nil, callError(key, err)
	}
	rep, err := c.Call(ctx, c.opts.TelemetryRequest, req, 0)
	if err != nil {
		return nil, err
	}
	env, ok := registry.EnvelopeOf(rep)
	if !ok {
		return nil, callError(key, fmt.Errorf("%w: reply has no payload", ErrUnexpectedTelemetryType))
	}
	if got := env.Key(); got != key || c.reg.Classify(got) != registry.Telemetry {
		return nil, callError(key, fmt.Errorf("%w: got %q", ErrUnexpectedTelemetryType, got))
	}
	out, err := c.reg.Decode(key, env.Value)
	return out, callError(key, err)
}

func (c *Client) telemetryRequest(key string) (proto.Message, error) {
	req, err := c.reg.New(c.opts.TelemetryRequest)
	if err != nil {
		return nil, err
	}
	m := req.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(c.opts.TelemetryField))
	if fd == nil || fd.Kind() != protoreflect.StringKind {
		return nil, fmt.Errorf("%s has no string field %q", c.opts.TelemetryRequest, c.opts.TelemetryField)
	}
	m.Set(fd, protoreflect.ValueOfString(key))
	return req, nil
}

// SendControl sends msg as a one-way control message with the given key. It
// does not wait in the request queue and expects no reply. An error reported
// by SendControl has concrete type *CallError.
func (c *Client) SendControl(ctx context.Context, key string, msg proto.Message) error {
	if k := c.reg.Classify(key); k != registry.Control {
		if _, ok := c.reg.Lookup(key); !ok {
			return callError(key, fmt.Errorf("%w: %q", ErrUnknownType, key))
		}
		return callError(key, fmt.Errorf("%w: %q is %v", ErrInvalidChannel, key, k))
	}
	data, err := c.reg.Encode(key, msg)
	if err != nil {
		return callError(key, err)
	}
	if err := ctx.Err(); err != nil {
		return callError(key, err)
	}
	if c.State() != Connected {
		return callError(key, ErrNotReady)
	}
	out := Message{Topic: registry.Topic(c.opts.Namespace, key), Data: data}
	c.logMessage(out, true)
	clientMetrics.messageSent.With("channel", "control").Add(1)
	if err := c.tr.SendControl(out); err != nil {
		return callError(key, fmt.Errorf("send: %w", err))
	}
	return nil
}
