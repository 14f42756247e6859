// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package sim implements a simulated vehicle that answers requests and
// publishes telemetry over the vehicle end of a transport.
package sim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/creachadair/taskgroup"
	"github.com/go-kit/kit/log"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// A Handler answers a request. It returns the key and value of the reply.
// If the key is empty, the vehicle sends the empty reply.
type Handler func(ctx context.Context, req proto.Message) (key string, rsp proto.Message, err error)

// Returns adapts f to a Handler whose replies have the given key.
func Returns(key string, f func(context.Context, proto.Message) (proto.Message, error)) Handler {
	return func(ctx context.Context, req proto.Message) (string, proto.Message, error) {
		rsp, err := f(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return key, rsp, nil
	}
}

// Static returns a Handler that always replies with key and msg.
func Static(key string, msg proto.Message) Handler {
	return func(context.Context, proto.Message) (string, proto.Message, error) { return key, msg, nil }
}

// Empty is a Handler that always sends the empty reply.
func Empty(context.Context, proto.Message) (string, proto.Message, error) { return "", nil, nil }

// Options configure a [Vehicle]. The zero value is ready for use, with the
// defaults given by [tether.DefaultOptions].
type Options struct {
	Namespace        string
	EmptyReply       string
	TelemetryRequest string
	TelemetryField   string
	Logger           log.Logger
}

func (o *Options) fill() Options {
	d := tether.DefaultOptions()
	out := Options{
		Namespace:        d.Namespace,
		EmptyReply:       d.EmptyReply,
		TelemetryRequest: d.TelemetryRequest,
		TelemetryField:   d.TelemetryField,
		Logger:           d.Logger,
	}
	if o == nil {
		return out
	}
	if o.Namespace != "" {
		out.Namespace = o.Namespace
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

// A Vehicle is a simulated vehicle. Its handlers and telemetry values may be
// changed while it is serving.
type Vehicle struct {
	reg  *registry.Registry
	opts Options
	log  log.Logger

	μ         sync.Mutex
	handlers  map[string]Handler
	controls  map[string]func(proto.Message)
	telemetry map[string]proto.Message // served by the telemetry request
	sessions  map[*Session]struct{}
}

// New constructs a vehicle that speaks the messages of reg. If opts == nil,
// default options are used.
func New(reg *registry.Registry, opts *Options) *Vehicle {
	o := opts.fill()
	return &Vehicle{
		reg:       reg,
		opts:      o,
		log:       log.With(o.Logger, "component", "sim"),
		handlers:  make(map[string]Handler),
		controls:  make(map[string]func(proto.Message)),
		telemetry: make(map[string]proto.Message),
		sessions:  make(map[*Session]struct{}),
	}
}

// Handle registers h to answer requests with the given key. Passing a nil
// handler removes any handler for key. Handle returns v to permit chaining.
func (v *Vehicle) Handle(key string, h Handler) *Vehicle {
	v.μ.Lock()
	defer v.μ.Unlock()
	if h == nil {
		delete(v.handlers, key)
	} else {
		v.handlers[key] = h
	}
	return v
}

// HandleControl registers f to receive control messages with the given key.
// Passing nil removes any callback for key. It returns v to permit chaining.
func (v *Vehicle) HandleControl(key string, f func(proto.Message)) *Vehicle {
	v.μ.Lock()
	defer v.μ.Unlock()
	if f == nil {
		delete(v.controls, key)
	} else {
		v.controls[key] = f
	}
	return v
}

// SetTelemetry sets the value of the telemetry message with the given key
// reported in answer to telemetry requests.
func (v *Vehicle) SetTelemetry(key string, msg proto.Message) {
	v.μ.Lock()
	defer v.μ.Unlock()
	v.telemetry[key] = msg
}

// Broadcast records msg as the current value of key, and publishes it to all
// active sessions. It reports the first error from any session.
func (v *Vehicle) Broadcast(key string, msg proto.Message) error {
	v.SetTelemetry(key, msg)
	v.μ.Lock()
	ss := make([]*Session, 0, len(v.sessions))
	for s := range v.sessions {
		ss = append(ss, s)
	}
	v.μ.Unlock()

	var first error
	for _, s := range ss {
		if err := s.Publish(key, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Start starts a session serving requests received on link. The session runs
// until Stop is called or the link fails.
func (v *Vehicle) Start(link channel.Link) *Session {
	s := &Session{v: v, link: link, tasks: taskgroup.New(nil)}
	v.μ.Lock()
	v.sessions[s] = struct{}{}
	v.μ.Unlock()

	s.tasks.Go(func() error {
		defer func() {
			v.μ.Lock()
			delete(v.sessions, s)
			v.μ.Unlock()
		}()
		ctx := context.Background()
		for {
			msg, err := link.Recv()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			v.dispatch(ctx, s, msg)
		}
	})
	return s
}

// ServeHTTP implements the http.Handler interface. It upgrades each request
// to a websocket and serves a session on it until the client disconnects.
func (v *Vehicle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	link, err := channel.Upgrade(w, r, nil)
	if err != nil {
		v.log.Log("err", err, "event", "upgrade failed")
		return
	}
	if err := v.Start(link).Wait(); err != nil && !channel.IsExpectedCloseError(err) {
		v.log.Log("err", err, "event", "session failed")
	}
}

func (v *Vehicle) dispatch(ctx context.Context, s *Session, msg tether.Message) {
	key := msg.Key()
	switch kind := v.reg.Classify(key); kind {
	case registry.Control:
		v.control(key, msg)
	case registry.Request:
		rkey, rsp, err := v.answer(ctx, key, msg.Data)
		if err != nil {
			v.log.Log("err", err, "event", "request failed", "key", key)
			rkey, rsp = "", nil
		}
		if rkey == "" {
			rkey = v.opts.EmptyReply
		}
		data, err := v.reg.Encode(rkey, rsp)
		if err != nil {
			v.log.Log("err", err, "event", "encoding reply", "key", rkey)
			return
		}
		out := tether.Message{ID: msg.ID, Topic: registry.Topic(v.opts.Namespace, rkey), Data: data}
		if err := s.link.Reply(out); err != nil {
			v.log.Log("err", err, "event", "reply failed", "key", rkey)
		}
	default:
		v.log.Log("warning", "ignoring message", "key", key, "kind", kind)
	}
}

func (v *Vehicle) control(key string, msg tether.Message) {
	v.μ.Lock()
	f := v.controls[key]
	v.μ.Unlock()
	if f == nil {
		return
	}
	val, err := v.reg.Decode(key, msg.Data)
	if err != nil {
		v.log.Log("err", err, "event", "decoding control", "key", key)
		return
	}
	f(val)
}

func (v *Vehicle) answer(ctx context.Context, key string, data []byte) (string, proto.Message, error) {
	req, err := v.reg.Decode(key, data)
	if err != nil {
		return "", nil, err
	}
	v.μ.Lock()
	h, ok := v.handlers[key]
	v.μ.Unlock()
	if ok {
		return h(ctx, req)
	}
	if key == v.opts.TelemetryRequest {
		return v.telemetryReply(req)
	}
	return "", nil, fmt.Errorf("no handler for %q", key)
}

// telemetryReply answers a telemetry request with the current value of the
// telemetry it names, wrapped in the reply envelope. An unknown or unset key
// gets a reply with no payload.
func (v *Vehicle) telemetryReply(req proto.Message) (string, proto.Message, error) {
	rkey := registry.KeyOf(v.opts.TelemetryRequest)
	rkey = rkey[:len(rkey)-len(registry.Request.Suffix())] + registry.Reply.Suffix()
	rsp, err := v.reg.New(rkey)
	if err != nil {
		return "", nil, err
	}

	m := req.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(v.opts.TelemetryField))
	if fd == nil {
		return "", nil, fmt.Errorf("%s has no field %q", v.opts.TelemetryRequest, v.opts.TelemetryField)
	}
	want := m.Get(fd).String()

	v.μ.Lock()
	val, ok := v.telemetry[want]
	v.μ.Unlock()
	if !ok {
		return rkey, rsp, nil
	}
	env, err := v.reg.Wrap(want, val)
	if err != nil {
		return "", nil, err
	}
	if !registry.SetEnvelope(rsp, env) {
		return "", nil, fmt.Errorf("%s has no envelope field", rkey)
	}
	return rkey, rsp, nil
}

// A Session serves one client connection.
type Session struct {
	v     *Vehicle
	link  channel.Link
	tasks *taskgroup.Group
}

// Publish sends a telemetry message with the given key to the client.
func (s *Session) Publish(key string, msg proto.Message) error {
	data, err := s.v.reg.Encode(key, msg)
	if err != nil {
		return err
	}
	return s.link.Publish(tether.Message{Topic: registry.Topic(s.v.opts.Namespace, key), Data: data})
}

// Link returns the link served by s.
func (s *Session) Link() channel.Link { return s.link }

// Stop closes the link and waits for the session to exit.
func (s *Session) Stop() error {
	s.link.Close()
	return s.Wait()
}

// Wait blocks until s exits and reports the error that caused it to stop, or
// nil if the link was closed.
func (s *Session) Wait() error { return s.tasks.Wait() }
