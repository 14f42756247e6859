// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"net"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	"github.com/tether-rov/tether"
)

// ZMQ is a transport that talks to the vehicle over ZeroMQ sockets: a REQ
// socket for requests and replies, a SUB socket for published telemetry, and
// a PUB socket for control messages. Every message has two frames, the topic
// and the encoded payload.
//
// The REQ socket carries no correlation token, so at most one request may be
// outstanding. It implements the [tether.Transport] and [tether.Resetter]
// interfaces.
type ZMQ struct {
	ReqAddr string   // e.g. "tcp://192.168.1.101:5556"
	SubAddr string   // e.g. "tcp://192.168.1.101:5555"
	PubAddr string   // e.g. "tcp://192.168.1.101:5557"; if "", control is unsupported
	Topics  []string // subscription prefixes; if empty, subscribe to all

	μ    sync.Mutex
	ctx  context.Context
	stop context.CancelFunc
	req  zmq4.Socket
	gen  int // incremented each time req is replaced
	sub  zmq4.Socket
	pub  zmq4.Socket
	in   chan tether.Message
	errc chan error
}

// MsgFrames returns the ZeroMQ frames encoding msg.
func MsgFrames(msg tether.Message) zmq4.Msg {
	return zmq4.NewMsgFrom([]byte(msg.Topic), msg.Data)
}

// FramesMsg decodes a two-frame ZeroMQ message.
func FramesMsg(zm zmq4.Msg) (tether.Message, error) {
	if len(zm.Frames) != 2 {
		return tether.Message{}, errors.Errorf("got %d frames, want 2", len(zm.Frames))
	}
	return tether.Message{Topic: string(zm.Frames[0]), Data: zm.Frames[1]}, nil
}

// Open implements a method of the [tether.Transport] interface.
func (z *ZMQ) Open(ctx context.Context) error {
	z.μ.Lock()
	defer z.μ.Unlock()
	if z.stop != nil {
		return errAlreadyOpen
	}
	sctx, stop := context.WithCancel(context.Background())
	fail := func(err error) error {
		stop()
		for _, s := range []zmq4.Socket{z.req, z.sub, z.pub} {
			if s != nil {
				s.Close()
			}
		}
		z.req, z.sub, z.pub = nil, nil, nil
		return err
	}

	z.ctx = sctx
	z.req = zmq4.NewReq(sctx)
	if err := z.req.Dial(z.ReqAddr); err != nil {
		return fail(errors.Wrapf(err, "dialing request socket %s", z.ReqAddr))
	}
	z.sub = zmq4.NewSub(sctx)
	if err := z.sub.Dial(z.SubAddr); err != nil {
		return fail(errors.Wrapf(err, "dialing subscribe socket %s", z.SubAddr))
	}
	topics := z.Topics
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, t := range topics {
		if err := z.sub.SetOption(zmq4.OptionSubscribe, t); err != nil {
			return fail(errors.Wrapf(err, "subscribing to %q", t))
		}
	}
	if z.PubAddr != "" {
		z.pub = zmq4.NewPub(sctx)
		if err := z.pub.Dial(z.PubAddr); err != nil {
			return fail(errors.Wrapf(err, "dialing publish socket %s", z.PubAddr))
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	z.stop = stop
	z.in = make(chan tether.Message)
	z.errc = make(chan error, 1)
	go z.subscribe(sctx, z.sub, z.in, z.errc)
	return nil
}

// subscribe forwards published messages from sub until it fails.
func (z *ZMQ) subscribe(ctx context.Context, sub zmq4.Socket, in chan<- tether.Message, errc chan<- error) {
	for {
		zm, err := sub.Recv()
		if err != nil {
			select {
			case errc <- err:
			default:
			}
			return
		}
		msg, err := FramesMsg(zm)
		if err != nil {
			continue // not a telemetry message
		}
		msg.Published = true
		select {
		case in <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Send implements a method of the [tether.Transport] interface. The reply is
// reported by Recv when it arrives.
func (z *ZMQ) Send(msg tether.Message) error {
	z.μ.Lock()
	req, gen, in, errc, ctx := z.req, z.gen, z.in, z.errc, z.ctx
	z.μ.Unlock()
	if req == nil {
		return net.ErrClosed
	}
	if err := req.Send(MsgFrames(msg)); err != nil {
		return errors.Wrap(err, "sending request")
	}
	go func() {
		zm, err := req.Recv()
		if err != nil {
			z.μ.Lock()
			stale := gen != z.gen
			z.μ.Unlock()
			if !stale {
				select {
				case errc <- errors.Wrap(err, "receiving reply"):
				default:
				}
			}
			return
		}
		rsp, err := FramesMsg(zm)
		if err != nil {
			return
		}
		select {
		case in <- rsp:
		case <-ctx.Done():
		}
	}()
	return nil
}

// SendControl implements a method of the [tether.Transport] interface.
func (z *ZMQ) SendControl(msg tether.Message) error {
	z.μ.Lock()
	pub := z.pub
	open := z.stop != nil
	z.μ.Unlock()
	if !open {
		return net.ErrClosed
	} else if pub == nil {
		return errors.New("control socket is not configured")
	}
	return errors.Wrap(pub.Send(MsgFrames(msg)), "sending control")
}

// Recv implements a method of the [tether.Transport] interface.
func (z *ZMQ) Recv() (tether.Message, error) {
	z.μ.Lock()
	in, errc, ctx := z.in, z.errc, z.ctx
	z.μ.Unlock()
	if in == nil {
		return tether.Message{}, net.ErrClosed
	}
	select {
	case msg := <-in:
		return msg, nil
	case err := <-errc:
		return tether.Message{}, err
	case <-ctx.Done():
		return tether.Message{}, net.ErrClosed
	}
}

// Reset implements the [tether.Resetter] interface. It replaces the request
// socket, discarding any reply still owed on the old one.
func (z *ZMQ) Reset() error {
	z.μ.Lock()
	defer z.μ.Unlock()
	if z.req == nil {
		return net.ErrClosed
	}
	z.gen++
	z.req.Close()
	z.req = zmq4.NewReq(z.ctx)
	if err := z.req.Dial(z.ReqAddr); err != nil {
		return errors.Wrapf(err, "redialing request socket %s", z.ReqAddr)
	}
	return nil
}

// Close implements a method of the [tether.Transport] interface.
func (z *ZMQ) Close() error {
	z.μ.Lock()
	defer z.μ.Unlock()
	if z.stop == nil {
		return net.ErrClosed
	}
	z.stop()
	z.gen++
	var first error
	for _, s := range []zmq4.Socket{z.req, z.sub, z.pub} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	z.stop, z.req, z.sub, z.pub = nil, nil, nil, nil
	z.in, z.errc = nil, nil
	return first
}

// Correlation implements a method of the [tether.Transport] interface.
func (*ZMQ) Correlation() tether.Correlation { return tether.ByTopic }
