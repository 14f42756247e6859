// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
)

// An Observer receives decoded telemetry messages of one key.
type Observer func(proto.Message)

type observer struct{ f Observer }

// Observe registers f to receive each telemetry message with the given key
// published by the vehicle. Observers of a key are called in registration
// order, synchronously on the receive loop, so f must not block on a request
// to the same client.
//
// The returned function removes f; it is safe to call more than once.
func (c *Client) Observe(key string, f Observer) (cancel func()) {
	obs := &observer{f: f}
	c.μ.Lock()
	c.obs[key] = append(c.obs[key], obs)
	c.μ.Unlock()
	return func() {
		c.μ.Lock()
		defer c.μ.Unlock()
		rest := slices.DeleteFunc(c.obs[key], func(o *observer) bool { return o == obs })
		if len(rest) == 0 {
			delete(c.obs, key)
		} else {
			c.obs[key] = rest
		}
	}
}

// Latest returns the most recent telemetry message with the given key
// received from the vehicle, if any.
func (c *Client) Latest(key string) (proto.Message, bool) {
	c.μ.Lock()
	defer c.μ.Unlock()
	m, ok := c.latest[key]
	return m, ok
}

// Watch returns a channel that delivers telemetry messages with the given key
// until ctx ends, at which point the channel is closed. The channel holds one
// message; if the receiver falls behind, older messages are replaced by newer
// ones.
func (c *Client) Watch(ctx context.Context, key string) <-chan proto.Message {
	w := &watcher{ch: make(chan proto.Message, 1)}
	cancel := c.Observe(key, w.put)
	go func() {
		<-ctx.Done()
		cancel()
		w.close()
	}()
	return w.ch
}

type watcher struct {
	μ      sync.Mutex
	ch     chan proto.Message
	closed bool
}

func (w *watcher) put(m proto.Message) {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.closed {
		return
	}
	for {
		select {
		case w.ch <- m:
			return
		default:
		}
		select {
		case <-w.ch: // discard the stale value
		default:
		}
	}
}

func (w *watcher) close() {
	w.μ.Lock()
	defer w.μ.Unlock()
	w.closed = true
	close(w.ch)
}

// publish decodes a published message and notifies its observers.
func (c *Client) publish(msg Message) {
	key := msg.Key()
	if k := c.reg.Classify(key); k != registry.Telemetry {
		clientMetrics.messageDropped.With("reason", "not_telemetry").Add(1)
		c.log.Log("warning", "discarding published message", "key", key, "kind", k)
		return
	}
	val, err := c.reg.Decode(key, msg.Data)
	if err != nil {
		clientMetrics.messageDropped.With("reason", "decode").Add(1)
		c.log.Log("err", err, "event", "discarding telemetry", "key", key)
		return
	}

	c.μ.Lock()
	c.latest[key] = val
	obs := slices.Clone(c.obs[key])
	c.μ.Unlock()

	for _, o := range obs {
		c.notify(key, o, val)
	}
}

func (c *Client) notify(key string, o *observer, val proto.Message) {
	defer func() {
		if x := recover(); x != nil {
			c.log.Log("err", fmt.Sprint(x), "event", "telemetry observer panicked", "key", key)
		}
	}()
	o.f(val)
}
