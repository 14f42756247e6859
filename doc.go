// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package tether implements a client for remotely operated vehicles that
// speak a protobuf message protocol over a request/reply channel and a
// publish/subscribe telemetry channel.
//
// Messages are identified by a short key, the unqualified name of their
// protobuf type. The suffix of the key names the channel the message travels
// on: requests end in "Req", replies in "Rep", telemetry in "Tel", and
// one-way control messages in "Ctrl". The registry package maps keys to
// message types.
//
// # Clients
//
// The core type defined by this package is the [Client]. A client exchanges
// messages with the vehicle over a [Transport]:
//
//	c := tether.NewClient(reg, tr, nil)
//	if err := c.Connect(ctx); err != nil {
//	   log.Fatalf("Connect: %v", err)
//	}
//	defer c.Disconnect()
//
// The client runs until [Client.Disconnect] is called or the transport fails.
// Use [Client.State] and [Client.OnStateChange] to follow the session state.
//
// # Requests
//
// To send a request and wait for its reply, use [Client.Call]:
//
//	rsp, err := c.Call(ctx, "GetBatteryReq", nil, 0)
//	if err != nil {
//	   log.Fatalf("Call failed: %v", err)
//	}
//
// Requests are admitted one at a time, in the order they are issued, so at
// most one exchange with the vehicle is outstanding. The timeout of a call
// covers both its wait in the queue and the exchange itself. A reply arriving
// after its caller gave up is discarded, and never delivered to another
// caller. Errors reported by Call have concrete type [*tether.CallError].
//
// To query the current value of a telemetry message, use
// [Client.GetTelemetry]. To send a one-way control message, which does not
// wait in the request queue, use [Client.SendControl].
//
// # Telemetry
//
// Telemetry published by the vehicle is decoded and passed to the observers
// registered for its key with [Client.Observe], in registration order. The
// most recent value of each key is available from [Client.Latest], and
// [Client.Watch] delivers values on a channel.
//
// # Transports
//
// The channel package provides implementations of [Transport] for ZeroMQ,
// websocket, NATS, and in-memory connections. A transport reports how it
// correlates replies with requests: [ByTopic] transports match a reply to the
// single outstanding request, while [ByID] transports carry a unique ID with
// each request.
//
// # Metrics
//
// Clients record Prometheus metrics in the default registry under the
// "tether_client" prefix. They include message counts by channel, dropped
// messages by reason, call counts, timeouts, pending calls, queue depth, and
// request durations by key.
package tether
