// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether

import (
	"context"
	"fmt"
	"time"

	"github.com/tether-rov/tether/registry"
)

// Correlation describes how a transport matches replies to requests.
type Correlation byte

const (
	// ByTopic transports carry no correlation token. A reply belongs to the
	// single outstanding request, and its key is taken from its topic.
	ByTopic Correlation = iota

	// ByID transports tag each request with a unique ID, and the vehicle
	// echoes that ID in the reply.
	ByID
)

func (c Correlation) String() string {
	switch c {
	case ByTopic:
		return "topic"
	case ByID:
		return "id"
	default:
		return fmt.Sprintf("correlation:%d", byte(c))
	}
}

// A Message is one unit exchanged with the vehicle.
type Message struct {
	ID        string // correlation token, or "" if none
	Topic     string // namespace and key, e.g. "vehicle.protocol.GetBatteryReq"
	Data      []byte // encoded message
	Published bool   // received on the publish/subscribe channel
}

// Key returns the message key named by the topic of m.
func (m Message) Key() string { return registry.KeyOf(m.Topic) }

func (m Message) String() string {
	var id string
	if m.ID != "" {
		id = fmt.Sprintf("ID=%s, ", m.ID)
	}
	return fmt.Sprintf("Message(%sTopic=%s, %d bytes)", id, m.Topic, len(m.Data))
}

// A Transport carries messages between a client and the vehicle.
//
// Send writes to the exclusive request/reply channel and is only called by
// one goroutine at a time. SendControl may be called concurrently with Send.
// Recv is called by a single receiver goroutine, and reports both replies and
// published telemetry. Close must cause a pending Recv to return an error.
type Transport interface {
	// Open attaches the transport to the vehicle.
	Open(ctx context.Context) error

	// Send sends a request to the vehicle.
	Send(Message) error

	// SendControl sends a one-way control message to the vehicle.
	SendControl(Message) error

	// Recv receives the next reply or published message from the vehicle.
	Recv() (Message, error)

	// Close detaches the transport, terminating any pending Recv.
	Close() error

	// Correlation reports how the transport correlates replies.
	Correlation() Correlation
}

// A Resetter is a transport that can resynchronize its request channel after
// a request was abandoned without a reply. A client calls Reset after a
// timed-out exchange on a ByTopic transport fails to drain.
type Resetter interface {
	Reset() error
}

// A MessageLogger logs a message exchanged with the vehicle.
type MessageLogger func(MessageInfo)

// A MessageInfo combines a message with the direction and time of its
// exchange.
type MessageInfo struct {
	Message
	Sent bool      // whether the message was sent (true) or received (false)
	Time time.Time // when the message was sent or received
}

func (m MessageInfo) dir() string {
	if m.Sent {
		return "send"
	}
	return "recv"
}

func (m MessageInfo) String() string {
	return fmt.Sprintf("%v %v", m.dir(), m.Message)
}
