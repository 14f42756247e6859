// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sim

import (
	"context"

	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
	"github.com/tether-rov/tether/registry"
)

// Local is a client connected to a simulated vehicle in memory, suitable for
// testing.
type Local struct {
	Client  *tether.Client
	Vehicle *Vehicle
	Session *Session
}

// NewLocal creates a client and a simulated vehicle connected by a direct
// channel with the given correlation. The client is not yet connected.
// If opts == nil, default client options are used.
func NewLocal(reg *registry.Registry, corr tether.Correlation, opts *tether.Options) *Local {
	tr, link := channel.Direct(corr)
	var vo *Options
	if opts != nil {
		vo = &Options{
			Namespace:        opts.Namespace,
			EmptyReply:       opts.EmptyReply,
			TelemetryRequest: opts.TelemetryRequest,
			TelemetryField:   opts.TelemetryField,
			Logger:           opts.Logger,
		}
	}
	v := New(reg, vo)
	return &Local{
		Client:  tether.NewClient(reg, tr, opts),
		Vehicle: v,
		Session: v.Start(link),
	}
}

// Connect connects the client to the vehicle.
func (l *Local) Connect(ctx context.Context) error { return l.Client.Connect(ctx) }

// Stop disconnects the client and shuts down the vehicle session, and blocks
// until both have exited.
func (l *Local) Stop() error {
	cerr := l.Client.Disconnect()
	serr := l.Session.Stop()
	if cerr != nil {
		return cerr
	}
	return serr
}
