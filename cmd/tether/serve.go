// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/taskgroup"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tether-rov/tether/registry"
	"github.com/tether-rov/tether/sim"
)

const serveHelp = `Serve a simulated vehicle over a websocket.

The simulated vehicle answers every request with an empty reply, and
answers telemetry requests with the most recent published value. Every
telemetry key of the registry is published as an empty message once per
interval. Metrics are served at /metrics.`

var serveFlags struct {
	Addr     string        `flag:"addr,default=localhost:8765,Service address"`
	Interval time.Duration `flag:"interval,default=1s,Telemetry publication interval"`
}

func runServe(env *command.Env) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	logger := newLogger()
	v := sim.New(reg, &sim.Options{Namespace: cfg.Namespace, Logger: logger})

	mux := http.NewServeMux()
	mux.Handle("/", v)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: serveFlags.Addr, Handler: mux}

	ctx, cancel := interruptible(env.Context())
	defer cancel()

	g := taskgroup.New(nil)
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			cancel()
			return err
		}
		return nil
	})
	g.Go(func() error {
		publish(ctx, v, reg, serveFlags.Interval)
		return nil
	})
	logger.Log("msg", "serving simulated vehicle", "addr", serveFlags.Addr)

	<-ctx.Done()
	sctx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(sctx)
	return g.Wait()
}

// publish broadcasts an empty value for each telemetry key of reg once per
// interval until ctx ends.
func publish(ctx context.Context, v *sim.Vehicle, reg *registry.Registry, interval time.Duration) {
	keys := reg.Keys(registry.Telemetry)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, key := range keys {
				msg, err := reg.New(key)
				if err != nil {
					continue
				}
				v.Broadcast(key, msg)
			}
		}
	}
}
