// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/creachadair/command"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/binlog"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
)

const watchHelp = `Print telemetry published by the vehicle until interrupted.

Each message is printed on one line as: time key json.
If no keys are given, every telemetry key of the registry is watched.
With --record, all messages exchanged with the vehicle are also written
to a binlog file.`

var watchFlags struct {
	Record string `flag:"record,Write a binlog of the session to this file"`
}

func runWatch(env *command.Env) error {
	ctx, cancel := interruptible(env.Context())
	defer cancel()

	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	if watchFlags.Record != "" {
		f, err := os.Create(watchFlags.Record)
		if err != nil {
			return err
		}
		defer f.Close()
		w := binlog.NewWriter(f, c.Registry(), nil)
		defer func() { c.Disconnect(); w.Close() }()
		c.LogMessages(binlog.NewRecorder(w, newLogger()).Log)
	}

	keys := env.Args
	if len(keys) == 0 {
		keys = c.Registry().Keys(registry.Telemetry)
	}
	var μ sync.Mutex
	for _, key := range keys {
		defer c.Observe(key, func(msg proto.Message) {
			μ.Lock()
			defer μ.Unlock()
			fmt.Printf("%s %s %s\n", time.Now().Format(time.RFC3339Nano), key, formatMessage(msg))
		})()
	}

	lost := make(chan struct{})
	var once sync.Once
	defer c.OnStateChange(func(_, s tether.State) {
		if s == tether.Disconnected {
			once.Do(func() { close(lost) })
		}
	})()

	select {
	case <-ctx.Done():
		return nil
	case <-lost:
		return fmt.Errorf("connection to vehicle lost")
	}
}
