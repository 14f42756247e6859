// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package tether_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
	"github.com/tether-rov/tether/internal/vehiclepb"
	"github.com/tether-rov/tether/sim"
	"google.golang.org/protobuf/proto"
)

func BenchmarkCall(b *testing.B) {
	battery := vehiclepb.New(reg, "GetBatteryRep",
		"battery", vehiclepb.New(reg, "Battery", "level", 0.9, "voltage", 15.1))

	for _, corr := range []tether.Correlation{tether.ByTopic, tether.ByID} {
		b.Run("Direct-"+corr.String(), func(b *testing.B) {
			loc := sim.NewLocal(reg, corr, nil)
			if err := loc.Connect(context.Background()); err != nil {
				b.Fatalf("Connect: %v", err)
			}
			defer loc.Stop()

			loc.Vehicle.Handle("GetBatteryReq", sim.Static("GetBatteryRep", battery))
			runBench(b, loc.Client, "GetBatteryReq", nil)
		})
	}

	b.Run("Websocket", func(b *testing.B) {
		v := sim.New(reg, nil).Handle("PingReq", echoPing(nil))
		srv := httptest.NewServer(v)
		defer srv.Close()

		c := tether.NewClient(reg, channel.NewWebsocket("ws"+strings.TrimPrefix(srv.URL, "http")), nil)
		if err := c.Connect(context.Background()); err != nil {
			b.Fatalf("Connect: %v", err)
		}
		defer c.Disconnect()
		runBench(b, c, "PingReq", ping(1))
	})
}

func runBench(b *testing.B, c *tether.Client, key string, msg proto.Message) {
	b.Helper()
	ctx := context.Background()

	for b.Loop() {
		if _, err := c.Call(ctx, key, msg, 0); err != nil {
			b.Fatal(err)
		}
	}
}
