// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package sim_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
	"github.com/tether-rov/tether/internal/vehiclepb"
	"github.com/tether-rov/tether/registry"
	"github.com/tether-rov/tether/sim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
)

func TestVehicle(t *testing.T) {
	defer leaktest.Check(t)()
	reg := vehiclepb.Registry()

	tr, link := channel.Direct(tether.ByID)
	v := sim.New(reg, nil).
		Handle("PingReq", sim.Returns("PingRep", func(_ context.Context, req proto.Message) (proto.Message, error) {
			return vehiclepb.New(reg, "PingRep", "seq", vehiclepb.Get(req, "seq")), nil
		})).
		Handle("GetBatteryReq", func(context.Context, proto.Message) (string, proto.Message, error) {
			return "", nil, errors.New("battery offline")
		})
	v.SetTelemetry("DepthTel", vehiclepb.New(reg, "DepthTel", "depth", 7.5))
	s := v.Start(link)

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	call := func(id, key string, msg proto.Message) tether.Message {
		t.Helper()
		data, err := reg.Encode(key, msg)
		if err != nil {
			t.Fatalf("Encode %s: %v", key, err)
		}
		if err := tr.Send(tether.Message{ID: id, Topic: registry.Topic("vehicle.protocol", key), Data: data}); err != nil {
			t.Fatalf("Send %s: %v", key, err)
		}
		rsp, err := tr.Recv()
		if err != nil {
			t.Fatalf("Recv %s: %v", key, err)
		}
		if rsp.ID != id {
			t.Errorf("Reply ID: got %q, want %q", rsp.ID, id)
		}
		return rsp
	}

	rsp := call("a", "PingReq", vehiclepb.New(reg, "PingReq", "seq", uint64(3)))
	if rsp.Topic != "vehicle.protocol.PingRep" {
		t.Errorf("Ping reply topic: got %q", rsp.Topic)
	}

	// A failing handler and an unhandled request both get the empty reply.
	for _, key := range []string{"GetBatteryReq", "SetLightsReq"} {
		if rsp := call("b", key, nil); rsp.Key() != "EmptyRep" {
			t.Errorf("%s reply: got %q, want EmptyRep", key, rsp.Key())
		}
	}

	// Telemetry requests are answered from the current values.
	rsp = call("c", "GetTelemetryReq", vehiclepb.New(reg, "GetTelemetryReq", "message_type", "DepthTel"))
	rep, err := reg.Decode(rsp.Key(), rsp.Data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	env, ok := registry.EnvelopeOf(rep)
	if !ok {
		t.Fatalf("Telemetry reply has no envelope: %v", rep)
	}
	_, inner, err := reg.Resolve(env)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if diff := cmp.Diff(vehiclepb.New(reg, "DepthTel", "depth", 7.5), inner, protocmp.Transform()); diff != "" {
		t.Errorf("Telemetry (-want, +got):\n%s", diff)
	}

	// Broadcast reaches the connected session.
	if err := v.Broadcast("HeadingTel", vehiclepb.New(reg, "HeadingTel", "heading", 180.0)); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if msg, err := tr.Recv(); err != nil || !msg.Published || msg.Key() != "HeadingTel" {
		t.Errorf("Recv broadcast: got %v, %v", msg, err)
	}

	tr.Close()
	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestServeHTTP(t *testing.T) {
	reg := vehiclepb.Registry()
	v := sim.New(reg, nil)
	v.SetTelemetry("BatteryTel", vehiclepb.New(reg, "BatteryTel"))
	srv := httptest.NewServer(v)
	defer srv.Close()

	c := tether.NewClient(reg, channel.NewWebsocket("ws"+strings.TrimPrefix(srv.URL, "http")), nil)
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	got, err := c.GetTelemetry(ctx, "BatteryTel")
	if err != nil {
		t.Fatalf("GetTelemetry: %v", err)
	}
	if diff := cmp.Diff(vehiclepb.New(reg, "BatteryTel"), got, protocmp.Transform()); diff != "" {
		t.Errorf("GetTelemetry (-want, +got):\n%s", diff)
	}
}
