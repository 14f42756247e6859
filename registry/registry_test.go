// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package registry_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tether-rov/tether/internal/vehiclepb"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"
	"google.golang.org/protobuf/types/known/anypb"
)

func TestKeyOf(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", ""},
		{"BatteryTel", "BatteryTel"},
		{"vehicle.protocol.BatteryTel", "BatteryTel"},
		{"type.googleapis.com/vehicle.protocol.GetBatteryRep", "GetBatteryRep"},
		{"a/b/c.d.LightsCtrl", "LightsCtrl"},
		{"trailing.", ""},
	}
	for _, tc := range tests {
		if got := registry.KeyOf(tc.input); got != tc.want {
			t.Errorf("KeyOf(%q): got %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		key  string
		want registry.Kind
	}{
		{"GetBatteryReq", registry.Request},
		{"GetBatteryRep", registry.Reply},
		{"BatteryTel", registry.Telemetry},
		{"LightsCtrl", registry.Control},
		{"Battery", registry.Unknown},
		{"", registry.Unknown},
		{"Req", registry.Request},
	}
	for _, tc := range tests {
		if got := registry.KindOf(tc.key); got != tc.want {
			t.Errorf("KindOf(%q): got %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	reg := vehiclepb.Registry()
	tests := []struct {
		key  string
		want registry.Kind
	}{
		{"GetBatteryReq", registry.Request},
		{"GetBatteryRep", registry.Reply},
		{"BatteryTel", registry.Telemetry},
		{"LightsCtrl", registry.Control},
		{"Battery", registry.Unknown},        // known, but no channel suffix
		{"NoSuchThingTel", registry.Unknown}, // right suffix, not registered
	}
	for _, tc := range tests {
		if got := reg.Classify(tc.key); got != tc.want {
			t.Errorf("Classify(%q): got %v, want %v", tc.key, got, tc.want)
		}
	}

	if diff := cmp.Diff([]string{"BatteryTel", "DepthTel", "HeadingTel"},
		reg.Keys(registry.Telemetry)); diff != "" {
		t.Errorf("Telemetry keys (-want, +got):\n%s", diff)
	}
}

func TestEncodeDecode(t *testing.T) {
	reg := vehiclepb.Registry()

	inputs := []struct {
		key string
		msg proto.Message
	}{
		{"PingReq", vehiclepb.New(reg, "PingReq", "seq", uint64(17))},
		{"SetLightsReq", vehiclepb.New(reg, "SetLightsReq", "intensity", 0.25)},
		{"GetTelemetryReq", vehiclepb.New(reg, "GetTelemetryReq", "message_type", "DepthTel")},
		{"BatteryTel", vehiclepb.New(reg, "BatteryTel",
			"battery", vehiclepb.New(reg, "Battery", "level", 0.8, "voltage", 14.2))},
		{"GetBatteryReq", nil},
	}
	for _, in := range inputs {
		data, err := reg.Encode(in.key, in.msg)
		if err != nil {
			t.Fatalf("Encode %q: unexpected error: %v", in.key, err)
		}
		got, err := reg.Decode(in.key, data)
		if err != nil {
			t.Fatalf("Decode %q: unexpected error: %v", in.key, err)
		}
		want := in.msg
		if want == nil {
			want, _ = reg.New(in.key)
		}
		if diff := cmp.Diff(want, got, protocmp.Transform()); diff != "" {
			t.Errorf("Decode %q (-want, +got):\n%s", in.key, diff)
		}
	}
}

func TestErrors(t *testing.T) {
	reg := vehiclepb.Registry()

	if _, err := reg.Encode("NoSuchReq", nil); !errors.Is(err, registry.ErrUnknownType) {
		t.Errorf("Encode unknown: got %v, want %v", err, registry.ErrUnknownType)
	}
	if _, err := reg.Decode("NoSuchRep", nil); !errors.Is(err, registry.ErrUnknownType) {
		t.Errorf("Decode unknown: got %v, want %v", err, registry.ErrUnknownType)
	}

	// Field 1 declared as a length-prefixed value running off the end.
	_, err := reg.Decode("PingRep", []byte{0x0a, 0x10, 0x01})
	var derr *registry.DecodeError
	if !errors.Is(err, registry.ErrDecode) || !errors.As(err, &derr) {
		t.Errorf("Decode malformed: got %v, want %v", err, registry.ErrDecode)
	} else if derr.Key != "PingRep" {
		t.Errorf("DecodeError key: got %q, want PingRep", derr.Key)
	}

	// A value of the wrong type is rejected.
	if _, err := reg.Encode("PingReq", vehiclepb.New(reg, "PingRep")); err == nil {
		t.Error("Encode with mismatched type: got nil error")
	}
}

func TestEnvelope(t *testing.T) {
	reg := vehiclepb.Registry()
	depth := vehiclepb.New(reg, "DepthTel", "depth", 12.5)

	env, err := reg.Wrap("DepthTel", depth)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if got, want := env.TypeURL, "type.googleapis.com/vehicle.protocol.DepthTel"; got != want {
		t.Errorf("TypeURL: got %q, want %q", got, want)
	}

	rep := vehiclepb.New(reg, "GetTelemetryRep")
	if !registry.SetEnvelope(rep, env) {
		t.Fatal("SetEnvelope: no Any field found")
	}

	// Round trip the reply through the wire to make sure the envelope survives.
	data, err := reg.Encode("GetTelemetryRep", rep)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	dec, err := reg.Decode("GetTelemetryRep", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := registry.EnvelopeOf(dec)
	if !ok {
		t.Fatal("EnvelopeOf: no envelope found")
	}
	if diff := cmp.Diff(env, got); diff != "" {
		t.Errorf("Envelope (-want, +got):\n%s", diff)
	}

	key, inner, err := reg.Resolve(got)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != "DepthTel" {
		t.Errorf("Resolve key: got %q, want DepthTel", key)
	}
	if diff := cmp.Diff(depth, inner, protocmp.Transform()); diff != "" {
		t.Errorf("Resolve (-want, +got):\n%s", diff)
	}

	if _, ok := registry.EnvelopeOf(vehiclepb.New(reg, "GetTelemetryRep")); ok {
		t.Error("EnvelopeOf empty reply: got ok, want !ok")
	}
	a := &anypb.Any{TypeUrl: "x/y.BatteryTel", Value: []byte("v")}
	if got, ok := registry.EnvelopeOf(a); !ok || got.Key() != "BatteryTel" {
		t.Errorf("EnvelopeOf(Any): got %v, %v", got, ok)
	}
	if _, _, err := reg.Resolve(registry.Envelope{TypeURL: "x/y.MysteryTel"}); !errors.Is(err, registry.ErrUnknownType) {
		t.Errorf("Resolve unknown: got %v, want %v", err, registry.ErrUnknownType)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle.pb")
	if err := os.WriteFile(path, vehiclepb.DescriptorSet(), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	reg, err := registry.Load(path, vehiclepb.Package)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(vehiclepb.Registry().Keys(), reg.Keys()); diff != "" {
		t.Errorf("Loaded keys (-want, +got):\n%s", diff)
	}
	if _, err := registry.Load(path, "no.such.package"); err == nil {
		t.Error("Load with missing package: got nil error")
	}
}
