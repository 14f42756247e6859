// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package vehiclepb_test

import (
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/tether-rov/tether/internal/vehiclepb"
	"github.com/tether-rov/tether/registry"
)

func TestRegistry(t *testing.T) {
	reg := vehiclepb.Registry()
	for _, key := range []string{"PingReq", "PingRep", "EmptyRep", "GetTelemetryRep", "DepthTel", "LightsCtrl"} {
		if reg.Classify(key) == registry.Unknown {
			t.Errorf("Classify(%q): key is not known", key)
		}
	}
	if got := reg.FullName("BatteryTel"); got != vehiclepb.Package+".BatteryTel" {
		t.Errorf("FullName(BatteryTel): got %q", got)
	}

	parsed, err := registry.Parse(vehiclepb.DescriptorSet(), vehiclepb.Package)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Len() != reg.Len() {
		t.Errorf("Parse: got %d types, want %d", parsed.Len(), reg.Len())
	}
}

func TestNew(t *testing.T) {
	reg := vehiclepb.Registry()
	msg := vehiclepb.New(reg, "BatteryTel",
		"battery", vehiclepb.New(reg, "Battery", "level", 0.5, "voltage", 14.8))
	sub, ok := vehiclepb.Get(msg, "battery").(interface{ IsValid() bool })
	if !ok || !sub.IsValid() {
		t.Errorf("Get(battery): got %v", vehiclepb.Get(msg, "battery"))
	}
	if got := vehiclepb.Get(vehiclepb.New(reg, "PingReq", "seq", uint64(9)), "seq"); got != uint64(9) {
		t.Errorf("Get(seq): got %v, want 9", got)
	}
	if got := vehiclepb.Get(msg, "nonesuch"); got != nil {
		t.Errorf("Get(nonesuch): got %v, want nil", got)
	}

	mtest.MustPanic(t, func() { vehiclepb.New(reg, "NoSuchTel") })
	mtest.MustPanic(t, func() { vehiclepb.New(reg, "PingReq", "nonesuch", uint64(1)) })
}
