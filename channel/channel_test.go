// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package channel_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/creachadair/taskgroup"
	"github.com/google/go-cmp/cmp"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
)

func TestDirect(t *testing.T) {
	c, v := channel.Direct(tether.ByTopic)
	if err := c.Send(tether.Message{}); err == nil {
		t.Error("Send before Open did not report an error")
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Open(context.Background()); err == nil {
		t.Error("Open twice did not report an error")
	}

	req := tether.Message{Topic: "vehicle.protocol.PingReq", Data: []byte("ping")}
	rsp := tether.Message{Topic: "vehicle.protocol.PingRep", Data: []byte("pong")}
	tel := tether.Message{Topic: "vehicle.protocol.DepthTel", Data: []byte("deep")}

	g := taskgroup.New(nil)
	g.Go(func() error {
		got, err := v.Recv()
		if err != nil {
			t.Errorf("Link Recv: %v", err)
		}
		if diff := cmp.Diff(req, got); diff != "" {
			t.Errorf("Link Recv (-want, +got):\n%s", diff)
		}
		if err := v.Publish(tel); err != nil {
			t.Errorf("Publish: %v", err)
		}
		if err := v.Reply(rsp); err != nil {
			t.Errorf("Reply: %v", err)
		}
		return nil
	})
	if err := c.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	g.Wait()

	for _, want := range []tether.Message{
		{Topic: tel.Topic, Data: tel.Data, Published: true},
		rsp,
	} {
		got, err := c.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Recv (-want, +got):\n%s", diff)
		}
	}

	// Reconnecting reaches the same link.
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := c.Recv(); err == nil {
		t.Error("Recv after Close did not report an error")
	}
	if err := v.Reply(rsp); err == nil {
		t.Error("Reply while disconnected did not report an error")
	}
	if err := c.Open(context.Background()); err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	g.Go(func() error {
		if _, err := v.Recv(); err != nil {
			t.Errorf("Link Recv after reopen: %v", err)
		}
		return nil
	})
	if err := c.SendControl(tether.Message{Topic: "LightsCtrl"}); err != nil {
		t.Errorf("SendControl: %v", err)
	}
	g.Wait()

	if err := v.Close(); err != nil {
		t.Errorf("Link Close: %v", err)
	}
	if _, err := c.Recv(); err == nil {
		t.Error("Recv after link Close did not report an error")
	}
	if _, err := v.Recv(); err == nil {
		t.Error("Link Recv after Close did not report an error")
	}
	if err := c.Open(context.Background()); err == nil {
		t.Error("Open after link Close did not report an error")
	}
}

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		msg  tether.Message
		want string
	}{
		{"Request", tether.Message{ID: "abc", Topic: "vehicle.protocol.PingReq", Data: []byte{1, 2}},
			`{"id":"abc","key":"vehicle.protocol.PingReq","data":"AQI="}`},
		{"Telemetry", tether.Message{Topic: "DepthTel", Data: []byte("x")},
			`{"key":"DepthTel","data":"eA=="}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := channel.EncodeJSON(tc.msg)
			if err != nil {
				t.Fatalf("EncodeJSON: %v", err)
			}
			if got := string(data); got != tc.want {
				t.Errorf("EncodeJSON: got %s, want %s", got, tc.want)
			}
			msg, err := channel.DecodeJSON(data)
			if err != nil {
				t.Fatalf("DecodeJSON: %v", err)
			}
			if msg.Key() != tc.msg.Key() || msg.ID != tc.msg.ID || string(msg.Data) != string(tc.msg.Data) {
				t.Errorf("DecodeJSON: got %v, want %v", msg, tc.msg)
			}
			if pub := tc.msg.ID == "" && strings.HasSuffix(tc.msg.Topic, "Tel"); msg.Published != pub {
				t.Errorf("DecodeJSON published: got %v, want %v", msg.Published, pub)
			}
		})
	}

	for _, bad := range []string{`{`, `{"id":"x"}`, `{"key":"A","data":"!!"}`} {
		if msg, err := channel.DecodeJSON([]byte(bad)); err == nil {
			t.Errorf("DecodeJSON(%s): got %v, want error", bad, msg)
		}
	}
}

func TestZMQFrames(t *testing.T) {
	msg := tether.Message{Topic: "vehicle.protocol.GetBatteryReq", Data: []byte("\x0a\x00")}
	zm := channel.MsgFrames(msg)
	if len(zm.Frames) != 2 {
		t.Fatalf("MsgFrames: got %d frames, want 2", len(zm.Frames))
	}
	got, err := channel.FramesMsg(zm)
	if err != nil {
		t.Fatalf("FramesMsg: %v", err)
	}
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("FramesMsg (-want, +got):\n%s", diff)
	}

	zm.Frames = zm.Frames[:1]
	if _, err := channel.FramesMsg(zm); err == nil {
		t.Error("FramesMsg with one frame: got nil error")
	}
}

func TestWebsocket(t *testing.T) {
	links := make(chan *channel.WebsocketLink, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l, err := channel.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		links <- l
	}))
	defer srv.Close()

	ws := channel.NewWebsocket("ws" + strings.TrimPrefix(srv.URL, "http"))
	if ws.Correlation() != tether.ByID {
		t.Errorf("Correlation: got %v, want %v", ws.Correlation(), tether.ByID)
	}
	if err := ws.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	l := <-links
	defer l.Close()

	req := tether.Message{ID: "r1", Topic: "vehicle.protocol.PingReq", Data: []byte("ping")}
	if err := ws.Send(req); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := l.Recv()
	if err != nil {
		t.Fatalf("Link Recv: %v", err)
	}
	if got.ID != "r1" || got.Key() != "PingReq" || string(got.Data) != "ping" {
		t.Errorf("Link Recv: got %v, want %v", got, req)
	}

	if err := l.Publish(tether.Message{ID: "ignored", Topic: "DepthTel", Data: []byte("d")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := l.Reply(tether.Message{ID: "r1", Topic: "PingRep", Data: []byte("pong")}); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if tel, err := ws.Recv(); err != nil || !tel.Published || tel.Key() != "DepthTel" {
		t.Errorf("Recv telemetry: got %v, %v", tel, err)
	}
	if rsp, err := ws.Recv(); err != nil || rsp.Published || rsp.ID != "r1" || rsp.Key() != "PingRep" {
		t.Errorf("Recv reply: got %v, %v", rsp, err)
	}

	if err := ws.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := ws.Recv(); err == nil {
		t.Error("Recv after Close did not report an error")
	}
}
