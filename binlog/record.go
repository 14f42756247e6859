// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package binlog

import (
	"errors"
	"fmt"

	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Field numbers of the encoded record.
const (
	payloadField   protowire.Number = 1 // google.protobuf.Any
	wallField      protowire.Number = 2 // google.protobuf.Timestamp
	monotonicField protowire.Number = 3 // google.protobuf.Timestamp
)

// rawRecord is the stored form of a single record, before its payload is
// decoded.
type rawRecord struct {
	Payload     registry.Envelope
	WallMS      int64
	MonotonicMS int64
}

// Encode appends the binary encoding of r to buf, and returns the updated
// slice.
func (r rawRecord) Encode(buf []byte) []byte {
	buf = appendMessage(buf, payloadField, &anypb.Any{TypeUrl: r.Payload.TypeURL, Value: r.Payload.Value})
	buf = appendMessage(buf, wallField, fromMillis(r.WallMS))
	return appendMessage(buf, monotonicField, fromMillis(r.MonotonicMS))
}

// Decode decodes the contents of buf into r. Unrecognized fields are ignored.
func (r *rawRecord) Decode(buf []byte) error {
	*r = rawRecord{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]
		if typ != protowire.BytesType || num < payloadField || num > monotonicField {
			n = protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return protowire.ParseError(n)
			}
			buf = buf[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(buf)
		if n < 0 {
			return protowire.ParseError(n)
		}
		buf = buf[n:]

		switch num {
		case payloadField:
			var a anypb.Any
			if err := proto.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("payload: %w", err)
			}
			r.Payload = registry.Envelope{TypeURL: a.GetTypeUrl(), Value: a.GetValue()}
		case wallField, monotonicField:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(v, &ts); err != nil {
				return fmt.Errorf("timestamp %d: %w", num, err)
			}
			if num == wallField {
				r.WallMS = toMillis(&ts)
			} else {
				r.MonotonicMS = toMillis(&ts)
			}
		}
	}
	if r.Payload.TypeURL == "" {
		return errors.New("record has no payload")
	}
	return nil
}

func appendMessage(buf []byte, num protowire.Number, m proto.Message) []byte {
	data, err := proto.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", m, err)) // well-known types always marshal
	}
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, data)
}

func toMillis(ts *timestamppb.Timestamp) int64 {
	return ts.GetSeconds()*1000 + int64(ts.GetNanos())/1e6
}

func fromMillis(ms int64) *timestamppb.Timestamp {
	sec, rem := ms/1000, ms%1000
	if rem < 0 {
		sec, rem = sec-1, rem+1000
	}
	return &timestamppb.Timestamp{Seconds: sec, Nanos: int32(rem * 1e6)}
}
