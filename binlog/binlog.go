// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package binlog decodes and writes recorded vehicle sessions.
//
// A binlog is a gzip-compressed sequence of length-prefixed frames, each
// holding one encoded record. A record carries a wall-clock timestamp, a
// monotonic timestamp, and a payload envelope naming a message type from the
// registry. There is no header, checksum, or record count. The end of the
// input, or a truncated final frame, ends the stream.
//
// Use [Decode] to read a complete binlog:
//
//	recs, err := binlog.Decode(f, reg, nil)
//
// Use [Records] to stream records without reconciling their timestamps, and
// [Writer] or [Recorder] to produce a binlog.
package binlog

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/go-kit/kit/log"
	"github.com/tether-rov/tether/frame"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
)

var (
	// ErrDecompress is reported when the input is not a valid gzip stream.
	// It is fatal for the whole stream.
	ErrDecompress = errors.New("binlog: decompression failed")

	// ErrTruncatedFrame is reported by [Records] when the final frame of the
	// stream is incomplete. No further records follow it.
	ErrTruncatedFrame = errors.New("binlog: truncated frame")
)

// A Record is a single decoded binlog entry.
type Record struct {
	MonotonicMS int64         // monotonic clock, milliseconds
	WallMS      int64         // wall clock, milliseconds since the Unix epoch
	Kind        registry.Kind // channel that carried the message
	Key         string        // message key
	Data        proto.Message // decoded message

	// For a telemetry reply, the key and decoded value of the telemetry it
	// carries. Empty if the reply carried none, or it could not be resolved.
	InnerKey string
	Inner    proto.Message
}

func (r Record) String() string {
	s := fmt.Sprintf("%d %s %s", r.WallMS, r.Kind, r.Key)
	if r.InnerKey != "" {
		s += "(" + r.InnerKey + ")"
	}
	return s
}

// Options control the decoding of a binlog. A nil *Options is ready for use
// and provides defaults as described.
type Options struct {
	// Byte order of frame length prefixes. If nil, use big-endian.
	Order binary.ByteOrder

	// The key of the reply whose payload carries a nested envelope.
	// If "", use "GetTelemetryRep".
	NestedKey string

	// If true, Decode reports timestamps as recorded.
	NoReconcile bool

	// Warnings about skipped frames are written here. If nil, they are
	// discarded.
	Logger log.Logger
}

func (o *Options) order() binary.ByteOrder {
	if o == nil || o.Order == nil {
		return frame.DefaultOrder
	}
	return o.Order
}

func (o *Options) nestedKey() string {
	if o == nil || o.NestedKey == "" {
		return "GetTelemetryRep"
	}
	return o.NestedKey
}

func (o *Options) reconcile() bool { return o == nil || !o.NoReconcile }

func (o *Options) logger() log.Logger {
	if o == nil || o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

// Decode reads a complete binlog from r, and returns its records in stream
// order. Frames whose type is not in reg, or that do not decode, are skipped.
// A truncated final frame ends the stream, and the records before it are
// returned without error. Unless opts.NoReconcile is set, the wall-clock
// times of the records are reconciled as described by [Reconcile].
//
// Decode reports an error wrapping [ErrDecompress] if r is not a valid gzip
// stream.
func Decode(r io.Reader, reg *registry.Registry, opts *Options) ([]Record, error) {
	logger := opts.logger()
	var recs []Record
	for rec, err := range Records(r, reg, opts) {
		if errors.Is(err, ErrTruncatedFrame) {
			logger.Log("warning", "binlog truncated", "records", len(recs), "err", err)
			break
		} else if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if opts.reconcile() {
		Reconcile(recs)
	}
	return recs, nil
}

// Records returns an iterator over the records of the binlog read from r.
// Timestamps are reported as recorded.
//
// The iterator yields zero or more (rec, nil) values. If the stream cannot be
// decompressed, or its final frame is truncated, the iterator ends with a
// final (Record{}, err) tuple.
func Records(r io.Reader, reg *registry.Registry, opts *Options) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		body, err := decompress(r)
		if err != nil {
			yield(Record{}, err)
			return
		}
		d := decoder{reg: reg, nested: opts.nestedKey(), log: opts.logger()}
		s := frame.NewScanner(body, opts.order())
		for {
			off := s.Offset()
			f, err := s.Next()
			if err == io.EOF {
				return
			} else if err != nil {
				yield(Record{}, fmt.Errorf("%w: %w", ErrTruncatedFrame, err))
				return
			}
			rec, ok := d.decode(off, f)
			if ok && !yield(rec, nil) {
				return
			}
		}
	}
}

func decompress(r io.Reader) ([]byte, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	defer zr.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(zr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	return buf.Bytes(), nil
}

type decoder struct {
	reg    *registry.Registry
	nested string
	log    log.Logger
}

// decode decodes the frame at offset off, and reports whether it produced a
// record. Frames that do not produce a record are logged.
func (d decoder) decode(off int, f []byte) (Record, bool) {
	var raw rawRecord
	if err := raw.Decode(f); err != nil {
		d.log.Log("warning", "skipped malformed frame", "offset", off, "err", err)
		return Record{}, false
	}
	key, msg, err := d.reg.Resolve(raw.Payload)
	if err != nil {
		d.log.Log("warning", "skipped frame", "offset", off, "type", raw.Payload.TypeURL, "err", err)
		return Record{}, false
	}
	rec := Record{
		MonotonicMS: raw.MonotonicMS,
		WallMS:      raw.WallMS,
		Kind:        kindOf(key),
		Key:         key,
		Data:        msg,
	}
	if key == d.nested {
		d.resolveInner(off, &rec)
	}
	return rec, true
}

// resolveInner resolves the envelope carried by rec.Data, if any. Only one
// level of nesting is resolved.
func (d decoder) resolveInner(off int, rec *Record) {
	env, ok := registry.EnvelopeOf(rec.Data)
	if !ok || env.TypeURL == "" {
		return
	}
	key, msg, err := d.reg.Resolve(env)
	if err != nil {
		d.log.Log("warning", "unresolved nested message", "offset", off, "key", rec.Key,
			"type", env.TypeURL, "err", err)
		return
	}
	rec.InnerKey, rec.Inner = key, msg
}

// kindOf classifies key by suffix. A key with no known suffix is telemetry.
func kindOf(key string) registry.Kind {
	if k := registry.KindOf(key); k != registry.Unknown {
		return k
	}
	return registry.Telemetry
}

// Reconcile rewrites the wall-clock times of recs in place from their
// monotonic times, anchored at the last record. Each wall time becomes
//
//	anchor.WallMS - (anchor.MonotonicMS - rec.MonotonicMS)
//
// Reconcile does nothing if recs is empty.
func Reconcile(recs []Record) {
	if len(recs) == 0 {
		return
	}
	anchor := recs[len(recs)-1]
	for i := range recs {
		recs[i].WallMS = anchor.WallMS - (anchor.MonotonicMS - recs[i].MonotonicMS)
	}
}
