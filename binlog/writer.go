// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package binlog

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/frame"
	"github.com/tether-rov/tether/registry"
)

// A Writer writes records to a binlog. It is safe for concurrent use by
// multiple goroutines. Once a write fails, all subsequent writes report the
// same error.
type Writer struct {
	reg *registry.Registry

	μ   sync.Mutex
	zw  *gzip.Writer
	buf frame.Builder
	err error
}

// NewWriter constructs a Writer that writes a binlog to w, encoding messages
// with reg. If order == nil, length prefixes are big-endian.
func NewWriter(w io.Writer, reg *registry.Registry, order binary.AppendByteOrder) *Writer {
	return &Writer{reg: reg, zw: gzip.NewWriter(w), buf: frame.Builder{Order: order}}
}

// Write adds rec to the binlog. Only the timestamps, key, and data of rec are
// recorded.
func (w *Writer) Write(rec Record) error {
	env, err := w.reg.Wrap(rec.Key, rec.Data)
	if err != nil {
		return err
	}
	return w.WriteEnvelope(env, rec.MonotonicMS, rec.WallMS)
}

// WriteEnvelope adds a record with the given payload and timestamps to the
// binlog.
func (w *Writer) WriteEnvelope(env registry.Envelope, monotonicMS, wallMS int64) error {
	data := rawRecord{Payload: env, WallMS: wallMS, MonotonicMS: monotonicMS}.Encode(nil)

	w.μ.Lock()
	defer w.μ.Unlock()
	if w.err != nil {
		return w.err
	}
	w.buf.Reset()
	w.buf.Put(data)
	_, w.err = w.buf.WriteTo(w.zw)
	return w.err
}

// Flush flushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.μ.Lock()
	defer w.μ.Unlock()
	if w.err != nil {
		return w.err
	}
	w.err = w.zw.Flush()
	return w.err
}

// Close flushes and terminates the compressed stream. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	w.μ.Lock()
	defer w.μ.Unlock()
	cerr := w.zw.Close()
	if w.err == nil {
		w.err = cerr
	}
	return cerr
}

// A Recorder records the messages exchanged by a client to a binlog.
//
// Register its Log method with a client to record a session:
//
//	rec := binlog.NewRecorder(w, logger)
//	client.LogMessages(rec.Log)
//
// Monotonic timestamps are measured from the construction of the Recorder.
type Recorder struct {
	w     *Writer
	log   log.Logger
	start time.Time
}

// NewRecorder constructs a Recorder that writes to w. Messages that cannot be
// recorded are logged to logger, which may be nil to discard them.
func NewRecorder(w *Writer, logger log.Logger) *Recorder {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Recorder{w: w, log: logger, start: time.Now()}
}

// Log records the message described by mi. It has the signature of a
// [tether.MessageLogger].
func (r *Recorder) Log(mi tether.MessageInfo) {
	key := mi.Key()
	name := r.w.reg.FullName(key)
	if name == "" {
		r.log.Log("warning", "message not recorded", "key", key, "err", registry.ErrUnknownType)
		return
	}
	env := registry.Envelope{TypeURL: registry.TypeURLPrefix + string(name), Value: mi.Data}
	mono := mi.Time.Sub(r.start).Milliseconds()
	if err := r.w.WriteEnvelope(env, mono, mi.Time.UnixMilli()); err != nil {
		r.log.Log("warning", "message not recorded", "key", key, "err", err)
	}
}
