// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package frame provides support for splitting and building streams of
// length-prefixed binary frames.
//
// Each frame is encoded as a 4-byte unsigned length followed by that many
// bytes of content. There is no header, trailer, or delimiter between frames.
package frame

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultOrder is the byte order used for length prefixes when none is given.
var DefaultOrder binary.ByteOrder = binary.BigEndian

// A Builder is a buffer that accumulates length-prefixed frames. The zero
// value is ready for use as an empty builder with the default byte order.
type Builder struct {
	Order binary.AppendByteOrder // if nil, use DefaultOrder

	buf []byte
}

func (b *Builder) order() binary.AppendByteOrder {
	if b.Order != nil {
		return b.Order
	}
	return DefaultOrder.(binary.AppendByteOrder)
}

// Put appends a frame containing data to b.
func (b *Builder) Put(data []byte) {
	b.Grow(4 + len(data))
	b.buf = b.order().AppendUint32(b.buf, uint32(len(data)))
	b.buf = append(b.buf, data...)
}

// PutRaw appends data to b without a length prefix. This is mainly useful for
// constructing invalid streams for testing.
func (b *Builder) PutRaw(data []byte) { b.buf = append(b.buf, data...) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains ownership
// of the reported slice, and the caller must not retain or modify its contents
// unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// WriteTo writes the contents of b to w. It satisfies io.WriterTo.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	nw, err := w.Write(b.buf)
	return int64(nw), err
}

// A Scanner reads frames from the contents of a buffer.
//
// Next returns [io.EOF] when no further input is available. A length prefix
// that is incomplete, or that declares more bytes than remain in the input,
// reports an error wrapping [io.ErrUnexpectedEOF]. Once an error is reported,
// the scanner does not advance.
type Scanner struct {
	order  binary.ByteOrder
	input  []byte
	rest   []byte
	offset int // of rest from input
}

// NewScanner constructs a [Scanner] that consumes frames from input. If order
// is nil, DefaultOrder is used. The scanner does not modify the contents of
// input, but retains slices into it, so the caller should ensure it is not
// modified while the scanner is in use.
func NewScanner[Str ~string | ~[]byte](input Str, order binary.ByteOrder) *Scanner {
	if order == nil {
		order = DefaultOrder
	}
	data := []byte(input)
	return &Scanner{order: order, input: data, rest: data}
}

// Next returns the content of the next frame. The result aliases the input,
// and the caller must not modify its contents.
func (s *Scanner) Next() ([]byte, error) {
	if len(s.rest) == 0 {
		return nil, io.EOF
	}
	if len(s.rest) < 4 {
		return nil, fmt.Errorf("offset %d: length truncated (%d < 4 bytes): %w",
			s.offset, len(s.rest), io.ErrUnexpectedEOF)
	}
	n := s.order.Uint32(s.rest)
	if uint64(n) > uint64(len(s.rest)-4) {
		return nil, fmt.Errorf("offset %d: frame truncated (%d < %d bytes): %w",
			s.offset, len(s.rest)-4, n, io.ErrUnexpectedEOF)
	}
	end := 4 + int(n)
	out := s.rest[4:end]
	s.offset += end
	s.rest = s.rest[end:]
	return out, nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Split returns the complete frames at the front of input, and the number of
// trailing bytes that did not form a complete frame.
func Split(input []byte, order binary.ByteOrder) (frames [][]byte, rest int) {
	s := NewScanner(input, order)
	for {
		f, err := s.Next()
		if err != nil {
			return frames, s.Len()
		}
		frames = append(frames, f)
	}
}
