// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package frame_test

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tether-rov/tether/frame"
)

func TestBuilder(t *testing.T) {
	var b frame.Builder
	b.Put([]byte("abc"))
	b.Put(nil)
	b.Put([]byte("de"))
	const want = "\x00\x00\x00\x03abc\x00\x00\x00\x00\x00\x00\x00\x02de"
	if got := string(b.Bytes()); got != want {
		t.Errorf("Big-endian: got %q, want %q", got, want)
	}

	le := frame.Builder{Order: binary.LittleEndian}
	le.Put([]byte("xy"))
	if got, want := string(le.Bytes()), "\x02\x00\x00\x00xy"; got != want {
		t.Errorf("Little-endian: got %q, want %q", got, want)
	}

	b.Reset()
	if b.Len() != 0 {
		t.Errorf("After reset: len = %d, want 0", b.Len())
	}
}

func TestScanner(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		t.Run(order.String(), func(t *testing.T) {
			b := frame.Builder{Order: order.(binary.AppendByteOrder)}
			inputs := []string{"first", "", "second frame", "x"}
			for _, in := range inputs {
				b.Put([]byte(in))
			}

			var got []string
			s := frame.NewScanner(b.Bytes(), order)
			for {
				f, err := s.Next()
				if errors.Is(err, io.EOF) {
					break
				} else if err != nil {
					t.Fatalf("Next: unexpected error: %v", err)
				}
				got = append(got, string(f))
			}
			if diff := cmp.Diff(inputs, got); diff != "" {
				t.Errorf("Frames (-want, +got):\n%s", diff)
			}
			if s.Offset() != b.Len() {
				t.Errorf("Offset: got %d, want %d", s.Offset(), b.Len())
			}
		})
	}
}

func TestTruncated(t *testing.T) {
	tests := []struct {
		name  string
		tail  []byte
		nrest int
	}{
		{"ShortLength", []byte{0, 0}, 2},
		{"ShortBody", []byte{0, 0, 0, 9, 'a', 'b', 'c'}, 7},
		{"HugeLength", []byte{0xff, 0xff, 0xff, 0xff, 'z'}, 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var b frame.Builder
			b.Put([]byte("ok"))
			b.PutRaw(tc.tail)

			s := frame.NewScanner(b.Bytes(), nil)
			if f, err := s.Next(); err != nil || string(f) != "ok" {
				t.Fatalf("Next: got %q, %v; want ok", f, err)
			}
			_, err := s.Next()
			if !errors.Is(err, io.ErrUnexpectedEOF) {
				t.Errorf("Next: got %v, want %v", err, io.ErrUnexpectedEOF)
			}
			// The scanner does not advance past a truncated frame.
			if _, err2 := s.Next(); err2 == nil || s.Len() != tc.nrest {
				t.Errorf("Next again: got %v, len %d; want error, len %d", err2, s.Len(), tc.nrest)
			}

			frames, rest := frame.Split(b.Bytes(), nil)
			if len(frames) != 1 || rest != tc.nrest {
				t.Errorf("Split: got %d frames, %d rest; want 1, %d", len(frames), rest, tc.nrest)
			}
		})
	}
}
