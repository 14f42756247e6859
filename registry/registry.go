// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package registry adapts a set of protobuf message types into the message
// registry shared by the vehicle and its clients.
//
// Messages are identified by key, the short name of the message type
// (e.g. "GetBatteryReq"). The suffix of the key determines which channel
// carries the message; see [Kind].
//
// # Usage
//
// Construct a registry from compiled or dynamic message types:
//
//	reg := registry.New(types...)
//
// or from every message in a package of a descriptor set:
//
//	reg, err := registry.Load("vehicle.pb", "blueye.protocol")
//
// Classify a key, and encode or decode its messages:
//
//	if reg.Classify("GetBatteryReq") == registry.Request {
//	   data, err := reg.Encode("GetBatteryReq", msg)
//	   ...
//	}
//
// A Registry is not modified after construction, and it is safe for
// concurrent use by multiple goroutines.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"
)

var (
	// ErrUnknownType is reported for a key that is not in the registry.
	ErrUnknownType = errors.New("registry: unknown message type")

	// ErrDecode is reported for message data that do not parse as the
	// requested type. Errors of this kind have concrete type *DecodeError.
	ErrDecode = errors.New("registry: malformed message")
)

// DecodeError reports a failure to decode the data for a message key.
type DecodeError struct {
	Key string
	Err error
}

func (d *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", d.Key, d.Err) }

// Unwrap reports the underlying error from the protobuf decoder.
func (d *DecodeError) Unwrap() error { return d.Err }

// Is reports whether target is ErrDecode.
func (d *DecodeError) Is(target error) bool { return target == ErrDecode }

// A Registry maps message keys to protobuf message types.
type Registry struct {
	types map[string]protoreflect.MessageType
}

// New constructs a registry containing the specified message types.
// Each type is keyed by the short name of its descriptor. If two types share
// a name, the later one wins.
func New(types ...protoreflect.MessageType) *Registry {
	r := &Registry{types: make(map[string]protoreflect.MessageType)}
	for _, mt := range types {
		r.types[string(mt.Descriptor().Name())] = mt
	}
	return r
}

// FromFiles constructs a registry containing every top-level message declared
// in package pkg of files. If pkg == "", all files are included.
//
// A message whose full name is registered in the global type registry (for
// example because its generated Go package is linked in) uses the generated
// type; all others are represented by dynamic messages.
func FromFiles(files *protoregistry.Files, pkg protoreflect.FullName) *Registry {
	var types []protoreflect.MessageType
	add := func(fd protoreflect.FileDescriptor) bool {
		msgs := fd.Messages()
		for i := range msgs.Len() {
			types = append(types, messageType(msgs.Get(i)))
		}
		return true
	}
	if pkg == "" {
		files.RangeFiles(add)
	} else {
		files.RangeFilesByPackage(pkg, add)
	}
	return New(types...)
}

func messageType(md protoreflect.MessageDescriptor) protoreflect.MessageType {
	if mt, err := protoregistry.GlobalTypes.FindMessageByName(md.FullName()); err == nil {
		return mt
	}
	return dynamicpb.NewMessageType(md)
}

// Len reports the number of message types in r.
func (r *Registry) Len() int { return len(r.types) }

// Keys returns the keys of r in lexicographic order. If any kinds are
// specified, only keys that classify as one of those kinds are included.
func (r *Registry) Keys(kinds ...Kind) []string {
	keys := slices.Sorted(maps.Keys(r.types))
	if len(kinds) == 0 {
		return keys
	}
	return slices.DeleteFunc(keys, func(key string) bool {
		return !slices.Contains(kinds, KindOf(key))
	})
}

// Lookup returns the message type for key, if it is known.
func (r *Registry) Lookup(key string) (protoreflect.MessageType, bool) {
	mt, ok := r.types[key]
	return mt, ok
}

// Classify reports the kind of key. It returns Unknown if key is not in r or
// does not carry a channel suffix.
func (r *Registry) Classify(key string) Kind {
	if _, ok := r.types[key]; !ok {
		return Unknown
	}
	return KindOf(key)
}

// FullName returns the fully-qualified protobuf name for key, or "".
func (r *Registry) FullName(key string) protoreflect.FullName {
	if mt, ok := r.types[key]; ok {
		return mt.Descriptor().FullName()
	}
	return ""
}

// New returns a new empty message for key.
func (r *Registry) New(key string) (proto.Message, error) {
	mt, ok := r.types[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, key)
	}
	return mt.New().Interface(), nil
}

// Encode encodes msg as the message type for key. If msg == nil, Encode
// returns the encoding of an empty message of that type.
func (r *Registry) Encode(key string, msg proto.Message) ([]byte, error) {
	mt, ok := r.types[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, key)
	}
	if msg == nil {
		msg = mt.New().Interface()
	}
	want, got := mt.Descriptor().FullName(), msg.ProtoReflect().Descriptor().FullName()
	if got != want {
		return nil, fmt.Errorf("encode %s: value has type %s, want %s", key, got, want)
	}
	return proto.Marshal(msg)
}

// Decode decodes data as the message type for key.
func (r *Registry) Decode(key string, data []byte) (proto.Message, error) {
	mt, ok := r.types[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, key)
	}
	msg := mt.New().Interface()
	if err := proto.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Key: key, Err: err}
	}
	return msg, nil
}
