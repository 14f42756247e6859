// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package registry

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/known/anypb"
)

// TypeURLPrefix is the prefix used when wrapping messages in an Envelope.
const TypeURLPrefix = "type.googleapis.com/"

const anyName protoreflect.FullName = "google.protobuf.Any"

// An Envelope is a self-describing wrapper for an encoded message. It has the
// same wire format as google.protobuf.Any.
type Envelope struct {
	TypeURL string
	Value   []byte
}

// Key returns the message key named by the type URL of e.
func (e Envelope) Key() string { return KeyOf(e.TypeURL) }

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope(%s, %d bytes)", e.TypeURL, len(e.Value))
}

// Wrap encodes msg as the type for key and returns it in an Envelope.
func (r *Registry) Wrap(key string, msg proto.Message) (Envelope, error) {
	data, err := r.Encode(key, msg)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{TypeURL: TypeURLPrefix + string(r.FullName(key)), Value: data}, nil
}

// Resolve classifies and decodes the contents of e. It reports ErrUnknownType
// if the type URL of e does not name a key in r.
func (r *Registry) Resolve(e Envelope) (string, proto.Message, error) {
	key := e.Key()
	if r.Classify(key) == Unknown {
		return key, nil, fmt.Errorf("%w: %q", ErrUnknownType, e.TypeURL)
	}
	msg, err := r.Decode(key, e.Value)
	return key, msg, err
}

// EnvelopeOf extracts an envelope from msg. If msg is itself a
// google.protobuf.Any, its contents are returned. Otherwise EnvelopeOf returns
// the contents of the first populated singular field of msg whose type is
// google.protobuf.Any. It reports false if no such field is set.
func EnvelopeOf(msg proto.Message) (Envelope, bool) {
	if msg == nil {
		return Envelope{}, false
	}
	if a, ok := msg.(*anypb.Any); ok {
		return Envelope{TypeURL: a.GetTypeUrl(), Value: a.GetValue()}, true
	}
	m := msg.ProtoReflect()
	if m.Descriptor().FullName() == anyName {
		return anyFields(m), true
	}
	fd := anyField(m.Descriptor())
	if fd == nil || !m.Has(fd) {
		return Envelope{}, false
	}
	return anyFields(m.Get(fd).Message()), true
}

// SetEnvelope stores e into the first singular google.protobuf.Any field of
// msg, and reports whether such a field was found.
func SetEnvelope(msg proto.Message, e Envelope) bool {
	m := msg.ProtoReflect()
	fd := anyField(m.Descriptor())
	if fd == nil {
		return false
	}
	sub := m.NewField(fd).Message()
	sd := sub.Descriptor().Fields()
	sub.Set(sd.ByName("type_url"), protoreflect.ValueOfString(e.TypeURL))
	sub.Set(sd.ByName("value"), protoreflect.ValueOfBytes(e.Value))
	m.Set(fd, protoreflect.ValueOfMessage(sub))
	return true
}

func anyField(md protoreflect.MessageDescriptor) protoreflect.FieldDescriptor {
	fields := md.Fields()
	for i := range fields.Len() {
		fd := fields.Get(i)
		if fd.Kind() == protoreflect.MessageKind && !fd.IsList() && !fd.IsMap() &&
			fd.Message().FullName() == anyName {
			return fd
		}
	}
	return nil
}

func anyFields(m protoreflect.Message) Envelope {
	fields := m.Descriptor().Fields()
	return Envelope{
		TypeURL: m.Get(fields.ByName("type_url")).String(),
		Value:   m.Get(fields.ByName("value")).Bytes(),
	}
}
