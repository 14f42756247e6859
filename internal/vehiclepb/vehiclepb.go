// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package vehiclepb builds a small vehicle message schema in code, for use in
// tests and demonstrations without generated protobuf code.
package vehiclepb

import (
	"fmt"
	"sync"

	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/anypb"
)

// Package is the protobuf package of the schema.
const Package = "vehicle.protocol"

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
)

func field(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String(typeName)
	}
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

const (
	battery = "." + Package + ".Battery"
	anyType = ".google.protobuf.Any"
)

func fileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String("vehicle/protocol.proto"),
		Package:    proto.String(Package),
		Syntax:     proto.String("proto3"),
		Dependency: []string{"google/protobuf/any.proto"},
		MessageType: []*descriptorpb.DescriptorProto{
			message("Battery",
				field("level", 1, tDouble, ""),
				field("voltage", 2, tDouble, "")),
			message("BatteryTel", field("battery", 1, tMessage, battery)),
			message("DepthTel", field("depth", 1, tDouble, "")),
			message("HeadingTel", field("heading", 1, tDouble, "")),
			message("GetBatteryReq"),
			message("GetBatteryRep", field("battery", 1, tMessage, battery)),
			message("PingReq", field("seq", 1, tUint64, "")),
			message("PingRep", field("seq", 1, tUint64, "")),
			message("SetLightsReq", field("intensity", 1, tDouble, "")),
			message("EmptyRep"),
			message("GetTelemetryReq", field("message_type", 1, tString, "")),
			message("GetTelemetryRep", field("payload", 1, tMessage, anyType)),
			message("LightsCtrl", field("intensity", 1, tDouble, "")),
			message("WatchdogCtrl", field("seq", 1, tUint64, "")),
		},
	}
}

var build = sync.OnceValues(func() (protoreflect.FileDescriptor, error) {
	return protodesc.NewFile(fileProto(), protoregistry.GlobalFiles)
})

// File returns the descriptor for the schema. It panics if the schema does
// not build, which indicates a programming error in this package.
func File() protoreflect.FileDescriptor {
	fd, err := build()
	if err != nil {
		panic(fmt.Sprintf("vehiclepb: building schema: %v", err))
	}
	return fd
}

// Files returns a file registry containing the schema.
func Files() *protoregistry.Files {
	files := new(protoregistry.Files)
	if err := files.RegisterFile(File()); err != nil {
		panic(fmt.Sprintf("vehiclepb: registering schema: %v", err))
	}
	return files
}

// Registry returns a message registry for the schema.
func Registry() *registry.Registry { return registry.FromFiles(Files(), Package) }

// DescriptorSet returns the schema and its imports encoded as a
// FileDescriptorSet, in the form accepted by [registry.Parse].
func DescriptorSet() []byte {
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{
		protodesc.ToFileDescriptorProto(anypb.File_google_protobuf_any_proto),
		fileProto(),
	}}
	data, err := proto.Marshal(set)
	if err != nil {
		panic(fmt.Sprintf("vehiclepb: encoding descriptor set: %v", err))
	}
	return data
}

// New returns a new message for key with the specified fields populated.
// The fields are given as name, value pairs. Values may be float64, uint64,
// string, or proto.Message. New panics if key or a field is unknown.
func New(reg *registry.Registry, key string, fields ...any) proto.Message {
	msg, err := reg.New(key)
	if err != nil {
		panic(err)
	}
	m := msg.ProtoReflect()
	for i := 0; i+1 < len(fields); i += 2 {
		name := fields[i].(string)
		fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
		if fd == nil {
			panic(fmt.Sprintf("vehiclepb: %s has no field %q", key, name))
		}
		switch v := fields[i+1].(type) {
		case proto.Message:
			// Copy through the wire so dynamic and generated types mix.
			sub := m.NewField(fd).Message()
			data, err := proto.Marshal(v)
			if err == nil {
				err = proto.Unmarshal(data, sub.Interface())
			}
			if err != nil {
				panic(err)
			}
			m.Set(fd, protoreflect.ValueOfMessage(sub))
		default:
			m.Set(fd, protoreflect.ValueOf(v))
		}
	}
	return msg
}

// Get returns the value of the named field of msg, in the representation
// used by protoreflect.Value.Interface.
func Get(msg proto.Message, name string) any {
	m := msg.ProtoReflect()
	fd := m.Descriptor().Fields().ByName(protoreflect.Name(name))
	if fd == nil {
		return nil
	}
	return m.Get(fd).Interface()
}
