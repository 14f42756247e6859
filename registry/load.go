// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package registry

import (
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Load reads a serialized FileDescriptorSet from path, as produced by
// "protoc --include_imports -o path", and returns a registry of the messages
// declared in package pkg. If pkg == "", all messages are included.
func Load(path, pkg string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return Parse(data, pkg)
}

// Parse decodes a serialized FileDescriptorSet and returns a registry of the
// messages declared in package pkg. If pkg == "", all messages are included.
func Parse(data []byte, pkg string) (*Registry, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("parse descriptor set: %w", err)
	}
	r := FromFiles(files, protoreflect.FullName(pkg))
	if r.Len() == 0 {
		return nil, fmt.Errorf("descriptor set has no messages in package %q", pkg)
	}
	return r, nil
}
