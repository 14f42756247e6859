// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package registry

import (
	"fmt"
	"strings"
)

// Kind classifies a message key by the channel that carries it.
type Kind byte

const (
	Unknown   Kind = iota // Not a known key, or a key without a channel suffix
	Request               // Sent on the request/reply channel, suffix "Req"
	Reply                 // Received on the request/reply channel, suffix "Rep"
	Telemetry             // Published by the vehicle, suffix "Tel"
	Control               // Sent one-way to the vehicle, suffix "Ctrl"
)

var suffixes = [...]string{
	Request:   "Req",
	Reply:     "Rep",
	Telemetry: "Tel",
	Control:   "Ctrl",
}

// Suffix returns the key suffix for k, or "" for Unknown.
func (k Kind) Suffix() string {
	if k == Unknown || int(k) >= len(suffixes) {
		return ""
	}
	return suffixes[k]
}

func (k Kind) String() string {
	switch k {
	case Unknown:
		return "unknown"
	case Request, Reply, Telemetry, Control:
		return suffixes[k]
	default:
		return fmt.Sprintf("kind:%d", byte(k))
	}
}

// KindOf classifies key by its suffix alone, without consulting a registry.
func KindOf(key string) Kind {
	switch {
	case strings.HasSuffix(key, "Ctrl"):
		return Control
	case strings.HasSuffix(key, "Rep"):
		return Reply
	case strings.HasSuffix(key, "Req"):
		return Request
	case strings.HasSuffix(key, "Tel"):
		return Telemetry
	}
	return Unknown
}

// KeyOf returns the message key named by s, which may be a bare key, a dotted
// topic ("ns.pkg.BatteryTel") or a type URL
// ("type.googleapis.com/ns.pkg.BatteryTel"). The key is the final
// dot-separated component of the final slash-separated component.
func KeyOf(s string) string {
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// Topic joins a namespace and key into a dotted topic string.
// If namespace is empty, the key is returned unchanged.
func Topic(namespace, key string) string {
	if namespace == "" {
		return key
	}
	return namespace + "." + key
}
