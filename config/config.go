// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package config loads client settings from a TOML file.
//
// A configuration file looks like this:
//
//	transport = "zmq"
//	namespace = "vehicle.protocol"
//	schema = "vehicle.pb"
//	request_timeout = "1s"
//
//	[zmq]
//	req = "tcp://192.168.1.101:5556"
//	sub = "tcp://192.168.1.101:5555"
//	pub = "tcp://192.168.1.101:5557"
//
// Settings not defined in the file keep their defaults; see [DefaultConfig].
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-kit/kit/log"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/channel"
	"github.com/tether-rov/tether/internal/vehiclepb"
	"github.com/tether-rov/tether/registry"
)

// Transport names.
const (
	ZMQ       = "zmq"
	Websocket = "websocket"
	NATS      = "nats"
)

// ZMQConfig holds the socket addresses of a ZeroMQ vehicle.
type ZMQConfig struct {
	Req string `toml:"req"`
	Sub string `toml:"sub"`
	Pub string `toml:"pub"`
}

// WebsocketConfig holds the address of a websocket vehicle.
type WebsocketConfig struct {
	URL string `toml:"url"`
}

// NATSConfig holds the address of a NATS relay.
type NATSConfig struct {
	URL  string `toml:"url"`
	Name string `toml:"name"`
}

// Config holds the settings for a client.
type Config struct {
	Transport      string
	Namespace      string
	Schema         string // path of a descriptor set; if "", use the built-in schema
	Package        string // protobuf package of the schema; if "", use Namespace
	RequestTimeout time.Duration
	DrainTimeout   time.Duration
	MetricsAddr    string // if set, serve metrics at this address

	ZMQ       ZMQConfig
	Websocket WebsocketConfig
	NATS      NATSConfig
}

// DefaultConfig returns the settings for a vehicle at its factory address.
func DefaultConfig() Config {
	opts := tether.DefaultOptions()
	return Config{
		Transport:      ZMQ,
		Namespace:      opts.Namespace,
		RequestTimeout: opts.RequestTimeout,
		DrainTimeout:   opts.DrainTimeout,
		ZMQ: ZMQConfig{
			Req: "tcp://192.168.1.101:5556",
			Sub: "tcp://192.168.1.101:5555",
			Pub: "tcp://192.168.1.101:5557",
		},
		Websocket: WebsocketConfig{URL: "ws://192.168.1.101:8765"},
		NATS:      NATSConfig{URL: "nats://127.0.0.1:4222", Name: "tether"},
	}
}

// fileConfig maps the keys of a configuration file.
type fileConfig struct {
	Transport      string          `toml:"transport"`
	Namespace      string          `toml:"namespace"`
	Schema         string          `toml:"schema"`
	Package        string          `toml:"package"`
	RequestTimeout string          `toml:"request_timeout"`
	DrainTimeout   string          `toml:"drain_timeout"`
	MetricsAddr    string          `toml:"metrics_addr"`
	ZMQ            ZMQConfig       `toml:"zmq"`
	Websocket      WebsocketConfig `toml:"websocket"`
	NATS           NATSConfig      `toml:"nats"`
}

// Load reads the configuration file at path, overlaid on the defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := overlay(DefaultConfig(), raw, meta)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses the contents of a configuration file, overlaid on the
// defaults.
func Parse(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return overlay(DefaultConfig(), raw, meta)
}

func overlay(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if und := meta.Undecoded(); len(und) != 0 {
		return Config{}, fmt.Errorf("unknown setting %q", und[0].String())
	}
	str := func(key string, dst *string, v string) {
		if meta.IsDefined(strings.Split(key, ".")...) {
			*dst = strings.TrimSpace(v)
		}
	}
	str("transport", &cfg.Transport, raw.Transport)
	str("namespace", &cfg.Namespace, raw.Namespace)
	str("schema", &cfg.Schema, raw.Schema)
	str("package", &cfg.Package, raw.Package)
	str("metrics_addr", &cfg.MetricsAddr, raw.MetricsAddr)
	str("zmq.req", &cfg.ZMQ.Req, raw.ZMQ.Req)
	str("zmq.sub", &cfg.ZMQ.Sub, raw.ZMQ.Sub)
	str("zmq.pub", &cfg.ZMQ.Pub, raw.ZMQ.Pub)
	str("websocket.url", &cfg.Websocket.URL, raw.Websocket.URL)
	str("nats.url", &cfg.NATS.URL, raw.NATS.URL)
	str("nats.name", &cfg.NATS.Name, raw.NATS.Name)

	for _, d := range []struct {
		key string
		dst *time.Duration
		v   string
	}{
		{"request_timeout", &cfg.RequestTimeout, raw.RequestTimeout},
		{"drain_timeout", &cfg.DrainTimeout, raw.DrainTimeout},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(d.v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		} else if v <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}
	return cfg, cfg.Validate()
}

// Validate reports an error if c does not describe a usable client.
func (c Config) Validate() error {
	switch c.Transport {
	case ZMQ:
		if c.ZMQ.Req == "" || c.ZMQ.Sub == "" {
			return fmt.Errorf("transport %q requires zmq.req and zmq.sub", c.Transport)
		}
	case Websocket:
		if c.Websocket.URL == "" {
			return fmt.Errorf("transport %q requires websocket.url", c.Transport)
		}
	case NATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("transport %q requires nats.url", c.Transport)
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace is empty")
	}
	return nil
}

// Registry loads the message registry named by c.
func (c Config) Registry() (*registry.Registry, error) {
	if c.Schema == "" {
		return vehiclepb.Registry(), nil
	}
	pkg := c.Package
	if pkg == "" {
		pkg = c.Namespace
	}
	return registry.Load(c.Schema, pkg)
}

// NewTransport constructs the transport selected by c.
func (c Config) NewTransport() (tether.Transport, error) {
	switch c.Transport {
	case ZMQ:
		return &channel.ZMQ{ReqAddr: c.ZMQ.Req, SubAddr: c.ZMQ.Sub, PubAddr: c.ZMQ.Pub}, nil
	case Websocket:
		return channel.NewWebsocket(c.Websocket.URL), nil
	case NATS:
		n := channel.NewNATS(c.NATS.URL, c.Namespace)
		n.Name = c.NATS.Name
		return n, nil
	}
	return nil, fmt.Errorf("unknown transport %q", c.Transport)
}

// Options returns client options for c, logging to logger.
func (c Config) Options(logger log.Logger) *tether.Options {
	opts := tether.DefaultOptions()
	opts.Namespace = c.Namespace
	opts.RequestTimeout = c.RequestTimeout
	opts.DrainTimeout = c.DrainTimeout
	if logger != nil {
		opts.Logger = logger
	}
	return &opts
}
