// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Program tether is a command-line utility for interacting with a vehicle.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/go-kit/kit/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tether-rov/tether"
	"github.com/tether-rov/tether/config"
	"github.com/tether-rov/tether/registry"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var flags struct {
	Config    string        `flag:"config,Configuration file path"`
	Transport string        `flag:"transport,Transport name (zmq, websocket, nats)"`
	URL       string        `flag:"url,Vehicle URL for the websocket or nats transport"`
	Timeout   time.Duration `flag:"timeout,Request timeout (overrides the configuration)"`
	Verbose   bool          `flag:"v,Log client events to stderr"`
}

func main() {
	root := &command.C{
		Name:     filepath.Base(os.Args[0]),
		Usage:    "[flags] <command> [args...]",
		Help:     "Utilities for interacting with a remotely operated vehicle.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:  "call",
				Usage: "<key> [json]",
				Help: `Send a request to the vehicle and print its reply.

The request is given as protobuf JSON. If it is omitted, an empty
request is sent. An empty reply is printed as "{}".`,
				Run: runCall,
			},
			{
				Name:  "telemetry",
				Usage: "<key>",
				Help:  "Request the current value of a telemetry message.",
				Run:   runTelemetry,
			},
			{
				Name:     "watch",
				Usage:    "<key>...",
				Help:     watchHelp,
				SetFlags: command.Flags(flax.MustBind, &watchFlags),
				Run:      runWatch,
			},
			{
				Name:  "control",
				Usage: "<key> [json]",
				Help:  "Send a one-way control message to the vehicle.",
				Run:   runControl,
			},
			{
				Name: "keys",
				Help: "List the message keys of the registry, grouped by channel.",
				Run:  runKeys,
			},
			{
				Name:     "binlog",
				Usage:    "<file>",
				Help:     binlogHelp,
				SetFlags: command.Flags(flax.MustBind, &binlogFlags),
				Run:      runBinlog,
			},
			{
				Name:     "serve",
				Help:     serveHelp,
				SetFlags: command.Flags(flax.MustBind, &serveFlags),
				Run:      runServe,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

// newLogger returns a logger writing to stderr if verbose logging is enabled,
// or a no-op logger otherwise.
func newLogger() log.Logger {
	if !flags.Verbose {
		return log.NewNopLogger()
	}
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)
}

// loadConfig loads the configuration file, if any, and applies flag
// overrides.
func loadConfig() (config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.Config != "" {
		var err error
		cfg, err = config.Load(flags.Config)
		if err != nil {
			return config.Config{}, err
		}
	}
	if flags.Transport != "" {
		cfg.Transport = flags.Transport
	}
	if flags.URL != "" {
		switch cfg.Transport {
		case config.Websocket:
			cfg.Websocket.URL = flags.URL
		case config.NATS:
			cfg.NATS.URL = flags.URL
		default:
			return config.Config{}, fmt.Errorf("--url is not used by transport %q", cfg.Transport)
		}
	}
	if flags.Timeout > 0 {
		cfg.RequestTimeout = flags.Timeout
	}
	return cfg, cfg.Validate()
}

// loadRegistry loads the message registry named by the configuration.
func loadRegistry() (*registry.Registry, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Registry()
}

// connect constructs a client from the configuration and connects it.
// The caller must disconnect the client when done.
func connect(ctx context.Context) (*tether.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	tr, err := cfg.NewTransport()
	if err != nil {
		return nil, err
	}
	logger := newLogger()
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, logger)
	}
	c := tether.NewClient(reg, tr, cfg.Options(logger))
	if err := c.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

func serveMetrics(addr string, logger log.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Log("err", err, "metrics", addr)
	}
}

// parseMessage parses a protobuf JSON argument as a message of the type for
// key. An empty argument yields nil.
func parseMessage(reg *registry.Registry, key, arg string) (proto.Message, error) {
	if strings.TrimSpace(arg) == "" {
		return nil, nil
	}
	msg, err := reg.New(key)
	if err != nil {
		return nil, err
	}
	if err := protojson.Unmarshal([]byte(arg), msg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return msg, nil
}

func formatMessage(msg proto.Message) string {
	if msg == nil {
		return "{}"
	}
	data, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

func keyAndMessage(env *command.Env, c *tether.Client) (string, proto.Message, error) {
	if len(env.Args) == 0 || len(env.Args) > 2 {
		return "", nil, env.Usagef("Expected a key and an optional message")
	}
	var arg string
	if len(env.Args) == 2 {
		arg = env.Args[1]
	}
	msg, err := parseMessage(c.Registry(), env.Args[0], arg)
	return env.Args[0], msg, err
}

func runCall(env *command.Env) error {
	ctx := env.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	key, req, err := keyAndMessage(env, c)
	if err != nil {
		return err
	}
	rsp, err := c.Call(ctx, key, req, 0)
	if err != nil {
		return err
	}
	fmt.Println(formatMessage(rsp))
	return nil
}

func runTelemetry(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("Expected a telemetry key")
	}
	ctx := env.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	msg, err := c.GetTelemetry(ctx, env.Args[0])
	if err != nil {
		return err
	}
	fmt.Println(formatMessage(msg))
	return nil
}

func runControl(env *command.Env) error {
	ctx := env.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()

	key, msg, err := keyAndMessage(env, c)
	if err != nil {
		return err
	}
	return c.SendControl(ctx, key, msg)
}

func runKeys(env *command.Env) error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	for _, kind := range []registry.Kind{registry.Request, registry.Reply, registry.Telemetry, registry.Control} {
		keys := reg.Keys(kind)
		if len(keys) == 0 {
			continue
		}
		fmt.Printf("%s:\n", kind)
		for _, key := range keys {
			fmt.Printf("  %s\t%s\n", key, reg.FullName(key))
		}
	}
	return nil
}

// interruptible returns a context that ends when the process is interrupted.
func interruptible(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}
