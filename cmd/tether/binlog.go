// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/creachadair/command"
	"github.com/tether-rov/tether/binlog"
)

const binlogHelp = `Decode a recorded session and print its records.

Each record is printed on one line as: time channel key json.
For a telemetry reply carrying a nested message, the key and value of
the nested message are printed in place of the reply.

By default, record times are reconciled to the wall clock of the final
record, and frame lengths are read as big-endian.`

var binlogFlags struct {
	NoReconcile  bool `flag:"raw-time,Print wall-clock times as recorded"`
	LittleEndian bool `flag:"le,Read frame lengths as little-endian"`
	Monotonic    bool `flag:"mono,Print monotonic milliseconds instead of wall-clock times"`
}

func runBinlog(env *command.Env) error {
	if len(env.Args) != 1 {
		return env.Usagef("Expected a binlog file")
	}
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	f, err := os.Open(env.Args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	opts := &binlog.Options{NoReconcile: binlogFlags.NoReconcile, Logger: newLogger()}
	if binlogFlags.LittleEndian {
		opts.Order = binary.LittleEndian
	}
	recs, err := binlog.Decode(bufio.NewReader(f), reg, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", env.Args[0], err)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	for _, rec := range recs {
		var when string
		if binlogFlags.Monotonic {
			when = fmt.Sprint(rec.MonotonicMS)
		} else {
			when = time.UnixMilli(rec.WallMS).UTC().Format(time.RFC3339Nano)
		}
		key, msg := rec.Key, rec.Data
		if rec.Inner != nil {
			key, msg = rec.InnerKey, rec.Inner
		}
		fmt.Fprintf(w, "%s %s %s %s\n", when, rec.Kind, key, formatMessage(msg))
	}
	return nil
}
