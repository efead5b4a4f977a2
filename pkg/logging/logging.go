// Copyright 2025 The CSA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging configures the process-wide slog logger for csa.
//
// csa's own diagnostics go to stderr (or a --log-file); command results
// go to stdout, and tool child stderr may be tee'd onto the same stream
// as the logs, so output stays plain text with no ANSI sequences.
// In the simple and verbose formats, records emitted by dependencies
// (go-git, the etcd/consul clients) are suppressed unless the level is
// debug; the json format does not filter by origin.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
)

// modulePrefix identifies this repo's own packages when deciding whether
// a record came from csa or from a dependency.
const modulePrefix = "github.com/csa-project/csa"

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// ParseLevel maps a --log-level string to a slog.Level. Unknown values
// are an error rather than a silent fallback, so a typo in config
// surfaces immediately.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unknown level %q (valid: debug, info, warn, error)", s)
	}
}

// handler is csa's single text handler. It renders either
//
//	LEVEL message key=value ...          (simple)
//	2006-01-02T15:04:05Z LEVEL message key=value ...  (verbose)
//
// and drops records that originate outside this module whenever the
// configured level is above debug.
type handler struct {
	w       io.Writer
	level   slog.Level
	verbose bool
	attrs   []slog.Attr
	group   string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	if h.level > slog.LevelDebug && !fromThisModule(r.PC) {
		return nil
	}

	var b []byte
	if h.verbose && !r.Time.IsZero() {
		b = r.Time.UTC().AppendFormat(b, "2006-01-02T15:04:05Z")
		b = append(b, ' ')
	}
	b = append(b, r.Level.String()...)
	b = append(b, ' ')
	b = append(b, r.Message...)
	for _, a := range h.attrs {
		b = h.appendAttr(b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		b = h.appendAttr(b, a)
		return true
	})
	b = append(b, '\n')

	_, err := h.w.Write(b)
	return err
}

func (h *handler) appendAttr(b []byte, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return b
	}
	b = append(b, ' ')
	if h.group != "" {
		b = append(b, h.group...)
		b = append(b, '.')
	}
	b = append(b, a.Key...)
	b = append(b, '=')
	b = append(b, a.Value.String()...)
	return b
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	if h.group != "" {
		h2.group = h.group + "." + name
	} else {
		h2.group = name
	}
	return &h2
}

// fromThisModule reports whether the record's call site lives under this
// repo's module path. A zero PC (records built by hand, or by loggers
// that disable source capture) is treated as foreign, which errs on the
// quiet side.
func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return strings.HasPrefix(frame.Function, modulePrefix)
}

func newHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	switch format {
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case "verbose":
		return &handler{w: w, level: level, verbose: true}
	default: // "simple" and anything unrecognized
		return &handler{w: w, level: level}
	}
}

// Init builds the process logger and installs it as slog's default, so
// dependencies logging through slog route into the same sink (and, in the
// simple and verbose formats, get suppressed there unless the level is
// debug).
func Init(level slog.Level, output *os.File, format string) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(newHandler(output, level, format))
	slog.SetDefault(defaultLogger)
}

// GetLogger returns the configured logger, initializing a stderr/info
// one on first use if Init was never called.
func GetLogger() *slog.Logger {
	mu.Lock()
	ready := defaultLogger != nil
	mu.Unlock()
	if !ready {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// OpenLogFile opens (appending) or creates the --log-file target,
// returning the handle and its cleanup.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
