// Package klog is the kernel's structured-logging seam, grounded on the
// retrieval pack's logiface-zerolog adapter (see SPEC_FULL.md, "Logging"):
// a small interface in front of github.com/rs/zerolog so that kernel
// packages never hard-depend on an I/O-capable logger, and so that tests
// and bare-metal ports can install a no-op implementation with zero
// allocation on the hot path.
package klog

import (
	"github.com/rs/zerolog"
)

// Logger is the structured-logging surface the kernel calls into. Field
// values are passed as already-resolved data (ints, strings) rather than
// formatted strings, so a Discard Logger truly costs nothing beyond the
// interface call.
type Logger interface {
	Trace(event string, fields map[string]any)
	Warn(event string, fields map[string]any)
}

// zlog adapts a zerolog.Logger to the Logger interface.
type zlog struct {
	z zerolog.Logger
}

// New wraps an existing zerolog.Logger. Callers typically configure the
// zerolog.Logger's level, output, and timestamp function before wrapping
// it; klog does not second-guess that configuration.
func New(z zerolog.Logger) Logger {
	return &zlog{z: z}
}

func (l *zlog) Trace(event string, fields map[string]any) {
	ev := l.z.Trace()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event)
}

func (l *zlog) Warn(event string, fields map[string]any) {
	ev := l.z.Warn()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(event)
}

type discard struct{}

func (discard) Trace(string, map[string]any) {}
func (discard) Warn(string, map[string]any)  {}

// Discard returns the zero-cost no-op Logger installed by kernel.New when
// the caller does not supply one.
func Discard() Logger { return discard{} }
