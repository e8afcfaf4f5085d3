// Package telemetry records per-datagram IQ statistics and publishes them
// over HTTP, server-sent events and websockets.
package telemetry

import (
	"time"

	"github.com/rjboer/netsdr/internal/logging"
	"github.com/rjboer/netsdr/internal/protocol"
)

// Frame is one decoded IQ datagram as seen by the streaming session.
type Frame struct {
	Kind     protocol.Kind
	Sequence uint16
	// Lost counts sequence numbers skipped since the previous frame.
	Lost     uint16
	Samples  []int32
	Received time.Time
}

// Reporter receives decoded frames. Report is called from the datagram loop
// and must not retain Samples after it returns.
type Reporter interface {
	Report(Frame)
}

// MultiReporter fans frames out to several reporters.
type MultiReporter []Reporter

// Report forwards the frame to each configured reporter.
func (m MultiReporter) Report(f Frame) {
	for _, r := range m {
		if r != nil {
			r.Report(f)
		}
	}
}

// StdoutReporter logs each frame at debug level.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a reporter writing through logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.OrDefault(logger).With(logging.F("subsystem", "telemetry"))}
}

func (r StdoutReporter) Report(f Frame) {
	fields := []logging.Field{
		logging.F("kind", f.Kind),
		logging.F("sequence", f.Sequence),
		logging.F("samples", len(f.Samples)),
	}
	if f.Lost != 0 {
		fields = append(fields, logging.F("lost", f.Lost))
	}
	r.logger.Debug("iq frame", fields...)
}
