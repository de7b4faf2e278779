package pipeline

import (
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/gizahNL/upipe/internal/descrambler"
	"github.com/gizahNL/upipe/internal/mpegts"
)

// WriterSink emits descrambled packets to a byte stream and logs flow
// definition updates.
type WriterSink struct {
	log *slog.Logger
	w   *mpegts.Writer

	packetsOut atomic.Int64
	writeErrs  atomic.Int64
}

// NewWriterSink creates a sink over w. If log is nil, slog.Default() is
// used.
func NewWriterSink(w io.Writer, log *slog.Logger) *WriterSink {
	if log == nil {
		log = slog.Default()
	}
	return &WriterSink{
		log: log.With("component", "sink"),
		w:   mpegts.NewWriter(w),
	}
}

// Output writes one packet. Write failures are counted and logged once.
func (s *WriterSink) Output(pkt *mpegts.Packet) {
	if err := s.w.WritePacket(pkt); err != nil {
		if s.writeErrs.Add(1) == 1 {
			s.log.Error("write failed", "error", err)
		}
		return
	}
	s.packetsOut.Add(1)
}

// SetFlowDef records the downstream flow definition announcement.
func (s *WriterSink) SetFlowDef(def *descrambler.FlowDef) {
	s.log.Info("flow definition", "def", def.Def, "latency", def.Latency)
}

// PacketsOut returns the number of packets written so far.
func (s *WriterSink) PacketsOut() int64 {
	return s.packetsOut.Load()
}
