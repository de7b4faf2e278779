// Package srt accepts SRT publishers and feeds the transport stream of the
// admitted one into the ingest intake for descrambling.
package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/gizahNL/upipe/internal/ingest"
)

// readBufferSize holds ten SRT payloads of seven TS packets each.
const readBufferSize = 10 * 7 * 188

// recvLatencyNs is the SRT receive latency, 120ms in nanoseconds.
const recvLatencyNs = 120_000_000

// Server listens for SRT publishers. The intake admits one publisher at a
// time, so connections are served sequentially: while a stream is being
// descrambled, further handshakes are rejected outright.
type Server struct {
	log    *slog.Logger
	addr   string
	intake *ingest.Intake
}

// NewServer creates a server that listens on addr and feeds admitted
// publishers into intake. If log is nil, slog.Default() is used.
func NewServer(addr string, intake *ingest.Intake, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:    log.With("component", "srt-server"),
		addr:   addr,
		intake: intake,
	}
}

// Start accepts and serves publishers until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = recvLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	// Screen handshakes: no stream id, or a busy intake slot, rejects the
	// caller before a connection is ever established.
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if _, busy := s.intake.Active(); busy {
			return srtgo.RejPeer
		}
		return 0
	})

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		// Served inline: the next handshake is not accepted until this
		// publisher's stream ends and the intake slot frees.
		s.serve(ctx, conn)
	}
}

// serve pumps one publisher's bytes into the intake pipe until the
// connection drops or the context is cancelled.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	defer conn.Close()

	key := streamKey(conn.StreamID())
	stream, writer, ok := s.intake.Register(key)
	if !ok {
		// Lost the race against a publisher admitted after this
		// connection's handshake was screened.
		s.log.Warn("intake busy, dropping publisher", "stream_key", key)
		return
	}
	stream.SetRemoteAddr(conn.RemoteAddr().String())
	s.log.Info("publisher admitted", "stream_key", key, "remote", conn.RemoteAddr())

	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "stream_key", key, "error", err)
			}
			break
		}
		stream.RecordRead(n)
		if _, err := writer.Write(buf[:n]); err != nil {
			s.log.Debug("pipe write error", "stream_key", key, "error", err)
			break
		}
	}

	stats := stream.Stats()
	s.intake.Unregister(key)
	s.log.Info("publisher gone", "stream_key", key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// streamKey derives the intake key from an SRT stream id, keeping the last
// path segment so ids like "live/feed1" and "/feed1" both map to "feed1".
func streamKey(id string) string {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return "default"
	}
	return id
}
