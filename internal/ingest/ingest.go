// Package ingest couples live TS publishers with the descrambling
// pipeline: byte counters, lifecycle signaling, and single-slot intake.
package ingest

import (
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Stats captures connection-level metrics for an ingest stream.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active publisher connection, coupling the raw byte
// reader with metadata and lifecycle signaling. Bytes written by the
// receiver are read by the descrambling pipeline.
type Stream struct {
	Key       string
	StartedAt time.Time
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// RecordRead increments the byte and read counters, called by the receiver
// after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of connection metrics.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Intake is the rendezvous point between a receiver and the descrambling
// pipeline. It admits at most one active publisher at a time and hands the
// publisher's byte stream to the onStream callback.
type Intake struct {
	mu     sync.Mutex
	active *Stream

	onStream func(key string, input io.Reader)
}

// NewIntake creates an Intake. The onStream callback is invoked
// asynchronously whenever a publisher is admitted.
func NewIntake(onStream func(key string, input io.Reader)) *Intake {
	return &Intake{onStream: onStream}
}

// Register admits a publisher, returning the Stream and the Writer the
// receiver should write into. It returns ok == false while another
// publisher is active.
func (i *Intake) Register(key string) (*Stream, io.Writer, bool) {
	i.mu.Lock()
	if i.active != nil {
		i.mu.Unlock()
		return nil, nil, false
	}

	pr, pw := io.Pipe()
	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	i.active = stream
	i.mu.Unlock()

	if i.onStream != nil {
		go i.onStream(key, pr)
	}

	return stream, pw, true
}

// Unregister releases the active slot, closing the stream's pipe and
// signaling completion.
func (i *Intake) Unregister(key string) {
	i.mu.Lock()
	stream := i.active
	if stream != nil && stream.Key == key {
		i.active = nil
	} else {
		stream = nil
	}
	i.mu.Unlock()

	if stream != nil {
		stream.pw.Close()
		close(stream.done)
	}
}

// Active returns the currently admitted stream, if any.
func (i *Intake) Active() (*Stream, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.active, i.active != nil
}
