// Package pipeline wires a packet source, the descrambler, and a packet
// sink into a single run loop. The loop goroutine is the only one to touch
// the descrambler: one-shot timer callbacks are posted back to it, keeping
// the stage's single-threaded discipline.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gizahNL/upipe/internal/descrambler"
	"github.com/gizahNL/upipe/internal/mpegts"
)

// Source produces transport packets. Next returns io.EOF at the end of the
// stream.
type Source interface {
	Next() (*mpegts.Packet, error)
}

// Pipeline drives packets from a source through a descrambler.
type Pipeline struct {
	log   *slog.Logger
	src   Source
	dsc   *descrambler.Descrambler
	calls chan func()
	done  chan struct{}

	packetsIn atomic.Int64
}

// New creates a pipeline and binds the descrambler's timers to its run
// loop. If log is nil, slog.Default() is used.
func New(src Source, dsc *descrambler.Descrambler, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	p := &Pipeline{
		log:   log.With("component", "pipeline"),
		src:   src,
		dsc:   dsc,
		calls: make(chan func(), 16),
		done:  make(chan struct{}),
	}
	dsc.AttachTimers((*loopScheduler)(p))
	return p
}

// PacketsIn returns the number of packets fed to the descrambler so far.
func (p *Pipeline) PacketsIn() int64 {
	return p.packetsIn.Load()
}

// Run reads packets until the source drains or the context is cancelled,
// feeding the descrambler and servicing its timers. When the source drains,
// the tail of the stream is flushed before returning; on context
// cancellation Run may return without flushing the tail.
func (p *Pipeline) Run(ctx context.Context) error {
	defer close(p.done)

	in := make(chan *mpegts.Packet, 64)
	readErr := make(chan error, 1)
	go func() {
		defer close(in)
		for {
			pkt, err := p.src.Next()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case in <- pkt:
			case <-ctx.Done():
				readErr <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case fn := <-p.calls:
			fn()

		case pkt, ok := <-in:
			if !ok {
				err := <-readErr
				p.dsc.Flush()
				if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
					p.log.Info("source drained", "packets", p.packetsIn.Load())
					return nil
				}
				return err
			}
			p.packetsIn.Add(1)
			p.dsc.Input(pkt)

		case <-ctx.Done():
			return nil
		}
	}
}

// loopScheduler arms wall-clock timers whose callbacks are handed back to
// the run loop, so they never race packet handling.
type loopScheduler Pipeline

func (s *loopScheduler) Schedule(d time.Duration, fn func()) descrambler.Timer {
	p := (*Pipeline)(s)
	lt := &loopTimer{}
	lt.timer = time.AfterFunc(d, func() {
		select {
		case p.calls <- func() {
			if !lt.stopped.Load() {
				fn()
			}
		}:
		case <-p.done:
		}
	})
	return lt
}

// loopTimer is a one-shot deadline. The stopped flag covers the window
// where the wall-clock timer fired but its callback has not yet been
// serviced by the loop.
type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() {
	t.stopped.Store(true)
	t.timer.Stop()
}
