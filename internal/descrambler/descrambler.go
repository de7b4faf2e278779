// Package descrambler implements a single-input, single-output MPEG-TS
// descrambling stage. Packets whose scrambling-control bits match an
// installed control word are decrypted in place on a private copy of the
// buffer; everything else passes through unchanged, and output always
// preserves input order.
//
// Three cipher backends are supported: per-packet DVB-CSA, batched DVB-CSA
// (packets are aggregated up to the batch width or a latency deadline before
// a single batched decrypt), and AES-128-CBC with the fixed CISSA vector.
// The key register holds an even and an optional odd word, selected per
// packet by the transport scrambling-control field.
package descrambler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gizahNL/upipe/internal/cissa"
	"github.com/gizahNL/upipe/internal/csa"
	"github.com/gizahNL/upipe/internal/cw"
	"github.com/gizahNL/upipe/internal/mpegts"
)

// FlowPrefix is the only accepted input flow-definition prefix.
const FlowPrefix = "block.mpegts."

// LatencyFloor approximates the worst batched decrypt latency on ordinary
// hardware. It pads the downstream latency announcement and is the batching
// budget used when the flow declaration carries none.
const LatencyFloor = 5 * time.Millisecond

var (
	// ErrInvalidFlow rejects flow definitions outside FlowPrefix.
	ErrInvalidFlow = errors.New("descrambler: invalid flow definition")
	// ErrInvalidKey rejects malformed or mismatched control words.
	ErrInvalidKey = errors.New("descrambler: invalid key")
	// ErrBackendUnavailable reports a cipher backend that failed to open.
	ErrBackendUnavailable = errors.New("descrambler: cipher backend unavailable")
)

// FlowDef is an in-band flow-definition record: the declaration string and
// the latency announced for the flow.
type FlowDef struct {
	Def     string
	Latency time.Duration
}

// Sink receives the descrambler's output. Calls arrive on the goroutine
// driving the descrambler, in input order.
type Sink interface {
	Output(pkt *mpegts.Packet)
	SetFlowDef(def *FlowDef)
}

// TimerScheduler arms one-shot timers whose callbacks run on the goroutine
// driving the descrambler.
type TimerScheduler interface {
	Schedule(d time.Duration, fn func()) Timer
}

// Timer is an armed one-shot deadline.
type Timer interface {
	// Stop cancels the deadline. Stopping a fired timer is a no-op.
	Stop()
}

type cipherMode int

const (
	modeCSA cipherMode = iota
	modeCSABS
	modeAES
)

// item is one unit of the input stream: a packet or a flow definition.
type item struct {
	pkt  *mpegts.Packet
	flow *FlowDef
}

// Descrambler is the descrambling stage. It is not safe for concurrent use;
// Input, Flush, the control operations, and timer callbacks must all run on
// one goroutine.
type Descrambler struct {
	log  *slog.Logger
	sink Sink
	now  func() time.Time

	timers      TimerScheduler
	timer       Timer
	timerWarned bool

	pids    pidSet
	mode    cipherMode
	latency time.Duration

	csaKeys [2]*csa.Key
	bsKeys  [2]*csa.BSKey
	aesKeys [2]*cissa.Key

	// odd is the parity of the open batch; meaningful only while the
	// batch is non-empty.
	odd    bool
	batch  []csa.BatchItem
	mapped []*mpegts.Packet
	hold   holdQueue

	flowDef *FlowDef

	// refs counts live handles on the stage: the caller's, a transient
	// one per flush in progress, and one while the hold queue is
	// populated (pinned). The stage tears down when it reaches zero.
	refs   int
	pinned bool
	closed bool
}

// Config carries the constructor arguments.
type Config struct {
	// Sink receives emitted packets and flow definitions. Required.
	Sink Sink
	// Flow is the optional input flow declaration. Its presence selects
	// the batched CSA backend when a CSA-length key is installed, and its
	// latency field is the batching budget.
	Flow *FlowDef
	// Log defaults to slog.Default().
	Log *slog.Logger
	// Now overrides the wall clock used for latency measurement.
	Now func() time.Time
}

// New creates a descrambler in pass-through state: no keys, empty PID set,
// empty hold queue.
func New(cfg Config) *Descrambler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	d := &Descrambler{
		log:    log.With("component", "descrambler"),
		sink:   cfg.Sink,
		now:    now,
		pids:   newPIDSet(),
		mode:   modeCSA,
		batch:  make([]csa.BatchItem, 0, csa.BatchSize()+1),
		mapped: make([]*mpegts.Packet, 0, csa.BatchSize()),
		refs:   1,
	}
	if cfg.Flow != nil {
		d.mode = modeCSABS
		d.latency = cfg.Flow.Latency
		if d.latency <= 0 {
			d.latency = LatencyFloor
		}
	}
	return d
}

// AttachTimers binds the one-shot flush timer to the event loop driving
// this descrambler. Without it the batched backend flushes on batch size
// only.
func (d *Descrambler) AttachTimers(s TimerScheduler) {
	d.timers = s
}

// SetFlowDef validates an input-side flow definition and routes it through
// the input path, preserving its order relative to buffered packets.
func (d *Descrambler) SetFlowDef(def *FlowDef) error {
	if def == nil || !strings.HasPrefix(def.Def, FlowPrefix) {
		return ErrInvalidFlow
	}
	dup := *def
	d.input(item{flow: &dup})
	return nil
}

// SetKey replaces the key register. The even word is mandatory; the odd
// word is optional but must use the same encoding length as the even one.
// Installing a key recomputes the cipher mode: an AES-length even word
// selects the CISSA backend; otherwise a stage constructed with a flow
// declaration uses the batched CSA backend and any other stage the
// per-packet CSA backend.
func (d *Descrambler) SetKey(evenKey, oddKey string) error {
	// Drain pending work under the outgoing keys before touching the
	// register; a live batch must never meet a freed key.
	d.flush()
	d.freeKeys()

	even, err := cw.Parse(evenKey)
	if err != nil {
		return ErrInvalidKey
	}

	var odd cw.CW
	hasOdd := oddKey != ""
	if hasOdd {
		odd, err = cw.Parse(oddKey)
		if err != nil || len(evenKey) != len(oddKey) {
			return ErrInvalidKey
		}
	}

	d.log.Info("key changed")

	switch {
	case !even.IsAES() && d.latency > 0:
		// A batching budget is only set by a constructor flow declaration.
		d.mode = modeCSABS
		d.bsKeys[0] = csa.NewBSKey(even.CSAWord())
		if hasOdd {
			d.bsKeys[1] = csa.NewBSKey(odd.CSAWord())
		}
	case even.IsAES():
		d.mode = modeAES
		if d.aesKeys[0], err = cissa.NewKey(even.AESKey()); err != nil {
			d.freeKeys()
			return ErrBackendUnavailable
		}
		if hasOdd {
			if d.aesKeys[1], err = cissa.NewKey(odd.AESKey()); err != nil {
				d.freeKeys()
				return ErrBackendUnavailable
			}
		}
	default:
		d.mode = modeCSA
		d.csaKeys[0] = csa.NewKey(even.CSAWord())
		if hasOdd {
			d.csaKeys[1] = csa.NewKey(odd.CSAWord())
		}
	}
	return nil
}

// AddPID whitelists a PID for descrambling.
func (d *Descrambler) AddPID(pid uint16) error {
	if pid > mpegts.MaxPID {
		return fmt.Errorf("descrambler: pid %#x out of range", pid)
	}
	d.pids.add(pid)
	return nil
}

// DelPID removes a PID from the whitelist.
func (d *Descrambler) DelPID(pid uint16) error {
	if pid > mpegts.MaxPID {
		return fmt.Errorf("descrambler: pid %#x out of range", pid)
	}
	d.pids.del(pid)
	return nil
}

// Input handles one transport packet. It never fails: packets that cannot
// be processed are either passed through or dropped with a log line.
func (d *Descrambler) Input(pkt *mpegts.Packet) {
	d.input(item{pkt: pkt})
}

// Flush descrambles any batched packets and drains the hold queue to the
// sink in input order.
func (d *Descrambler) Flush() {
	d.flush()
}

// Close releases the caller's handle. While packets are still held for an
// open batch the stage stays alive until that batch flushes; at zero
// handles any remaining batch is abandoned without descrambling and held
// packets are dropped.
func (d *Descrambler) Close() {
	if d.closed {
		return
	}
	d.unref()
}

func (d *Descrambler) input(it item) {
	if d.closed {
		return
	}
	first := d.hold.empty()

	if it.flow != nil {
		if first {
			d.applyFlowDef(it.flow)
		} else {
			d.hold.push(it)
		}
		return
	}
	pkt := it.pkt

	if !d.hasKey() {
		if !first {
			d.flush()
		}
		d.sink.Output(pkt)
		return
	}

	hdr, err := mpegts.ParseHeader(pkt.Data)
	if err != nil {
		if errors.Is(err, mpegts.ErrAdaptationInvalid) {
			d.log.Warn("invalid adaptation field received")
		} else {
			d.log.Error("failed to read TS header", "error", err)
		}
		return
	}

	odd := false
	valid := false
	switch hdr.Scrambling {
	case mpegts.ScramblingEven:
		valid = true
	case mpegts.ScramblingOdd:
		odd = true
		valid = d.hasOddKey()
	}

	if !valid || !hdr.HasPayload || !d.pids.has(hdr.PID) {
		if first {
			d.sink.Output(pkt)
		} else {
			d.hold.push(item{pkt: pkt})
		}
		return
	}

	// The upstream buffer may be aliased by other consumers; descramble a
	// private copy.
	pkt = pkt.Clone()
	pkt.SetScrambling(mpegts.ScramblingNone)
	payload := pkt.Data[hdr.Size:]

	switch d.mode {
	case modeAES:
		d.aesKeys[keyIndex(odd)].Decrypt(payload)
		d.sink.Output(pkt)
		return
	case modeCSA:
		d.csaKeys[keyIndex(odd)].Decrypt(payload)
		d.sink.Output(pkt)
		return
	}

	// Batched path. A parity change closes the open batch before the new
	// parity is admitted; a batch never mixes parities.
	if !first && d.odd != odd {
		d.flush()
		first = d.hold.empty()
	}
	d.odd = odd

	d.batch = append(d.batch, csa.BatchItem{Data: payload})
	d.mapped = append(d.mapped, pkt)
	d.hold.push(item{pkt: pkt})
	if first {
		// Keep the stage alive until the held packets are sent.
		d.ref()
		d.pinned = true
		d.armTimer()
	}

	if len(d.batch) >= csa.BatchSize() {
		d.flush()
	}
}

func (d *Descrambler) flush() {
	if d.closed {
		return
	}
	// Hold a handle for the duration: draining releases the reference
	// acquired when the hold queue was first populated, and a timer-driven
	// flush must not tear the stage down mid-call.
	d.ref()
	defer d.unref()

	d.cancelTimer()

	if len(d.batch) > 0 {
		d.batch = append(d.batch, csa.BatchItem{})
		before := d.now()
		d.bsKeys[keyIndex(d.odd)].DecryptBatch(d.batch, mpegts.PayloadSize)
		elapsed := d.now().Sub(before)
		if elapsed > LatencyFloor {
			d.log.Warn("dvbcsa latency too high", "elapsed_ms", elapsed.Milliseconds())
		}
		d.batch = d.batch[:0]
		d.mapped = d.mapped[:0]
	}

	for {
		it, ok := d.hold.pop()
		if !ok {
			break
		}
		if it.flow != nil {
			d.applyFlowDef(it.flow)
		} else {
			d.sink.Output(it.pkt)
		}
	}

	if d.pinned {
		d.pinned = false
		d.unref()
	}
}

// applyFlowDef recomputes the downstream latency announcement and publishes
// the definition to the sink. The batched backend adds its own budget plus
// the decrypt latency floor.
func (d *Descrambler) applyFlowDef(def *FlowDef) {
	out := *def
	if d.mode == modeCSABS {
		out.Latency += d.latency + LatencyFloor
	}
	d.flowDef = &out
	d.sink.SetFlowDef(&out)
}

func (d *Descrambler) armTimer() {
	if d.timer != nil {
		return
	}
	if d.timers == nil {
		if !d.timerWarned {
			d.log.Warn("no timer scheduler attached, batches flush on size only")
			d.timerWarned = true
		}
		return
	}
	d.timer = d.timers.Schedule(d.latency, d.onDeadline)
}

func (d *Descrambler) cancelTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Descrambler) onDeadline() {
	d.timer = nil
	d.flush()
}

func (d *Descrambler) hasKey() bool {
	switch d.mode {
	case modeCSABS:
		return d.bsKeys[0] != nil
	case modeAES:
		return d.aesKeys[0] != nil
	default:
		return d.csaKeys[0] != nil
	}
}

func (d *Descrambler) hasOddKey() bool {
	switch d.mode {
	case modeCSABS:
		return d.bsKeys[1] != nil
	case modeAES:
		return d.aesKeys[1] != nil
	default:
		return d.csaKeys[1] != nil
	}
}

func (d *Descrambler) freeKeys() {
	for i := 0; i < 2; i++ {
		d.csaKeys[i] = nil
		d.bsKeys[i] = nil
		d.aesKeys[i] = nil
	}
}

func (d *Descrambler) ref() {
	d.refs++
}

func (d *Descrambler) unref() {
	d.refs--
	if d.refs == 0 {
		d.teardown()
	}
}

// teardown abandons any open batch without descrambling it and drops held
// packets. No cryptographic work happens on the way down.
func (d *Descrambler) teardown() {
	d.closed = true
	d.cancelTimer()
	if len(d.mapped) > 0 {
		d.log.Debug("abandoning batch", "packets", len(d.mapped))
	}
	d.batch = nil
	d.mapped = nil
	d.hold.reset()
	d.freeKeys()
}

func keyIndex(odd bool) int {
	if odd {
		return 1
	}
	return 0
}
