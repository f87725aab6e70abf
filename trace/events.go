// Package trace implements component M: a non-blocking trace event buffer,
// length-prefixed wire framing, and a streaming HTTP uploader.
//
// EventBuffer and Log are ported near-verbatim from
// appruntime/exported/trace2/log.go — same header-frame byte layout, same
// zigzag/uvarint primitives, same go:linkname access to runtime.nanotime
// for a cheap monotonic clock (a stock-toolchain-compatible technique,
// unlike the patched-runtime-only symbol the stack package used to rely
// on). The event log here is otherwise unaware of model.Request/Response;
// callers pass TraceID/SpanID/EventType directly, since this module has no
// separate request-model package to source them from.
package trace

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
	_ "unsafe" // for go:linkname

	"github.com/relaycore/rplane/ids"
)

// EventType enumerates the kinds of span-lifecycle events this module
// emits. The exact set is closed per spec.md §9's "tagged unions" note.
type EventType byte

const (
	EventSpanStart EventType = iota + 1
	EventSpanEnd
	EventRequestStart
	EventRequestEnd
	EventLogMessage
)

var nextEventID atomic.Uint64

// Log is an append-only, mutex-guarded byte buffer of framed events. The
// zero value is ready to use.
type Log struct {
	mu   sync.Mutex
	data []byte
}

// Event is one span-lifecycle occurrence to frame and append.
type Event struct {
	Type    EventType
	TraceID ids.TraceID
	SpanID  ids.SpanID
	Data    EventBuffer
}

// Add frames e per §4.8's wire layout and appends it to the log, returning
// the event id assigned. A nil Log is a no-op (events dropped), matching
// the teacher's "logging before the tracer exists" tolerance.
func (l *Log) Add(e Event) ids.TraceEventID {
	if l == nil {
		return 0
	}

	eventData := e.Data.Buf()
	if len(eventData) > (1<<32 - 1) {
		return 0
	}

	eventID := nextEventID.Add(1)
	if eventID == 0 {
		eventID = nextEventID.Add(1)
	}

	ts := signedToUnsigned(nanotime())
	ln := uint32(len(eventData))

	header := [...]byte{
		byte(e.Type),

		byte(eventID), byte(eventID >> 8), byte(eventID >> 16), byte(eventID >> 24),
		byte(eventID >> 32), byte(eventID >> 40), byte(eventID >> 48), byte(eventID >> 56),

		byte(ts), byte(ts >> 8), byte(ts >> 16), byte(ts >> 24),
		byte(ts >> 32), byte(ts >> 40), byte(ts >> 48), byte(ts >> 56),
	}

	l.mu.Lock()
	l.data = append(l.data, header[:]...)
	l.data = append(l.data, e.TraceID[:]...)
	l.data = append(l.data, e.SpanID[:]...)
	l.data = append(l.data, byte(ln), byte(ln>>8), byte(ln>>16), byte(ln>>24))
	l.data = append(l.data, eventData...)
	l.mu.Unlock()

	return ids.TraceEventID(eventID)
}

// GetAndClear returns and clears the log's accumulated bytes.
func (l *Log) GetAndClear() []byte {
	l.mu.Lock()
	data := l.data
	l.data = l.data[len(l.data):]
	l.mu.Unlock()
	return data
}

// EventBuffer is a growable buffer of wire-encoded event payload fields,
// per §6.4's primitive encodings.
type EventBuffer struct {
	scratch [10]byte
	buf     []byte
}

func NewEventBuffer(sizeHint int) EventBuffer {
	return EventBuffer{buf: make([]byte, 0, sizeHint)}
}

func (tb *EventBuffer) Buf() []byte { return tb.buf }

func (tb *EventBuffer) Byte(b byte)    { tb.buf = append(tb.buf, b) }
func (tb *EventBuffer) Bytes(b []byte) { tb.buf = append(tb.buf, b...) }

func (tb *EventBuffer) Bool(b bool) {
	if b {
		tb.Byte(1)
	} else {
		tb.Byte(0)
	}
}

// String writes a uvarint(len) followed by s's bytes.
func (tb *EventBuffer) String(s string) {
	tb.UVarint(uint64(len(s)))
	tb.Bytes([]byte(s))
}

func (tb *EventBuffer) ByteString(b []byte) {
	tb.UVarint(uint64(len(b)))
	tb.Bytes(b)
}

// TruncatedByteString writes b if it's within maxLen, otherwise the first
// maxLen bytes of b followed by suffix, with the length prefix set to
// maxLen+len(suffix).
func (tb *EventBuffer) TruncatedByteString(b []byte, maxLen int, suffix []byte) {
	if len(b) > maxLen {
		tb.UVarint(uint64(maxLen + len(suffix)))
		tb.Bytes(b[:maxLen])
		tb.Bytes(suffix)
	} else {
		tb.ByteString(b)
	}
}

func (tb *EventBuffer) Now() { tb.Time(time.Now()) }

// Time writes a system time as i64 seconds + i32 nanos, both LE fixed.
func (tb *EventBuffer) Time(t time.Time) {
	tb.Int64(t.Unix())
	tb.Int32(int32(t.Nanosecond()))
}

func (tb *EventBuffer) Int32(x int32) {
	var u uint32
	if x < 0 {
		u = (^uint32(x) << 1) | 1
	} else {
		u = uint32(x) << 1
	}
	tb.Uint32(u)
}

func (tb *EventBuffer) Uint32(x uint32) {
	tb.buf = append(tb.buf, byte(x), byte(x>>8), byte(x>>16), byte(x>>24))
}

func (tb *EventBuffer) Int64(i int64) { tb.Uint64(signedToUnsigned(i)) }

func (tb *EventBuffer) Uint64(x uint64) {
	tb.buf = append(tb.buf,
		byte(x), byte(x>>8), byte(x>>16), byte(x>>24),
		byte(x>>32), byte(x>>40), byte(x>>48), byte(x>>56))
}

func (tb *EventBuffer) EventID(id ids.TraceEventID) { tb.UVarint(uint64(id)) }

// Varint writes i as a zigzag-encoded uvarint (ivarint, §6.4).
func (tb *EventBuffer) Varint(i int64) { tb.UVarint(signedToUnsigned(i)) }

// UVarint writes u as a 7-bit continuation, LSB-first varint.
func (tb *EventBuffer) UVarint(u uint64) {
	i := 0
	for u >= 0x80 {
		tb.scratch[i] = byte(u) | 0x80
		u >>= 7
		i++
	}
	tb.scratch[i] = byte(u)
	i++
	tb.Bytes(tb.scratch[:i])
}

func (tb *EventBuffer) Float32(f float32) { tb.Uint32(math.Float32bits(f)) }
func (tb *EventBuffer) Float64(f float64) { tb.Uint64(math.Float64bits(f)) }

// Duration writes dur as an ivarint of nanoseconds. No clamp is applied:
// dur is already an int64 of nanos and cannot exceed math.MaxInt64.
func (tb *EventBuffer) Duration(dur time.Duration) {
	tb.Varint(int64(dur))
}

// Err writes an error's message as a string, "unknown error" if err is
// non-nil with an empty message, "" if err is nil.
func (tb *EventBuffer) Err(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
		if msg == "" {
			msg = "unknown error"
		}
	}
	tb.String(msg)
}

// ErrWithStack writes err's message followed by a zero-frame "no stack
// yet" marker (§4.8), since this module captures stacks via beta/errs, not
// via this package.
func (tb *EventBuffer) ErrWithStack(err error) {
	tb.Err(err)
	tb.Byte(0)
}

func signedToUnsigned(i int64) uint64 {
	if i < 0 {
		return (^uint64(i) << 1) | 1
	}
	return uint64(i) << 1
}

//go:linkname nanotime runtime.nanotime
func nanotime() int64
