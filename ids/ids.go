// Package ids implements the request plane's identifiers: trace ids, span
// ids and trace event ids, along with their wire encodings.
//
// Grounded on appruntime/exported/model/trace.go: the "encore" base32
// alphabet and TraceID/SpanID byte layout are unchanged from the teacher;
// this package adds the W3C lowercase-hex encoding and a Crockford-style
// decoder that the teacher's runtime never needed (it only ever talks to
// its own trace collector).
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

type (
	TraceID [16]byte
	SpanID  [8]byte

	// TraceEventID is a 64-bit, monotonically increasing event counter,
	// unique within a single process lifetime.
	TraceEventID uint64
)

const encoreAlphabet = "0123456789abcdefghijklmnopqrstuv"

var encoreEnc = base32.NewEncoding(encoreAlphabet).WithPadding(base32.NoPadding)

// GenerateConstantValsForTests forces GenTraceID/GenSpanID to return a
// fixed, distinguishable value so tests can assert on exact wire bytes.
var GenerateConstantValsForTests = false

func GenTraceID() (TraceID, error) {
	if GenerateConstantValsForTests {
		return TraceID{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}, nil
	}
	var id TraceID
	_, err := rand.Read(id[:])
	return id, err
}

func GenSpanID() (SpanID, error) {
	if GenerateConstantValsForTests {
		return SpanID{0, 0, 0, 0, 0, 0, 0, 1}, nil
	}
	var id SpanID
	_, err := rand.Read(id[:])
	return id, err
}

func (id TraceID) IsZero() bool { return id == TraceID{} }
func (id SpanID) IsZero() bool  { return id == SpanID{} }

// String returns the "encore" base32 encoding.
func (id TraceID) String() string {
	if id.IsZero() {
		return ""
	}
	return encoreEnc.EncodeToString(id[:])
}

func (id SpanID) String() string {
	if id.IsZero() {
		return ""
	}
	return encoreEnc.EncodeToString(id[:])
}

// Hex returns the W3C traceparent encoding: lowercase hex, no separators.
func (id TraceID) Hex() string { return hex.EncodeToString(id[:]) }
func (id SpanID) Hex() string  { return hex.EncodeToString(id[:]) }

// ParseTraceID parses the "encore" base32 form produced by String.
func ParseTraceID(s string) (TraceID, error) {
	var id TraceID
	if _, err := encoreEnc.Decode(id[:], []byte(s)); err != nil {
		return TraceID{}, err
	}
	return id, nil
}

func ParseSpanID(s string) (SpanID, error) {
	var id SpanID
	if _, err := encoreEnc.Decode(id[:], []byte(s)); err != nil {
		return SpanID{}, err
	}
	return id, nil
}

// ParseTraceIDHex parses the W3C traceparent hex form.
func ParseTraceIDHex(s string) (TraceID, error) {
	var id TraceID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return TraceID{}, errors.New("ids: invalid hex trace id")
	}
	copy(id[:], b)
	return id, nil
}

func ParseSpanIDHex(s string) (SpanID, error) {
	var id SpanID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(id) {
		return SpanID{}, errors.New("ids: invalid hex span id")
	}
	copy(id[:], b)
	return id, nil
}

// String renders a trace event id in general-purpose base-32 (digits and
// lowercase letters), matching the teacher's use of base-36 event ids in
// tracestate but constrained here to the radix spec.md §3.1 calls for.
func (id TraceEventID) String() string {
	return strconv.FormatUint(uint64(id), 32)
}

func ParseTraceEventID(s string) (TraceEventID, error) {
	v, err := strconv.ParseUint(s, 32, 64)
	if err != nil {
		return 0, err
	}
	return TraceEventID(v), nil
}

// crockfordAlphabet is Crockford's base32, distinct from the "encore"
// alphabet: it excludes i, l, o, u to avoid visual ambiguity and folds
// ambiguous input characters back onto the canonical set on decode.
// Supplemented per SPEC_FULL.md from original_source/base32.rs: the encore
// wire format never applies this tolerance, but a human-facing identifier
// surface built on the same package can opt into it via DecodeCrockford.
const crockfordAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"

var crockfordEnc = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// DecodeCrockford decodes s as Crockford base32, folding ambiguous
// characters (i/I/l/L -> 1, o/O -> 0) before decoding. It is case-insensitive.
func DecodeCrockford(dst []byte, s string) error {
	s = strings.ToLower(s)
	s = strings.NewReplacer("i", "1", "l", "1", "o", "0").Replace(s)
	n, err := crockfordEnc.Decode(dst, []byte(s))
	if err != nil {
		return err
	}
	if n != len(dst) {
		return errors.New("ids: short crockford decode")
	}
	return nil
}

// EncodeCrockford encodes b using the Crockford alphabet (no ambiguity
// folding is needed on encode; it only applies to lenient decoding).
func EncodeCrockford(b []byte) string {
	return crockfordEnc.EncodeToString(b)
}
