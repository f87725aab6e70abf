// Package callmeta implements component C: parsing and serializing the
// call-meta bundle that rides alongside every request between a gateway
// and a service, and between two services.
//
// Grounded on the legacy appruntime/apisdk/api/call_meta.go: the W3C
// traceparent reuse (parsing an inbound traceparent's trace id and treating
// its span id as the parent span, rather than minting an encore-specific
// trace header) and the tracestate passthrough are carried over unchanged
// in spirit, adapted to the new meta.Transport and ids packages in place of
// the teacher's direct http.Header and model.TraceID/SpanID.
package callmeta

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/relaycore/rplane/caller"
	"github.com/relaycore/rplane/ids"
	"github.com/relaycore/rplane/meta"
)

// CallMeta is the parsed bundle of request-identity fields: §3.4.
type CallMeta struct {
	TraceID         ids.TraceID
	ParentSpanID    ids.SpanID // zero if absent
	ExtCorrelationID string    // "" if absent
	UserID          string     // "" if absent
	UserData        json.RawMessage
	Caller          caller.Caller // nil if absent

	// TraceState is opaque W3C tracestate, carried through unmodified.
	TraceState string
}

const maxCorrelationIDLen = 64

// FromTransport parses a CallMeta from t. If no traceparent header is
// present, a fresh trace id is generated — this is the gateway-edge case
// spec.md §3.4 calls out; an internal service-to-service hop should always
// see an inbound traceparent set by its caller.
func FromTransport(t meta.Transport) (CallMeta, error) {
	var cm CallMeta

	if tp, ok := t.ReadMeta(meta.TraceParent); ok {
		tid, psid, err := parseTraceParent(tp)
		if err != nil {
			return CallMeta{}, fmt.Errorf("callmeta: invalid traceparent: %w", err)
		}
		cm.TraceID = tid
		cm.ParentSpanID = psid
	} else {
		tid, err := ids.GenTraceID()
		if err != nil {
			return CallMeta{}, fmt.Errorf("callmeta: generate trace id: %w", err)
		}
		cm.TraceID = tid
	}

	if ts, ok := t.ReadMeta(meta.TraceState); ok {
		cm.TraceState = ts
	}

	if cid, ok := t.ReadMeta(meta.XCorrelationID); ok {
		if len(cid) > maxCorrelationIDLen {
			cid = cid[:maxCorrelationIDLen]
		}
		cm.ExtCorrelationID = cid
	}

	if uid, ok := t.ReadMeta(meta.UserID); ok {
		cm.UserID = uid
	}

	if ud, ok := t.ReadMeta(meta.UserData); ok {
		cm.UserData = json.RawMessage(ud)
	}

	if c, ok := t.ReadMeta(meta.Caller); ok {
		parsed, err := caller.Parse(c)
		if err != nil {
			return CallMeta{}, fmt.Errorf("callmeta: invalid caller: %w", err)
		}
		cm.Caller = parsed
	}

	return cm, nil
}

// AddToRequest serializes cm onto t, overwriting any existing meta headers
// it governs. TraceState is only written back if non-empty, so a traceparent
// with no associated tracestate round-trips cleanly.
func (cm CallMeta) AddToRequest(t meta.Transport) {
	t.SetMeta(meta.TraceParent, traceParentHeader(cm.TraceID, cm.ParentSpanID))
	if cm.TraceState != "" {
		t.SetMeta(meta.TraceState, cm.TraceState)
	}
	if cm.ExtCorrelationID != "" {
		t.SetMeta(meta.XCorrelationID, cm.ExtCorrelationID)
	}
	if cm.UserID != "" {
		t.SetMeta(meta.UserID, cm.UserID)
	}
	if len(cm.UserData) > 0 {
		t.SetMeta(meta.UserData, string(cm.UserData))
	}
	if cm.Caller != nil {
		t.SetMeta(meta.Caller, cm.Caller.CallerString())
	}
}

// WithSpan returns a copy of cm with its parent span id set to span — used
// when forwarding cm downstream from a newly opened span.
func (cm CallMeta) WithSpan(span ids.SpanID) CallMeta {
	cm.ParentSpanID = span
	return cm
}

// WithCaller returns a copy of cm with its caller replaced, e.g. the
// gateway stamping caller=Gateway{name} before forwarding (§2 data flow).
func (cm CallMeta) WithCaller(c caller.Caller) CallMeta {
	cm.Caller = c
	return cm
}

// traceParentHeader renders a W3C-shaped traceparent: version "00", the
// trace id and span id in lowercase hex, and a fixed "sampled" flag byte.
// The core always samples; it has no independent sampling decision to
// encode here.
func traceParentHeader(tid ids.TraceID, sid ids.SpanID) string {
	return fmt.Sprintf("00-%s-%s-01", tid.Hex(), spanHex(sid))
}

// spanHex renders sid for the traceparent span-id field, substituting the
// all-zero W3C placeholder when no parent span is yet known.
func spanHex(sid ids.SpanID) string {
	if sid.IsZero() {
		return "0000000000000000"
	}
	return sid.Hex()
}

// parseTraceParent parses a W3C traceparent header of the form
// "version-traceid-spanid-flags", returning the trace id and treating the
// parent span id field as this call's parent span.
func parseTraceParent(s string) (ids.TraceID, ids.SpanID, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 4 || len(parts[0]) != 2 || len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return ids.TraceID{}, ids.SpanID{}, fmt.Errorf("malformed traceparent %q", s)
	}
	tidHex, sidHex := parts[1], parts[2]
	tid, err := ids.ParseTraceIDHex(tidHex)
	if err != nil {
		return ids.TraceID{}, ids.SpanID{}, err
	}
	sid, err := ids.ParseSpanIDHex(sidHex)
	if err != nil {
		return ids.TraceID{}, ids.SpanID{}, err
	}
	return tid, sid, nil
}
