// Package meta implements component A: the fixed enumeration of recognized
// meta keys and a typed get/set contract over any header-map representation.
//
// Grounded on runtime/appruntime/apisdk/api/transport/{transport.go,meta.go}
// and the HTTP implementation in runtimes/go/appruntime/apisdk/api/transport/http.go.
// The key set is generalized here from the teacher's three recognized keys
// to the full eleven-key closed set spec.md §3.3 requires.
package meta

import (
	"net/http"
	"sort"
	"strings"
)

// Key is one of the eleven enumerated meta keys recognized by the core.
// Any header not in this set is ignored for meta purposes.
type Key string

const (
	TraceParent            Key = "TraceParent"
	TraceState             Key = "TraceState"
	XCorrelationID         Key = "XCorrelationId"
	Version                Key = "Version"
	UserID                 Key = "UserId"
	UserData               Key = "UserData"
	Caller                 Key = "Caller"
	Callee                 Key = "Callee"
	SvcAuthMethod          Key = "SvcAuthMethod"
	SvcAuthEncoreAuthHash  Key = "SvcAuthEncoreAuthHash"
	SvcAuthEncoreAuthDate  Key = "SvcAuthEncoreAuthDate"
)

// wireName is the normative HTTP header name for each key (§3.3, §6.1).
var wireName = map[Key]string{
	TraceParent:           "traceparent",
	TraceState:            "tracestate",
	XCorrelationID:        "x-correlation-id",
	Version:               "x-encore-meta-version",
	UserID:                "x-encore-meta-userid",
	UserData:              "x-encore-meta-authdata",
	Caller:                "x-encore-meta-caller",
	Callee:                "x-encore-meta-callee",
	SvcAuthMethod:         "x-encore-meta-svc-auth-method",
	SvcAuthEncoreAuthHash: "x-encore-meta-svc-auth",
	SvcAuthEncoreAuthDate: "x-encore-meta-date",
}

var byWireName = func() map[string]Key {
	m := make(map[string]Key, len(wireName))
	for k, v := range wireName {
		m[v] = k
	}
	return m
}()

// AllKeys lists every recognized key, in no particular order.
func AllKeys() []Key {
	keys := make([]Key, 0, len(wireName))
	for k := range wireName {
		keys = append(keys, k)
	}
	return keys
}

// WireName returns the normative HTTP header name for k.
func (k Key) WireName() string { return wireName[k] }

// ParseWireName recognizes a wire header name, returning ok=false for
// anything outside the closed set — such headers are ignored for meta.
func ParseWireName(name string) (Key, bool) {
	k, ok := byWireName[strings.ToLower(name)]
	return k, ok
}

// Transport decouples meta-header logic from any concrete request/response
// representation (HTTP today; a future gRPC or in-process transport could
// implement the same interface).
type Transport interface {
	SetMeta(key Key, value string)
	ReadMeta(key Key) (value string, found bool)
	ReadMetaValues(key Key) (values []string, found bool)
	// ListMetaKeys returns the recognized subset of keys present on the
	// transport, in ascending wire-name order — the canonicalization base
	// for service-auth's op-hash (§3.3 invariant ii).
	ListMetaKeys() []Key
}

// httpTransport adapts an http.Header to Transport.
type httpTransport struct {
	h http.Header
}

var _ Transport = (*httpTransport)(nil)

func HTTPRequest(r *http.Request) Transport        { return &httpTransport{r.Header} }
func HTTPResponse(r *http.Response) Transport       { return &httpTransport{r.Header} }
func HTTPResponseWriter(w http.ResponseWriter) Transport { return &httpTransport{w.Header()} }
func HTTPHeader(h http.Header) Transport            { return &httpTransport{h} }

func (t *httpTransport) SetMeta(key Key, value string) {
	t.h.Set(key.WireName(), value)
}

func (t *httpTransport) ReadMeta(key Key) (string, bool) {
	v := t.h.Get(key.WireName())
	return v, v != ""
}

func (t *httpTransport) ReadMetaValues(key Key) ([]string, bool) {
	vs := t.h.Values(key.WireName())
	return vs, len(vs) > 0
}

func (t *httpTransport) ListMetaKeys() []Key {
	seen := make(map[Key]bool)
	for name := range t.h {
		if k, ok := ParseWireName(name); ok {
			seen[k] = true
		}
	}
	out := make([]Key, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WireName() < out[j].WireName() })
	return out
}

// SortedMetaKeys returns the recognized subset of t's keys, lexicographically
// by wire name. This is spec.md §3.3's canonicalization base and §8
// property 3's testable invariant.
func SortedMetaKeys(t Transport) []Key {
	return t.ListMetaKeys()
}
