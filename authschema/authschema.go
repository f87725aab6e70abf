// Package authschema implements component F: the declared shape of an
// endpoint's auth parameters (which headers, query keys and cookies an
// auth handler reads) and detection/extraction against an inbound request.
//
// Grounded on the parameter-reflection idiom in
// appruntime/apisdk/api/reflection.go (kept in the workspace as ambient
// reference for the late-bound handler machinery in package apiserver):
// the teacher reflects struct tags at handler-registration time to build a
// per-field decoder list. This package generalizes that to a small declared
// Schema value the authenticator can evaluate without reflection, since the
// request plane only needs presence-detection and raw extraction, not full
// struct decoding.
package authschema

import (
	"net/http"
	"strings"
)

// Param declares one auth parameter source.
type Param struct {
	// Name is the wire name (header name, query key, or cookie name).
	Name string
	// NameOverride, if set, is used on the wire in place of Name — mirrors
	// the teacher's `encore:"name_override"` struct tag idiom.
	NameOverride string
}

func (p Param) wireName() string {
	if p.NameOverride != "" {
		return p.NameOverride
	}
	return p.Name
}

// Schema declares every header, query and cookie parameter an endpoint's
// auth handler consumes.
type Schema struct {
	Headers []Param
	Query   []Param
	Cookies []Param
}

// IsEmpty reports whether the schema declares no parameters at all, in
// which case the authenticator never invokes the handler (§4.2 step 1).
func (s Schema) IsEmpty() bool {
	return len(s.Headers) == 0 && len(s.Query) == 0 && len(s.Cookies) == 0
}

// Extracted holds the parameter values pulled from a request per Schema.
type Extracted struct {
	Headers http.Header
	Query   []QueryPair
	Cookies map[string]string
}

type QueryPair struct {
	Key   string
	Value string
}

// Present reports whether r carries any declared auth parameter with a
// non-empty value (§4.2 step 2).
func (s Schema) Present(r *http.Request) bool {
	for _, p := range s.Headers {
		if r.Header.Get(p.wireName()) != "" {
			return true
		}
	}
	if len(s.Query) > 0 {
		q := r.URL.Query()
		for _, p := range s.Query {
			if q.Get(p.wireName()) != "" {
				return true
			}
		}
	}
	for _, p := range s.Cookies {
		if c, err := r.Cookie(p.wireName()); err == nil && c.Value != "" {
			return true
		}
	}
	return false
}

// Extract pulls only the declared parameters out of r (§4.2 step 3): the
// declared header names case-insensitively, the declared query keys in
// declaration order, and the declared cookies.
func (s Schema) Extract(r *http.Request) Extracted {
	out := Extracted{
		Headers: make(http.Header),
		Cookies: make(map[string]string),
	}

	for _, p := range s.Headers {
		wire := p.wireName()
		if v := r.Header.Values(wire); len(v) > 0 {
			for _, vv := range v {
				out.Headers.Add(strings.ToLower(p.Name), vv)
			}
		}
	}

	if len(s.Query) > 0 {
		q := r.URL.Query()
		for _, p := range s.Query {
			wire := p.wireName()
			if v := q.Get(wire); v != "" {
				out.Query = append(out.Query, QueryPair{Key: p.Name, Value: v})
			}
		}
	}

	for _, p := range s.Cookies {
		if c, err := r.Cookie(p.wireName()); err == nil {
			out.Cookies[p.Name] = c.Value
		}
	}

	return out
}
