// Package cors implements component L: credentialed vs. non-credentialed
// origin policy with exact and glob matching, wrapping the same
// github.com/rs/cors engine the teacher uses.
//
// Ported from appruntime/apisdk/cors/cors.go: the sorted-slice binary
// search for exact origin matches, the glob-origin set built from
// path/filepath.Match over scheme+port+hostname, and the
// AllowOriginRequestFunc credential-detection split are all carried over
// verbatim in approach. Config is generalized from the teacher's
// *config.Static-sourced struct to a plain Policy value this module's
// gateway constructs directly, since this package doesn't have (or need) a
// compiled-app static config layer.
package cors

import (
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	rscors "github.com/rs/cors"
)

// UnsafeAllOriginWithCredentials is the config sentinel permitting any
// credentialed origin. It must be opted into explicitly — see Policy doc.
const UnsafeAllOriginWithCredentials = "__unsafe-all-origins"

// Policy configures the CORS engine. AllowOriginsWithCredentials including
// UnsafeAllOriginWithCredentials allows every credentialed origin, which is
// unsafe for anything serving cookies or client certs — callers must set it
// explicitly, there is no implicit default.
type Policy struct {
	AllowOriginsWithCredentials    []string
	AllowOriginsWithoutCredentials []string // nil means "*"
	ExtraAllowedHeaders            []string
	ExtraExposedHeaders            []string
	DisableCredentials             bool
	AllowPrivateNetworkAccess      bool
	Debug                          bool
}

// alwaysAllowedHeaders and alwaysExposedHeaders are the fixed constants
// from spec.md §4.7.
var alwaysAllowedHeaders = []string{
	"Accept", "Authorization", "Content-Type", "Origin", "User-Agent",
	"X-Correlation-Id", "X-Request-Id", "X-Requested-With",
}

var alwaysExposedHeaders = []string{
	"X-Request-Id", "X-Correlation-Id", "X-Encore-Trace-Id",
}

// Wrap wraps handler with p's CORS policy.
func Wrap(p Policy, handler http.Handler) http.Handler {
	c := rscors.New(Options(p))
	return c.Handler(handler)
}

// Options builds the github.com/rs/cors Options implementing p.
func Options(p Policy) rscors.Options {
	originsCreds := sortedCopy(p.AllowOriginsWithCredentials)
	originsWithoutCreds := sortedCopy(p.AllowOriginsWithoutCredentials)
	globCreds := globOrigins(p.AllowOriginsWithCredentials)
	globWithoutCreds := globOrigins(p.AllowOriginsWithoutCredentials)

	hasWildcardWithoutCreds := p.AllowOriginsWithoutCredentials == nil || sortedContains(originsWithoutCreds, "*")
	hasUnsafeWildcardWithCreds := sortedContains(originsCreds, UnsafeAllOriginWithCredentials)

	allowedHeaders := append([]string(nil), alwaysAllowedHeaders...)
	allowedHeaders = append(allowedHeaders, p.ExtraAllowedHeaders...)
	sort.Strings(allowedHeaders)

	exposedHeaders := append([]string(nil), alwaysExposedHeaders...)
	exposedHeaders = append(exposedHeaders, p.ExtraExposedHeaders...)
	sort.Strings(exposedHeaders)

	return rscors.Options{
		Debug:               p.Debug,
		AllowCredentials:    !p.DisableCredentials,
		AllowedMethods:      []string{"GET", "POST", "PUT", "PATCH", "HEAD", "DELETE", "OPTIONS", "TRACE", "CONNECT"},
		AllowedHeaders:      allowedHeaders,
		ExposedHeaders:      exposedHeaders,
		AllowPrivateNetwork: p.AllowPrivateNetworkAccess,
		AllowOriginRequestFunc: func(r *http.Request, origin string) bool {
			hasCreds := len(r.Cookies()) > 0 || r.Header["Authorization"] != nil ||
				(r.TLS != nil && len(r.TLS.PeerCertificates) > 0)
			if hasCreds {
				if hasUnsafeWildcardWithCreds || sortedContains(originsCreds, origin) {
					return true
				}
				return globCreds.matches(origin) || globWithoutCreds.matches(origin)
			}
			if hasWildcardWithoutCreds {
				return true
			}
			return sortedContains(originsWithoutCreds, origin) || globWithoutCreds.matches(origin)
		},
	}
}

func sortedContains(haystack []string, needle string) bool {
	i := sort.SearchStrings(haystack, needle)
	return i < len(haystack) && haystack[i] == needle
}

func sortedCopy(src []string) []string {
	if src == nil {
		return nil
	}
	dst := append([]string(nil), src...)
	sort.Strings(dst)
	return dst
}

type globOriginSet []*url.URL

func (s globOriginSet) matches(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, pattern := range s {
		if globMatch(pattern, u) {
			return true
		}
	}
	return false
}

// globMatch requires scheme and (normalized) port to match exactly, and the
// hostname to match as a filepath.Match glob. A single "*" matches one or
// more characters of the hostname (dots included): the hostname length
// check rules out the empty match that filepath.Match alone would allow.
func globMatch(pattern, origin *url.URL) bool {
	if pattern.Scheme != origin.Scheme {
		return false
	}
	if normalizedPort(pattern) != normalizedPort(origin) {
		return false
	}
	if len(origin.Hostname()) < len(pattern.Hostname()) {
		return false
	}
	matched, err := filepath.Match(pattern.Hostname(), origin.Hostname())
	return matched && err == nil
}

func normalizedPort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch u.Scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

func globOrigins(origins []string) globOriginSet {
	var globs []*url.URL
	for _, o := range origins {
		if o == "*" || o == UnsafeAllOriginWithCredentials || !strings.Contains(o, "*") {
			continue
		}
		if u, err := url.Parse(o); err == nil {
			globs = append(globs, u)
		}
	}
	return globs
}
