// Package platformauth implements component D: signing and validating
// requests that claim to originate from the platform's own control plane
// (as opposed to service-to-service traffic, which uses package svcauth).
//
// The context-marker half of this package (WithEncorePlatformSealOfApproval
// / IsEncorePlatformRequest) is carried over unchanged from the teacher —
// an internal package is the right way to ensure only this module's own
// validator can mark a context as platform-authenticated. The signer and
// validator are grounded on
// appruntime/shared/platform/platform.go's addAuthKey/ValidatePlatformRequest
// /checkAuthKey for the `date\x00path` MAC input, the key-id-prefixed
// base64 wire form and the 15-minute skew window, and on
// original_source/runtimes/core/src/api/reqauth/platform.rs's
// RequestValidator::validate_platform_request/check_auth_key for the exact
// discriminated failure taxonomy (§4.4's InvalidMac/UnknownMacKey/
// InvalidMacKey/InvalidDateHeader/TimeSkew/SecretResolve), generalized here
// to accept an injected key set and clock instead of reading *config.Runtime
// or a secrets.Manager directly.
package platformauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"
)

type ctxKey string

const platformAuthCtxKey ctxKey = "platformAuthCtxKey"

// WithEncorePlatformSealOfApproval marks ctx as having been validated by
// this package's Validator. Only this package can produce such a context,
// so a handler can trust IsEncorePlatformRequest without re-checking.
func WithEncorePlatformSealOfApproval(ctx context.Context) context.Context {
	return context.WithValue(ctx, platformAuthCtxKey, true)
}

// IsEncorePlatformRequest returns true if ctx originated from a request
// validated as coming from the platform.
func IsEncorePlatformRequest(ctx context.Context) bool {
	v, _ := ctx.Value(platformAuthCtxKey).(bool)
	return v
}

// Key is one member of a versioned key set; KeyID is embedded in the wire
// signature so a validator can pick the right key without trying them all.
// Resolve, if set, is consulted instead of Data — a hook for keys whose
// secret material is fetched lazily (e.g. from a secrets manager), whose
// failure is SecretResolve rather than UnknownMacKey: the key id was
// recognized, only its bytes couldn't be obtained.
type Key struct {
	KeyID   uint32
	Data    []byte
	Resolve func() ([]byte, error)
}

func (k Key) secret() ([]byte, error) {
	if k.Resolve != nil {
		return k.Resolve()
	}
	return k.Data, nil
}

// Reason discriminates why Validate rejected a request, per §4.4.
type Reason int

const (
	InvalidMac Reason = iota + 1
	UnknownMacKey
	InvalidMacKey
	InvalidDateHeader
	TimeSkew
	SecretResolve
)

func (r Reason) String() string {
	switch r {
	case InvalidMac:
		return "invalid mac"
	case UnknownMacKey:
		return "unknown mac key"
	case InvalidMacKey:
		return "invalid mac key"
	case InvalidDateHeader:
		return "invalid or missing date header"
	case TimeSkew:
		return "time skew"
	case SecretResolve:
		return "resolve secret"
	default:
		return "unknown validation failure"
	}
}

// ValidationError is the error Validate returns on any rejection; callers
// can switch on Reason to tell an unknown key id apart from a clock-skew
// failure, as §4.4 and testable property 5 require.
type ValidationError struct {
	Reason Reason
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("platformauth: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("platformauth: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// SealOfApproval witnesses that a request passed Validate; the only thing a
// caller can do with it is hand it to WithEncorePlatformSealOfApproval.
type SealOfApproval struct{}

const skewThreshold = 15 * time.Minute

// Clock abstracts time.Now for deterministic skew tests.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Signer signs outbound requests as originating from the platform, and
// Validator checks inbound requests claiming to be from the platform. Both
// share a key set; in practice both roles are played by the platform
// process itself and this module's gateway, so they're kept as one type.
type Signer struct {
	Keys  []Key
	Clock Clock
}

func NewSigner(keys []Key) *Signer {
	return &Signer{Keys: keys, Clock: realClock{}}
}

// Sign sets the Date and X-Encore-Auth headers on req, signing with the
// first (primary) key in the set.
func (s *Signer) Sign(req *http.Request) error {
	if len(s.Keys) == 0 {
		return fmt.Errorf("platformauth: no signing keys configured")
	}
	k := s.Keys[0]
	clock := s.Clock
	if clock == nil {
		clock = realClock{}
	}
	date := clock.Now().UTC().Format(http.TimeFormat)
	req.Header.Set("Date", date)
	req.Header.Set("X-Encore-Auth", sign(k, date, req.URL.Path))
	return nil
}

func sign(k Key, date, path string) string {
	mac := hmac.New(sha256.New, k.Data)
	_, _ = fmt.Fprintf(mac, "%s\x00%s", date, path)

	buf := make([]byte, 4, 4+sha256.Size)
	binary.BigEndian.PutUint32(buf[0:4], k.KeyID)
	buf = mac.Sum(buf)
	return base64.RawStdEncoding.EncodeToString(buf)
}

// Validate checks req's X-Encore-Auth header against s.Keys and the
// 15-minute clock skew window, returning a SealOfApproval on success or a
// *ValidationError discriminating exactly why on failure — ported from
// validate_platform_request/check_auth_key in platform.rs, including its
// order of checks (malformed MAC envelope, then unknown key id, then secret
// resolution, then date header, then skew, then the MAC comparison itself).
func (s *Signer) Validate(req *http.Request) (SealOfApproval, error) {
	sig := req.Header.Get("X-Encore-Auth")
	macBytes, err := base64.RawStdEncoding.DecodeString(sig)
	if err != nil {
		return SealOfApproval{}, &ValidationError{Reason: InvalidMac, Cause: err}
	}

	const keyIDLen = 4
	if len(macBytes) < keyIDLen {
		return SealOfApproval{}, &ValidationError{Reason: InvalidMac}
	}
	keyID := binary.BigEndian.Uint32(macBytes[:keyIDLen])
	gotMac := macBytes[keyIDLen:]

	for _, k := range s.Keys {
		if k.KeyID != keyID {
			continue
		}
		secret, err := k.secret()
		if err != nil {
			return SealOfApproval{}, &ValidationError{Reason: SecretResolve, Cause: err}
		}
		return s.checkKey(secret, req, gotMac)
	}
	return SealOfApproval{}, &ValidationError{Reason: UnknownMacKey}
}

func (s *Signer) checkKey(secret []byte, req *http.Request, gotMac []byte) (SealOfApproval, error) {
	dateStr := req.Header.Get("Date")
	if dateStr == "" {
		return SealOfApproval{}, &ValidationError{Reason: InvalidDateHeader}
	}
	date, err := http.ParseTime(dateStr)
	if err != nil {
		return SealOfApproval{}, &ValidationError{Reason: InvalidDateHeader, Cause: err}
	}

	clock := s.Clock
	if clock == nil {
		clock = realClock{}
	}
	if diff := clock.Now().Sub(date); diff > skewThreshold || diff < -skewThreshold {
		return SealOfApproval{}, &ValidationError{Reason: TimeSkew}
	}

	if len(secret) == 0 {
		return SealOfApproval{}, &ValidationError{Reason: InvalidMacKey}
	}

	mac := hmac.New(sha256.New, secret)
	_, _ = fmt.Fprintf(mac, "%s\x00%s", dateStr, req.URL.Path)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, gotMac) {
		return SealOfApproval{}, &ValidationError{Reason: InvalidMac}
	}
	return SealOfApproval{}, nil
}
