// Package svcauth implements component E: service-to-service request
// signing and verification.
//
// The derived-key HMAC-SHA3-256 scheme and its Noop sibling are grounded on
// the *shape* of runtimes/go/appruntime/apisdk/api/svcauth/{svcauth.go,
// noop.go,encoreauth.go}: a small ServiceAuthMethod interface with Sign and
// Verify, a Noop implementation, and a header-based wire encoding. The
// teacher's actual key-derivation and signing math is delegated to a
// private go.encore.dev/platform-sdk/pkg/auth package not present in this
// module's dependency pack, so the derived-key chain and digest format here
// are ported from original_source/runtimes/core/src/api/reqauth/encoreauth/
// sign.rs's derive_signing_key, in particular kBase = "ENCORE1" || secret
// used literally (not hashed) as the first HMAC key in the chain — see
// DESIGN.md.
package svcauth

import (
	"crypto/hmac"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/relaycore/rplane/meta"
)

const Scheme = "ENCORE1-HMAC-SHA3-256"

const skewThreshold = 120 * time.Second

// excludedFromOpHash are meta keys never fed into the canonical op-hash:
// the two W3C trace headers (opaque, not under this scheme's control) and
// the three headers the scheme itself writes (hashing them would be
// circular).
var excludedFromOpHash = map[meta.Key]bool{
	meta.TraceParent:            true,
	meta.TraceState:             true,
	meta.SvcAuthMethod:          true,
	meta.SvcAuthEncoreAuthHash:  true,
	meta.SvcAuthEncoreAuthDate:  true,
}

// Method is a pluggable service-auth scheme: either Encore (HMAC-SHA3-256)
// or Noop.
type Method interface {
	// Name is the value written to the SvcAuthMethod meta header.
	Name() string
	// Sign stamps t with this method's signature headers for an outbound
	// call whose op-hash input is derived from t's own recognized meta
	// keys.
	Sign(t meta.Transport) error
	// Verify checks t's signature headers, returning an error if they are
	// missing, malformed, expired, or don't match.
	Verify(t meta.Transport) error
}

// Noop signs nothing and accepts anything; used in local development or
// when the deployment has no cross-service secret configured.
type Noop struct{}

func (Noop) Name() string { return "noop" }
func (Noop) Sign(t meta.Transport) error {
	t.SetMeta(meta.SvcAuthMethod, "noop")
	return nil
}
func (Noop) Verify(t meta.Transport) error { return nil }

// Key is one versioned service-auth secret.
type Key struct {
	ID     string
	Secret []byte
}

// Clock abstracts time.Now for deterministic skew tests.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Encore is the ENCORE1-HMAC-SHA3-256 derived-key scheme.
type Encore struct {
	App   string
	Env   string
	Keys  []Key // Keys[0] is used for signing; Verify uses the key whose ID matches the credential's key id.
	Clock Clock
}

func (e *Encore) Name() string { return "encore-auth" }

func (e *Encore) now() time.Time {
	if e.Clock != nil {
		return e.Clock.Now()
	}
	return time.Now()
}

func (e *Encore) Sign(t meta.Transport) error {
	if len(e.Keys) == 0 {
		return errors.New("svcauth: no signing keys configured")
	}
	k := e.Keys[0]
	ts := e.now().UTC()
	date := ts.Format("20060102")

	t.SetMeta(meta.SvcAuthMethod, e.Name())
	t.SetMeta(meta.SvcAuthEncoreAuthDate, ts.Format(time.RFC1123))

	opHash := opHashHex(t)
	cred := fmt.Sprintf("%s/%s/%s/%s", date, e.App, e.Env, k.ID)
	sig := sign(k.Secret, date, e.App, e.Env, ts, cred, opHash)

	header := fmt.Sprintf(`%s cred="%s", op=%s, sig=%s`, Scheme, cred, opHash, sig)
	t.SetMeta(meta.SvcAuthEncoreAuthHash, header)
	return nil
}

func (e *Encore) Verify(t meta.Transport) error {
	header, ok := t.ReadMeta(meta.SvcAuthEncoreAuthHash)
	if !ok {
		return errors.New("svcauth: missing signature header")
	}
	dateHdr, ok := t.ReadMeta(meta.SvcAuthEncoreAuthDate)
	if !ok {
		return errors.New("svcauth: missing date header")
	}

	scheme, params, err := parseSchemeLine(header)
	if err != nil {
		return err
	}
	if scheme != Scheme {
		return fmt.Errorf("svcauth: unrecognized scheme %q", scheme)
	}

	cred, ok := params["cred"]
	if !ok {
		return errors.New("svcauth: missing cred param")
	}
	opHex, ok := params["op"]
	if !ok {
		return errors.New("svcauth: missing op param")
	}
	sigHex, ok := params["sig"]
	if !ok {
		return errors.New("svcauth: missing sig param")
	}

	ts, err := time.Parse(time.RFC1123, dateHdr)
	if err != nil {
		return fmt.Errorf("svcauth: invalid date header: %w", err)
	}

	credParts := strings.Split(cred, "/")
	if len(credParts) != 4 {
		return fmt.Errorf("svcauth: malformed cred %q", cred)
	}
	credDate, credApp, credEnv, keyID := credParts[0], credParts[1], credParts[2], credParts[3]

	if credDate != ts.Format("20060102") {
		return errors.New("svcauth: cred date does not match date header")
	}
	if credApp != e.App || credEnv != e.Env {
		return errors.New("svcauth: cred app/env mismatch")
	}

	if diff := e.now().UTC().Sub(ts); abs(diff) > skewThreshold {
		return fmt.Errorf("svcauth: clock skew %v exceeds threshold", diff)
	}

	var key *Key
	for i := range e.Keys {
		if e.Keys[i].ID == keyID {
			key = &e.Keys[i]
			break
		}
	}
	if key == nil {
		return fmt.Errorf("svcauth: unknown key id %q", keyID)
	}

	wantOp := opHashHex(t)
	if subtle.ConstantTimeCompare([]byte(wantOp), []byte(opHex)) != 1 {
		return errors.New("svcauth: op-hash mismatch")
	}

	wantSig := sign(key.Secret, credDate, credApp, credEnv, ts, cred, opHex)
	if subtle.ConstantTimeCompare([]byte(wantSig), []byte(sigHex)) != 1 {
		return errors.New("svcauth: signature mismatch")
	}

	return nil
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// sign computes the full derived-key chain and final digest per §4.3.
func sign(secret []byte, date, app, env string, ts time.Time, cred, opHashHex string) string {
	kBase := append([]byte("ENCORE1"), secret...)
	kDate := hmacSHA3(kBase, []byte(date))
	kApp := hmacSHA3(kDate, []byte(app))
	kEnv := hmacSHA3(kApp, []byte(env))
	kSign := hmacSHA3(kEnv, []byte("encore_request"))

	digest := strings.Join([]string{
		Scheme,
		ts.UTC().Format("2006-01-02T15:04:05Z"),
		cred,
		opHashHex,
	}, "\n")

	return fmt.Sprintf("%x", hmacSHA3(kSign, []byte(digest)))
}

func hmacSHA3(key, data []byte) []byte {
	mac := hmac.New(sha3.New256, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// opHashHex computes the canonical operation hash over t's recognized meta
// keys, excluding the five headers this scheme itself controls or that are
// opaque W3C trace context.
func opHashHex(t meta.Transport) string {
	h := sha3.New256()
	h.Write([]byte("internal-api\n"))
	h.Write([]byte("call\n"))

	for _, k := range meta.SortedMetaKeys(t) {
		if excludedFromOpHash[k] {
			continue
		}
		values, ok := t.ReadMetaValues(k)
		if !ok {
			continue
		}
		sorted := append([]string(nil), values...)
		sort.Strings(sorted)
		for _, v := range sorted {
			h.Write([]byte(k.WireName()))
			h.Write([]byte("="))
			h.Write([]byte(v))
			h.Write([]byte("\n"))
		}
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// parseSchemeLine parses `<scheme> name="value", name=value, ...`.
func parseSchemeLine(line string) (scheme string, params map[string]string, err error) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		return "", nil, fmt.Errorf("svcauth: malformed scheme line %q", line)
	}
	scheme = line[:sp]
	params = make(map[string]string)
	for _, part := range strings.Split(line[sp+1:], ", ") {
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return "", nil, fmt.Errorf("svcauth: malformed scheme param %q", part)
		}
		value = strings.Trim(value, `"`)
		params[name] = value
	}
	return scheme, params, nil
}
