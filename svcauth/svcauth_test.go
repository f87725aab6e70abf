package svcauth

import (
	"net/http"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/relaycore/rplane/meta"
)

type clockAdapter struct{ c *clock.Mock }

func (a clockAdapter) Now() time.Time { return a.c.Now() }

func newEncore(mc *clock.Mock) *Encore {
	return &Encore{
		App:   "myapp",
		Env:   "production",
		Keys:  []Key{{ID: "1", Secret: []byte("topsecret")}},
		Clock: clockAdapter{mc},
	}
}

func TestSignAndVerify(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	e := newEncore(mc)

	h := make(http.Header)
	h.Set(meta.XCorrelationID.WireName(), "req-1")
	tr := meta.HTTPHeader(h)

	if err := e.Sign(tr); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := e.Verify(tr); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyRejectsTamperedMeta(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	e := newEncore(mc)

	h := make(http.Header)
	h.Set(meta.XCorrelationID.WireName(), "req-1")
	tr := meta.HTTPHeader(h)

	if err := e.Sign(tr); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	h.Set(meta.XCorrelationID.WireName(), "req-TAMPERED")
	if err := e.Verify(tr); err == nil {
		t.Fatal("expected verify to fail after meta tampering")
	}
}

func TestVerifyRejectsSkew(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	e := newEncore(mc)

	h := make(http.Header)
	tr := meta.HTTPHeader(h)
	if err := e.Sign(tr); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	mc.Add(121 * time.Second)
	if err := e.Verify(tr); err == nil {
		t.Fatal("expected verify to fail once skew threshold exceeded")
	}
}

func TestVerifyRejectsUnknownKey(t *testing.T) {
	mc := clock.NewMock()
	mc.Set(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))
	signer := newEncore(mc)
	verifier := newEncore(mc)
	verifier.Keys = []Key{{ID: "2", Secret: []byte("othersecret")}}

	h := make(http.Header)
	tr := meta.HTTPHeader(h)
	if err := signer.Sign(tr); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := verifier.Verify(tr); err == nil {
		t.Fatal("expected verify to fail for unknown key id")
	}
}

// TestSignFixtureMatchesReferenceImplementation pins kBase/kDate/kApp/kEnv/
// kSign and the op-hash to the known-correct values produced by the
// reference signer (original_source's EncoreAuth::sign, app "app", env
// "env", key id 123, secret "secret data", ts = unix epoch + 1234567890s,
// no extra meta keys set). Catches any regression in the derived-key chain
// that a self-consistent Sign/Verify round trip alone would never surface.
func TestSignFixtureMatchesReferenceImplementation(t *testing.T) {
	const (
		wantOp  = "f3c70a419394ce9d56efafad2208154b92c8596d7396b3a2b4ea7fd925d28dc2"
		wantSig = "fc0c88b47c13d999353ecc8681d91d9c03209a1f05583b92d84e429fedfe387a"
	)
	ts := time.Unix(1234567890, 0).UTC()
	cred := "20090213/app/env/123"

	tr := meta.HTTPHeader(make(http.Header))
	gotOp := opHashHex(tr)
	if gotOp != wantOp {
		t.Fatalf("opHashHex() = %s, want %s", gotOp, wantOp)
	}

	gotSig := sign([]byte("secret data"), "20090213", "app", "env", ts, cred, gotOp)
	if gotSig != wantSig {
		t.Fatalf("sign() = %s, want %s", gotSig, wantSig)
	}
}

func TestNoopAcceptsAnything(t *testing.T) {
	var n Noop
	h := make(http.Header)
	tr := meta.HTTPHeader(h)
	if err := n.Sign(tr); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := n.Verify(tr); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
