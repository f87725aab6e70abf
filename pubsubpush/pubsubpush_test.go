package pubsubpush

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func mustRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func jwksServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	set := jwkSet{Keys: []jwk{{
		Kty: "RSA",
		Kid: kid,
		Alg: "RS256",
		N:   b64url(key.PublicKey.N.Bytes()),
		E:   b64url(bigEndianMinimal(key.PublicKey.E)),
	}}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(set)
	}))
}

func bigEndianMinimal(e int) []byte {
	if e == 65537 {
		return []byte{0x01, 0x00, 0x01}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return signed
}

func TestGateAcceptsValidPushToken(t *testing.T) {
	key := mustRSAKey(t)
	srv := jwksServer(t, key, "key-1")
	defer srv.Close()

	gate := &Gate{
		Config: Config{
			Audience:            "https://svc.example.com/push",
			ServiceAccountEmail: "pusher@project.iam.gserviceaccount.com",
		},
		Handler: func(ctx context.Context, msg Message) error {
			if string(msg.Body) != "Hello" {
				t.Errorf("body = %q", msg.Body)
			}
			if msg.Attributes["k"] != "v" {
				t.Errorf("attrs = %v", msg.Attributes)
			}
			if msg.ID != "m1" {
				t.Errorf("id = %q", msg.ID)
			}
			if msg.DeliveryAttempt != 3 {
				t.Errorf("attempt = %d", msg.DeliveryAttempt)
			}
			return nil
		},
		client: http.DefaultClient,
		keys:   &jwkCache{client: http.DefaultClient, set: map[string]cachedSet{}},
	}
	// Point the cache at our test server instead of Google's real endpoint
	// by seeding a pre-populated entry under the well-known cache key.
	pub, err := gate.keys.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	gate.keys.mu.Lock()
	gate.keys.set[googleRSAJWKSURL] = cachedSet{keys: pub, fetched: time.Now()}
	gate.keys.mu.Unlock()

	claims := jwt.MapClaims{
		"iss":            issuerFull,
		"aud":            "https://svc.example.com/push",
		"email":          "pusher@project.iam.gserviceaccount.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	token := signToken(t, key, "key-1", claims)

	deliveryAttempt := 3
	env := pushEnvelope{Subscription: "projects/p/subscriptions/s", DeliveryAttempt: &deliveryAttempt}
	env.Message.MessageID = "m1"
	env.Message.Attributes = map[string]string{"k": "v"}
	env.Message.Data = base64.StdEncoding.EncodeToString([]byte("Hello"))
	body, _ := json.Marshal(env)

	req := httptest.NewRequest(http.MethodPost, "/projects/p/subscriptions/s", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGateRejectsMissingAuthorization(t *testing.T) {
	gate := &Gate{
		Config:  Config{Audience: "aud"},
		Handler: func(context.Context, Message) error { return nil },
		keys:    newJWKCache(http.DefaultClient),
	}
	req := httptest.NewRequest(http.MethodPost, "/projects/p/subscriptions/s", nil)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestGateRejectsWrongAudience(t *testing.T) {
	key := mustRSAKey(t)
	srv := jwksServer(t, key, "key-1")
	defer srv.Close()

	gate := &Gate{
		Config: Config{
			Audience:            "https://svc.example.com/push",
			ServiceAccountEmail: "pusher@project.iam.gserviceaccount.com",
		},
		Handler: func(context.Context, Message) error { return nil },
		keys:    &jwkCache{client: http.DefaultClient, set: map[string]cachedSet{}},
	}
	pub, err := gate.keys.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	gate.keys.set[googleRSAJWKSURL] = cachedSet{keys: pub, fetched: time.Now()}

	claims := jwt.MapClaims{
		"iss":            issuerFull,
		"aud":            "https://wrong.example.com/push",
		"email":          "pusher@project.iam.gserviceaccount.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	}
	token := signToken(t, key, "key-1", claims)

	req := httptest.NewRequest(http.MethodPost, "/projects/p/subscriptions/s", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	gate.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
