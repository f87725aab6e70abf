// Package pubsubpush implements component O: the PubSub push-subscription
// gate. It verifies Google's push-delivery JWT against cached JWK sets and
// maps the verified POST body into a message-handler invocation.
//
// Grounded on the teacher's use of golang-jwt/jwt/v5 for token parsing, the
// design notes' explicit JWK-cache shape ("RWLock over a small hash map
// keyed by fetch URL") and beta/errs for the error-to-status mapping on
// handler failure (§6.5, §9).
package pubsubpush

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/relaycore/rplane/beta/errs"
)

const (
	googleRSAJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
	googleECJWKSURL  = "https://www.gstatic.com/iap/verify/public_key-jwk"

	issuerBare = "accounts.google.com"
	issuerFull = "https://accounts.google.com"
)

// Config configures the push gate for a single subscription endpoint.
type Config struct {
	// Audience is the expected "aud" claim, normally the subscription's
	// push endpoint URL as registered with Google Pub/Sub.
	Audience string
	// ServiceAccountEmail is the expected, verified "email" claim: the
	// push subscription's configured service account.
	ServiceAccountEmail string
}

// Message is the decoded push payload handed to a handler.
type Message struct {
	Body            []byte
	Attributes      map[string]string
	ID              string
	DeliveryAttempt int
	Subscription    string
}

// Handler processes a verified push message.
type Handler func(ctx context.Context, msg Message) error

// pushEnvelope mirrors §6.5's wire body.
type pushEnvelope struct {
	Message struct {
		MessageID  string            `json:"messageId"`
		PublishTime string           `json:"publishTime"`
		Attributes map[string]string `json:"attributes"`
		Data       string            `json:"data"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt *int   `json:"deliveryAttempt"`
}

// Gate verifies the bearer JWT on incoming push POSTs and dispatches to
// Handler on success.
type Gate struct {
	Config  Config
	Handler Handler

	keys   *jwkCache
	client *http.Client
}

// NewGate constructs a Gate with a fresh JWK cache and the given client
// (nil selects http.DefaultClient for key fetches).
func NewGate(cfg Config, handler Handler, client *http.Client) *Gate {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gate{
		Config:  cfg,
		Handler: handler,
		keys:    newJWKCache(client),
		client:  client,
	}
}

// ServeHTTP implements the push endpoint: verify, decode, dispatch.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := g.verify(ctx, r); err != nil {
		status := errs.HTTPStatus(err)
		http.Error(w, err.Error(), status)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var env pushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed push body", http.StatusBadRequest)
		return
	}

	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		http.Error(w, "malformed message data", http.StatusBadRequest)
		return
	}

	attempt := 1
	if env.DeliveryAttempt != nil {
		attempt = *env.DeliveryAttempt
	}

	msg := Message{
		Body:            data,
		Attributes:      env.Message.Attributes,
		ID:              env.Message.MessageID,
		DeliveryAttempt: attempt,
		Subscription:    env.Subscription,
	}

	if err := g.Handler(ctx, msg); err != nil {
		status := errs.HTTPStatus(err)
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// verify validates the Authorization bearer JWT per §6.5: signature against
// the cached Google JWK sets, issuer in {accounts.google.com,
// https://accounts.google.com}, audience equal to Config.Audience, and a
// verified email claim equal to Config.ServiceAccountEmail.
func (g *Gate) verify(ctx context.Context, r *http.Request) error {
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return errs.B().Code(errs.Unauthenticated).Msg("missing bearer token").Err()
	}
	raw := strings.TrimPrefix(authz, prefix)

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return g.keys.lookup(ctx, t.Method, kid)
	})
	if err != nil {
		return errs.B().Code(errs.Unauthenticated).Msg("invalid push token").Cause(err).Err()
	}

	iss, _ := claims.GetIssuer()
	if iss != issuerBare && iss != issuerFull {
		return errs.B().Code(errs.Unauthenticated).Msgf("unexpected issuer %q", iss).Err()
	}

	aud, _ := claims.GetAudience()
	if !contains(aud, g.Config.Audience) {
		return errs.B().Code(errs.Unauthenticated).Msg("unexpected audience").Err()
	}

	email, _ := claims["email"].(string)
	verified, _ := claims["email_verified"].(bool)
	if !verified || email != g.Config.ServiceAccountEmail {
		return errs.B().Code(errs.Unauthenticated).Msg("unexpected or unverified service account").Err()
	}

	return nil
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// jwkCache fetches and caches Google's RSA and EC public-key sets, keyed by
// fetch URL, behind an RWMutex — the shape the design notes call for rather
// than a generic third-party JWK client, since the key sets and their
// refresh cadence are small and fixed to the two well-known Google URLs.
type jwkCache struct {
	client *http.Client

	mu  sync.RWMutex
	set map[string]cachedSet
}

type cachedSet struct {
	keys    map[string]any
	fetched time.Time
}

const jwkTTL = 30 * time.Minute

func newJWKCache(client *http.Client) *jwkCache {
	return &jwkCache{client: client, set: make(map[string]cachedSet)}
}

func (c *jwkCache) lookup(ctx context.Context, method jwt.SigningMethod, kid string) (any, error) {
	url := googleRSAJWKSURL
	if _, ok := method.(*jwt.SigningMethodECDSA); ok {
		url = googleECJWKSURL
	} else if _, ok := method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("pubsubpush: unsupported signing method %q", method.Alg())
	}

	keys, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	key, ok := keys[kid]
	if !ok {
		return nil, fmt.Errorf("pubsubpush: unknown key id %q", kid)
	}
	return key, nil
}

func (c *jwkCache) get(ctx context.Context, url string) (map[string]any, error) {
	c.mu.RLock()
	entry, ok := c.set[url]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetched) < jwkTTL {
		return entry.keys, nil
	}

	keys, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.set[url] = cachedSet{keys: keys, fetched: time.Now()}
	c.mu.Unlock()
	return keys, nil
}

// jwkSet and jwk mirror RFC 7517's minimal subset needed for RSA and EC
// public keys, good enough for Google's two published endpoints.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

func (c *jwkCache) fetch(ctx context.Context, url string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubsubpush: fetching %s: status %d", url, resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(set.Keys))
	for _, k := range set.Keys {
		switch k.Kty {
		case "RSA":
			pub, err := rsaPublicKey(k.N, k.E)
			if err != nil {
				continue
			}
			out[k.Kid] = pub
		case "EC":
			pub, err := ecPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue
			}
			out[k.Kid] = pub
		}
	}
	return out, nil
}

func rsaPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nB64)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eB64)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	n := new(big.Int).SetBytes(nBytes)
	return &rsa.PublicKey{N: n, E: e}, nil
}

func ecPublicKey(crv, xB64, yB64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("pubsubpush: unsupported EC curve %q", crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(xB64)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yB64)
	if err != nil {
		return nil, err
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
