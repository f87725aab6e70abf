// Package caller implements component B: the tagged-union identity of a
// request's originator, round-trippable as a single header string.
//
// Grounded directly on runtimes/go/appruntime/apisdk/api/callers.go, which
// already carries the PrivateAPIAccess distinction and the GatewayCaller
// variant. The wire grammar is adjusted to spec.md §3.2's single-field
// `gateway:<name>` form (the teacher emits `gateway:<service>.<endpoint>`);
// DESIGN.md records this reconciliation.
package caller

import (
	"errors"
	"fmt"
	"strings"
)

// Caller identifies the originator of a request.
type Caller interface {
	// CallerString is the `kind:payload` wire form.
	CallerString() string
	// PrivateAPIAccess reports whether this caller may invoke endpoints not
	// explicitly exposed at the gateway tier. Only Gateway is false.
	PrivateAPIAccess() bool
}

// ApiEndpoint identifies a call from one service endpoint to another.
type ApiEndpoint struct {
	Service  string
	Endpoint string
}

func (c ApiEndpoint) CallerString() string  { return fmt.Sprintf("api:%s.%s", c.Service, c.Endpoint) }
func (c ApiEndpoint) PrivateAPIAccess() bool { return true }

// PubSubMessage identifies a call made from a pubsub subscription handler.
type PubSubMessage struct {
	Topic        string
	Subscription string
	MessageID    string
}

func (c PubSubMessage) CallerString() string {
	return fmt.Sprintf("pubsub:%s:%s:%s", c.Topic, c.Subscription, c.MessageID)
}
func (c PubSubMessage) PrivateAPIAccess() bool { return true }

// App identifies a call made by the application itself outside any traced
// request, e.g. from an init function or a background task.
type App struct {
	DeployID string
}

func (c App) CallerString() string  { return fmt.Sprintf("app:%s", c.DeployID) }
func (c App) PrivateAPIAccess() bool { return true }

// Gateway identifies a call forwarded by the named gateway. It is the only
// Caller variant without private API access.
type Gateway struct {
	Name string
}

func (c Gateway) CallerString() string  { return fmt.Sprintf("gateway:%s", c.Name) }
func (c Gateway) PrivateAPIAccess() bool { return false }

// EncorePrincipal identifies a call made by the platform's own control-plane
// systems (e.g. the cloud dashboard), acting as the named principal.
type EncorePrincipal struct {
	Principal string
}

func (c EncorePrincipal) CallerString() string  { return fmt.Sprintf("encore:%s", c.Principal) }
func (c EncorePrincipal) PrivateAPIAccess() bool { return true }

// Parse parses a CallerString back into its typed Caller. §8 property 1:
// Parse(c.CallerString()) == c for every Caller variant.
func Parse(s string) (Caller, error) {
	switch {
	case strings.HasPrefix(s, "api:"):
		svc, ep, ok := strings.Cut(s[len("api:"):], ".")
		if !ok {
			return nil, errors.New("caller: invalid api caller")
		}
		return ApiEndpoint{svc, ep}, nil
	case strings.HasPrefix(s, "pubsub:"):
		rest := s[len("pubsub:"):]
		topic, rest, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, errors.New("caller: invalid pubsub caller")
		}
		sub, mid, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, errors.New("caller: invalid pubsub caller")
		}
		return PubSubMessage{topic, sub, mid}, nil
	case strings.HasPrefix(s, "app:"):
		return App{s[len("app:"):]}, nil
	case strings.HasPrefix(s, "gateway:"):
		return Gateway{s[len("gateway:"):]}, nil
	case strings.HasPrefix(s, "encore:"):
		return EncorePrincipal{s[len("encore:"):]}, nil
	default:
		return nil, fmt.Errorf("caller: unrecognized caller string %q", s)
	}
}
