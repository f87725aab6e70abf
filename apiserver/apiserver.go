// Package apiserver implements component K: the in-service API server that
// exposes endpoints behind late-bound handler slots, validates service-auth
// and platform-auth ahead of dispatch, and fans out to typed, raw, or
// WebSocket handlers.
//
// Grounded on appruntime/apisdk/api/server.go's Access enum
// (Public/RequiresAuth/Private) and execContext/IncomingContext shape, and
// on gateway.go's pattern of checking the inbound caller before invoking a
// handler. The teacher binds each endpoint's Go function directly at
// package-init time via generated code; this package generalizes that into
// an explicit, mutex-guarded slot (spec.md §4.6's "RwLock<Option<Handler>>")
// so an endpoint can be registered before its implementation exists,
// returning NotFound with the exact internal_message §4.6 specifies until
// it is.
package apiserver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/julienschmidt/httprouter"

	"github.com/relaycore/rplane/beta/errs"
	"github.com/relaycore/rplane/caller"
	"github.com/relaycore/rplane/callmeta"
	"github.com/relaycore/rplane/ids"
	"github.com/relaycore/rplane/internal/platformauth"
	"github.com/relaycore/rplane/meta"
	"github.com/relaycore/rplane/router"
	"github.com/relaycore/rplane/svcauth"
	"github.com/relaycore/rplane/trace"
	"github.com/relaycore/rplane/wsconn"
)

var json = jsoniter.Config{
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Access controls whether an endpoint may be reached without an
// authenticated caller, mirroring the teacher's three-value Access enum.
type Access int

const (
	Public Access = iota
	RequiresAuth
	Private
)

// Kind distinguishes the three handler shapes §4.6 step 4 dispatches to.
type Kind int

const (
	Typed Kind = iota
	Raw
	WebSocket
)

// TypedHandler runs a typed request and returns a typed result; the server
// marshals the returned result to the HTTP response itself, in the same
// goroutine.
type TypedHandler func(ctx context.Context, r *http.Request, params httprouter.Params) (any, error)

// RawHandler writes directly to the response, for endpoints that need full
// control over status/headers/streaming.
type RawHandler func(w http.ResponseWriter, r *http.Request, params httprouter.Params)

// WSHandler serves a WebSocket endpoint over an already-upgraded Conn.
type WSHandler func(ctx context.Context, conn *wsconn.Conn, params httprouter.Params) error

// EndpointSpec declares one endpoint's static properties: routing,
// required auth posture, and handler shape. The handler itself is bound
// later via Server.Bind.
type EndpointSpec struct {
	Service              string
	Endpoint             router.Endpoint
	Access               Access
	Kind                 Kind
	RequiresPlatformAuth bool
}

// slot is the replaceable handler cell §4.6 calls for: nil until Bind is
// called, after which every dispatch reads it under RLock.
type slot struct {
	mu      sync.RWMutex
	typed   TypedHandler
	raw     RawHandler
	ws      WSHandler
	spec    EndpointSpec
	present bool
}

// Server dispatches inbound requests to bound endpoint slots, enforcing
// §4.6's service-auth, platform-auth, and caller-privacy checks first.
type Server struct {
	Router       *router.Router
	SvcAuth      svcauth.Method
	PlatformAuth *platformauth.Signer
	Upgrader     *wsconn.Upgrader
	// Trace receives a request-start/request-end event pair for every
	// dispatched call (§2's data-flow diagram, §3.5's matching-pair
	// invariant). Nil disables tracing, matching Log.Add's own nil-safety.
	Trace *trace.Log

	mu    sync.RWMutex
	slots map[string]*slot // key: service + "." + endpoint.Name
}

func New(rt *router.Router) *Server {
	return &Server{
		Router: rt,
		slots:  make(map[string]*slot),
	}
}

func slotKey(service, endpoint string) string { return service + "." + endpoint }

// Register declares spec's routing and access posture without binding an
// implementation; AddRoutes is called immediately so the router rejects
// duplicates at startup, before any handler exists.
func (s *Server) Register(spec EndpointSpec) error {
	if err := s.Router.AddRoutes(spec.Service, []router.Endpoint{spec.Endpoint}); err != nil {
		return err
	}
	key := slotKey(spec.Service, spec.Endpoint.Name)
	s.mu.Lock()
	s.slots[key] = &slot{spec: spec}
	s.mu.Unlock()
	return nil
}

// Bind installs the live handler for a previously Registered typed
// endpoint. Calling Bind more than once replaces the handler, supporting
// hot-reload in development.
func (s *Server) Bind(service, endpoint string, h TypedHandler) {
	sl := s.slotFor(service, endpoint)
	sl.mu.Lock()
	sl.typed = h
	sl.present = true
	sl.mu.Unlock()
}

// BindRaw installs the live handler for a Raw-kind endpoint.
func (s *Server) BindRaw(service, endpoint string, h RawHandler) {
	sl := s.slotFor(service, endpoint)
	sl.mu.Lock()
	sl.raw = h
	sl.present = true
	sl.mu.Unlock()
}

// BindWebSocket installs the live handler for a WebSocket-kind endpoint.
func (s *Server) BindWebSocket(service, endpoint string, h WSHandler) {
	sl := s.slotFor(service, endpoint)
	sl.mu.Lock()
	sl.ws = h
	sl.present = true
	sl.mu.Unlock()
}

func (s *Server) slotFor(service, endpoint string) *slot {
	key := slotKey(service, endpoint)
	s.mu.RLock()
	sl, ok := s.slots[key]
	s.mu.RUnlock()
	if !ok {
		panic("apiserver: Bind called for unregistered endpoint " + key)
	}
	return sl
}

// ServeHTTP implements §4.6's per-request algorithm: route, validate
// service-auth and platform-auth, enforce the caller-privacy rule, then
// dispatch to the bound handler's kind.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, err := s.Router.Route(r.Method, r.URL.Path)
	if err != nil {
		msg := "endpoint not found"
		if mnf := (*router.MethodNotFoundError)(nil); errors.As(err, &mnf) {
			msg = mnf.Error()
		}
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Msg(msg).Err())
		return
	}

	key := slotKey(route.Service, route.Endpoint)
	s.mu.RLock()
	sl, ok := s.slots[key]
	s.mu.RUnlock()
	if !ok {
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Msg("no handler registered").Err())
		return
	}

	cm, err := callmeta.FromTransport(meta.HTTPRequest(r))
	if err != nil {
		errs.HTTPError(w, errs.B().Code(errs.InvalidArgument).Cause(err).Msg("invalid call metadata").Err())
		return
	}

	if s.SvcAuth != nil {
		if _, declared := meta.HTTPRequest(r).ReadMeta(meta.SvcAuthMethod); declared {
			if err := s.SvcAuth.Verify(meta.HTTPRequest(r)); err != nil {
				errs.HTTPError(w, errs.B().Code(errs.Unauthenticated).Cause(err).Msg("service-auth verification failed").Err())
				return
			}
		}
	}

	sl.mu.RLock()
	spec := sl.spec
	present := sl.present
	sl.mu.RUnlock()

	sealed := false
	if spec.RequiresPlatformAuth && s.PlatformAuth != nil {
		if _, err := s.PlatformAuth.Validate(r); err != nil {
			errs.HTTPError(w, errs.B().Code(errs.Unauthenticated).Cause(err).Msg("platform-auth validation failed").Err())
			return
		}
		sealed = true
	}

	if spec.Access == Private {
		if _, isGateway := cm.Caller.(caller.Gateway); cm.Caller == nil || isGateway {
			errs.HTTPError(w, errs.B().Code(errs.Unauthenticated).Msg("this endpoint requires a caller principal").Err())
			return
		}
	}

	if !present {
		errs.HTTPError(w, errs.B().Code(errs.NotFound).Msg("no handler registered").Err())
		return
	}

	spanID, _ := ids.GenSpanID()
	cm = cm.WithSpan(spanID)

	ctx := context.WithValue(r.Context(), callMetaKey{}, cm)
	if sealed {
		ctx = platformauth.WithEncorePlatformSealOfApproval(ctx)
	}
	r = r.WithContext(ctx)

	started := time.Now()
	var startBuf trace.EventBuffer
	startBuf.String(route.Service)
	startBuf.String(route.Endpoint)
	startBuf.String(r.Method)
	startBuf.String(r.URL.Path)
	s.Trace.Add(trace.Event{Type: trace.EventRequestStart, TraceID: cm.TraceID, SpanID: spanID, Data: startBuf})

	var handlerErr error
	defer func() {
		var endBuf trace.EventBuffer
		endBuf.Duration(time.Since(started))
		endBuf.ErrWithStack(handlerErr)
		s.Trace.Add(trace.Event{Type: trace.EventRequestEnd, TraceID: cm.TraceID, SpanID: spanID, Data: endBuf})
	}()

	switch spec.Kind {
	case Raw:
		sl.mu.RLock()
		h := sl.raw
		sl.mu.RUnlock()
		h(w, r, route.Params)

	case WebSocket:
		sl.mu.RLock()
		h := sl.ws
		sl.mu.RUnlock()
		err := wsconn.Serve(r.Context(), s.Upgrader, w, r, func(ctx context.Context, conn *wsconn.Conn) error {
			return h(ctx, conn, route.Params)
		})
		if err != nil {
			handlerErr = err
			errs.HTTPError(w, errs.B().Code(errs.Internal).Cause(err).Msg("websocket handler failed").Err())
		}

	default:
		sl.mu.RLock()
		h := sl.typed
		sl.mu.RUnlock()
		result, err := h(r.Context(), r, route.Params)
		if err != nil {
			handlerErr = err
			e := errs.Convert(err)
			if errs.Code(e) == errs.Internal {
				// §4.6: internal errors redact their message to a default
				// public text before crossing the wire.
				// The original text is kept in Internal only.
				redacted := errs.B().Code(errs.Internal).Msg("internal error").Stack(errs.Stack(e)).Err().(*errs.Error)
				redacted.Internal = e.(*errs.Error).ErrorMessage()
				e = redacted
			}
			errs.HTTPError(w, e)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

type callMetaKey struct{}

// CallMetaFromContext retrieves the CallMeta parsed for the current
// request, for handlers that need the caller or trace identifiers.
func CallMetaFromContext(ctx context.Context) (callmeta.CallMeta, bool) {
	cm, ok := ctx.Value(callMetaKey{}).(callmeta.CallMeta)
	return cm, ok
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
