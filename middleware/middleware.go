// Package middleware provides generic processing chains across typed API
// handlers — cross-cutting concerns like logging, validation, or metrics
// that shouldn't live inside any one endpoint.
//
// Adapted from the teacher's middleware package: the same
// Signature/Request/Response/Next shape and single-call-to-next contract,
// generalized from the teacher's IDL-generated encore.Request/Response
// payload wrapping (out of this module's scope — see spec.md's explicit
// "JSON-schema construction from IDL metadata" non-goal) to apiserver's
// plain (context.Context, *http.Request, httprouter.Params) handler shape.
package middleware

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/relaycore/rplane/apiserver"
	"github.com/relaycore/rplane/callmeta"
)

// Request carries what a middleware needs to observe or modify about the
// in-flight call: its context, the raw HTTP request, and the parsed call
// metadata (trace id, caller, auth user).
type Request struct {
	ctx      context.Context
	http     *http.Request
	params   httprouter.Params
	CallMeta callmeta.CallMeta
}

func NewRequest(ctx context.Context, r *http.Request, params httprouter.Params, cm callmeta.CallMeta) Request {
	return Request{ctx: ctx, http: r, params: params, CallMeta: cm}
}

// WithContext returns a copy of r with its context replaced.
func (r Request) WithContext(ctx context.Context) Request {
	r.ctx = ctx
	return r
}

func (r Request) Context() context.Context    { return r.ctx }
func (r Request) HTTP() *http.Request         { return r.http }
func (r Request) Params() httprouter.Params    { return r.params }

// Response is what a middleware (or the terminal handler) produces.
type Response struct {
	Payload    any
	Err        error
	HTTPStatus int // not read by Chain: only Payload and Err reach apiserver, which picks the status
}

// Next invokes the next middleware in the chain, or the terminal handler.
type Next func(Request) Response

// Signature is the function shape every middleware implements. It must
// call next at most once; not calling it short-circuits the chain.
type Signature func(req Request, next Next) Response

// Chain composes handler as the terminal step of the given middlewares, in
// the order they're listed (the first middleware is the outermost).
func Chain(handler apiserver.TypedHandler, mws ...Signature) apiserver.TypedHandler {
	terminal := func(req Request) Response {
		payload, err := handler(req.ctx, req.http, req.params)
		return Response{Payload: payload, Err: err}
	}

	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := terminal
		terminal = func(req Request) Response {
			return mw(req, next)
		}
	}

	return func(ctx context.Context, r *http.Request, params httprouter.Params) (any, error) {
		cm, _ := apiserver.CallMetaFromContext(ctx)
		resp := terminal(NewRequest(ctx, r, params, cm))
		return resp.Payload, resp.Err
	}
}
