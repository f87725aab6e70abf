package authenticator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaycore/rplane/authschema"
	"github.com/relaycore/rplane/beta/errs"
	"github.com/relaycore/rplane/callmeta"
)

func TestAuthenticateSkipsWhenSchemaEmpty(t *testing.T) {
	a := &Authenticator{}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	resp, err := a.Authenticate(context.Background(), req, callmeta.CallMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Authenticated {
		t.Error("expected Unauthenticated when schema declares no params")
	}
}

func TestAuthenticateSkipsWhenParamsAbsent(t *testing.T) {
	a := &Authenticator{
		Schema: authschema.Schema{Headers: []authschema.Param{{Name: "Authorization"}}},
		Handler: Local{Handle: func(ctx context.Context, req *http.Request) (Response, error) {
			t.Fatal("handler must not be invoked when no declared param present")
			return Response{}, nil
		}},
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	resp, err := a.Authenticate(context.Background(), req, callmeta.CallMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Authenticated {
		t.Error("expected Unauthenticated")
	}
}

func TestAuthenticateLocalSuccess(t *testing.T) {
	a := &Authenticator{
		Schema: authschema.Schema{Headers: []authschema.Param{{Name: "Authorization"}}},
		Handler: Local{Handle: func(ctx context.Context, req *http.Request) (Response, error) {
			if req.Header.Get("authorization") != "Bearer xyz" {
				t.Errorf("sub-request missing declared header, got %q", req.Header.Get("authorization"))
			}
			return Response{Authenticated: true, UID: "u1"}, nil
		}},
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer xyz")

	resp, err := a.Authenticate(context.Background(), req, callmeta.CallMeta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.Authenticated || resp.UID != "u1" {
		t.Errorf("resp = %#v", resp)
	}
}

func TestAuthenticateMapsUnauthenticatedError(t *testing.T) {
	a := &Authenticator{
		Schema: authschema.Schema{Headers: []authschema.Param{{Name: "Authorization"}}},
		Handler: Local{Handle: func(ctx context.Context, req *http.Request) (Response, error) {
			return Response{}, errs.B().Code(errs.Unauthenticated).Msg("bad token").Err()
		}},
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer bad")

	resp, err := a.Authenticate(context.Background(), req, callmeta.CallMeta{})
	if err != nil {
		t.Fatalf("expected Unauthenticated error to be swallowed, got: %v", err)
	}
	if resp.Authenticated {
		t.Error("expected Unauthenticated response")
	}
}

func TestAuthenticatePropagatesOtherErrors(t *testing.T) {
	a := &Authenticator{
		Schema: authschema.Schema{Headers: []authschema.Param{{Name: "Authorization"}}},
		Handler: Local{Handle: func(ctx context.Context, req *http.Request) (Response, error) {
			return Response{}, errs.B().Code(errs.Internal).Msg("boom").Err()
		}},
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer bad")

	_, err := a.Authenticate(context.Background(), req, callmeta.CallMeta{})
	if errs.Code(err) != errs.Internal {
		t.Errorf("expected Internal error to propagate, got %v", err)
	}
}
