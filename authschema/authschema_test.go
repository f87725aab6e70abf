package authschema

import (
	"net/http"
	"testing"
)

func TestIsEmpty(t *testing.T) {
	if !(Schema{}).IsEmpty() {
		t.Error("zero-value schema must be empty")
	}
	if (Schema{Headers: []Param{{Name: "Authorization"}}}).IsEmpty() {
		t.Error("schema with a header param must not be empty")
	}
}

func TestPresentAndExtract(t *testing.T) {
	s := Schema{
		Headers: []Param{{Name: "Authorization"}, {Name: "X-Api-Key", NameOverride: "x-api-key"}},
		Query:   []Param{{Name: "token"}},
	}

	req, _ := http.NewRequest(http.MethodGet, "https://example.com/x?token=abc&other=1", nil)
	req.Header.Set("Authorization", "Bearer xyz")

	if !s.Present(req) {
		t.Fatal("expected Present to be true")
	}

	ext := s.Extract(req)
	if ext.Headers.Get("authorization") != "Bearer xyz" {
		t.Errorf("Headers[authorization] = %q", ext.Headers.Get("authorization"))
	}
	if len(ext.Query) != 1 || ext.Query[0].Value != "abc" {
		t.Errorf("Query = %#v", ext.Query)
	}
}

func TestPresentFalseWhenNoParamsSet(t *testing.T) {
	s := Schema{Headers: []Param{{Name: "Authorization"}}}
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/x", nil)
	if s.Present(req) {
		t.Error("expected Present to be false with no declared params set")
	}
}
