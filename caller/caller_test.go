package caller

import "testing"

func TestRoundTrip(t *testing.T) {
	cases := []Caller{
		ApiEndpoint{"users", "Get"},
		PubSubMessage{"orders", "sub1", "m-123"},
		App{"deploy-abc"},
		Gateway{"api-gateway"},
		EncorePrincipal{"dashboard"},
	}

	for _, c := range cases {
		s := c.CallerString()
		got, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", s, err)
		}
		if got != c {
			t.Errorf("Parse(%q) = %#v, want %#v", s, got, c)
		}
	}
}

func TestGatewayHasNoPrivateAccess(t *testing.T) {
	if Gateway{"g"}.PrivateAPIAccess() {
		t.Error("Gateway caller must not have private API access")
	}
	others := []Caller{ApiEndpoint{"a", "b"}, PubSubMessage{"t", "s", "m"}, App{"d"}, EncorePrincipal{"p"}}
	for _, c := range others {
		if !c.PrivateAPIAccess() {
			t.Errorf("%#v expected private API access", c)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "bogus", "api:noendpoint", "pubsub:onlytopic"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error", s)
		}
	}
}
