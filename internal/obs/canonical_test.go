package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                      "/",
		"/metrics":                              "/metrics",
		"/v1/identities/abc":                    "/v1/identities/:id",
		"/v1/identities/abc/":                   "/v1/identities/:id",
		"/v1/identities/abc/approval":           "/v1/identities/:id/approval",
		"/v1/identities/abc/roles":              "/v1/identities/:id/roles",
		"/v1/identities/abc/account":            "/v1/identities/:id/account",
		"/v1/identities/":                       "/v1/identities/",
		"/v1/identities/abc/roles/CLIENT":       "/v1/identities/:id/roles/:role",
		"/v1/identities/abc/other":              "/v1/identities/abc/other",
		"/v1/access/decisions":                  "/v1/access/decisions",
		"/v1/audit/events?target_id=u1&limit=5": "/v1/audit/events",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
