package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                          "/",
		"/metrics":                  "/metrics",
		"/v1/users/01J9ZX":          "/v1/users/:id",
		"/v1/users/01J9ZX/password": "/v1/users/:id/password",
		"/v1/auth/login":            "/v1/auth/login",
		"/v1/auth/login?next=1":     "/v1/auth/login",
		"/v1/auth/refresh":          "/v1/auth/refresh",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
