package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                     "/",
		"/metrics":                             "/metrics",
		"/v1/verifications/vr_01ABC":           "/v1/verifications/:id",
		"/v1/verifications":                    "/v1/verifications",
		"/v1/sessions/vs_01ABC/cancel":         "/v1/sessions/:id/cancel",
		"/v1/keys/key_01ABC":                   "/v1/keys/:id",
		"/v1/webhooks/mock":                    "/v1/webhooks/:provider",
		"/v1/admin/principals/pr_01ABC/status": "/v1/admin/principals/:id/status",
		"/v1/verifications?limit=10":           "/v1/verifications",
		"/healthz":                             "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
