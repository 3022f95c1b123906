package auth

import (
	"context"
	"net/http/httptest"
	"testing"
)

func TestHashAPIKey(t *testing.T) {
	a, b := HashAPIKey("k-live"), HashAPIKey("k-live")
	if a != b {
		t.Fatalf("HashAPIKey not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("len(HashAPIKey) = %d, want 64", len(a))
	}
	if a == HashAPIKey("k-live ") {
		t.Fatal("distinct keys hashed equal")
	}
}

func TestAPIKeyAuthenticator_CustomHeader(t *testing.T) {
	a := NewAPIKeyAuthenticator("X-Partner-Key")
	if err := a.Add("  partner-1  ", APIKey{ID: "p1", Principal: "partner@example.com", TenantID: "acme"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Len())
	}

	r := httptest.NewRequest("POST", "/v1/agents/trip-planner/runs", nil)
	r.Header.Set(DefaultAPIKeyHeader, "partner-1")
	if a.Supports(r) {
		t.Fatal("default header must not be read when a custom header is configured")
	}

	r.Header.Set("X-Partner-Key", "partner-1")
	id, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if id.TenantID != "acme" || id.Claims["key_id"] != "p1" {
		t.Fatalf("identity = %+v", id)
	}
}
