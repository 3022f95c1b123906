package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubAuthenticator struct {
	name   string
	header string
	id     *Identity
	err    error
	calls  int
}

func (s *stubAuthenticator) Name() string                  { return s.name }
func (s *stubAuthenticator) Supports(r *http.Request) bool { return r.Header.Get(s.header) != "" }
func (s *stubAuthenticator) Authenticate(context.Context, *http.Request) (*Identity, error) {
	s.calls++
	return s.id, s.err
}

func TestChain_FirstSupportingWins(t *testing.T) {
	first := &stubAuthenticator{name: "a", header: "X-A", err: ErrInvalidCredentials}
	second := &stubAuthenticator{name: "b", header: "X-B", id: &Identity{Principal: "b-user"}}
	chain := Chain{first, second}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("X-B", "1")

	if !chain.Supports(r) {
		t.Fatal("Supports() = false, want true")
	}
	id, err := chain.Authenticate(context.Background(), r)
	if err != nil || id.Principal != "b-user" {
		t.Fatalf("Authenticate() = %v, %v", id, err)
	}
	if first.calls != 0 {
		t.Errorf("unsupported authenticator was called %d times", first.calls)
	}

	r.Header.Set("X-A", "1")
	if _, err := chain.Authenticate(context.Background(), r); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestChain_NoSupport(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if _, err := (Chain{}).Authenticate(context.Background(), r); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Authenticate() error = %v, want ErrMissingCredentials", err)
	}
}

func TestAPIKeyAuthenticator(t *testing.T) {
	a := NewAPIKeyAuthenticator("")
	if err := a.Add("k-live", APIKey{ID: "ops", Principal: "ops@example.com", Roles: []string{"operator"}}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add("k-old", APIKey{ID: "old", Principal: "old@example.com", ExpiresAt: time.Unix(1, 0)}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add("", APIKey{Principal: "x"}); err == nil {
		t.Error("Add() with empty key should fail")
	}
	if a.Len() != 2 {
		t.Errorf("Len() = %d, want 2", a.Len())
	}

	tests := []struct {
		name    string
		key     string
		wantErr error
		want    string
	}{
		{name: "valid", key: " k-live ", want: "ops@example.com"},
		{name: "unknown", key: "k-nope", wantErr: ErrInvalidCredentials},
		{name: "expired", key: "k-old", wantErr: ErrTokenExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set(DefaultAPIKeyHeader, tt.key)
			if !a.Supports(r) {
				t.Fatal("Supports() = false")
			}
			id, err := a.Authenticate(context.Background(), r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Authenticate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if id.Principal != tt.want || id.Method != MethodAPIKey || !id.HasRole("operator") {
				t.Errorf("unexpected identity: %+v", id)
			}
			if id.Claims["key_id"] != "ops" {
				t.Errorf("key_id claim = %v", id.Claims["key_id"])
			}
		})
	}
}
