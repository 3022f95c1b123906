package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func bearerRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/agents/trip-planner/runs", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestJWTAuthenticator_Valid(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{
		Secret:      testSecret,
		Issuer:      "https://id.example.com",
		Audience:    "agentguard",
		TenantClaim: "org",
		RolesClaim:  "roles",
	})
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{
		"sub":   "user-1",
		"iss":   "https://id.example.com",
		"aud":   "agentguard",
		"org":   "acme",
		"roles": []any{"planner", "booker"},
		"exp":   exp.Unix(),
	})

	r := bearerRequest(tok)
	if !a.Supports(r) {
		t.Fatal("Supports() = false")
	}
	id, err := a.Authenticate(context.Background(), r)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if id.Principal != "user-1" || id.TenantID != "acme" || id.Method != MethodJWT {
		t.Errorf("unexpected identity: %+v", id)
	}
	if !id.HasRole("booker") {
		t.Errorf("Roles = %v, want booker", id.Roles)
	}
	if !id.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", id.ExpiresAt, exp)
	}
}

func TestJWTAuthenticator_Rejections(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret, Issuer: "good"})
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{
			name:    "expired",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "u", "iss": "good", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantErr: ErrTokenExpired,
		},
		{
			name:    "wrong issuer",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "u", "iss": "evil", "exp": future}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "wrong key",
			token:   signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u", "iss": "good", "exp": future}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "none algorithm",
			token:   signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "u", "iss": "good"}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "missing principal",
			token:   signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"iss": "good", "exp": future}),
			wantErr: ErrInvalidCredentials,
		},
		{
			name:    "garbage",
			token:   "not.a.jwt",
			wantErr: ErrTokenMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), bearerRequest(tt.token))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTAuthenticator_Supports(t *testing.T) {
	a := NewJWTAuthenticator(JWTConfig{Secret: testSecret})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if a.Supports(r) {
		t.Error("Supports() without header = true")
	}
	r.Header.Set("Authorization", "Basic dXNlcjpwdw==")
	if a.Supports(r) {
		t.Error("Supports() with basic auth = true")
	}
	r.Header.Set("Authorization", "bearer abc")
	if !a.Supports(r) {
		t.Error("Supports() with lowercase bearer = false")
	}
}

func TestStringList(t *testing.T) {
	if got := stringList("a b"); len(got) != 2 || got[1] != "b" {
		t.Errorf("stringList(string) = %v", got)
	}
	if got := stringList([]any{"a", 1, "c"}); len(got) != 2 || got[1] != "c" {
		t.Errorf("stringList([]any) = %v", got)
	}
	if got := stringList(3); got != nil {
		t.Errorf("stringList(int) = %v", got)
	}
}
