package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenRoundtrip(t *testing.T) {
	svc := NewService("test-secret")

	access, refresh, err := svc.GenerateTokens("u1", "member", true)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.ParseToken(access)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.UserID != "u1" || claims.Role != "member" || !claims.MustChangePasswd {
		t.Fatalf("claims = %+v", claims)
	}

	newAccess, _, err := svc.Refresh(refresh)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, err := svc.ParseToken(newAccess); err != nil {
		t.Fatalf("parse refreshed access: %v", err)
	}
}

func TestParseRejectsForeignSecret(t *testing.T) {
	access, _, err := NewService("secret-a").GenerateTokens("u1", "member", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewService("secret-b").ParseToken(access); err == nil {
		t.Fatal("expected parse failure with wrong secret")
	}
}

func TestRequireAuth(t *testing.T) {
	svc := NewService("test-secret")
	access, _, err := svc.GenerateTokens("u1", "member", false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	handler := svc.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil || claims.UserID != "u1" {
			t.Fatalf("claims in context = %+v", claims)
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid bearer", "Bearer " + access, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	svc := NewService("test-secret")
	memberTok, _, _ := svc.GenerateTokens("u1", "member", false)
	adminTok, _, _ := svc.GenerateTokens("u2", "admin", false)

	handler := svc.RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+memberTok)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+adminTok)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d", rec.Code, http.StatusOK)
	}
}
