package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"streamvault/internal/auth"
	"streamvault/internal/session"
)

func TestReleaseDeviceClearsClaim(t *testing.T) {
	st := session.NewMemoryStore()
	ctx := context.Background()
	if err := session.Claim(ctx, st, "u1", "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	authSvc := auth.NewService("test-secret")
	access, _, err := authSvc.GenerateTokens("u1", "user", false)
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}

	handler := authSvc.RequireAuth(handleReleaseDevice(st))
	req := httptest.NewRequest(http.MethodDelete, "/session/device", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	rec, err := st.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.DeviceID != "" {
		t.Fatalf("device = %q after release, want empty", rec.DeviceID)
	}
}

func TestReleaseDeviceRequiresAuth(t *testing.T) {
	st := session.NewMemoryStore()
	authSvc := auth.NewService("test-secret")

	handler := authSvc.RequireAuth(handleReleaseDevice(st))
	req := httptest.NewRequest(http.MethodDelete, "/session/device", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
