package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticVerifier struct {
	accountID string
	err       error
}

func (v staticVerifier) VerifyToken(string) (string, error) {
	return v.accountID, v.err
}

func authTarget(t *testing.T, verifier TokenVerifier) (http.Handler, *string) {
	t.Helper()
	var seen string
	auth := NewAuthMiddleware(verifier, nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAccountID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return auth.Handler(next), &seen
}

func TestAuthMiddleware(t *testing.T) {
	handler, seen := authTarget(t, staticVerifier{accountID: "acct-1"})

	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *seen != "acct-1" {
		t.Fatalf("account id = %q, want acct-1", *seen)
	}
}

func TestAuthMiddlewareRejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier TokenVerifier
	}{
		{"missing header", "", staticVerifier{accountID: "acct-1"}},
		{"not bearer", "Basic dXNlcg==", staticVerifier{accountID: "acct-1"}},
		{"bad token", "Bearer nope", staticVerifier{err: errors.New("expired")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler, seen := authTarget(t, tc.verifier)
			req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if *seen != "" {
				t.Fatalf("next handler ran with account id %q", *seen)
			}
			var body map[string]map[string][]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if len(body["errors"]["token"]) != 1 {
				t.Fatalf("expected token error, got %v", body)
			}
		})
	}
}

func TestAuthMiddlewareCaseInsensitiveScheme(t *testing.T) {
	handler, seen := authTarget(t, staticVerifier{accountID: "acct-1"})
	req := httptest.NewRequest(http.MethodGet, "/api/user", nil)
	req.Header.Set("Authorization", "bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || *seen != "acct-1" {
		t.Fatalf("status = %d, account id = %q", rec.Code, *seen)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Fatalf("burst requests throttled: %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Fatalf("third request not throttled: %v", statuses)
	}

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("second client throttled: %d", rec.Code)
	}
}

func TestRateLimiterKeysByAccount(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	handler := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(accountID string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req = req.WithContext(WithAccountID(req.Context(), accountID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send("acct-1"); code != http.StatusOK {
		t.Fatalf("first request: %d", code)
	}
	if code := send("acct-1"); code != http.StatusTooManyRequests {
		t.Fatalf("second request not throttled: %d", code)
	}
	// Same address, different account.
	if code := send("acct-2"); code != http.StatusOK {
		t.Fatalf("other account throttled: %d", code)
	}
}

func TestCORS(t *testing.T) {
	m := NewCORSMiddleware([]string{"https://jive.live"})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.Header.Set("Origin", "https://jive.live")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://jive.live" {
		t.Fatalf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/feed", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("disallowed origin got header %q", got)
	}

	// Preflight short-circuits.
	req = httptest.NewRequest(http.MethodOptions, "/api/feed", nil)
	req.Header.Set("Origin", "https://jive.live")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
}
