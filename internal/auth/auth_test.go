package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		cfg        Config
		path       string
		header     string
		wantStatus int
	}{
		{"disabled", Config{}, "/api/v1/status", "", http.StatusNoContent},
		{"exempt probe", Config{Enabled: true, Token: "t"}, "/readyz", "", http.StatusNoContent},
		{"exempt metrics", Config{Enabled: true, Token: "t"}, "/metrics", "", http.StatusNoContent},
		{"missing", Config{Enabled: true, Token: "t"}, "/api/v1/status", "", http.StatusUnauthorized},
		{"wrong", Config{Enabled: true, Token: "t"}, "/api/v1/status", "Bearer x", http.StatusUnauthorized},
		{"valid", Config{Enabled: true, Token: "t"}, "/api/v1/status", "Bearer t", http.StatusNoContent},
		{"scheme case", Config{Enabled: true, Token: "t"}, "/api/v1/status", "bearer t", http.StatusNoContent},
		{"empty token", Config{Enabled: true, Token: "t"}, "/api/v1/status", "Bearer ", http.StatusUnauthorized},
		{"basic scheme", Config{Enabled: true, Token: "t"}, "/api/v1/status", "Basic t", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if w.Code == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("401 without WWW-Authenticate challenge")
			}
		})
	}
}
