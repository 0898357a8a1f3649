package httpsrv

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRequireToken(t *testing.T) {
	const secret = "test-secret"

	valid, err := IssueToken(secret, "cuadre-api", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, _ := IssueToken(secret, "cuadre-api", -time.Minute)
	foreign, _ := IssueToken("other-secret", "cuadre-api", time.Minute)

	var gotCaller string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	reject := func(w http.ResponseWriter, status int, msg string) { http.Error(w, msg, status) }

	tests := []struct {
		name       string
		secret     string
		authHeader string
		wantStatus int
		wantCaller string
	}{
		{name: "disabled without secret", secret: "", wantStatus: http.StatusOK},
		{name: "missing header", secret: secret, wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", secret: secret, authHeader: "Basic " + valid, wantStatus: http.StatusUnauthorized},
		{name: "expired", secret: secret, authHeader: "Bearer " + expired, wantStatus: http.StatusUnauthorized},
		{name: "foreign signature", secret: secret, authHeader: "Bearer " + foreign, wantStatus: http.StatusUnauthorized},
		{name: "valid", secret: secret, authHeader: "Bearer " + valid, wantStatus: http.StatusOK, wantCaller: "cuadre-api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotCaller = ""
			h := RequireToken(tt.secret, reject)(next)

			req := httptest.NewRequest(http.MethodPost, "/broadcast", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotCaller != tt.wantCaller {
				t.Errorf("caller = %q, want %q", gotCaller, tt.wantCaller)
			}
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	s := New(Config{Host: "127.0.0.1", Port: 0}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}), discardLogger())

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := s.Stop(t.Context()); err != nil {
		t.Errorf("stop: %v", err)
	}
}
