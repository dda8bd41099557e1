// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAdminTokenAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		configured string
		header     string
		wantStatus int
	}{
		{name: "not configured", configured: "", header: "Bearer anything", wantStatus: http.StatusInternalServerError},
		{name: "only separators configured", configured: " , ", header: "Bearer anything", wantStatus: http.StatusInternalServerError},
		{name: "missing header", configured: "admin-secret", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", configured: "admin-secret", header: "Basic admin-secret", wantStatus: http.StatusUnauthorized},
		{name: "wrong token", configured: "admin-secret", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid token", configured: "admin-secret", header: "Bearer admin-secret", wantStatus: http.StatusNoContent},
		{name: "rotated new token", configured: "new-secret, old-secret", header: "Bearer new-secret", wantStatus: http.StatusNoContent},
		{name: "rotated old token", configured: "new-secret, old-secret", header: "Bearer old-secret", wantStatus: http.StatusNoContent},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/aliases", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()

			AdminTokenAuth(tc.configured, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			})).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected status %d got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") != "Bearer" {
				t.Fatalf("expected WWW-Authenticate challenge")
			}
		})
	}
}

func TestAdminTokenAuthLogsSlotNotToken(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodPost, "/admin/aliases", nil)
	req.Header.Set("Authorization", "Bearer old-secret")
	AdminTokenAuth("new-secret,old-secret", logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if !strings.Contains(out, "token_slot=1") {
		t.Fatalf("expected token slot in log, got %q", out)
	}
	if strings.Contains(out, "old-secret") {
		t.Fatalf("token leaked into log: %q", out)
	}
}
