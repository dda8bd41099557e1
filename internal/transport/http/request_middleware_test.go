// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adiadia/promptflow/internal/auth"
	"github.com/google/uuid"
)

func TestRequestIDMiddlewareGeneratesAndPropagatesRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotRequestID string
	h := requestIDMiddleware()(requestLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		gotRequestID = requestID
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	respRequestID := rec.Header().Get(headerRequestID)
	if respRequestID == "" {
		t.Fatal("expected X-Request-Id response header")
	}
	if gotRequestID != respRequestID {
		t.Fatalf("expected context request_id %q got %q", respRequestID, gotRequestID)
	}
}

func TestRequestIDMiddlewarePreservesIncomingRequestID(t *testing.T) {
	h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID, ok := requestIDFromContext(r.Context())
		if !ok {
			t.Fatal("expected request_id in context")
		}
		if requestID != "req-fixed-id" {
			t.Fatalf("expected request_id req-fixed-id got %q", requestID)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(headerRequestID, "req-fixed-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if got := rec.Header().Get(headerRequestID); got != "req-fixed-id" {
		t.Fatalf("expected X-Request-Id req-fixed-id got %q", got)
	}
}

func TestRequestIDMiddlewareReplacesUnsafeIDs(t *testing.T) {
	for _, incoming := range []string{
		"has space",
		"line\nbreak",
		string(bytes.Repeat([]byte("a"), maxRequestIDLength+1)),
	} {
		var seen string
		h := requestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = requestIDFromContext(r.Context())
		}))

		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(headerRequestID, incoming)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen == incoming {
			t.Fatalf("expected %q to be replaced", incoming)
		}
		if _, err := uuid.Parse(seen); err != nil {
			t.Fatalf("expected generated uuid, got %q", seen)
		}
		if rec.Header().Get(headerRequestID) != seen {
			t.Fatalf("expected response header to carry generated id")
		}
	}
}

func TestRequestLoggingRecordsIdentity(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name  string
		inner http.HandlerFunc
		check func(t *testing.T, entry map[string]any)
	}{
		{
			name: "anonymous",
			inner: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			check: func(t *testing.T, entry map[string]any) {
				if entry["identity"] != "anonymous" {
					t.Fatalf("expected anonymous identity, got %v", entry)
				}
				if entry["status"] != float64(http.StatusTeapot) {
					t.Fatalf("expected status 418 in log, got %v", entry["status"])
				}
				if entry["level"] != "WARN" {
					t.Fatalf("expected client error at WARN, got %v", entry["level"])
				}
			},
		},
		{
			name: "server error with body",
			inner: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			check: func(t *testing.T, entry map[string]any) {
				if entry["level"] != "ERROR" {
					t.Fatalf("expected server error at ERROR, got %v", entry["level"])
				}
				if entry["bytes"] != float64(len("boom\n")) {
					t.Fatalf("expected body size in log, got %v", entry["bytes"])
				}
			},
		},
		{
			name: "authenticated",
			inner: func(w http.ResponseWriter, r *http.Request) {
				*r = *r.WithContext(auth.WithPrincipal(r.Context(), auth.Principal{UserID: userID}))
				w.WriteHeader(http.StatusOK)
			},
			check: func(t *testing.T, entry map[string]any) {
				if entry["user_id"] != userID.String() {
					t.Fatalf("expected user_id %s, got %v", userID, entry)
				}
				if entry["level"] != "INFO" || entry["bytes"] != float64(0) {
					t.Fatalf("unexpected level or size %v", entry)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			h := requestIDMiddleware()(requestLoggingMiddleware(logger)(tc.inner))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/workflows", nil))

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if entry["request_id"] == "" || entry["path"] != "/workflows" {
				t.Fatalf("unexpected log entry %v", entry)
			}
			tc.check(t, entry)
		})
	}
}
