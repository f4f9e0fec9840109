package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateRequestID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if id == "" {
			t.Fatal("empty request ID")
		}
		if !requestIDPattern.MatchString(id) {
			t.Fatalf("generated ID %q does not match its own validation pattern", id)
		}
		if seen[id] {
			t.Fatalf("request ID %q repeated", id)
		}
		seen[id] = true
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstreamID   string
		wantPreserve bool
	}{
		{name: "no upstream ID", upstreamID: "", wantPreserve: false},
		{name: "valid upstream ID", upstreamID: "alb-12345-abcdef", wantPreserve: true},
		{name: "injection attempt", upstreamID: "evil\r\nSet-Cookie: x=1", wantPreserve: false},
		{name: "oversized ID", upstreamID: strings.Repeat("a", 300), wantPreserve: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ctxID string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = RequestIDFromContext(r.Context())
			}))

			r := httptest.NewRequest("GET", "/", nil)
			if tt.upstreamID != "" {
				r.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			respID := w.Header().Get(RequestIDHeader)
			if respID == "" {
				t.Fatal("response missing request ID header")
			}
			if respID != ctxID {
				t.Errorf("context ID %q != response ID %q", ctxID, respID)
			}
			if tt.wantPreserve && respID != tt.upstreamID {
				t.Errorf("valid upstream ID %q replaced with %q", tt.upstreamID, respID)
			}
			if !tt.wantPreserve && respID == tt.upstreamID {
				t.Errorf("invalid upstream ID %q was preserved", tt.upstreamID)
			}
		})
	}
}
