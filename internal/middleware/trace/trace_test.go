package trace

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware_GeneratesAndEchoesID(t *testing.T) {
	m := NewMiddleware()
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Errorf("request id = %q, want req_ prefix", seen)
	}
	if got := rec.Header().Get(Header); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}
	if m.GetMetrics().TotalRequests != 1 || m.GetMetrics().InFlight != 0 {
		t.Errorf("metrics = %+v", m.GetMetrics())
	}
}

func TestMiddleware_InboundID(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reused  bool
	}{
		{"well formed", "abc-123_X", true},
		{"with spaces", "abc 123", false},
		{"too long", strings.Repeat("a", 65), false},
		{"newline", "abc\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			h := NewMiddleware().Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(Header, tt.inbound)
			h.ServeHTTP(httptest.NewRecorder(), req)

			if (seen == tt.inbound) != tt.reused {
				t.Errorf("request id = %q, reused = %v, want %v", seen, seen == tt.inbound, tt.reused)
			}
		})
	}
}
