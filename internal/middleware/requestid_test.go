package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDEchoAndGenerate(t *testing.T) {
	tests := []struct {
		name   string
		header string
		echoed bool
	}{
		{name: "caller id echoed", header: "trace-42.a", echoed: true},
		{name: "missing id generated"},
		{name: "oversized id replaced", header: strings.Repeat("x", 200)},
		{name: "hostile id replaced", header: "abc\r\nSet-Cookie: x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = RequestIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("X-Request-ID", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got == "" {
				t.Fatal("no request id in context")
			}
			if rec.Header().Get("X-Request-ID") != got {
				t.Fatalf("response header %q does not match context id %q", rec.Header().Get("X-Request-ID"), got)
			}
			if tc.echoed && got != tc.header {
				t.Fatalf("id = %q, want caller's %q", got, tc.header)
			}
			if !tc.echoed && got == tc.header {
				t.Fatalf("unsafe id %q was echoed", tc.header)
			}
		})
	}
}
