package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLocaleDetection(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "default", want: "en"},
		{name: "x-locale wins", headers: map[string]string{"X-Locale": "fr", "Accept-Language": "de"}, want: "fr"},
		{name: "accept-language", headers: map[string]string{"Accept-Language": "ja-JP,ja;q=0.9"}, want: "ja"},
		{name: "region stripped", headers: map[string]string{"X-Locale": "pt-BR"}, want: "pt"},
		{name: "wildcard skipped", headers: map[string]string{"Accept-Language": "*"}, want: "en"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := Locale("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = LocaleFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tc.want {
				t.Fatalf("locale = %q, want %q", got, tc.want)
			}
		})
	}
}
