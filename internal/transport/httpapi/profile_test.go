package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestProfileMiddleware(t *testing.T) {
	cases := []struct {
		name        string
		trustHeader bool
		header      string
		cookie      string
		want        string
		wantIssued  bool
	}{
		{name: "trusted header wins over cookie", trustHeader: true, header: "from-header", cookie: "from-cookie", want: "from-header"},
		{name: "untrusted header is ignored", header: "from-header", cookie: "from-cookie", want: "from-cookie"},
		{name: "untrusted header does not replace a new profile", header: "from-header", wantIssued: true},
		{name: "cookie", cookie: "from-cookie", want: "from-cookie"},
		{name: "blank header falls back to cookie", trustHeader: true, header: "   ", cookie: "from-cookie", want: "from-cookie"},
		{name: "new profile", wantIssued: true},
		{name: "oversized cookie is replaced", cookie: strings.Repeat("x", maxProfileIDLen+1), wantIssued: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			handler := ProfileMiddleware(tc.trustHeader)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = ProfileFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/cart", nil)
			if tc.header != "" {
				req.Header.Set(ProfileHeader, tc.header)
			}
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: ProfileCookie, Value: tc.cookie})
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			cookies := w.Result().Cookies()
			if !tc.wantIssued {
				require.Equal(t, tc.want, seen)
				require.Empty(t, cookies)
				return
			}

			_, err := uuid.Parse(seen)
			require.NoError(t, err)
			require.Len(t, cookies, 1)
			require.Equal(t, seen, cookies[0].Value)
			require.Equal(t, "/", cookies[0].Path)
		})
	}
}

func TestProfileFromContext_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.Empty(t, ProfileFromContext(req.Context()))
}
