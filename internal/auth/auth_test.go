package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type fakeVerifier struct {
	token     *fbauth.Token
	err       error
	revoked   []string
	revokeErr error
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, _ string) (*fbauth.Token, error) {
	return f.token, f.err
}

func (f *fakeVerifier) RevokeRefreshTokens(_ context.Context, uid string) error {
	f.revoked = append(f.revoked, uid)
	return f.revokeErr
}

func TestSessionRegions(t *testing.T) {
	require.Equal(t, Regions{ProfileVisible: false, LoginVisible: true}, SignedOut().Regions())

	signedIn := SignedInAs(domain.Identity{UID: "u1", Email: "a@example.com"})
	require.Equal(t, Regions{ProfileVisible: true, LoginVisible: false}, signedIn.Regions())
}

func TestAnonymous(t *testing.T) {
	_, err := Anonymous{}.Verify(context.Background(), "anything")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
	require.NoError(t, Anonymous{}.SignOut(context.Background(), "u1"))
}

func TestFirebaseProvider_Verify(t *testing.T) {
	verifier := &fakeVerifier{token: &fbauth.Token{
		UID:    " user-1 ",
		Claims: map[string]interface{}{"email": "shopper@example.com"},
	}}
	provider := NewFirebaseProvider(verifier)

	identity, err := provider.Verify(context.Background(), "id-token")
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UID: "user-1", Email: "shopper@example.com"}, identity)

	_, err = provider.Verify(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestFirebaseProvider_VerifyErrors(t *testing.T) {
	provider := NewFirebaseProvider(&fakeVerifier{err: errors.New("token expired")})
	_, err := provider.Verify(context.Background(), "id-token")
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	provider = NewFirebaseProvider(&fakeVerifier{token: &fbauth.Token{UID: ""}})
	_, err = provider.Verify(context.Background(), "id-token")
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestFirebaseProvider_SignOut(t *testing.T) {
	verifier := &fakeVerifier{}
	provider := NewFirebaseProvider(verifier)

	require.NoError(t, provider.SignOut(context.Background(), "user-1"))
	require.NoError(t, provider.SignOut(context.Background(), ""))
	require.Equal(t, []string{"user-1"}, verifier.revoked)

	verifier.revokeErr = errors.New("backend unavailable")
	require.Error(t, provider.SignOut(context.Background(), "user-1"))
}

func TestHMACProvider_IssueVerify(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	provider, err := NewHMACProvider("secret", "storefront", WithTokenClock(clock), WithTokenTTL(time.Minute))
	require.NoError(t, err)

	token, err := provider.Issue(domain.Identity{UID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	identity, err := provider.Verify(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, domain.Identity{UID: "u1", Email: "a@example.com"}, identity)

	now = now.Add(2 * time.Minute)
	_, err = provider.Verify(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestHMACProvider_RejectsForeignTokens(t *testing.T) {
	issuer, err := NewHMACProvider("other-secret", "storefront")
	require.NoError(t, err)
	verifier, err := NewHMACProvider("secret", "storefront")
	require.NoError(t, err)

	token, err := issuer.Issue(domain.Identity{UID: "u1"})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = verifier.Verify(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = NewHMACProvider("", "storefront")
	require.Error(t, err)
}

func TestHMACProvider_SignOutRevokesIssuedTokens(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	provider, err := NewHMACProvider("secret", "", WithTokenClock(func() time.Time { return now }))
	require.NoError(t, err)

	token, err := provider.Issue(domain.Identity{UID: "u1"})
	require.NoError(t, err)

	require.NoError(t, provider.SignOut(context.Background(), "u1"))
	_, err = provider.Verify(context.Background(), token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	now = now.Add(time.Second)
	fresh, err := provider.Issue(domain.Identity{UID: "u1"})
	require.NoError(t, err)
	_, err = provider.Verify(context.Background(), fresh)
	require.NoError(t, err)
}

func TestMiddleware(t *testing.T) {
	provider, err := NewHMACProvider("secret", "storefront")
	require.NoError(t, err)
	token, err := provider.Issue(domain.Identity{UID: "u1", Email: "a@example.com"})
	require.NoError(t, err)

	var got Session
	handler := Middleware(provider, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name     string
		prepare  func(r *http.Request)
		signedIn bool
	}{
		{name: "no token", prepare: func(*http.Request) {}},
		{name: "bearer", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, signedIn: true},
		{name: "cookie", prepare: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, signedIn: true},
		{name: "garbage", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer garbage") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
			tc.prepare(req)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusNoContent, rec.Code)
			require.Equal(t, tc.signedIn, got.SignedIn)
			if tc.signedIn {
				require.Equal(t, "u1", got.Identity.UID)
			}
		})
	}
}

func TestSessionFromContext_Default(t *testing.T) {
	require.False(t, SessionFromContext(context.Background()).SignedIn)
}
