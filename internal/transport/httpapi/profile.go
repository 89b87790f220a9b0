package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	// ProfileCookie хранит идентификатор профиля браузера.
	ProfileCookie = "sf_profile"
	// ProfileHeader позволяет доверенному клиенту явно указать профиль.
	// Учитывается только при включённом WithProfileHeader.
	ProfileHeader = "X-Profile-ID"

	profileCookieMaxAge = 365 * 24 * 60 * 60
	maxProfileIDLen     = 128
)

type profileKey struct{}

// WithProfile кладёт идентификатор профиля в контекст.
func WithProfile(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, profileKey{}, profileID)
}

// ProfileFromContext возвращает профиль запроса или пустую строку.
func ProfileFromContext(ctx context.Context) string {
	profileID, _ := ctx.Value(profileKey{}).(string)
	return profileID
}

// ProfileMiddleware определяет профиль запроса по cookie; если cookie нет,
// выдаётся новый профиль. При trustHeader заголовок ProfileHeader важнее cookie.
func ProfileMiddleware(trustHeader bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return profileHandler(next, trustHeader)
	}
}

func profileHandler(next http.Handler, trustHeader bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var profileID string
		if trustHeader {
			profileID = normalizeProfileID(r.Header.Get(ProfileHeader))
		}
		if profileID == "" {
			if cookie, err := r.Cookie(ProfileCookie); err == nil {
				profileID = normalizeProfileID(cookie.Value)
			}
		}
		if profileID == "" {
			profileID = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     ProfileCookie,
				Value:    profileID,
				Path:     "/",
				MaxAge:   profileCookieMaxAge,
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profileID)))
	})
}

func normalizeProfileID(raw string) string {
	profileID := strings.TrimSpace(raw)
	if len(profileID) > maxProfileIDLen {
		return ""
	}
	return profileID
}
