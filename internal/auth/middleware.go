package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// SessionCookie — cookie с токеном, если клиент не шлёт Authorization.
const SessionCookie = "sf_session"

type sessionKey struct{}

// WithSession кладёт сессию в контекст.
func WithSession(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext достаёт сессию; без неё пользователь считается не вошедшим.
func SessionFromContext(ctx context.Context) Session {
	if session, ok := ctx.Value(sessionKey{}).(Session); ok {
		return session
	}
	return SignedOut()
}

// Middleware определяет сессию по токену. Отсутствующий или неверный токен
// означает "не вошёл" и никогда не приводит к ошибке ответа.
func Middleware(provider Provider, logger *log.Entry) func(http.Handler) http.Handler {
	if logger == nil {
		logger = log.WithField("component", "auth")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SignedOut()
			if token := TokenFromRequest(r); token != "" && provider != nil {
				identity, err := provider.Verify(r.Context(), token)
				switch {
				case err == nil:
					session = SignedInAs(identity)
				case errors.Is(err, domain.ErrUnauthenticated):
				default:
					logger.WithError(err).Debug("auth token rejected, treating request as signed out")
				}
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// TokenFromRequest берёт bearer-токен из заголовка или cookie.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
