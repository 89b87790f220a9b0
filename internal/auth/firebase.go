package auth

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// TokenVerifier — часть *auth.Client из Firebase Admin SDK, нужная провайдеру.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseProvider проверяет ID-токены Firebase.
type FirebaseProvider struct {
	client TokenVerifier
}

// NewFirebaseProvider создаёт провайдер поверх клиента Firebase Auth.
func NewFirebaseProvider(client TokenVerifier) *FirebaseProvider {
	return &FirebaseProvider{client: client}
}

// NewFirebaseClient инициализирует Firebase App и возвращает клиент Auth.
// Пустой credentialsFile означает Application Default Credentials.
func NewFirebaseClient(ctx context.Context, projectID, credentialsFile string) (*fbauth.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return client, nil
}

// Verify проверяет ID-токен и достаёт uid и email.
func (p *FirebaseProvider) Verify(ctx context.Context, idToken string) (domain.Identity, error) {
	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	token, err := p.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	uid := strings.TrimSpace(token.UID)
	if uid == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty uid", domain.ErrInvalidToken)
	}

	email := ""
	if raw, ok := token.Claims["email"]; ok {
		if s, ok := raw.(string); ok {
			email = strings.TrimSpace(s)
		}
	}

	return domain.Identity{UID: uid, Email: email}, nil
}

// SignOut отзывает refresh-токены пользователя.
func (p *FirebaseProvider) SignOut(ctx context.Context, uid string) error {
	if uid == "" {
		return nil
	}
	if err := p.client.RevokeRefreshTokens(ctx, uid); err != nil {
		return fmt.Errorf("revoke firebase tokens: %w", err)
	}
	return nil
}
