package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
)

// initAuthProvider выбирает провайдер аутентификации по cfg.AuthMode.
func initAuthProvider(ctx context.Context, cfg Config, logger *log.Entry) (auth.Provider, error) {
	switch cfg.AuthMode {
	case AuthModeAnonymous, "":
		return auth.Anonymous{}, nil

	case AuthModeJWT:
		provider, err := auth.NewHMACProvider(cfg.JWTSecret, cfg.JWTIssuer, auth.WithTokenTTL(cfg.JWTTTL))
		if err != nil {
			return nil, fmt.Errorf("init jwt auth: %w", err)
		}
		logger.WithField("issuer", cfg.JWTIssuer).Info("jwt auth provider initialized")
		return provider, nil

	case AuthModeFirebase:
		client, err := auth.NewFirebaseClient(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
		if err != nil {
			return nil, err
		}
		logger.WithField("project_id", cfg.FirebaseProjectID).Info("firebase auth provider initialized")
		return auth.NewFirebaseProvider(client), nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}
