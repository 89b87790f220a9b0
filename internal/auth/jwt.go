package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultTokenTTL = time.Hour

// HMACProvider выпускает и проверяет HS256-токены. Используется для локальной разработки
// вместо Firebase.
type HMACProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	revoked map[string]time.Time
}

// HMACOption настраивает HMACProvider.
type HMACOption func(*HMACProvider)

// WithTokenTTL задаёт срок жизни выпускаемых токенов.
func WithTokenTTL(ttl time.Duration) HMACOption {
	return func(p *HMACProvider) {
		if ttl > 0 {
			p.ttl = ttl
		}
	}
}

// WithTokenClock подменяет часы (для тестов).
func WithTokenClock(now func() time.Time) HMACOption {
	return func(p *HMACProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewHMACProvider создаёт провайдер с общим секретом.
func NewHMACProvider(secret, issuer string, opts ...HMACOption) (*HMACProvider, error) {
	if secret == "" {
		return nil, errors.New("auth: hmac secret is required")
	}
	p := &HMACProvider{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     defaultTokenTTL,
		now:     time.Now,
		revoked: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Issue выпускает токен для пользователя.
func (p *HMACProvider) Issue(identity domain.Identity) (string, error) {
	if identity.UID == "" {
		return "", errors.New("auth: uid is required")
	}
	now := p.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   identity.UID,
		"email": identity.Email,
		"iss":   p.issuer,
		"iat":   now.Unix(),
		"exp":   now.Add(p.ttl).Unix(),
	})
	return token.SignedString(p.secret)
}

// Verify проверяет подпись, срок действия и отзыв токена.
func (p *HMACProvider) Verify(_ context.Context, tokenStr string) (domain.Identity, error) {
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
		jwt.WithIssuedAt(),
	}
	if p.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(p.issuer))
	}

	token, err := jwt.Parse(tokenStr, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, parserOpts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.Identity{}, fmt.Errorf("%w: unexpected claims", domain.ErrInvalidToken)
	}

	uid, _ := claims.GetSubject()
	if uid == "" {
		return domain.Identity{}, fmt.Errorf("%w: empty subject", domain.ErrInvalidToken)
	}

	issuedAt, err := claims.GetIssuedAt()
	if err != nil || issuedAt == nil {
		return domain.Identity{}, fmt.Errorf("%w: missing iat", domain.ErrInvalidToken)
	}
	if p.isRevoked(uid, issuedAt.Time) {
		return domain.Identity{}, fmt.Errorf("%w: token revoked", domain.ErrInvalidToken)
	}

	email, _ := claims["email"].(string)
	return domain.Identity{UID: uid, Email: email}, nil
}

// SignOut отзывает все токены пользователя, выпущенные до текущего момента.
func (p *HMACProvider) SignOut(_ context.Context, uid string) error {
	if uid == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[uid] = p.now()
	return nil
}

func (p *HMACProvider) isRevoked(uid string, issuedAt time.Time) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	revokedAt, ok := p.revoked[uid]
	// iat хранится с точностью до секунды.
	return ok && !issuedAt.After(revokedAt.Truncate(time.Second))
}
