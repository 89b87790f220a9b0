// Package auth подключает внешний провайдер аутентификации.
//
// Корзина от него не зависит: провайдер лишь сообщает, вошёл ли пользователь,
// и какие области интерфейса показывать.
package auth

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Provider проверяет токены и завершает сессии.
type Provider interface {
	// Verify возвращает личность владельца токена или domain.ErrInvalidToken.
	Verify(ctx context.Context, token string) (domain.Identity, error)
	// SignOut завершает все сессии пользователя.
	SignOut(ctx context.Context, uid string) error
}

// Session — состояние входа для одного запроса.
type Session struct {
	SignedIn bool            `json:"signed_in"`
	Identity domain.Identity `json:"identity"`
}

// Regions — какие области страницы видны: профиль или кнопка входа.
type Regions struct {
	ProfileVisible bool `json:"profile_visible"`
	LoginVisible   bool `json:"login_visible"`
}

// SignedOut — сессия без пользователя.
func SignedOut() Session {
	return Session{}
}

// SignedInAs создаёт сессию вошедшего пользователя.
func SignedInAs(identity domain.Identity) Session {
	return Session{SignedIn: true, Identity: identity}
}

// Regions возвращает видимость областей: ровно одна из них видна.
func (s Session) Regions() Regions {
	return Regions{ProfileVisible: s.SignedIn, LoginVisible: !s.SignedIn}
}

// Anonymous — провайдер, у которого никто никогда не входит.
type Anonymous struct{}

// Verify всегда отклоняет токен.
func (Anonymous) Verify(context.Context, string) (domain.Identity, error) {
	return domain.Identity{}, domain.ErrUnauthenticated
}

// SignOut ничего не делает.
func (Anonymous) SignOut(context.Context, string) error {
	return nil
}
