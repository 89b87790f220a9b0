package domain

// Identity — данные пользователя, полученные от внешнего провайдера аутентификации.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}
