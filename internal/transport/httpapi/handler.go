// Package httpapi публикует корзину профиля как JSON API.
//
// Отказы валидации не считаются ошибками HTTP: ответ 200 с outcome=rejected
// и уведомлением. Код 400 получает только запрос, который нельзя разобрать.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/auth"
	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/notify"
	"github.com/vladislavdragonenkov/storefront/internal/render"
	"github.com/vladislavdragonenkov/storefront/internal/service/carts"
)

const maxBodyBytes = 1 << 20

var (
	errInvalidIndex    = errors.New("invalid item index")
	errInvalidID       = errors.New("invalid item id")
	errPriceRequired   = errors.New("price is required")
	errQuantityMissing = errors.New("quantity is required")
)

// Response — тело ответа любой операции над корзиной.
type Response struct {
	Cart          render.View    `json:"cart"`
	Notifications []notify.Toast `json:"notifications"`
	Outcome       cart.Outcome   `json:"outcome"`
}

// SessionResponse описывает состояние входа и видимые области страницы.
type SessionResponse struct {
	Session auth.Session `json:"session"`
	Regions auth.Regions `json:"regions"`
}

// ErrorResponse возвращается при неразборчивом запросе.
type ErrorResponse struct {
	Error string `json:"error"`
}

type addItemRequest struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
	Image string   `json:"image"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// Handler обслуживает /v1/cart и /v1/session.
type Handler struct {
	registry *carts.Registry
	provider auth.Provider
	notifier domain.Notifier
	logger   *log.Entry
	now      func() time.Time

	// trustProfileHeader включает выбор профиля заголовком ProfileHeader.
	trustProfileHeader bool
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithAuthProvider подключает провайдер аутентификации.
func WithAuthProvider(provider auth.Provider) Option {
	return func(h *Handler) {
		if provider != nil {
			h.provider = provider
		}
	}
}

// WithNotifier дублирует уведомления ответов, например в лог.
func WithNotifier(n domain.Notifier) Option {
	return func(h *Handler) {
		if n != nil {
			h.notifier = n
		}
	}
}

// WithProfileHeader разрешает выбирать профиль заголовком ProfileHeader.
// Заголовок не аутентифицирован: включать только для доверенных клиентов.
func WithProfileHeader(enabled bool) Option {
	return func(h *Handler) {
		h.trustProfileHeader = enabled
	}
}

// WithClock подменяет часы для расписания уведомлений.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler создаёт обработчик поверх реестра корзин.
func NewHandler(registry *carts.Registry, options ...Option) *Handler {
	h := &Handler{
		registry: registry,
		provider: auth.Anonymous{},
		notifier: notify.Discard{},
		logger:   log.WithField("component", "http-api"),
		now:      time.Now,
	}
	for _, option := range options {
		option(h)
	}
	return h
}

// Routes возвращает http.Handler со всеми маршрутами и middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/cart", h.getCart)
	mux.HandleFunc("DELETE /v1/cart", h.clearCart)
	mux.HandleFunc("POST /v1/cart/checkout", h.checkout)
	mux.HandleFunc("POST /v1/cart/items", h.addItem)

	mux.HandleFunc("PUT /v1/cart/items/{index}", h.setQuantity)
	mux.HandleFunc("POST /v1/cart/items/{index}/increment", h.changeQuantity(1))
	mux.HandleFunc("POST /v1/cart/items/{index}/decrement", h.changeQuantity(-1))
	mux.HandleFunc("DELETE /v1/cart/items/{index}", h.removeItem)

	mux.HandleFunc("PUT /v1/cart/items/by-id/{id}", h.setQuantityByID)
	mux.HandleFunc("POST /v1/cart/items/by-id/{id}/increment", h.changeQuantityByID(1))
	mux.HandleFunc("POST /v1/cart/items/by-id/{id}/decrement", h.changeQuantityByID(-1))
	mux.HandleFunc("DELETE /v1/cart/items/by-id/{id}", h.removeItemByID)

	mux.HandleFunc("GET /v1/session", h.getSession)
	mux.HandleFunc("POST /v1/session/sign-out", h.signOut)

	var handler http.Handler = mux
	handler = auth.Middleware(h.provider, h.logger.WithField("layer", "auth"))(handler)
	handler = ProfileMiddleware(h.trustProfileHeader)(handler)
	handler = accessLog(h.logger)(handler)
	return handler
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	store := h.registry.Page(r.Context(), ProfileFromContext(r.Context()))
	h.writeCart(w, store, cart.Result{Outcome: cart.OutcomeLoaded})
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Price == nil {
		writeError(w, http.StatusBadRequest, errPriceRequired)
		return
	}

	store := h.store(r)
	res := store.Add(r.Context(), domain.Candidate{Name: req.Name, Price: *req.Price, Image: req.Image})
	h.writeCart(w, store, res)
}

func (h *Handler) setQuantity(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quantity, err := decodeQuantity(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	store := h.store(r)
	h.writeCart(w, store, store.SetQuantity(r.Context(), index, quantity))
}

func (h *Handler) changeQuantity(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := pathIndex(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		store := h.store(r)
		h.writeCart(w, store, store.ChangeQuantity(r.Context(), index, delta))
	}
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store := h.store(r)
	h.writeCart(w, store, store.Remove(r.Context(), index))
}

func (h *Handler) setQuantityByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	quantity, err := decodeQuantity(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	store := h.store(r)
	h.writeCart(w, store, store.SetQuantityByID(r.Context(), id, quantity))
}

func (h *Handler) changeQuantityByID(delta int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		store := h.store(r)
		h.writeCart(w, store, store.ChangeQuantityByID(r.Context(), id, delta))
	}
}

func (h *Handler) removeItemByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	store := h.store(r)
	h.writeCart(w, store, store.RemoveByID(r.Context(), id))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	store := h.store(r)
	h.writeCart(w, store, store.Clear(r.Context()))
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	store := h.store(r)
	h.writeCart(w, store, store.Checkout(r.Context()))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, SessionResponse{Session: session, Regions: session.Regions()})
}

func (h *Handler) signOut(w http.ResponseWriter, r *http.Request) {
	session := auth.SessionFromContext(r.Context())
	if session.SignedIn {
		if err := h.provider.SignOut(r.Context(), session.Identity.UID); err != nil {
			h.logger.WithError(err).WithField("uid", session.Identity.UID).Warn("sign out failed")
			writeError(w, http.StatusBadGateway, errors.New("sign out failed"))
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	signedOut := auth.SignedOut()
	writeJSON(w, http.StatusOK, SessionResponse{Session: signedOut, Regions: signedOut.Regions()})
}

func (h *Handler) store(r *http.Request) *cart.Store {
	return h.registry.Store(r.Context(), ProfileFromContext(r.Context()))
}

// writeCart отдаёт снимок корзины вместе с уведомлением операции.
func (h *Handler) writeCart(w http.ResponseWriter, store *cart.Store, res cart.Result) {
	recorder := notify.NewRecorder(h.now)
	if !res.Notice.IsZero() {
		notify.Multi{recorder, h.notifier}.Notify(res.Notice)
	}
	toasts := recorder.Toasts()
	if toasts == nil {
		toasts = []notify.Toast{}
	}

	writeJSON(w, http.StatusOK, Response{
		Cart:          render.Snapshot(store.Snapshot()),
		Notifications: toasts,
		Outcome:       res.Outcome,
	})
}

func pathIndex(r *http.Request) (int, error) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		return 0, errInvalidIndex
	}
	return index, nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errInvalidID
	}
	return id, nil
}

func decodeQuantity(w http.ResponseWriter, r *http.Request) (int, error) {
	var req setQuantityRequest
	if err := decodeBody(w, r, &req); err != nil {
		return 0, err
	}
	if req.Quantity == nil {
		return 0, errQuantityMissing
	}
	return *req.Quantity, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
