package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MinQuantity — минимальное количество единиц в одной позиции корзины.
	MinQuantity = 1
	// MaxQuantity — максимальное количество единиц в одной позиции корзины.
	MaxQuantity = 10
	// ShippingFee — фиксированная стоимость доставки для непустой корзины.
	ShippingFee = 50.0
	// StorageKey — ключ, под которым хранится сериализованная корзина профиля.
	StorageKey = "cartItems"
	// PlaceholderImage подставляется при отображении позиции без изображения.
	PlaceholderImage = "images/placeholder.jpg"
)

// Candidate описывает товар, который пользователь добавляет в корзину.
type Candidate struct {
	Name  string
	Price float64
	Image string
}

// Validate проверяет, что кандидат пригоден для добавления в корзину.
func (c Candidate) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrProductNameRequired
	}
	if math.IsNaN(c.Price) || math.IsInf(c.Price, 0) || c.Price < 0 {
		return ErrProductPriceInvalid
	}
	return nil
}

// LineItem представляет одну позицию корзины.
//
// Два элемента считаются одним товаром, если совпадают Name и Price.
// Отдельного SKU нет.
type LineItem struct {
	// ID — момент создания позиции в Unix-миллисекундах.
	ID       int64
	Name     string
	Price    float64
	Image    string
	Quantity int

	// raw хранит исходный JSON элемента, если price или quantity не распознаны
	// или quantity не целое число из [MinQuantity, MaxQuantity].
	// Такой элемент не отображается, но и не удаляется из хранилища.
	raw json.RawMessage
}

// Usable сообщает, можно ли использовать позицию для отображения и подсчёта сумм.
func (i LineItem) Usable() bool {
	return i.raw == nil
}

// SameProduct проверяет правило дедупликации: совпадают имя и цена.
func (i LineItem) SameProduct(c Candidate) bool {
	return i.Usable() && i.Name == c.Name && i.Price == c.Price
}

// LineTotal возвращает price*quantity для пригодной позиции и 0 для остальных.
func (i LineItem) LineTotal() float64 {
	if !i.Usable() {
		return 0
	}
	return i.Price * float64(i.Quantity)
}

type lineItemJSON struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Image    string  `json:"image"`
	Quantity int     `json:"quantity"`
}

// MarshalJSON сериализует позицию; нераспознанные элементы пишутся как были прочитаны.
func (i LineItem) MarshalJSON() ([]byte, error) {
	if i.raw != nil {
		return i.raw, nil
	}
	return json.Marshal(lineItemJSON{
		ID:       i.ID,
		Name:     i.Name,
		Price:    i.Price,
		Image:    i.Image,
		Quantity: i.Quantity,
	})
}

// UnmarshalJSON читает позицию терпимо: числа в строках принимаются,
// а элемент без валидных price/quantity сохраняется в исходном виде.
func (i *LineItem) UnmarshalJSON(data []byte) error {
	*i = LineItem{}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		i.raw = cloneRaw(data)
		return nil
	}

	i.ID = lenientID(fields["id"])
	i.Name = lenientString(fields["name"])
	i.Image = lenientString(fields["image"])

	price := lenientNumber(fields["price"])
	qty := lenientNumber(fields["quantity"])
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 || !validQuantity(qty) {
		i.raw = cloneRaw(data)
		return nil
	}

	i.Price = price
	i.Quantity = int(qty)
	return nil
}

// validQuantity принимает только целые значения из [MinQuantity, MaxQuantity].
// Позиция с количеством вне диапазона хранится как есть и не отображается.
func validQuantity(qty float64) bool {
	return qty >= MinQuantity && qty <= MaxQuantity && qty == math.Trunc(qty)
}

// lenientID возвращает 0, если id отсутствует или не помещается в int64.
func lenientID(raw json.RawMessage) int64 {
	id := lenientNumber(raw)
	if math.IsNaN(id) || id < math.MinInt64 || id >= math.MaxInt64 {
		return 0
	}
	return int64(id)
}

// DecodeCart разбирает сохранённый payload корзины.
// Ошибка возвращается, только если payload не является JSON-массивом.
func DecodeCart(payload []byte) ([]LineItem, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrPayloadMalformed
	}

	var items []LineItem
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadMalformed, err)
	}
	if items == nil {
		items = []LineItem{}
	}
	return items, nil
}

// EncodeCart сериализует корзину в JSON-массив. Пустая корзина пишется как [].
func EncodeCart(items []LineItem) ([]byte, error) {
	if items == nil {
		items = []LineItem{}
	}
	return json.Marshal(items)
}

// PayloadKey возвращает ключ хранилища для профиля.
// Пустой профиль использует ключ StorageKey без префикса.
func PayloadKey(profileID string) string {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return StorageKey
	}
	return profileID + ":" + StorageKey
}

// ProfileFromKey обратна PayloadKey. Для чужих ключей возвращает false.
func ProfileFromKey(key string) (string, bool) {
	if key == StorageKey {
		return "", true
	}
	profileID, ok := strings.CutSuffix(key, ":"+StorageKey)
	if !ok || profileID == "" {
		return "", false
	}
	return profileID, true
}

// lenientNumber ведёт себя как parseFloat: число или числовая строка, иначе NaN.
func lenientNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return math.NaN()
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil && !math.IsInf(v, 0) {
			return v
		}
	}
	return math.NaN()
}

func lenientString(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return ""
	}
	return str
}

func cloneRaw(data []byte) json.RawMessage {
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out
}
