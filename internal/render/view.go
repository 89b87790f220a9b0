// Package render превращает состояние корзины в модель представления.
package render

import (
	"strconv"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// CurrencySymbol печатается перед каждой суммой.
const CurrencySymbol = "₹"

// ItemView — одна строка корзины.
type ItemView struct {
	// Index — позиция в сохранённой корзине; адресует операции по индексу.
	Index     int     `json:"index"`
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Image     string  `json:"image"`
	Price     float64 `json:"price"`
	PriceText string  `json:"price_text"`
	Quantity  int     `json:"quantity"`
	TotalText string  `json:"total_text"`
	// CanDecrement/CanIncrement — можно ли нажать кнопки -/+ без отказа.
	CanDecrement bool `json:"can_decrement"`
	CanIncrement bool `json:"can_increment"`
}

// View — всё, что нужно странице корзины и бейджу в шапке.
type View struct {
	Items           []ItemView `json:"items"`
	Empty           bool       `json:"empty"`
	CheckoutEnabled bool       `json:"checkout_enabled"`
	BadgeVisible    bool       `json:"badge_visible"`
	Count           int        `json:"count"`
	Subtotal        float64    `json:"subtotal"`
	Shipping        float64    `json:"shipping"`
	Total           float64    `json:"total"`
	SubtotalText    string     `json:"subtotal_text"`
	ShippingText    string     `json:"shipping_text"`
	TotalText       string     `json:"total_text"`
	// Skipped — количество сохранённых позиций, которые нельзя показать.
	Skipped int `json:"skipped"`
}

// Cart строит представление корзины. Функция чистая.
//
// Позиции с нераспознанной ценой или количеством пропускаются, но индексы
// остальных строк сохраняют позицию в исходной последовательности.
func Cart(items []domain.LineItem, totals cart.Totals) View {
	v := View{
		Items:           make([]ItemView, 0, len(items)),
		Empty:           len(items) == 0,
		CheckoutEnabled: len(items) > 0,
		BadgeVisible:    totals.Count > 0,
		Count:           totals.Count,
		Subtotal:        totals.Subtotal,
		Shipping:        totals.Shipping,
		Total:           totals.Total,
		SubtotalText:    Money(totals.Subtotal),
		ShippingText:    Money(totals.Shipping),
		TotalText:       Money(totals.Total),
	}

	for idx, item := range items {
		if !item.Usable() {
			v.Skipped++
			continue
		}
		v.Items = append(v.Items, ItemView{
			Index:        idx,
			ID:           item.ID,
			Name:         item.Name,
			Image:        ImageOrPlaceholder(item.Image),
			Price:        item.Price,
			PriceText:    Money(item.Price),
			Quantity:     item.Quantity,
			TotalText:    Money(item.LineTotal()),
			CanDecrement: item.Quantity > domain.MinQuantity,
			CanIncrement: item.Quantity < domain.MaxQuantity,
		})
	}
	return v
}

// Snapshot — Cart для снимка, полученного подписчиком.
func Snapshot(s cart.Snapshot) View {
	return Cart(s.Items, s.Totals)
}

// Money форматирует сумму: символ валюты и два знака после точки.
func Money(amount float64) string {
	return CurrencySymbol + strconv.FormatFloat(amount, 'f', 2, 64)
}

// ImageOrPlaceholder подставляет заглушку для пустого изображения.
func ImageOrPlaceholder(image string) string {
	if image == "" {
		return domain.PlaceholderImage
	}
	return image
}
