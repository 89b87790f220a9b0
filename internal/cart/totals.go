package cart

import "github.com/vladislavdragonenkov/storefront/internal/domain"

// State — состояние корзины целиком; выводится только из количества позиций.
type State string

const (
	StateEmpty    State = "empty"
	StateNonEmpty State = "non_empty"
)

// Totals — производные значения корзины. Округление до копеек выполняется только при отображении.
type Totals struct {
	Count    int     `json:"count"`
	Subtotal float64 `json:"subtotal"`
	Shipping float64 `json:"shipping"`
	Total    float64 `json:"total"`
}

// ComputeTotals считает счётчик для бейджа, подытог, доставку и итог.
// Нераспознанные позиции дают нулевой вклад.
func ComputeTotals(items []domain.LineItem) Totals {
	var t Totals
	for _, item := range items {
		if !item.Usable() {
			continue
		}
		t.Count += item.Quantity
		t.Subtotal += item.LineTotal()
	}
	if t.Subtotal > 0 {
		t.Shipping = domain.ShippingFee
	}
	t.Total = t.Subtotal + t.Shipping
	return t
}

func stateOf(items []domain.LineItem) State {
	if len(items) == 0 {
		return StateEmpty
	}
	return StateNonEmpty
}
