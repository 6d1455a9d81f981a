package domain

import (
	"fmt"
	"math"
	"time"
)

// OrderItem — снимок позиции на момент оформления. Название и цена не меняются
// после правок каталога.
type OrderItem struct {
	// ItemID — идентификатор товара в каталоге.
	ItemID string
	// Name — название товара на момент покупки.
	Name string
	// Qty — количество единиц товара.
	Qty int32
	// PriceMinor — цена за единицу в минимальных денежных единицах (центах).
	PriceMinor int64
}

// SubtotalMinor возвращает qty * price.
func (i OrderItem) SubtotalMinor() int64 {
	return int64(i.Qty) * i.PriceMinor
}

// StatusEntry — неизменяемая запись истории статусов.
type StatusEntry struct {
	// Status хранится как есть, в том числе legacy-значения.
	Status    string
	ActorRole Role
	At        time.Time
}

// Order агрегирует состояние заказа: позиции, филиал, статус и историю.
type Order struct {
	ID                    string
	CustomerID            string
	BranchID              string
	PaymentConfirmationID string
	Items                 []OrderItem
	AmountMinor           int64
	// Status — сохранённое значение. Для логики используйте CanonicalStatus.
	Status    string
	History   []StatusEntry
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CanonicalStatus возвращает статус после legacy-маппинга.
func (o Order) CanonicalStatus() OrderStatus {
	return NormalizeStatus(o.Status)
}

// StatusReachedAt возвращает момент, когда заказ впервые перешёл в статус.
func (o Order) StatusReachedAt(status OrderStatus) (time.Time, bool) {
	for _, entry := range o.History {
		if NormalizeStatus(entry.Status) == status {
			return entry.At, true
		}
	}
	return time.Time{}, false
}

// ShortID — последние шесть символов ID для сообщений клиенту.
func (o Order) ShortID() string {
	if len(o.ID) <= 6 {
		return o.ID
	}
	return o.ID[len(o.ID)-6:]
}

// Clone возвращает копию без общих слайсов.
func (o Order) Clone() Order {
	clone := o
	clone.Items = append([]OrderItem(nil), o.Items...)
	clone.History = append([]StatusEntry(nil), o.History...)
	return clone
}

// ItemsTotal считает сумму позиций на стороне сервера.
// Если сумма или произведение qty * price не помещается в int64, возвращает ErrAmountOverflow.
func ItemsTotal(items []OrderItem) (int64, error) {
	var total int64
	for _, item := range items {
		sub, ok := checkedSubtotal(item.Qty, item.PriceMinor)
		if !ok {
			return 0, fmt.Errorf("%w: item %s", ErrAmountOverflow, item.ItemID)
		}
		if (sub > 0 && total > math.MaxInt64-sub) || (sub < 0 && total < math.MinInt64-sub) {
			return 0, ErrAmountOverflow
		}
		total += sub
	}
	return total, nil
}

func checkedSubtotal(qty int32, price int64) (int64, bool) {
	if qty == 0 || price == 0 {
		return 0, true
	}
	q := int64(qty)
	product := q * price
	if product/q != price || (q == -1 && price == math.MinInt64) {
		return 0, false
	}
	return product, true
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.BranchID == "" {
		errs = append(errs, ErrBranchRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}

	for _, item := range o.Items {
		if item.ItemID == "" {
			errs = append(errs, ErrItemIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	if total, err := ItemsTotal(o.Items); err != nil {
		errs = append(errs, err)
	} else if total != o.AmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}
	if len(o.History) == 0 {
		errs = append(errs, ErrHistoryRequired)
	}

	return errs
}
