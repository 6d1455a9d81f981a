package checkout

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// line - позиция после нормализации: дубликаты товара схлопнуты, Index указывает
// на первую позицию исходной корзины.
type line struct {
	Index  int
	ItemID string
	Qty    int32
}

// normalizeLines проверяет позиции корзины, суммирует количество одинаковых товаров
// и сортирует по ItemID. Порядок по ItemID задаёт порядок блокировок склада.
func normalizeLines(cartLines []domain.CartLine) ([]line, error) {
	if len(cartLines) == 0 {
		return nil, domain.NewValidationError("lines", domain.ErrItemsRequired)
	}

	byItem := make(map[string]*line, len(cartLines))
	for i, cl := range cartLines {
		if cl.ItemID == "" {
			return nil, domain.NewValidationError(fmt.Sprintf("lines[%d].item_id", i), domain.ErrItemIDRequired)
		}
		if cl.Qty <= 0 {
			return nil, domain.NewValidationError(fmt.Sprintf("lines[%d].qty", i), domain.ErrItemQtyInvalid)
		}
		if existing, ok := byItem[cl.ItemID]; ok {
			if existing.Qty > maxLineQty-cl.Qty {
				return nil, domain.NewValidationError(fmt.Sprintf("lines[%d].qty", i), errors.New("quantity overflow"))
			}
			existing.Qty += cl.Qty
			continue
		}
		byItem[cl.ItemID] = &line{Index: i, ItemID: cl.ItemID, Qty: cl.Qty}
	}

	result := make([]line, 0, len(byItem))
	for _, l := range byItem {
		result = append(result, *l)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ItemID < result[j].ItemID })
	return result, nil
}

const maxLineQty = int32(1<<31 - 1)
