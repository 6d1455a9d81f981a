package domain

import "math"

// CartLine - позиция клиентской корзины. Цена и потолок количества зафиксированы
// при добавлении и служат только подсказкой: сервер их не использует как истину.
type CartLine struct {
	ItemID          string
	Name            string
	UnitPriceMinor  int64
	Qty             int32
	QuantityCeiling int32
}

// Cart - клиентская корзина, передаётся в checkout целиком.
// Не потокобезопасна: принадлежит одной сессии.
type Cart struct {
	lines []CartLine
}

// NewCart собирает корзину из сохранённых позиций, схлопывая дубликаты.
func NewCart(lines ...CartLine) *Cart {
	cart := &Cart{}
	for _, line := range lines {
		cart.Add(line)
	}
	return cart
}

// Add добавляет товар; для уже лежащего в корзине товара количество суммируется.
// Цена и потолок обновляются снимком последнего добавления.
func (c *Cart) Add(line CartLine) {
	if line.ItemID == "" || line.Qty <= 0 {
		return
	}
	if idx := c.index(line.ItemID); idx >= 0 {
		existing := c.lines[idx]
		existing.Qty = saturatingQty(existing.Qty, line.Qty)
		existing.UnitPriceMinor = line.UnitPriceMinor
		existing.QuantityCeiling = line.QuantityCeiling
		if line.Name != "" {
			existing.Name = line.Name
		}
		c.lines[idx] = clampToCeiling(existing)
		return
	}
	c.lines = append(c.lines, clampToCeiling(line))
}

// SetQty задаёт количество; значение <= 0 убирает позицию.
func (c *Cart) SetQty(itemID string, qty int32) {
	idx := c.index(itemID)
	if idx < 0 {
		return
	}
	if qty <= 0 {
		c.Remove(itemID)
		return
	}
	line := c.lines[idx]
	line.Qty = qty
	c.lines[idx] = clampToCeiling(line)
}

// Remove убирает позицию из корзины.
func (c *Cart) Remove(itemID string) {
	idx := c.index(itemID)
	if idx < 0 {
		return
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
}

// Clear очищает корзину после успешного checkout.
func (c *Cart) Clear() {
	c.lines = nil
}

// Lines возвращает копию позиций.
func (c *Cart) Lines() []CartLine {
	return append([]CartLine(nil), c.lines...)
}

// Count - сколько единиц товара в корзине.
func (c *Cart) Count() int32 {
	var count int32
	for _, line := range c.lines {
		count = saturatingQty(count, line.Qty)
	}
	return count
}

// EstimatedTotalMinor - сумма по ценам корзины, только для отображения.
// При переполнении упирается в math.MaxInt64.
func (c *Cart) EstimatedTotalMinor() int64 {
	items := make([]OrderItem, 0, len(c.lines))
	for _, line := range c.lines {
		items = append(items, OrderItem{Qty: line.Qty, PriceMinor: line.UnitPriceMinor})
	}
	total, err := ItemsTotal(items)
	if err != nil {
		return math.MaxInt64
	}
	return total
}

// IsEmpty сообщает, пуста ли корзина.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

func (c *Cart) index(itemID string) int {
	for i, line := range c.lines {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

func clampToCeiling(line CartLine) CartLine {
	if line.QuantityCeiling > 0 && line.Qty > line.QuantityCeiling {
		line.Qty = line.QuantityCeiling
	}
	return line
}

// saturatingQty складывает неотрицательные количества, не выходя за math.MaxInt32.
func saturatingQty(a, b int32) int32 {
	if a > math.MaxInt32-b {
		return math.MaxInt32
	}
	return a + b
}
