package domain

import "time"

// LowStockThreshold - остаток, начиная с которого товар помечается как заканчивающийся.
const LowStockThreshold = 5

// InventoryItem - товар каталога и его доступный остаток.
// AvailableQuantity меняется только резервированием при оформлении заказа
// и правками каталога.
type InventoryItem struct {
	ID                string
	Name              string
	PriceMinor        int64
	AvailableQuantity int32
	UpdatedAt         time.Time
}

// StockLevel - подсказка для витрины, не влияет на резервирование.
type StockLevel string

const (
	StockLevelOutOfStock StockLevel = "out_of_stock"
	StockLevelLow        StockLevel = "low"
	StockLevelInStock    StockLevel = "in_stock"
)

// StockLevel классифицирует остаток.
func (i InventoryItem) StockLevel() StockLevel {
	switch {
	case i.AvailableQuantity <= 0:
		return StockLevelOutOfStock
	case i.AvailableQuantity <= LowStockThreshold:
		return StockLevelLow
	default:
		return StockLevelInStock
	}
}

// Reservation - запрос на списание остатка одной позиции.
type Reservation struct {
	ItemID string
	Qty    int32
}
