package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

type checkoutLineRequest struct {
	ItemID          string `json:"item_id"`
	Name            string `json:"name"`
	UnitPrice       string `json:"unit_price"`
	Quantity        int32  `json:"quantity"`
	QuantityCeiling int32  `json:"quantity_ceiling"`
}

type checkoutRequest struct {
	BranchID              string                `json:"branch_id"`
	PaymentConfirmationID string                `json:"payment_confirmation_id"`
	Lines                 []checkoutLineRequest `json:"lines"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

type paymentConfirmationRequest struct {
	ConfirmationID string     `json:"confirmation_id"`
	Amount         string     `json:"amount"`
	ConfirmedAt    *time.Time `json:"confirmed_at"`
}

type inventoryUpsertRequest struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Quantity int32  `json:"quantity"`
}

type orderItemResponse struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type statusEntryResponse struct {
	Status    string    `json:"status"`
	ActorRole string    `json:"actor_role"`
	At        time.Time `json:"at"`
}

// OrderResponse - представление заказа для UI.
type OrderResponse struct {
	ID                    string                `json:"id"`
	CustomerID            string                `json:"customer_id"`
	BranchID              string                `json:"branch_id"`
	PaymentConfirmationID string                `json:"payment_confirmation_id,omitempty"`
	Status                string                `json:"status"`
	StoredStatus          string                `json:"stored_status,omitempty"`
	Items                 []orderItemResponse   `json:"items"`
	Total                 string                `json:"total"`
	History               []statusEntryResponse `json:"history"`
	Version               int64                 `json:"version"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
	ReceivedAt            *time.Time            `json:"received_at,omitempty"`
	ReadyAt               *time.Time            `json:"ready_at,omitempty"`
	DeliveredAt           *time.Time            `json:"delivered_at,omitempty"`
}

type inventoryResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Price             string    `json:"price"`
	AvailableQuantity int32     `json:"available_quantity"`
	Level             string    `json:"level"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func newOrderResponse(order domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:                    order.ID,
		CustomerID:            order.CustomerID,
		BranchID:              order.BranchID,
		PaymentConfirmationID: order.PaymentConfirmationID,
		Status:                string(order.CanonicalStatus()),
		Items:                 make([]orderItemResponse, 0, len(order.Items)),
		Total:                 FormatMoney(order.AmountMinor),
		History:               make([]statusEntryResponse, 0, len(order.History)),
		Version:               order.Version,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
	if order.Status != resp.Status {
		resp.StoredStatus = order.Status
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ItemID:    item.ItemID,
			Name:      item.Name,
			Quantity:  item.Qty,
			UnitPrice: FormatMoney(item.PriceMinor),
			Subtotal:  FormatMoney(item.SubtotalMinor()),
		})
	}
	for _, entry := range order.History {
		resp.History = append(resp.History, statusEntryResponse{
			Status:    entry.Status,
			ActorRole: string(entry.ActorRole),
			At:        entry.At,
		})
	}
	resp.ReceivedAt = reachedAt(order, domain.OrderStatusReceived)
	resp.ReadyAt = reachedAt(order, domain.OrderStatusReady)
	resp.DeliveredAt = reachedAt(order, domain.OrderStatusDelivered)
	return resp
}

func reachedAt(order domain.Order, status domain.OrderStatus) *time.Time {
	if at, ok := order.StatusReachedAt(status); ok {
		return &at
	}
	return nil
}

func newOrderListResponse(orders []domain.Order) []OrderResponse {
	result := make([]OrderResponse, 0, len(orders))
	for _, order := range orders {
		result = append(result, newOrderResponse(order))
	}
	return result
}

func newInventoryResponse(item domain.InventoryItem) inventoryResponse {
	return inventoryResponse{
		ID:                item.ID,
		Name:              item.Name,
		Price:             FormatMoney(item.PriceMinor),
		AvailableQuantity: item.AvailableQuantity,
		Level:             string(item.StockLevel()),
		UpdatedAt:         item.UpdatedAt,
	}
}
