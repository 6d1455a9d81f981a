package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/fanout"
	"github.com/vladislavdragonenkov/bakery/internal/service/checkout"
)

const defaultHeartbeat = 15 * time.Second

// CheckoutService - оформление заказа.
type CheckoutService interface {
	Checkout(ctx context.Context, req checkout.Request) (domain.Order, error)
}

// TransitionService - смена статуса сотрудником филиала.
type TransitionService interface {
	Transition(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error)
}

// OrderQueries - чтение заказов и потоки изменений.
type OrderQueries interface {
	List(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error)
	Get(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error)
	SubscribeOrder(ctx context.Context, actor domain.Actor, orderID string) (*fanout.Subscription, error)
	SubscribeBranch(ctx context.Context, actor domain.Actor, branchID string) (*fanout.Subscription, error)
	SubscribeCustomer(ctx context.Context, actor domain.Actor, customerID string) (*fanout.Subscription, error)
	SubscribeAll(ctx context.Context, actor domain.Actor) (*fanout.Subscription, error)
}

// Inventory - карточки товаров для витрины и правки каталога.
type Inventory interface {
	domain.Catalog
	UpsertItem(ctx context.Context, item domain.InventoryItem) error
}

// Dependencies - сервисы, которые обслуживает HTTP API.
type Dependencies struct {
	Checkout    CheckoutService
	Transitions TransitionService
	Orders      OrderQueries
	Inventory   Inventory
	Payments    domain.PaymentRepository
}

// Handler содержит обработчики HTTP API.
type Handler struct {
	deps      Dependencies
	logger    *log.Entry
	heartbeat time.Duration
	now       func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHeartbeat задаёт интервал keepalive-комментариев в SSE.
func WithHeartbeat(interval time.Duration) Option {
	return func(h *Handler) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// NewHandler создаёт обработчики.
func NewHandler(deps Dependencies, options ...Option) *Handler {
	h := &Handler{
		deps:      deps,
		logger:    log.WithField("component", "httpapi"),
		heartbeat: defaultHeartbeat,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(h)
	}
	return h
}

func (h *Handler) checkout(c *gin.Context) {
	var body checkoutRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, domain.NewValidationError("body", err))
		return
	}

	lines := make([]domain.CartLine, 0, len(body.Lines))
	for i, line := range body.Lines {
		var price int64
		if line.UnitPrice != "" {
			parsed, err := ParseMoney(line.UnitPrice)
			if err != nil {
				h.respondError(c, domain.NewValidationError("lines["+strconv.Itoa(i)+"].unit_price", err))
				return
			}
			price = parsed
		}
		lines = append(lines, domain.CartLine{
			ItemID:          line.ItemID,
			Name:            line.Name,
			UnitPriceMinor:  price,
			Qty:             line.Quantity,
			QuantityCeiling: line.QuantityCeiling,
		})
	}

	order, err := h.deps.Checkout.Checkout(c.Request.Context(), checkout.Request{
		Lines:                 lines,
		BranchID:              body.BranchID,
		Customer:              actorFrom(c),
		PaymentConfirmationID: body.PaymentConfirmationID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("Location", "/v1/orders/"+order.ID)
	c.JSON(http.StatusCreated, newOrderResponse(order))
}

func (h *Handler) transition(c *gin.Context) {
	var body transitionRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, domain.NewValidationError("body", err))
		return
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(body.Status)))

	order, err := h.deps.Transitions.Transition(c.Request.Context(), c.Param("id"), target, actorFrom(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

// listOrders без явного ключа подставляет свои заказы клиента или свой филиал сотрудника.
func (h *Handler) listOrders(c *gin.Context) {
	actor := actorFrom(c)
	group, err := domain.ParseStatusGroup(c.Query("status_group"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	filter := domain.OrderFilter{
		CustomerID: strings.TrimSpace(c.Query("customer_id")),
		BranchID:   strings.TrimSpace(c.Query("branch_id")),
		Group:      group,
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.respondError(c, domain.NewValidationError("limit", err))
			return
		}
		filter.Limit = limit
	}
	if filter.CustomerID == "" && filter.BranchID == "" {
		switch actor.Role {
		case domain.RoleCustomer:
			filter.CustomerID = actor.UserID
		case domain.RoleStaff:
			filter.BranchID = actor.BranchID
		}
	}

	orders, err := h.deps.Orders.List(c.Request.Context(), actor, filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": newOrderListResponse(orders)})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.deps.Orders.Get(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newOrderResponse(order))
}

func (h *Handler) getInventory(c *gin.Context) {
	item, err := h.deps.Inventory.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(item))
}

func (h *Handler) upsertInventory(c *gin.Context) {
	var body inventoryUpsertRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, domain.NewValidationError("body", err))
		return
	}
	price, err := ParseMoney(body.Price)
	if err != nil {
		h.respondError(c, domain.NewValidationError("price", err))
		return
	}

	id := c.Param("id")
	if err := h.deps.Inventory.UpsertItem(c.Request.Context(), domain.InventoryItem{
		ID:                id,
		Name:              body.Name,
		PriceMinor:        price,
		AvailableQuantity: body.Quantity,
	}); err != nil {
		h.respondError(c, err)
		return
	}
	item, err := h.deps.Inventory.GetItem(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newInventoryResponse(item))
}

// recordPayment - служебный webhook для окружений без Kafka.
func (h *Handler) recordPayment(c *gin.Context) {
	var body paymentConfirmationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.respondError(c, domain.NewValidationError("body", err))
		return
	}
	amount, err := ParseMoney(body.Amount)
	if err != nil {
		h.respondError(c, domain.NewValidationError("amount", err))
		return
	}
	confirmation := domain.PaymentConfirmation{
		ID:          strings.TrimSpace(body.ConfirmationID),
		AmountMinor: amount,
		ConfirmedAt: h.now(),
	}
	if body.ConfirmedAt != nil {
		confirmation.ConfirmedAt = body.ConfirmedAt.UTC()
	}

	if err := h.deps.Payments.Record(c.Request.Context(), confirmation); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"confirmation_id": confirmation.ID,
		"amount":          FormatMoney(confirmation.AmountMinor),
	})
}
