package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// itemSlot - остаток товара и его блокировка. Блокировка на канале, чтобы ожидание
// можно было прервать контекстом.
type itemSlot struct {
	lock chan struct{}
	item domain.InventoryItem
}

func newItemSlot(item domain.InventoryItem) *itemSlot {
	return &itemSlot{lock: make(chan struct{}, 1), item: item}
}

func (s *itemSlot) acquire(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *itemSlot) release() {
	<-s.lock
}

// Store - in-memory хранилище для локальной разработки и тестов: склад, заказы и outbox
// в одной транзакционной границе.
type Store struct {
	itemsMu sync.Mutex
	items   map[string]*itemSlot

	mu        sync.RWMutex
	orders    map[string]domain.Order
	byPayment map[string]string

	outbox *OutboxRepository
	now    func() time.Time
}

// NewStore создаёт пустое хранилище. outbox может быть nil, тогда создаётся свой.
func NewStore(outbox *OutboxRepository) *Store {
	if outbox == nil {
		outbox = NewOutboxRepository()
	}
	return &Store{
		items:     make(map[string]*itemSlot),
		orders:    make(map[string]domain.Order),
		byPayment: make(map[string]string),
		outbox:    outbox,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Outbox возвращает outbox, в который пишут транзакции хранилища.
func (s *Store) Outbox() *OutboxRepository {
	return s.outbox
}

func (s *Store) slot(itemID string) *itemSlot {
	s.itemsMu.Lock()
	defer s.itemsMu.Unlock()
	return s.items[itemID]
}

// UpsertItem - правка каталога: создаёт товар или перезаписывает его поля.
func (s *Store) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if item.ID == "" {
		return domain.NewValidationError("id", domain.ErrItemIDRequired)
	}
	if item.AvailableQuantity < 0 {
		return domain.NewValidationError("available_quantity", errors.New("must be non-negative"))
	}
	item.UpdatedAt = s.now()

	s.itemsMu.Lock()
	slot, ok := s.items[item.ID]
	if !ok {
		s.items[item.ID] = newItemSlot(item)
		s.itemsMu.Unlock()
		return nil
	}
	s.itemsMu.Unlock()

	if err := slot.acquire(ctx); err != nil {
		return err
	}
	defer slot.release()
	slot.item = item
	return nil
}

// GetItem возвращает зафиксированное состояние товара.
func (s *Store) GetItem(ctx context.Context, itemID string) (domain.InventoryItem, error) {
	slot := s.slot(itemID)
	if slot == nil {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	if err := slot.acquire(ctx); err != nil {
		return domain.InventoryItem{}, err
	}
	defer slot.release()
	return slot.item, nil
}

// InTx выполняет fn в транзакции. Блокировки товаров берутся по мере резервирования
// и держатся до конца транзакции; изменения применяются только при успешном fn.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.CheckoutTx) error) error {
	tx := &checkoutTx{store: s, staged: make(map[*itemSlot]int32)}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

type checkoutTx struct {
	store  *Store
	held   []*itemSlot
	staged map[*itemSlot]int32
	orders []domain.Order
	events []domain.OutboxMessage
}

func (tx *checkoutTx) Reserve(ctx context.Context, r domain.Reservation) error {
	if r.Qty <= 0 {
		return domain.NewValidationError("qty", domain.ErrItemQtyInvalid)
	}
	slot := tx.store.slot(r.ItemID)
	if slot == nil {
		return domain.ErrItemNotFound
	}

	current, held := tx.staged[slot]
	if !held {
		if err := slot.acquire(ctx); err != nil {
			return err
		}
		tx.held = append(tx.held, slot)
		current = slot.item.AvailableQuantity
		tx.staged[slot] = current
	}

	next := current - r.Qty
	if next < 0 {
		return &domain.ShortageError{ItemID: r.ItemID, Requested: r.Qty, Available: current}
	}
	tx.staged[slot] = next
	return nil
}

func (tx *checkoutTx) CreateOrder(_ context.Context, order domain.Order) error {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()

	if err := tx.store.checkNewOrderLocked(order); err != nil {
		return err
	}
	tx.orders = append(tx.orders, order.Clone())
	return nil
}

func (tx *checkoutTx) Enqueue(_ context.Context, msg domain.OutboxMessage) error {
	tx.events = append(tx.events, msg)
	return nil
}

func (tx *checkoutTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, order := range tx.orders {
		if err := s.checkNewOrderLocked(order); err != nil {
			return err
		}
	}

	now := s.now()
	for slot, qty := range tx.staged {
		if slot.item.AvailableQuantity == qty {
			continue
		}
		slot.item.AvailableQuantity = qty
		slot.item.UpdatedAt = now
	}
	for _, order := range tx.orders {
		s.orders[order.ID] = order
		if order.PaymentConfirmationID != "" {
			s.byPayment[order.PaymentConfirmationID] = order.ID
		}
	}
	for _, msg := range tx.events {
		if _, err := s.outbox.Enqueue(msg); err != nil {
			return err
		}
	}
	return nil
}

func (tx *checkoutTx) releaseAll() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].release()
	}
	tx.held = nil
}

func (s *Store) checkNewOrderLocked(order domain.Order) error {
	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	if order.PaymentConfirmationID != "" {
		if _, used := s.byPayment[order.PaymentConfirmationID]; used {
			return domain.ErrPaymentAlreadyUsed
		}
	}
	return nil
}

var (
	_ domain.CheckoutStore = (*Store)(nil)
	_ domain.Catalog       = (*Store)(nil)
)
