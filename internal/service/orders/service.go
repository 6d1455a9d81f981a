package orders

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/fanout"
)

// defaultSeedLimit ограничивает начальный снимок потоков филиала и клиента.
const defaultSeedLimit = 200

// Service отдаёт заказы для UI: списки, карточку и потоки изменений.
type Service struct {
	orders domain.OrderRepository
	hub    *fanout.Hub
	logger *log.Entry
}

// NewService создаёт сервис чтения заказов.
func NewService(orders domain.OrderRepository, hub *fanout.Hub, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "order-query")
	}
	return &Service{orders: orders, hub: hub, logger: logger}
}

// List реализует listOrders. Клиент видит только свои заказы, сотрудник только заказы своего филиала.
func (s *Service) List(ctx context.Context, actor domain.Actor, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := authorizeFilter(actor, filter); err != nil {
		return nil, err
	}
	return s.orders.List(ctx, filter)
}

// Get возвращает заказ, если актор имеет право его видеть.
func (s *Service) Get(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !actor.CanViewOrder(order) {
		return domain.Order{}, fmt.Errorf("%w: order %s", domain.ErrForbidden, orderID)
	}
	return order, nil
}

// SubscribeOrder реализует subscribeToOrder: поток начинается с текущего состояния заказа.
func (s *Service) SubscribeOrder(ctx context.Context, actor domain.Actor, orderID string) (*fanout.Subscription, error) {
	if _, err := s.Get(ctx, actor, orderID); err != nil {
		return nil, err
	}

	// Подписка до повторного чтения: изменение между чтением и подпиской не потеряется,
	// а дубль отсечёт фильтр версий.
	sub := s.hub.SubscribeOrder(ctx, orderID)
	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.Seed(current)
	return sub, nil
}

// SubscribeBranch открывает поток заказов филиала с начальным снимком активной очереди.
func (s *Service) SubscribeBranch(ctx context.Context, actor domain.Actor, branchID string) (*fanout.Subscription, error) {
	filter := domain.OrderFilter{BranchID: branchID, Group: domain.StatusGroupActive, Limit: defaultSeedLimit}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := authorizeFilter(actor, filter); err != nil {
		return nil, err
	}
	return s.subscribeSeeded(ctx, fanout.Scope{Kind: fanout.ScopeBranch, ID: branchID}, filter)
}

// SubscribeCustomer открывает поток заказов клиента.
func (s *Service) SubscribeCustomer(ctx context.Context, actor domain.Actor, customerID string) (*fanout.Subscription, error) {
	filter := domain.OrderFilter{CustomerID: customerID, Limit: defaultSeedLimit}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := authorizeFilter(actor, filter); err != nil {
		return nil, err
	}
	return s.subscribeSeeded(ctx, fanout.Scope{Kind: fanout.ScopeCustomer, ID: customerID}, filter)
}

// SubscribeAll - поток всех заказов для back-office.
func (s *Service) SubscribeAll(ctx context.Context, actor domain.Actor) (*fanout.Subscription, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: back-office stream requires admin role", domain.ErrForbidden)
	}
	return s.hub.SubscribeAll(ctx), nil
}

// Resync перечитывает заказы открытых подписок из хранилища и публикует их в hub.
// Уже доставленные версии отсекает фильтр подписок. Возвращает число опубликованных снимков.
func (s *Service) Resync(ctx context.Context) (int, error) {
	ids := make(map[string]struct{})
	for _, id := range s.hub.KnownOrderIDs() {
		ids[id] = struct{}{}
	}

	var (
		published int
		errs      []error
	)
	for _, scope := range s.hub.Scopes() {
		var filter domain.OrderFilter
		switch scope.Kind {
		case fanout.ScopeOrder:
			ids[scope.ID] = struct{}{}
			continue
		case fanout.ScopeBranch:
			filter = domain.OrderFilter{BranchID: scope.ID, Group: domain.StatusGroupActive, Limit: defaultSeedLimit}
		case fanout.ScopeCustomer:
			filter = domain.OrderFilter{CustomerID: scope.ID, Limit: defaultSeedLimit}
		default:
			continue
		}
		list, err := s.orders.List(ctx, filter)
		if err != nil {
			errs = append(errs, fmt.Errorf("resync %s %s: %w", scope.Kind, scope.ID, err))
			continue
		}
		for _, order := range list {
			delete(ids, order.ID)
			s.hub.Publish(order)
			published++
		}
	}

	for id := range ids {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		order, err := s.orders.Get(ctx, id)
		if errors.Is(err, domain.ErrOrderNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("resync order %s: %w", id, err))
			continue
		}
		s.hub.Publish(order)
		published++
	}

	s.logger.WithField("published", published).Info("order streams resynced")
	return published, errors.Join(errs...)
}

func (s *Service) subscribeSeeded(ctx context.Context, scope fanout.Scope, filter domain.OrderFilter) (*fanout.Subscription, error) {
	sub := s.hub.Subscribe(ctx, scope)
	seed, err := s.orders.List(ctx, filter)
	if err != nil {
		sub.Close()
		return nil, err
	}
	for _, order := range seed {
		sub.Seed(order)
	}
	s.logger.WithFields(log.Fields{
		"scope": scope.Kind,
		"id":    scope.ID,
		"seed":  len(seed),
	}).Debug("stream opened")
	return sub, nil
}

func authorizeFilter(actor domain.Actor, filter domain.OrderFilter) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if filter.CustomerID != "" && filter.CustomerID == actor.UserID {
			return nil
		}
		return fmt.Errorf("%w: customers may only list their own orders", domain.ErrForbidden)
	case domain.RoleStaff:
		if filter.BranchID != "" && actor.IsStaffOf(filter.BranchID) {
			return nil
		}
		return fmt.Errorf("%w: staff may only list orders of their branch", domain.ErrForbidden)
	default:
		return fmt.Errorf("%w: unknown role %q", domain.ErrForbidden, actor.Role)
	}
}
