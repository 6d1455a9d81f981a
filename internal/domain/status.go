package domain

import (
	"fmt"
	"strings"
)

// OrderStatus описывает линейный жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusSubmitted — заказ оплачен и создан, филиал его ещё не принял.
	OrderStatusSubmitted OrderStatus = "submitted"
	// OrderStatusReceived — филиал принял заказ в работу.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusReady — заказ готов к выдаче.
	OrderStatusReady OrderStatus = "ready"
	// OrderStatusDelivered — заказ выдан клиенту, терминальный статус.
	OrderStatusDelivered OrderStatus = "delivered"
)

var statusSequence = []OrderStatus{
	OrderStatusSubmitted,
	OrderStatusReceived,
	OrderStatusReady,
	OrderStatusDelivered,
}

// Старые названия статусов, которые ещё встречаются в сохранённых заказах.
var legacyStatusAliases = map[string]OrderStatus{
	"pending":   OrderStatusSubmitted,
	"enviado":   OrderStatusSubmitted,
	"recibido":  OrderStatusReceived,
	"listo":     OrderStatusReady,
	"entregado": OrderStatusDelivered,
}

// Rank возвращает позицию статуса в последовательности или -1 для неизвестного значения.
func (s OrderStatus) Rank() int {
	for i, candidate := range statusSequence {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Valid сообщает, является ли статус каноническим.
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// Next возвращает следующий статус; false для терминального или неизвестного.
func (s OrderStatus) Next() (OrderStatus, bool) {
	rank := s.Rank()
	if rank < 0 || rank+1 >= len(statusSequence) {
		return "", false
	}
	return statusSequence[rank+1], true
}

// Terminal сообщает, что дальше статус не меняется.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered
}

// NormalizeStatus приводит сохранённое значение к каноническому статусу.
// Всё, что не распознано, считается submitted.
func NormalizeStatus(raw string) OrderStatus {
	status, err := ParseStatus(raw)
	if err != nil {
		return OrderStatusSubmitted
	}
	return status
}

// ParseStatus строго разбирает статус: каноническое имя или известный алиас.
func ParseStatus(raw string) (OrderStatus, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if status := OrderStatus(key); status.Valid() {
		return status, nil
	}
	if status, ok := legacyStatusAliases[key]; ok {
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
}

// StatusGroup делит заказы на активные и выданные для списков UI.
type StatusGroup string

const (
	// StatusGroupAll — без фильтра по статусу.
	StatusGroupAll StatusGroup = ""
	// StatusGroupActive — всё, что ещё не выдано.
	StatusGroupActive StatusGroup = "active"
	// StatusGroupDelivered — выданные заказы.
	StatusGroupDelivered StatusGroup = "delivered"
)

// ParseStatusGroup разбирает значение фильтра из запроса.
func ParseStatusGroup(raw string) (StatusGroup, error) {
	switch group := StatusGroup(strings.ToLower(strings.TrimSpace(raw))); group {
	case StatusGroupAll, StatusGroupActive, StatusGroupDelivered:
		return group, nil
	default:
		return "", NewValidationError("status_group", fmt.Errorf("unsupported value %q", raw))
	}
}

// Matches проверяет, попадает ли статус в группу.
func (g StatusGroup) Matches(status OrderStatus) bool {
	switch g {
	case StatusGroupActive:
		return status != OrderStatusDelivered
	case StatusGroupDelivered:
		return status == OrderStatusDelivered
	default:
		return true
	}
}
