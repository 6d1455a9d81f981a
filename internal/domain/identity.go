package domain

import (
	"errors"
	"strings"
)

// Role - роль пользователя, пришедшая от сервиса идентификации.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// ParseRole разбирает роль из заголовка или токена.
func ParseRole(raw string) (Role, error) {
	switch role := Role(strings.ToLower(strings.TrimSpace(raw))); role {
	case RoleCustomer, RoleStaff, RoleAdmin:
		return role, nil
	default:
		return "", NewValidationError("role", errors.New("unsupported role"))
	}
}

// Actor - текущий пользователь: currentUser() из сервиса идентификации.
type Actor struct {
	UserID string
	Role   Role
	// BranchID заполнен для сотрудников филиала.
	BranchID string
}

// IsStaffOf сообщает, что актор - сотрудник указанного филиала.
func (a Actor) IsStaffOf(branchID string) bool {
	return a.Role == RoleStaff && a.BranchID != "" && a.BranchID == branchID
}

// CanViewOrder проверяет доступ на чтение заказа.
func (a Actor) CanViewOrder(order Order) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleStaff:
		return a.IsStaffOf(order.BranchID)
	case RoleCustomer:
		return a.UserID != "" && a.UserID == order.CustomerID
	default:
		return false
	}
}
