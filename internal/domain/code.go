package domain

import (
	"strings"
	"time"
)

// CodeStatus отражает состояние подарочного кода.
type CodeStatus string

const (
	// CodeStatusAvailable — код свободен и может быть продан.
	CodeStatusAvailable CodeStatus = "available"
	// CodeStatusSold — код продан и закреплён за заказом. Обратного перехода нет.
	CodeStatusSold CodeStatus = "sold"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s CodeStatus) Valid() bool {
	switch s {
	case CodeStatusAvailable, CodeStatusSold:
		return true
	default:
		return false
	}
}

// GiftCode — единица складского запаса.
type GiftCode struct {
	ID        string
	ProductID string
	// Value — погашаемая строка кода. В хранилище лежит зашифрованной.
	Value     string
	Status    CodeStatus
	OrderID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет согласованность статуса и привязки к заказу:
// order_id заполнен тогда и только тогда, когда код продан.
func (c *GiftCode) Validate() []error {
	var errs []error

	if c.ProductID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if !c.Status.Valid() {
		errs = append(errs, ErrCodeStatusInvalid)
	}
	if (c.Status == CodeStatusSold) != (c.OrderID != "") {
		errs = append(errs, ErrCodeOwnershipInvalid)
	}

	return errs
}

// MaskCode скрывает значение кода для логов, оставляя последние 4 символа.
func MaskCode(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

// CodeValues возвращает значения кодов в исходном порядке.
func CodeValues(codes []GiftCode) []string {
	values := make([]string, 0, len(codes))
	for _, code := range codes {
		values = append(values, code.Value)
	}
	return values
}
