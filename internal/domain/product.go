package domain

import "time"

// Product — товар каталога. StockCount кэширует число доступных кодов
// и меняется только внутри той же транзакции, что и статусы кодов.
type Product struct {
	ID          string
	Name        string
	Description string
	PriceMinor  int64
	StockCount  int
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate проверяет поля товара перед сохранением.
func (p *Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceInvalid)
	}
	if p.StockCount < 0 {
		errs = append(errs, ErrInventoryDrift)
	}

	return errs
}
