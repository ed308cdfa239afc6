package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

type inventoryRepository struct {
	s *Store
}

// CreateProduct сохраняет товар. Запас всегда начинается с нуля и растёт только через AddCodes.
func (r *inventoryRepository) CreateProduct(_ context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.products[product.ID]; exists {
		return domain.ErrProductExists
	}
	now := time.Now().UTC()
	product.StockCount = 0
	product.CreatedAt = now
	product.UpdatedAt = now
	r.s.products[product.ID] = &product
	return nil
}

func (r *inventoryRepository) GetProduct(_ context.Context, id string) (domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	product, ok := r.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return *product, nil
}

func (r *inventoryRepository) ListProducts(_ context.Context) ([]domain.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	result := make([]domain.Product, 0, len(r.s.products))
	for _, product := range r.s.products {
		result = append(result, *product)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// AddCodes добавляет партию кодов целиком или не добавляет ничего.
func (r *inventoryRepository) AddCodes(_ context.Context, productID string, values []string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	product, ok := r.s.products[productID]
	if !ok {
		return 0, domain.ErrProductNotFound
	}

	batch := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			return 0, domain.ErrCodeValueRequired
		}
		if _, dup := batch[value]; dup {
			return 0, fmt.Errorf("%w: duplicate in batch", domain.ErrDuplicateCode)
		}
		if _, exists := r.s.codesByValue[value]; exists {
			return 0, domain.ErrDuplicateCode
		}
		batch[value] = struct{}{}
	}

	now := time.Now().UTC()
	for _, value := range values {
		value = strings.TrimSpace(value)
		code := &domain.GiftCode{
			ID:        uuid.NewString(),
			ProductID: productID,
			Value:     value,
			Status:    domain.CodeStatusAvailable,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.s.codes[code.ID] = code
		r.s.codeOrder = append(r.s.codeOrder, code.ID)
		r.s.codesByValue[value] = code.ID
	}
	product.StockCount += len(values)
	product.UpdatedAt = now

	return len(values), nil
}

func (r *inventoryRepository) ListCodesByOrder(_ context.Context, orderID string) ([]domain.GiftCode, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []domain.GiftCode
	for _, id := range r.s.codeOrder {
		code := r.s.codes[id]
		if code.OrderID == orderID {
			result = append(result, *code)
		}
	}
	return result, nil
}

func (r *inventoryRepository) Report(_ context.Context, productID string) (domain.InventoryReport, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	product, ok := r.s.products[productID]
	if !ok {
		return domain.InventoryReport{}, domain.ErrProductNotFound
	}

	report := domain.InventoryReport{ProductID: productID, StockCount: product.StockCount}
	for _, code := range r.s.codes {
		if code.ProductID != productID {
			continue
		}
		switch code.Status {
		case domain.CodeStatusAvailable:
			report.Available++
		case domain.CodeStatusSold:
			report.Sold++
		}
	}
	return report, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
