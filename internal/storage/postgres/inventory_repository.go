package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/giftshop/internal/codecrypt"
	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

const productColumns = `id, name, description, price_minor, stock_count, image_url, created_at, updated_at`

// inventoryRepository хранит значения кодов только в зашифрованном виде.
// Уникальность проверяется по HMAC-отпечатку значения.
type inventoryRepository struct {
	db     *sql.DB
	cipher *codecrypt.Cipher
}

// NewInventoryRepository создаёт PostgreSQL-реализацию InventoryRepository.
func NewInventoryRepository(store *Store, cipher *codecrypt.Cipher) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB(), cipher: cipher}
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceMinor, &p.StockCount, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *inventoryRepository) CreateProduct(ctx context.Context, product domain.Product) error {
	if errs := product.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,0,$5,$6,$6)
	`, product.ID, product.Name, product.Description, product.PriceMinor, product.ImageURL, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		return classify(fmt.Errorf("insert product: %w", err))
	}
	return nil
}

func (r *inventoryRepository) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	product, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, classify(fmt.Errorf("select product: %w", err))
	}
	return product, nil
}

func (r *inventoryRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, classify(fmt.Errorf("list products: %w", err))
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// AddCodes вставляет партию и увеличивает stock_count в одной транзакции.
func (r *inventoryRepository) AddCodes(ctx context.Context, productID string, values []string) (_ int, err error) {
	if len(values) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked string
	if err = tx.QueryRowContext(ctx, `SELECT id FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, classify(fmt.Errorf("lock product: %w", err))
	}

	now := time.Now().UTC()
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			err = domain.ErrCodeValueRequired
			return 0, err
		}

		var sealed []byte
		sealed, err = r.cipher.Seal(productID, value)
		if err != nil {
			return 0, fmt.Errorf("seal code: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO gift_codes (id, product_id, value_ciphertext, value_digest, status, created_at, updated_at)
			VALUES ($1,$2,$3,$4,'available',$5,$5)
		`, uuid.NewString(), productID, sealed, r.cipher.Digest(value), now)
		if err != nil {
			if isUniqueViolation(err) {
				err = domain.ErrDuplicateCode
				return 0, err
			}
			return 0, classify(fmt.Errorf("insert gift code: %w", err))
		}
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE products SET stock_count = stock_count + $2, updated_at = $3 WHERE id = $1
	`, productID, len(values), now); err != nil {
		return 0, classify(fmt.Errorf("increment stock: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("commit add codes: %w", err))
	}
	return len(values), nil
}

func (r *inventoryRepository) ListCodesByOrder(ctx context.Context, orderID string) ([]domain.GiftCode, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, product_id, value_ciphertext, status, order_id, created_at, updated_at
		FROM gift_codes
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, classify(fmt.Errorf("list codes by order: %w", err))
	}
	defer rows.Close()

	codes := make([]domain.GiftCode, 0)
	for rows.Next() {
		var (
			code   domain.GiftCode
			sealed []byte
			status string
		)
		if err := rows.Scan(&code.ID, &code.ProductID, &sealed, &status, &code.OrderID, &code.CreatedAt, &code.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan gift code: %w", err)
		}
		code.Status = domain.CodeStatus(status)
		code.Value, err = r.cipher.Open(code.ProductID, sealed)
		if err != nil {
			return nil, fmt.Errorf("open gift code %s: %w", code.ID, err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gift codes: %w", err)
	}
	return codes, nil
}

func (r *inventoryRepository) Report(ctx context.Context, productID string) (domain.InventoryReport, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	report := domain.InventoryReport{ProductID: productID}
	err := r.db.QueryRowContext(ctx, `
		SELECT p.stock_count,
		       COUNT(c.id) FILTER (WHERE c.status = 'available'),
		       COUNT(c.id) FILTER (WHERE c.status = 'sold')
		FROM products p
		LEFT JOIN gift_codes c ON c.product_id = p.id
		WHERE p.id = $1
		GROUP BY p.stock_count
	`, productID).Scan(&report.StockCount, &report.Available, &report.Sold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryReport{}, domain.ErrProductNotFound
		}
		return domain.InventoryReport{}, classify(fmt.Errorf("inventory report: %w", err))
	}
	return report, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
