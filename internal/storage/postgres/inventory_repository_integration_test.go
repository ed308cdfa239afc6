package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/giftshop/internal/domain"
)

func TestInventoryRepository_PostgresCatalogAndCodes(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := seedProductForIntegrationTest(t, store, "p-1", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.ErrorIs(t, repo.CreateProduct(ctx, domain.Product{ID: "p-1", Name: "dup"}), domain.ErrProductExists)

	product, err := repo.GetProduct(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, 2, product.StockCount)

	_, err = repo.GetProduct(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	products, err := repo.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)

	_, err = repo.AddCodes(ctx, "p-1", []string{"fresh-1", "p-1-CODE-0000"})
	require.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = repo.AddCodes(ctx, "missing", []string{"x"})
	require.ErrorIs(t, err, domain.ErrProductNotFound)

	report, err := repo.Report(ctx, "p-1")
	require.NoError(t, err)
	require.Equal(t, domain.InventoryReport{ProductID: "p-1", StockCount: 2, Available: 2}, report)
}

func TestInventoryRepository_PostgresStoresCiphertextOnly(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedProductForIntegrationTest(t, store, "p-1", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var plaintextRows int
	err := store.DB().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM gift_codes WHERE position('p-1-CODE-0000' in encode(value_ciphertext, 'escape')) > 0
	`).Scan(&plaintextRows)
	require.NoError(t, err)
	require.Zero(t, plaintextRows)
}
