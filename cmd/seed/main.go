package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/codecrypt"
	"github.com/vladislavdragonenkov/giftshop/internal/domain"
	"github.com/vladislavdragonenkov/giftshop/internal/storage/postgres"
)

const defaultTimeout = 2 * time.Minute

//go:embed catalog.json
var defaultCatalog []byte

type config struct {
	dsn         string
	masterKey   string
	catalogPath string
	codeLength  int
	migrate     bool
	timeout     time.Duration
}

// catalogEntry — товар в JSON-каталоге. Цена задаётся строкой в основных единицах ("19.99").
type catalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
	Stock       int    `json:"stock"`
}

type seedStats struct {
	created int
	skipped int
	codes   int
}

func parseConfig(args []string, lookup func(string) string) (config, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: GIFTSHOP_POSTGRES_DSN)")
	fs.StringVar(&cfg.masterKey, "master-key", "", "base64 code master key (fallback: GIFTSHOP_CODE_MASTER_KEY)")
	fs.StringVar(&cfg.catalogPath, "catalog", "", "path to JSON catalog (empty = built-in sample catalog)")
	fs.IntVar(&cfg.codeLength, "code-length", codecrypt.DefaultCodeLength, "length of generated gift codes")
	fs.BoolVar(&cfg.migrate, "migrate", true, "apply migrations before seeding")
	fs.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = lookup("GIFTSHOP_POSTGRES_DSN")
	}
	if strings.TrimSpace(cfg.masterKey) == "" {
		cfg.masterKey = lookup("GIFTSHOP_CODE_MASTER_KEY")
	}
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	cfg.masterKey = strings.TrimSpace(cfg.masterKey)

	switch {
	case cfg.dsn == "":
		return config{}, errors.New("GIFTSHOP_POSTGRES_DSN (or -dsn) is required")
	case cfg.masterKey == "":
		return config{}, errors.New("GIFTSHOP_CODE_MASTER_KEY (or -master-key) is required")
	case cfg.codeLength < 8:
		return config{}, errors.New("code-length must be >= 8")
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}
	return cfg, nil
}

// parseCatalog разбирает каталог и переводит цены в минимальные единицы.
func parseCatalog(raw []byte) ([]domain.Product, []int, error) {
	var entries []catalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil, errors.New("catalog is empty")
	}

	products := make([]domain.Product, 0, len(entries))
	stock := make([]int, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" || strings.TrimSpace(entry.Name) == "" {
			return nil, nil, fmt.Errorf("catalog entry %d: id and name are required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, nil, fmt.Errorf("catalog entry %d: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}

		priceMinor, err := priceToMinor(entry.Price)
		if err != nil {
			return nil, nil, fmt.Errorf("catalog entry %q: %w", id, err)
		}
		if entry.Stock < 0 {
			return nil, nil, fmt.Errorf("catalog entry %q: stock must be >= 0", id)
		}

		products = append(products, domain.Product{
			ID:          id,
			Name:        strings.TrimSpace(entry.Name),
			Description: strings.TrimSpace(entry.Description),
			PriceMinor:  priceMinor,
			ImageURL:    strings.TrimSpace(entry.ImageURL),
		})
		stock = append(stock, entry.Stock)
	}
	return products, stock, nil
}

// priceToMinor переводит "19.99" в 1999. Больше двух знаков после точки считается ошибкой, округления нет.
func priceToMinor(raw string) (int64, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid price %q", raw)
	}
	if price.IsNegative() {
		return 0, fmt.Errorf("price %q must be >= 0", raw)
	}
	minor := price.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("price %q has more than two decimal places", raw)
	}
	return minor.IntPart(), nil
}

// seedCatalog создаёт товары и загружает для каждого stock случайных кодов.
// Уже существующие товары пропускаются вместе с их кодами, поэтому повторный запуск безопасен.
func seedCatalog(ctx context.Context, inventory domain.InventoryRepository, products []domain.Product, stock []int, codeLength int, logger *log.Entry) (seedStats, error) {
	var stats seedStats
	for i, product := range products {
		entry := logger.WithField("product_id", product.ID)

		if err := inventory.CreateProduct(ctx, product); err != nil {
			if errors.Is(err, domain.ErrProductExists) {
				entry.Info("product already exists, skipping")
				stats.skipped++
				continue
			}
			return stats, fmt.Errorf("create product %s: %w", product.ID, err)
		}
		stats.created++

		if stock[i] == 0 {
			continue
		}
		codes, err := codecrypt.GenerateCodes(stock[i], codeLength)
		if err != nil {
			return stats, fmt.Errorf("generate codes for %s: %w", product.ID, err)
		}
		added, err := inventory.AddCodes(ctx, product.ID, codes)
		if err != nil {
			return stats, fmt.Errorf("add codes for %s: %w", product.ID, err)
		}
		stats.codes += added
		entry.WithField("codes", added).Info("product seeded")
	}
	return stats, nil
}

func loadCatalog(path string) ([]byte, error) {
	if path == "" {
		return defaultCatalog, nil
	}
	return os.ReadFile(path)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "seed")

	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	raw, err := loadCatalog(cfg.catalogPath)
	if err != nil {
		fail("read catalog: %v", err)
	}
	products, stock, err := parseCatalog(raw)
	if err != nil {
		fail("%v", err)
	}

	cipher, err := codecrypt.NewFromBase64(cfg.masterKey)
	if err != nil {
		fail("init code cipher: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if cfg.migrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			fail("apply migrations: %v", err)
		}
	}

	stats, err := seedCatalog(ctx, postgres.NewInventoryRepository(store, cipher), products, stock, cfg.codeLength, logger)
	if err != nil {
		_ = store.Close()
		fail("seed failed: %v", err)
	}

	logger.WithFields(log.Fields{
		"created": stats.created,
		"skipped": stats.skipped,
		"codes":   stats.codes,
	}).Info("seeding finished")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
