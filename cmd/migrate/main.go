package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/giftshop/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type config struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
}

var errUnsupportedDirection = errors.New("unsupported direction")

func parseConfig(args []string, lookup func(string) string) (config, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var cfg config
	fs.StringVar(&cfg.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&cfg.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: GIFTSHOP_POSTGRES_DSN)")
	fs.DurationVar(&cfg.timeout, "timeout", defaultTimeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.direction = strings.ToLower(strings.TrimSpace(cfg.direction))
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	if cfg.dsn == "" {
		cfg.dsn = strings.TrimSpace(lookup("GIFTSHOP_POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, errors.New("GIFTSHOP_POSTGRES_DSN (or -dsn) is required")
	}
	if cfg.steps < 0 {
		return config{}, errors.New("steps must be >= 0")
	}
	if cfg.timeout <= 0 {
		cfg.timeout = defaultTimeout
	}
	return cfg, nil
}

// run применяет миграции в выбранном направлении и печатает итоговую версию схемы.
func run(ctx context.Context, m migrator, cfg config, out io.Writer) error {
	switch cfg.direction {
	case "up":
		if err := m.MigrateUp(ctx, cfg.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
	case "down":
		steps := cfg.steps
		if steps <= 0 {
			steps = 1
		}
		if err := m.MigrateDown(ctx, steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
	case "status":
	default:
		return fmt.Errorf("%w: %s (use up|down|status)", errUnsupportedDirection, cfg.direction)
	}

	version, count, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "migrate %s ok: version=%d applied=%d\n", cfg.direction, version, count)
	return err
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	logger := log.WithFields(log.Fields{"component": "migrate", "direction": cfg.direction, "steps": cfg.steps})
	if err := run(ctx, store, cfg, os.Stdout); err != nil {
		logger.WithError(err).Error("migration failed")
		_ = store.Close()
		fail("%v", err)
	}
	logger.Info("migration finished")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
