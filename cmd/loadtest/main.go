package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vladislavdragonenkov/giftshop/internal/payments"
)

const (
	webhookPath       = "/webhooks/payments"
	signatureHeader   = "Stripe-Signature"
	defaultAmount     = int64(5000)
	statusTransportKO = "transport_error"
)

type config struct {
	baseURL     string
	secret      string
	productID   string
	buyers      int
	quantity    int
	duplicates  int
	concurrency int
	timeout     time.Duration
	amountMinor int64
	buyerTag    string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt        time.Time        `json:"started_at"`
	DurationSeconds  float64          `json:"duration_seconds"`
	Requests         int64            `json:"requests"`
	RPS              float64          `json:"rps"`
	HTTPCodes        map[string]int64 `json:"http_codes"`
	Outcomes         map[string]int64 `json:"outcomes"`
	LatencyMs        latencySummary   `json:"latency_ms"`
	StockBefore      int              `json:"stock_before"`
	StockAfter       int              `json:"stock_after"`
	FulfilledOrders  int              `json:"fulfilled_orders"`
	CodesSold        int              `json:"codes_sold"`
	Oversold         bool             `json:"oversold"`
	DuplicateOrders  int              `json:"duplicate_orders"`
	StockConsistency bool             `json:"stock_consistency"`
}

// webhookResponse — тело ответа POST /webhooks/payments.
type webhookResponse struct {
	Received  bool   `json:"received"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
}

type productView struct {
	ID         string `json:"id"`
	StockCount int    `json:"stock_count"`
}

type collector struct {
	mu        sync.Mutex
	requests  int64
	httpCodes map[string]int64
	outcomes  map[string]int64
	latencies []float64
	// orders хранит заказы по ссылке оплаты: у каждой ссылки должен быть ровно один заказ.
	orders map[string]map[string]struct{}
}

func newCollector() *collector {
	return &collector{
		httpCodes: make(map[string]int64),
		outcomes:  make(map[string]int64),
		orders:    make(map[string]map[string]struct{}),
	}
}

func (c *collector) record(latency time.Duration, httpCode string, resp webhookResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	c.httpCodes[httpCode]++
	if resp.Status != "" {
		c.outcomes[resp.Status]++
	}
	if resp.OrderID != "" && resp.Reference != "" {
		byRef, ok := c.orders[resp.Reference]
		if !ok {
			byRef = make(map[string]struct{})
			c.orders[resp.Reference] = byRef
		}
		byRef[resp.OrderID] = struct{}{}
	}
	c.latencies = append(c.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Requests:        c.requests,
		HTTPCodes:       make(map[string]int64, len(c.httpCodes)),
		Outcomes:        make(map[string]int64, len(c.outcomes)),
		LatencyMs:       buildLatencySummary(c.latencies),
	}
	for code, count := range c.httpCodes {
		result.HTTPCodes[code] = count
	}
	for outcome, count := range c.outcomes {
		result.Outcomes[outcome] = count
	}
	for _, orders := range c.orders {
		result.FulfilledOrders++
		if len(orders) > 1 {
			result.DuplicateOrders++
		}
	}
	if duration > 0 {
		result.RPS = float64(result.Requests) / duration.Seconds()
	}
	return result
}

func parseConfig() (config, error) {
	var cfg config

	flag.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "giftshop-service HTTP base URL")
	flag.StringVar(&cfg.secret, "secret", "", "webhook signing secret (fallback: GIFTSHOP_STRIPE_WEBHOOK_SECRET)")
	flag.StringVar(&cfg.productID, "product", "", "product id under load")
	flag.IntVar(&cfg.buyers, "buyers", 200, "number of distinct paid checkouts")
	flag.IntVar(&cfg.quantity, "quantity", 1, "codes per checkout")
	flag.IntVar(&cfg.duplicates, "duplicates", 1, "extra redeliveries of every notification")
	flag.IntVar(&cfg.concurrency, "concurrency", 50, "number of concurrent requests")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "per-request timeout")
	flag.Int64Var(&cfg.amountMinor, "amount-minor", defaultAmount, "paid amount per checkout in minor units")
	flag.StringVar(&cfg.buyerTag, "buyer-tag", "load", "buyer id prefix")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	if strings.TrimSpace(cfg.secret) == "" {
		cfg.secret = os.Getenv("GIFTSHOP_STRIPE_WEBHOOK_SECRET")
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("url is required")
	case strings.TrimSpace(cfg.secret) == "":
		return cfg, errors.New("secret is required (-secret or GIFTSHOP_STRIPE_WEBHOOK_SECRET)")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.buyers <= 0:
		return cfg, errors.New("buyers must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.duplicates < 0:
		return cfg, errors.New("duplicates must be >= 0")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.amountMinor < 0:
		return cfg, errors.New("amount-minor must be >= 0")
	case strings.TrimSpace(cfg.buyerTag) == "":
		return cfg, errors.New("buyer-tag is required")
	}

	return cfg, nil
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.timeout}
	result, err := run(context.Background(), client, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.Oversold || result.DuplicateOrders > 0 || !result.StockConsistency {
		os.Exit(1)
	}
}

// run отправляет buyers подписанных уведомлений (каждое duplicates раз повторно) и сверяет
// проданные коды с изменением остатка товара.
func run(ctx context.Context, client *http.Client, cfg config) (report, error) {
	before, err := fetchProduct(ctx, client, cfg)
	if err != nil {
		return report{}, fmt.Errorf("read stock before run: %w", err)
	}

	startedAt := time.Now()
	runID := strconv.FormatInt(startedAt.UnixNano(), 36)
	col := newCollector()

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(cfg.concurrency)
	for buyer := 0; buyer < cfg.buyers; buyer++ {
		payload, err := checkoutCompletedPayload(cfg, runID, buyer)
		if err != nil {
			return report{}, err
		}
		for attempt := 0; attempt <= cfg.duplicates; attempt++ {
			group.Go(func() error {
				sendNotification(groupCtx, client, cfg, payload, col)
				return nil
			})
		}
	}
	_ = group.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))

	after, err := fetchProduct(ctx, client, cfg)
	if err != nil {
		return result, fmt.Errorf("read stock after run: %w", err)
	}
	result.StockBefore = before.StockCount
	result.StockAfter = after.StockCount
	result.CodesSold = result.FulfilledOrders * cfg.quantity
	result.Oversold = result.CodesSold > before.StockCount
	result.StockConsistency = before.StockCount-after.StockCount == result.CodesSold

	return result, nil
}

func sendNotification(ctx context.Context, client *http.Client, cfg config, payload []byte, col *collector) {
	start := time.Now()
	signature := payments.SignPayload(payload, cfg.secret, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+webhookPath, bytes.NewReader(payload))
	if err != nil {
		col.record(time.Since(start), statusTransportKO, webhookResponse{})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signature)

	resp, err := client.Do(req)
	if err != nil {
		col.record(time.Since(start), statusTransportKO, webhookResponse{})
		return
	}
	defer resp.Body.Close()

	var body webhookResponse
	if resp.StatusCode == http.StatusOK {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	col.record(time.Since(start), strconv.Itoa(resp.StatusCode), body)
}

// checkoutCompletedPayload строит событие checkout.session.completed в формате провайдера.
func checkoutCompletedPayload(cfg config, runID string, buyer int) ([]byte, error) {
	sessionID := fmt.Sprintf("cs_load_%s_%d", runID, buyer)
	event := map[string]any{
		"id":          "evt_" + sessionID,
		"object":      "event",
		"type":        "checkout.session.completed",
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"data": map[string]any{
			"object": map[string]any{
				"id":             sessionID,
				"object":         "checkout.session",
				"payment_status": "paid",
				"amount_total":   cfg.amountMinor,
				"customer_email": fmt.Sprintf("%s-%d@example.com", cfg.buyerTag, buyer),
				"metadata": map[string]string{
					payments.MetadataBuyerID:   fmt.Sprintf("%s-%s-%d", cfg.buyerTag, runID, buyer),
					payments.MetadataProductID: cfg.productID,
					payments.MetadataQuantity:  strconv.Itoa(cfg.quantity),
				},
			},
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal checkout event: %w", err)
	}
	return payload, nil
}

func fetchProduct(ctx context.Context, client *http.Client, cfg config) (productView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.baseURL+"/api/products/"+cfg.productID, nil)
	if err != nil {
		return productView{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return productView{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return productView{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var product productView
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return productView{}, fmt.Errorf("decode product: %w", err)
	}
	return product, nil
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(result report, cfg config) {
	fmt.Println("Flash sale summary")
	fmt.Printf("product=%s buyers=%d quantity=%d duplicates=%d requests=%d\n",
		cfg.productID, cfg.buyers, cfg.quantity, cfg.duplicates, result.Requests)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.LatencyMs.Min,
		result.LatencyMs.Avg,
		result.LatencyMs.P50,
		result.LatencyMs.P95,
		result.LatencyMs.P99,
		result.LatencyMs.Max,
	)
	fmt.Printf("stock before=%d after=%d sold=%d orders=%d oversold=%t duplicate_orders=%d consistent=%t\n",
		result.StockBefore,
		result.StockAfter,
		result.CodesSold,
		result.FulfilledOrders,
		result.Oversold,
		result.DuplicateOrders,
		result.StockConsistency,
	)

	for _, line := range sortedCounts("http", result.HTTPCodes) {
		fmt.Println(line)
	}
	for _, line := range sortedCounts("outcome", result.Outcomes) {
		fmt.Println(line)
	}
}

func sortedCounts(prefix string, counts map[string]int64) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s %s=%d", prefix, key, counts[key]))
	}
	return lines
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
