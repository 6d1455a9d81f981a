// loadtest гоняет сценарии оформления заказа против HTTP API и печатает сводку
// по задержкам и кодам ответов.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
	headerBranchID = "X-Branch-Id"

	codeTransportError = "transport_error"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutFulfil loadMode = "checkout-fulfil"
)

var fulfilmentSteps = []string{"received", "ready", "delivered"}

type config struct {
	addr        string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	fulfilRate  int
	branchID    string
	itemID      string
	price       decimal.Decimal
	quantity    int32
	restock     bool
	customerTag string
	adminID     string
	staffID     string
	outputPath  string
}

// amount - сумма оплаты одного сценария.
func (c config) amount() string {
	return c.price.Mul(decimal.NewFromInt32(c.quantity)).StringFixed(2)
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	if scenarioStats := c.methods["scenario"]; scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.methods {
		codes := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codes[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}
	return result
}

func parseConfig(args []string) (config, error) {
	var (
		cfg       config
		modeValue string
		price     string
	)

	flags := pflag.NewFlagSet("loadtest", pflag.ContinueOnError)
	flags.StringVar(&cfg.addr, "addr", "http://localhost:8080", "HTTP API base URL")
	flags.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; with --duration only used when explicitly set")
	flags.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	flags.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flags.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	flags.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-fulfil")
	flags.IntVar(&cfg.fulfilRate, "fulfil-rate", 0, "share of checkout scenarios carried to delivered, percent (0..100)")
	flags.StringVar(&cfg.branchID, "branch", "", "branch id for checkout (required)")
	flags.StringVar(&cfg.itemID, "item", "", "inventory item id (required)")
	flags.StringVar(&price, "price", "3.50", "item unit price")
	flags.Int32Var(&cfg.quantity, "quantity", 1, "units per checkout")
	flags.BoolVar(&cfg.restock, "restock", false, "upsert item stock for the whole run before starting")
	flags.StringVar(&cfg.customerTag, "customer-tag", "load", "customer id prefix")
	flags.StringVar(&cfg.adminID, "admin-id", "loadtest-admin", "admin user id for payment confirmations")
	flags.StringVar(&cfg.staffID, "staff-id", "loadtest-staff", "staff user id for transitions")
	flags.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	cfg.totalSet = flags.Changed("total")
	cfg.addr = strings.TrimRight(strings.TrimSpace(cfg.addr), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	cfg.price, err = decimal.NewFromString(strings.TrimSpace(price))
	if err != nil || !cfg.price.IsPositive() {
		return cfg, fmt.Errorf("price must be a positive decimal, got %q", price)
	}

	switch {
	case cfg.addr == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.fulfilRate < 0 || cfg.fulfilRate > 100:
		return cfg, errors.New("fulfil-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.branchID) == "":
		return cfg, errors.New("branch is required")
	case strings.TrimSpace(cfg.itemID) == "":
		return cfg, errors.New("item is required")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	case cfg.restock && cfg.duration > 0 && !cfg.totalSet:
		return cfg, errors.New("restock needs --total to size the stock")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutFulfil:
		return modeCheckoutFulfil, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	client := newAPIClient(cfg, &http.Client{Transport: &http.Transport{
		MaxIdleConns:        cfg.concurrency,
		MaxIdleConnsPerHost: cfg.concurrency,
		IdleConnTimeout:     30 * time.Second,
	}})

	if cfg.restock {
		stock := int64(cfg.total) * int64(cfg.quantity)
		if stock > math.MaxInt32 {
			stock = math.MaxInt32
		}
		if err := client.upsertInventory(context.Background(), int32(stock)); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "restock failed: %v\n", err)
			os.Exit(1)
		}
	}

	result := runLoad(cfg, client)
	printReport(result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

func runLoad(cfg config, client *apiClient) report {
	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()

	jobs := make(chan int, cfg.concurrency*2)
	var failures int64
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				if err := runScenario(client, cfg, id, runID, col); err != nil {
					atomic.AddInt64(&failures, 1)
				}
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}
	return result
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()
	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

// runScenario подтверждает оплату, оформляет заказ и при необходимости проводит
// его через все статусы до выдачи.
func runScenario(client *apiClient, cfg config, index int, runID string, col *collector) (err error) {
	scenarioStart := time.Now()
	code := "ok"
	defer func() {
		col.record("scenario", time.Since(scenarioStart), code, err == nil)
	}()

	customerID := fmt.Sprintf("%s-%s-%d", cfg.customerTag, runID, index)
	paymentID := fmt.Sprintf("lt-pay-%s-%d", runID, index)

	if err = client.call(col, "RecordPayment", http.MethodPost, "/internal/payments/confirmations", adminIdentity(cfg), map[string]any{
		"confirmation_id": paymentID,
		"amount":          cfg.amount(),
	}, nil); err != nil {
		code = "payment_failed"
		return err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err = client.call(col, "Checkout", http.MethodPost, "/v1/checkout", identity{userID: customerID, role: "customer"}, map[string]any{
		"branch_id":               cfg.branchID,
		"payment_confirmation_id": paymentID,
		"lines": []map[string]any{{
			"item_id":    cfg.itemID,
			"unit_price": cfg.price.StringFixed(2),
			"quantity":   cfg.quantity,
		}},
	}, &created); err != nil {
		code = "checkout_failed"
		return err
	}
	if created.ID == "" {
		code = "empty_order_id"
		return errors.New("checkout response returned empty order id")
	}

	if !shouldFulfil(cfg, index) {
		return nil
	}
	staff := identity{userID: cfg.staffID, role: "staff", branchID: cfg.branchID}
	for _, status := range fulfilmentSteps {
		if err = client.call(col, "Transition", http.MethodPost, "/v1/orders/"+created.ID+"/transitions", staff, map[string]string{"status": status}, nil); err != nil {
			code = "transition_failed"
			return err
		}
	}
	return nil
}

func shouldFulfil(cfg config, index int) bool {
	if cfg.mode == modeCheckoutFulfil {
		return true
	}
	if cfg.fulfilRate <= 0 {
		return false
	}
	if cfg.fulfilRate >= 100 {
		return true
	}
	return index%100 < cfg.fulfilRate
}

type identity struct {
	userID   string
	role     string
	branchID string
}

func adminIdentity(cfg config) identity {
	return identity{userID: cfg.adminID, role: "admin"}
}

type apiClient struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	cfg     config
}

func newAPIClient(cfg config, httpClient *http.Client) *apiClient {
	return &apiClient{baseURL: cfg.addr, timeout: cfg.timeout, http: httpClient, cfg: cfg}
}

// call выполняет запрос и записывает его задержку; не-2xx ответ считается ошибкой.
func (c *apiClient) call(col *collector, method, httpMethod, path string, who identity, body, out any) error {
	start := time.Now()
	status, err := c.do(context.Background(), httpMethod, path, who, body, out)
	code := codeTransportError
	if status > 0 {
		code = strconv.Itoa(status)
	}
	col.record(method, time.Since(start), code, err == nil)
	return err
}

func (c *apiClient) do(ctx context.Context, httpMethod, path string, who identity, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+path, payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, who.userID)
	req.Header.Set(headerUserRole, who.role)
	if who.branchID != "" {
		req.Header.Set(headerBranchID, who.branchID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("%s %s: %d %s", httpMethod, path, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *apiClient) upsertInventory(ctx context.Context, quantity int32) error {
	_, err := c.do(ctx, http.MethodPut, "/internal/inventory/"+c.cfg.itemID, adminIdentity(c.cfg), map[string]any{
		"name":     c.cfg.itemID,
		"price":    c.cfg.price.StringFixed(2),
		"quantity": quantity,
	}, nil)
	return err
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом --output.
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
	fmt.Println("Load test summary")
	fmt.Printf("mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	fmt.Printf("duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	fmt.Printf("scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != "scenario" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.ErrorRate, stats.LatencyMs.P95)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	if cfg.totalSet {
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
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

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
