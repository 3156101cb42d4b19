package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/finnet-api/internal/auth"
	"github.com/ksred/finnet-api/internal/database"
	"github.com/ksred/finnet-api/internal/detection"
	"github.com/ksred/finnet-api/internal/market"
	"github.com/ksred/finnet-api/internal/netting"
	"github.com/ksred/finnet-api/internal/session"
	"github.com/ksred/finnet-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"
)

const (
	minLedgers    = 3
	maxLedgers    = 12
	tradesPer     = 500
	sensitivity   = 0.05
	numWorkers    = 3
	serverAddress = "http://localhost:8080"
	jwtSecret     = "finnet-secret-key"
	detectorSeed  = 42
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations and convert to float for the quantile estimates
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})
	samples := make([]float64, len(rs.durations))
	for i, d := range rs.durations {
		samples[i] = float64(d)
	}

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]
	mean = time.Duration(stat.Mean(samples, nil))
	median = time.Duration(stat.Quantile(0.5, stat.Empirical, samples, nil))
	p95 = time.Duration(stat.Quantile(0.95, stat.Empirical, samples, nil))
	p99 = time.Duration(stat.Quantile(0.99, stat.Empirical, samples, nil))

	return
}

// simulationClient handles HTTP communication with the settlement API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":    {name: "Authentication"},
			"create":  {name: "Create Ledger"},
			"scan":    {name: "Anomaly Scan"},
			"netting": {name: "Run Netting"},
			"report":  {name: "Get Report"},
		},
	}

	// Get auth token
	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("auth", start, failed)
	}()

	credentials := map[string]string{
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	failed = false
	return result.Token, nil
}

// do issues an authenticated JSON request and decodes the envelope's data
// field into out
func (sc *simulationClient) do(method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.New().String())
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// createLedger generates a synthetic ledger on the server
// Returns the ledger ID on success
func (sc *simulationClient) createLedger(trades int) (string, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("create", start, failed)
	}()

	var result market.LedgerResponse
	err := sc.do(http.MethodPost, "/api/v1/ledgers", map[string]interface{}{
		"trades":           trades,
		"inject_anomalies": true,
	}, &result)
	if err != nil {
		return "", err
	}
	if result.LedgerID == "" {
		return "", fmt.Errorf("no ledger ID in response")
	}

	failed = false
	return result.LedgerID, nil
}

// scanLedger runs the anomaly scan over a stored ledger
// Returns the number of flagged trades
func (sc *simulationClient) scanLedger(ledgerID string) (int, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("scan", start, failed)
	}()

	var result detection.ScanResponse
	err := sc.do(http.MethodPost, "/api/v1/internal/scan/"+ledgerID, map[string]interface{}{
		"sensitivity": sensitivity,
	}, &result)
	if err != nil {
		return 0, err
	}

	failed = false
	return result.AnomalyCount, nil
}

// netLedger runs the netting engine over a scanned ledger
func (sc *simulationClient) netLedger(ledgerID string) (*types.SettlementReport, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("netting", start, failed)
	}()

	var result netting.NettingResponse
	if err := sc.do(http.MethodPost, "/api/v1/internal/netting/"+ledgerID, nil, &result); err != nil {
		return nil, err
	}
	if result.Report == nil {
		return nil, fmt.Errorf("no report in response")
	}

	failed = false
	return result.Report, nil
}

// getReport re-fetches the stored settlement report for a ledger
func (sc *simulationClient) getReport(ledgerID string) (*types.SettlementReport, error) {
	start := time.Now()
	failed := true
	defer func() {
		sc.record("report", start, failed)
	}()

	var report types.SettlementReport
	if err := sc.do(http.MethodGet, "/api/v1/ledgers/"+ledgerID+"/report", nil, &report); err != nil {
		return nil, err
	}

	failed = false
	return &report, nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// pipelineResult captures the outcome of one full ledger pipeline run
type pipelineResult struct {
	ledgerID  string
	anomalies int
	report    *types.SettlementReport
}

// main runs the settlement pipeline simulation
// It starts a local API server and pushes ledgers through generate → scan → net
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	// Initialize simulation client
	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetLedgers := rand.Intn(maxLedgers-minLedgers) + minLedgers
	log.Info().Int("target_ledgers", targetLedgers).Msg("Starting simulation")

	resultsChan := make(chan *pipelineResult, targetLedgers)
	jobs := make(chan int, targetLedgers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				result, err := runPipeline(workerID, simClient)
				if err != nil {
					log.Error().Err(err).Int("worker_id", workerID).Msg("Pipeline run failed")
					continue
				}
				resultsChan <- result
			}
		}(i)
	}

	for i := 0; i < targetLedgers; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	close(resultsChan)

	var results []*pipelineResult
	for result := range resultsChan {
		results = append(results, result)
	}

	printSummary(targetLedgers, results)
	simClient.printPerformanceStats()
}

// runPipeline pushes a single ledger through the full pipeline:
// generate → anomaly scan → netting → report readback
func runPipeline(workerID int, simClient *simulationClient) (*pipelineResult, error) {
	ledgerID, err := simClient.createLedger(tradesPer)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	log.Info().
		Int("worker_id", workerID).
		Str("ledger_id", ledgerID).
		Msg("Ledger created")

	anomalies, err := simClient.scanLedger(ledgerID)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	log.Info().
		Int("worker_id", workerID).
		Str("ledger_id", ledgerID).
		Int("anomalies", anomalies).
		Msg("Ledger scanned")

	if _, err := simClient.netLedger(ledgerID); err != nil {
		return nil, fmt.Errorf("net ledger: %w", err)
	}

	// Read the report back through the public route to exercise the cache
	report, err := simClient.getReport(ledgerID)
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	log.Info().
		Int("worker_id", workerID).
		Str("ledger_id", ledgerID).
		Float64("gross_volume", report.GrossVolume).
		Float64("net_volume", report.NetVolume).
		Float64("savings_pct", report.SavingsPct).
		Msg("Ledger netted")

	return &pipelineResult{ledgerID: ledgerID, anomalies: anomalies, report: report}, nil
}

// printSummary prints the simulation totals and the settlement instructions
// from the last completed run
func printSummary(target int, results []*pipelineResult) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SETTLEMENT PIPELINE SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	totalAnomalies := 0
	var gross, net float64
	savings := make([]float64, 0, len(results))
	for _, result := range results {
		totalAnomalies += result.anomalies
		gross += result.report.GrossVolume
		net += result.report.NetVolume
		savings = append(savings, result.report.SavingsPct)
	}
	sort.Float64s(savings)

	fmt.Printf(`
Pipeline Statistics
-------------------
Target Ledgers:    %d
Completed:         %d
Trades per Ledger: %d
Anomalies Flagged: %d
Gross Obligation:  $%.2f
Net Settlement:    $%.2f
`, target, len(results), tradesPer, totalAnomalies, gross, net)

	if len(savings) > 0 {
		fmt.Printf("Liquidity Saved:   %.2f%% mean (%.2f%% median)\n",
			stat.Mean(savings, nil),
			stat.Quantile(0.5, stat.Empirical, savings, nil))
	}

	if len(results) > 0 {
		last := results[len(results)-1]
		fmt.Printf("\nFinal Settlement Instructions (%s)\n", last.ledgerID)
		fmt.Println(strings.Repeat("-", 80))
		fmt.Printf("%-16s %14s %14s %14s %20s\n", "Entity", "To Pay", "To Receive", "Net", "Status")
		for _, pos := range last.report.Positions {
			fmt.Printf("%-16s %14.2f %14.2f %14.2f %20s\n",
				pos.Entity, pos.ToPay, pos.ToReceive, pos.NetPosition, pos.Status)
		}
	}

	fmt.Println(strings.Repeat("=", 80))
}

// startServer initializes and starts the settlement API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.NewDatabase("finnet-simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	authService := auth.NewService(jwtSecret)
	store := session.NewStore(db)
	marketService := market.NewService(store, detectorSeed)
	detectionService := detection.NewService(store, detection.NewIsolationForest(detectorSeed))
	nettingService := netting.NewService(store)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	marketHandlers := market.NewGinHandlers(marketService)
	detectionHandlers := detection.NewGinHandlers(detectionService)
	nettingHandlers := netting.NewGinHandlers(nettingService)

	// Setup routes
	setupRoutes(router, authHandlers, marketHandlers, detectionHandlers, nettingHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality, auth middleware left off for the local run
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	marketHandlers *market.GinHandlers,
	detectionHandlers *detection.GinHandlers,
	nettingHandlers *netting.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Ledger routes
		ledgers := v1.Group("/ledgers")
		{
			ledgers.POST("", marketHandlers.CreateLedgerHandler())
			ledgers.GET("/:ledger_id", marketHandlers.GetLedgerHandler())
			ledgers.GET("/:ledger_id/report", nettingHandlers.GetReportHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		{
			internal.POST("/scan/:ledger_id", detectionHandlers.ScanLedgerHandler())
			internal.POST("/netting/:ledger_id", nettingHandlers.NetLedgerHandler())
		}
	}
}
