package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enerdesk/calls-api/internal/auth"
	"github.com/enerdesk/calls-api/internal/calls"
	"github.com/enerdesk/calls-api/internal/ccee"
	"github.com/enerdesk/calls-api/internal/clock"
	"github.com/enerdesk/calls-api/internal/database"
	"github.com/enerdesk/calls-api/internal/locks"
	"github.com/enerdesk/calls-api/internal/proposals"
	"github.com/enerdesk/calls-api/internal/registration"
	"github.com/enerdesk/calls-api/internal/resolution"
	"github.com/enerdesk/calls-api/internal/types"
	"github.com/enerdesk/calls-api/pkg/middleware"
)

const (
	numCalls          = 8
	numCounterparties = 6
	serverAddress     = "http://localhost:8080"
	jwtSecret         = "calls-secret-key"
)

var (
	callTypes  = []string{"BUY", "SELL"}
	categories = []string{"CONVENTIONAL", "INCENTIVIZED", "RENEWABLE"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
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

// calculate computes min, max, mean, median, p95 and p99 from recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the calls API
type simulationClient struct {
	baseURL string
	client  *http.Client
	tokens  map[string]string // actor -> JWT
	stats   map[string]*routeStats
	mu      sync.Mutex
}

func newSimulationClient() *simulationClient {
	return &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		tokens:  make(map[string]string),
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Call"},
			"publish":  {name: "Publish Call"},
			"submit":   {name: "Submit Proposal"},
			"close":    {name: "Close Call"},
			"register": {name: "Register Call"},
		},
	}
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// authenticate fetches and caches a JWT for the given credentials
func (sc *simulationClient) authenticate(apiKey, apiSecret string) error {
	start := time.Now()

	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		sc.record("auth", start, true)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.record("auth", start, true)
		return fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.record("auth", start, true)
		return err
	}

	sc.mu.Lock()
	sc.tokens[apiKey] = result.Data.Token
	sc.mu.Unlock()
	sc.record("auth", start, false)
	return nil
}

// doJSON performs an authenticated JSON request and decodes the response data
func (sc *simulationClient) doJSON(route, method, path, actor string, payload interface{}, out interface{}) error {
	start := time.Now()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		sc.record(route, start, true)
		return err
	}
	sc.mu.Lock()
	token := sc.tokens[actor]
	sc.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.record(route, start, true)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		sc.record(route, start, true)
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.record(route, start, true)
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	sc.record(route, start, false)

	if out == nil {
		return nil
	}
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return err
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) createCall(actor string) (*types.Call, error) {
	now := time.Now()
	payload := map[string]interface{}{
		"type":            callTypes[rand.Intn(len(callTypes))],
		"energy_category": categories[rand.Intn(len(categories))],
		"title":           fmt.Sprintf("Supply window %d", rand.Intn(10000)),
		"description":     "Simulated procurement call",
		"quantity":        float64(rand.Intn(900) + 100),
		"supply_start":    now.AddDate(0, 1, 0),
		"supply_end":      now.AddDate(0, 7, 0),
		"deadline":        now.Add(24 * time.Hour),
	}

	var call types.Call
	if err := sc.doJSON("create", "POST", "/api/v1/calls", actor, payload, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (sc *simulationClient) publishCall(actor, callID string) error {
	return sc.doJSON("publish", "POST", "/api/v1/calls/"+callID+"/publish", actor, struct{}{}, nil)
}

func (sc *simulationClient) submitProposal(actor, callID string, price, quantity float64) (*types.Proposal, error) {
	payload := map[string]interface{}{
		"price":    price,
		"quantity": quantity,
		"comments": "Simulated offer",
	}

	var proposal types.Proposal
	if err := sc.doJSON("submit", "POST", "/api/v1/calls/"+callID+"/proposals", actor, payload, &proposal); err != nil {
		return nil, err
	}
	return &proposal, nil
}

func (sc *simulationClient) closeCall(actor, callID string, winningProposalID *string) (*types.Call, error) {
	payload := map[string]interface{}{}
	if winningProposalID != nil {
		payload["winning_proposal_id"] = *winningProposalID
	}

	var call types.Call
	if err := sc.doJSON("close", "POST", "/api/v1/internal/calls/"+callID+"/close", actor, payload, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (sc *simulationClient) registerCall(actor, callID, info string) (*types.Call, error) {
	payload := map[string]string{"info": info}

	var call types.Call
	if err := sc.doJSON("register", "POST", "/api/v1/internal/calls/"+callID+"/register", actor, payload, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("ROUTE PERFORMANCE")
	fmt.Println(strings.Repeat("=", 80))

	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-18s calls=%-4d failures=%-3d min=%v max=%v mean=%v median=%v p95=%v p99=%v\n",
			rs.name, rs.totalCalls, rs.failures, min, max, mean, median, p95, p99)
	}
}

func main() {
	// Start the API server in-process
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	time.Sleep(time.Second)

	simClient := newSimulationClient()

	// Authenticate the desk and every simulated counterparty
	if err := simClient.authenticate(auth.TestDeskAPIKey, auth.TestDeskAPISecret); err != nil {
		log.Fatal().Err(err).Msg("Failed to authenticate desk")
	}
	counterparties := make([]string, 0, numCounterparties)
	for i := 0; i < numCounterparties; i++ {
		key := fmt.Sprintf("COUNTERPARTY_%d", i+1)
		counterparties = append(counterparties, key)
		if err := simClient.authenticate(key, key+"-secret"); err != nil {
			log.Fatal().Err(err).Str("counterparty", key).Msg("Failed to authenticate counterparty")
		}
	}
	desk := auth.TestDeskAPIKey

	stats := struct {
		TotalCalls         int
		PublishedCalls     int
		ClosedWithWinner   int
		ClosedWithoutBids  int
		RegisteredCalls    int
		TotalProposals     int
		DuplicateRejected  int
		FailedCalls        int
		ContractedValue    float64
		StartTime          time.Time
		Categories         map[string]int
	}{
		StartTime:  time.Now(),
		Categories: make(map[string]int),
	}

	for i := 0; i < numCalls; i++ {
		call, err := simClient.createCall(desk)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create call")
			stats.FailedCalls++
			continue
		}
		stats.TotalCalls++
		stats.Categories[call.EnergyCategory]++

		if err := simClient.publishCall(desk, call.CallID); err != nil {
			log.Error().Err(err).Str("call_id", call.CallID).Msg("Failed to publish call")
			stats.FailedCalls++
			continue
		}
		stats.PublishedCalls++
		log.Info().
			Str("call_id", call.CallID).
			Str("type", call.Type).
			Str("energy_category", call.EnergyCategory).
			Float64("quantity", call.Quantity).
			Msg("Call published")

		// Counterparties bid concurrently; one of them always tries twice so
		// the duplicate rejection path gets exercised.
		var wg sync.WaitGroup
		var mu sync.Mutex
		var bids []bid

		for w, cp := range counterparties {
			if rand.Float64() < 0.25 {
				continue // this counterparty sits the call out
			}
			wg.Add(1)
			go func(workerID int, counterparty string) {
				defer wg.Done()

				price := float64(rand.Intn(200)+150) + rand.Float64()
				proposal, err := simClient.submitProposal(counterparty, call.CallID, price, call.Quantity)
				if err != nil {
					log.Error().Err(err).
						Str("counterparty", counterparty).
						Str("call_id", call.CallID).
						Msg("Failed to submit proposal")
					return
				}

				mu.Lock()
				bids = append(bids, bid{proposalID: proposal.ProposalID, price: proposal.Price})
				mu.Unlock()

				log.Info().
					Str("counterparty", counterparty).
					Str("proposal_id", proposal.ProposalID).
					Float64("price", proposal.Price).
					Msg("Proposal submitted")

				if workerID == 0 {
					if _, err := simClient.submitProposal(counterparty, call.CallID, price, call.Quantity); err != nil {
						mu.Lock()
						stats.DuplicateRejected++
						mu.Unlock()
						log.Info().
							Str("counterparty", counterparty).
							Msg("Duplicate proposal rejected as expected")
					}
				}
			}(w, cp)
		}
		wg.Wait()
		stats.TotalProposals += len(bids)

		// Best (lowest) price wins; calls without bids close empty-handed.
		var winner *string
		if len(bids) > 0 {
			best := bids[0]
			for _, b := range bids[1:] {
				if b.price < best.price {
					best = b
				}
			}
			winner = &best.proposalID
		}

		closed, err := simClient.closeCall(desk, call.CallID, winner)
		if err != nil {
			log.Error().Err(err).Str("call_id", call.CallID).Msg("Failed to close call")
			stats.FailedCalls++
			continue
		}
		if winner != nil {
			stats.ClosedWithWinner++
			stats.ContractedValue += call.Quantity * bidPrice(bids, *winner)
		} else {
			stats.ClosedWithoutBids++
		}
		log.Info().
			Str("call_id", closed.CallID).
			Str("status", closed.Status).
			Int("proposals", len(bids)).
			Msg("Call closed")

		registered, err := simClient.registerCall(desk, call.CallID, fmt.Sprintf("CCEE-%06d", rand.Intn(1000000)))
		if err != nil {
			log.Error().Err(err).Str("call_id", call.CallID).Msg("Failed to register call")
			continue
		}
		stats.RegisteredCalls++
		log.Info().
			Str("call_id", registered.CallID).
			Str("status", registered.Status).
			Msg("Call registered with clearing body")
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("PROCUREMENT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Call Statistics
---------------
Total Calls:         %d
Published:           %d
Closed w/ Winner:    %d
Closed w/o Winner:   %d
Registered:          %d
Failed:              %d
Proposals Submitted: %d
Duplicates Rejected: %d
Contracted Value:    $%.2f
Duration:            %v

Category Distribution
---------------------
`, stats.TotalCalls, stats.PublishedCalls, stats.ClosedWithWinner, stats.ClosedWithoutBids,
		stats.RegisteredCalls, stats.FailedCalls, stats.TotalProposals, stats.DuplicateRejected,
		stats.ContractedValue, duration.Round(time.Millisecond))

	maxCount := 0
	for _, count := range stats.Categories {
		if count > maxCount {
			maxCount = count
		}
	}
	for category, count := range stats.Categories {
		barLength := int(float64(count) / float64(maxCount) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-14s: %s (%d)\n", category, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	registeredRate := 0.0
	if stats.TotalCalls > 0 {
		registeredRate = float64(stats.RegisteredCalls) / float64(stats.TotalCalls) * 100
	}
	log.Info().
		Int("total_calls", stats.TotalCalls).
		Int("registered_calls", stats.RegisteredCalls).
		Float64("registered_rate", registeredRate).
		Float64("contracted_value", stats.ContractedValue).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// bid pairs a submitted proposal with its offered price
type bid struct {
	proposalID string
	price      float64
}

func bidPrice(bids []bid, proposalID string) float64 {
	for _, b := range bids {
		if b.proposalID == proposalID {
			return b.price
		}
	}
	return 0
}

// startServer initializes and starts the calls API server
// Sets up all required services, handlers and routes
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	lockRegistry := locks.NewRegistry()
	systemClock := clock.System()

	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(auth.TestDeskAPIKey, auth.TestDeskAPISecret,
		auth.PermManageCalls, auth.PermSubmitProposals)
	for i := 0; i < numCounterparties; i++ {
		key := fmt.Sprintf("COUNTERPARTY_%d", i+1)
		authService.RegisterAPICredentials(key, key+"-secret", auth.PermSubmitProposals)
	}

	callService := calls.NewService(db, lockRegistry, systemClock)
	proposalService := proposals.NewService(db, lockRegistry, systemClock)
	resolutionService := resolution.NewService(db, lockRegistry, systemClock)
	registrationService := registration.NewService(db, ccee.NewClient(), lockRegistry, systemClock)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	callHandlers := calls.NewGinHandlers(callService)
	proposalHandlers := proposals.NewGinHandlers(proposalService)
	resolutionHandlers := resolution.NewGinHandlers(resolutionService)
	registrationHandlers := registration.NewGinHandlers(registrationService)

	setupRoutes(router, authHandlers, callHandlers, proposalHandlers, resolutionHandlers, registrationHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	callHandlers *calls.GinHandlers,
	proposalHandlers *proposals.GinHandlers,
	resolutionHandlers *resolution.GinHandlers,
	registrationHandlers *registration.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/token", authHandlers.GenerateTokenHandler())
		}

		callRoutes := v1.Group("/calls")
		callRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			callRoutes.POST("", callHandlers.CreateCallHandler())
			callRoutes.GET("", callHandlers.ListCallsHandler())
			callRoutes.GET("/:call_id", callHandlers.GetCallHandler())
			callRoutes.PUT("/:call_id", callHandlers.EditCallHandler())
			callRoutes.POST("/:call_id/publish", callHandlers.PublishCallHandler())
			callRoutes.POST("/:call_id/cancel", callHandlers.CancelCallHandler())
			callRoutes.POST("/:call_id/proposals", proposalHandlers.SubmitProposalHandler())
			callRoutes.GET("/:call_id/proposals", proposalHandlers.ListByCallHandler())
		}

		proposalRoutes := v1.Group("/proposals")
		proposalRoutes.Use(middleware.JWTAuth(jwtSecret))
		{
			proposalRoutes.GET("", proposalHandlers.ListMineHandler())
		}

		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/calls/:call_id/close", resolutionHandlers.CloseCallHandler())
			internal.POST("/calls/:call_id/register", registrationHandlers.RegisterCallHandler())
		}
	}
}
