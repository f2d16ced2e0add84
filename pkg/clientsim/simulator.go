// Package clientsim drives a configurable population of simulated MT5
// clients against a processor.DealProcessor, each submitting a stream of
// randomized trade requests (plus a configurable share of deliberately
// malformed ones) and collecting its own results.
package clientsim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/alitto/pond"
	"github.com/shopspring/decimal"

	"dealengine/internal/core"
	"dealengine/internal/processor"
)

// Submitter is the processor surface a Simulator needs. processor.DealProcessor
// satisfies it; tests can substitute a fake.
type Submitter interface {
	Submit(ctx context.Context, req core.TradeRequest, callback processor.ResultCallback)
}

// Config controls one simulated client's request generation.
type Config struct {
	ClientID            string
	NumRequests         int
	MinDelay            time.Duration
	MaxDelay            time.Duration
	SendBadRequests     bool
	BadRequestFrequency float64 // fraction in [0,1]; original_source uses 0.10
}

// DefaultConfig mirrors original_source/src/client/ClientSimulator.h's
// defaults.
func DefaultConfig(clientID string) Config {
	return Config{
		ClientID:            clientID,
		NumRequests:         10,
		MinDelay:            50 * time.Millisecond,
		MaxDelay:            200 * time.Millisecond,
		SendBadRequests:     true,
		BadRequestFrequency: 0.10,
	}
}

var simulatedSymbols = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD", "XAUUSD"}

// Client generates and submits a stream of trade requests for one
// simulated MT5 client, collecting the results callbacks deliver.
type Client struct {
	config Config
	rng    *rand.Rand

	mu      sync.Mutex
	results []core.TradeResult
	seq     int
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	return &Client{
		config: cfg,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ClientID returns the simulated client's identity.
func (c *Client) ClientID() string { return c.config.ClientID }

// Run submits config.NumRequests requests to processor, pacing itself
// between submissions with a random delay in [MinDelay, MaxDelay]. It
// blocks until every request has been submitted; results arrive
// asynchronously via the per-submission callback and are collected in
// Results().
func (c *Client) Run(ctx context.Context, proc Submitter) error {
	for i := 0; i < c.config.NumRequests; i++ {
		var req core.TradeRequest
		if c.config.SendBadRequests && c.rng.Float64() < c.config.BadRequestFrequency {
			req = c.generateBadRequest()
		} else {
			req = c.generateRequest()
		}

		proc.Submit(ctx, req, c.recordResult)

		if i < c.config.NumRequests-1 {
			delay := randDuration(c.rng, c.config.MinDelay, c.config.MaxDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil
}

// Results returns a snapshot of every result this client has received so far.
func (c *Client) Results() []core.TradeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.TradeResult, len(c.results))
	copy(out, c.results)
	return out
}

func (c *Client) recordResult(result core.TradeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
}

func (c *Client) nextRequestID() string {
	c.seq++
	return fmt.Sprintf("%s-%06d", c.config.ClientID, c.seq)
}

func (c *Client) generateRequest() core.TradeRequest {
	symbol := simulatedSymbols[c.rng.Intn(len(simulatedSymbols))]
	tradeType := core.Buy
	if c.rng.Intn(2) == 1 {
		tradeType = core.Sell
	}
	volume := decimal.NewFromFloat(float64(1+c.rng.Intn(50)) * 0.01)

	req := core.TradeRequest{
		ClientID:  c.config.ClientID,
		RequestID: c.nextRequestID(),
		TradeType: tradeType,
		Symbol:    symbol,
		Volume:    volume,
		Timestamp: time.Now(),
	}

	// 40% chance to include SL/TP, matching original_source.
	if c.rng.Intn(100) < 40 {
		basePrice := 1.0
		switch symbol {
		case "XAUUSD":
			basePrice = 2035.0
		case "USDJPY":
			basePrice = 149.0
		}
		offset := basePrice * 0.005
		var sl, tp decimal.Decimal
		if tradeType == core.Buy {
			sl = decimal.NewFromFloat(basePrice - offset)
			tp = decimal.NewFromFloat(basePrice + offset)
		} else {
			sl = decimal.NewFromFloat(basePrice + offset)
			tp = decimal.NewFromFloat(basePrice - offset)
		}
		req.StopLoss = &sl
		req.TakeProfit = &tp
	}

	return req
}

// generateBadRequest reproduces original_source's four canned invalid
// requests: unknown symbol, zero volume, oversized volume, negative stop
// loss.
func (c *Client) generateBadRequest() core.TradeRequest {
	req := core.TradeRequest{
		ClientID:         c.config.ClientID,
		RequestID:        c.nextRequestID(),
		Timestamp:        time.Now(),
		IsTestBadRequest: true,
	}

	switch c.rng.Intn(4) {
	case 0:
		req.TradeType = core.Buy
		req.Symbol = "INVALID"
		req.Volume = decimal.NewFromFloat(0.1)
	case 1:
		req.TradeType = core.Sell
		req.Symbol = "EURUSD"
		req.Volume = decimal.Zero
	case 2:
		req.TradeType = core.Buy
		req.Symbol = "EURUSD"
		req.Volume = decimal.NewFromFloat(999.0)
	case 3:
		req.TradeType = core.Sell
		req.Symbol = "GBPUSD"
		req.Volume = decimal.NewFromFloat(0.1)
		sl := decimal.NewFromFloat(-1.0)
		req.StopLoss = &sl
	}

	return req
}

func randDuration(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

// Pool runs a population of Clients concurrently using an alitto/pond
// worker pool, mirroring the teacher's pkg/concurrency.WorkerPool
// construction (balanced strategy, panic recovery into the logger)
// adapted from generic task submission to one goroutine per simulated
// client.
type Pool struct {
	pool    *pond.WorkerPool
	logger  core.Logger
	clients []*Client
}

// NewPool builds a Pool of numClients simulated clients, each with the
// given per-client Config (clientID is filled in as "<prefix>-N").
func NewPool(numClients int, clientIDPrefix string, perClient Config, logger core.Logger) *Pool {
	clients := make([]*Client, numClients)
	for i := 0; i < numClients; i++ {
		cfg := perClient
		cfg.ClientID = fmt.Sprintf("%s-%d", clientIDPrefix, i+1)
		clients[i] = NewClient(cfg)
	}

	pool := pond.New(
		numClients,
		numClients,
		pond.MinWorkers(1),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			logger.Error("client simulator panic recovered", "panic", p)
		}),
	)

	return &Pool{
		pool:    pool,
		logger:  logger.WithField("component", "client_simulator_pool"),
		clients: clients,
	}
}

// RunAll submits every client's Run to the pool and blocks until all have
// finished submitting their requests. It does not wait for in-flight
// results to drain from the processor; callers should Stop() the
// processor afterward to join outstanding work.
func (p *Pool) RunAll(ctx context.Context, proc Submitter) {
	var wg sync.WaitGroup
	for _, client := range p.clients {
		client := client
		wg.Add(1)
		p.pool.Submit(func() {
			defer wg.Done()
			if err := client.Run(ctx, proc); err != nil {
				p.logger.Error("client simulation failed", "client_id", client.ClientID(), "error", err.Error())
			}
		})
	}
	wg.Wait()
}

// Stop shuts the underlying worker pool down.
func (p *Pool) Stop() {
	p.pool.StopAndWait()
}

// Clients returns the simulated clients, for result inspection after RunAll.
func (p *Pool) Clients() []*Client {
	return p.clients
}
