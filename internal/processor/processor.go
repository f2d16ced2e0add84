// Package processor wires the queue, validator, retry executor, and result
// tracker into the dispatch engine's worker pool.
package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"dealengine/internal/core"
	"dealengine/internal/queue"
	"dealengine/internal/retry"
	"dealengine/internal/tracker"
	"dealengine/internal/validator"
	"dealengine/pkg/telemetry"
)

// Config controls worker pool size and retry behavior. SubmitRateLimit, if
// non-zero, caps the rate of accepted submissions; zero means unlimited.
type Config struct {
	NumWorkers      int
	MaxRetries      int
	RetryBaseMs     int
	SubmitRateLimit rate.Limit // requests/sec, 0 = unlimited
	SubmitBurst     int
}

// DefaultConfig mirrors the reference engine's defaults: 4 workers, 3
// retries, 100ms base backoff, no rate limit.
var DefaultConfig = Config{NumWorkers: 4, MaxRetries: 3, RetryBaseMs: 100}

// ResultCallback is invoked with the terminal TradeResult for a submitted
// request, on the worker goroutine that processed it.
type ResultCallback func(core.TradeResult)

// DealProcessor is the central dispatch engine: it accepts TradeRequests
// from any number of producer goroutines, validates and executes them
// across a fixed pool of worker goroutines, and tracks every terminal
// result. It is safe for concurrent use once started.
type DealProcessor struct {
	broker    core.BrokerAPI
	logger    core.Logger
	config    Config
	validator *validator.Validator
	executor  *retry.Executor
	tracker   *tracker.ResultTracker
	queue     *queue.WorkQueue
	limiter   *rate.Limiter
	metrics   *telemetry.MetricsHolder

	running   atomic.Bool
	busyCount atomic.Int64
	group     *errgroup.Group
}

// WithMetrics attaches an OpenTelemetry metrics holder; queue depth,
// worker occupancy, result counts, retry counts, and execution latency are
// reported through it. Passing nil (the default) disables reporting.
func (p *DealProcessor) WithMetrics(metrics *telemetry.MetricsHolder) *DealProcessor {
	p.metrics = metrics
	return p
}

type submission struct {
	request  core.TradeRequest
	callback ResultCallback
}

// New wires a DealProcessor around broker using config.
func New(broker core.BrokerAPI, logger core.Logger, config Config) *DealProcessor {
	logger = logger.WithField("component", "deal_processor")

	var limiter *rate.Limiter
	if config.SubmitRateLimit > 0 {
		burst := config.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(config.SubmitRateLimit, burst)
	}

	return &DealProcessor{
		broker:    broker,
		logger:    logger,
		config:    config,
		validator: validator.New(broker, logger),
		executor:  retry.New(broker, logger, retry.Config{MaxRetries: config.MaxRetries, RetryBaseMs: config.RetryBaseMs}),
		tracker:   tracker.New(),
		queue:     queue.New(),
		limiter:   limiter,
	}
}

// Start launches config.NumWorkers worker goroutines. Calling Start on an
// already-running processor is a no-op.
func (p *DealProcessor) Start(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}

	numWorkers := p.config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 1
	}

	p.logger.Info("deal processor starting", "workers", numWorkers)
	p.group = &errgroup.Group{}
	for i := 0; i < numWorkers; i++ {
		workerID := i
		p.group.Go(func() error {
			p.workerLoop(ctx, workerID)
			return nil
		})
	}
	p.logger.Info("deal processor started")
}

// Submit enqueues a request for processing. If a submit rate limit is
// configured and ctx is canceled while waiting for a token, the request is
// dropped and callback (if non-nil) is invoked with a REJECTED result.
// Submitting while not running is a no-op, matching the reference engine's
// contract that submit() before start() silently drops the request.
func (p *DealProcessor) Submit(ctx context.Context, req core.TradeRequest, callback ResultCallback) {
	if !p.running.Load() {
		p.logger.Error("cannot submit request - processor not running", "request_id", req.RequestID)
		return
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if callback != nil {
				callback(core.TradeResult{
					RequestID:    req.RequestID,
					ClientID:     req.ClientID,
					Status:       core.Rejected,
					ErrorMessage: fmt.Sprintf("submit rate limit wait aborted: %v", err),
				})
			}
			return
		}
	}

	p.logger.Info("request received", "request_id", req.RequestID, "client_id", req.ClientID)
	p.queue.Push(queue.Item{
		Request: submission{request: req, callback: callback},
	})
	if p.metrics != nil {
		if p.metrics.RequestsSubmittedTotal != nil {
			p.metrics.RequestsSubmittedTotal.Add(ctx, 1)
		}
		p.metrics.SetQueueDepth(p.queue.Size())
	}
}

// Stop signals shutdown, drains the queue, and joins every worker. It
// blocks until all in-flight work completes. Calling Stop when not
// running is a no-op.
func (p *DealProcessor) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}

	p.logger.Info("deal processor shutting down, draining queue", "pending", p.queue.Size())
	p.queue.Shutdown()

	if p.group != nil {
		_ = p.group.Wait()
	}
	p.logger.Info("deal processor stopped, all workers joined")
}

// Tracker exposes the result tracker for querying recorded results.
func (p *DealProcessor) Tracker() *tracker.ResultTracker {
	return p.tracker
}

// QueueDepth returns the instantaneous pending-item count.
func (p *DealProcessor) QueueDepth() int {
	return p.queue.Size()
}

func (p *DealProcessor) workerLoop(ctx context.Context, workerID int) {
	workerName := fmt.Sprintf("worker-%d", workerID)
	p.logger.Info("worker started", "worker", workerName)

	for {
		item, ok := p.queue.Pop()
		if !ok {
			break
		}

		if p.metrics != nil {
			p.metrics.SetQueueDepth(p.queue.Size())
			p.metrics.SetWorkersBusy(int(p.busyCount.Add(1)))
		}

		sub := item.Request.(submission)
		p.handleSubmission(ctx, sub, workerName)
	}

	p.logger.Info("worker stopped", "worker", workerName)
}

// handleSubmission processes one queued submission and delivers its
// result. A panic inside processRequest or inside the caller's callback
// is recovered separately so that one bad request cannot take the rest
// of the worker pool down with it; a panic out of processRequest is
// reported as CONNECTION_ERROR, matching how unexpected internal
// failures are classified elsewhere.
func (p *DealProcessor) handleSubmission(ctx context.Context, sub submission, workerName string) {
	start := time.Now()
	var result core.TradeResult

	func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker panic recovered", "worker", workerName, "request_id", sub.request.RequestID, "panic", r)
				result = core.TradeResult{
					RequestID:    sub.request.RequestID,
					ClientID:     sub.request.ClientID,
					Status:       core.ConnectionError,
					ErrorMessage: fmt.Sprintf("internal error recovered: %v", r),
					Timestamp:    time.Now(),
				}
			}
		}()
		result = p.processRequest(ctx, sub.request, workerName)
	}()

	if p.metrics != nil {
		p.metrics.RecordExecutionLatency(ctx, float64(time.Since(start).Milliseconds()))
		p.metrics.RecordResult(ctx, result.Status.String())
		p.metrics.RecordRetryAttempts(ctx, int64(result.RetryCount))
		p.metrics.SetWorkersBusy(int(p.busyCount.Add(-1)))
	}

	p.tracker.Record(result)

	if sub.callback != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("callback panic recovered", "worker", workerName, "request_id", sub.request.RequestID, "panic", r)
				}
			}()
			sub.callback(result)
		}()
	}
}

func (p *DealProcessor) processRequest(ctx context.Context, req core.TradeRequest, workerName string) core.TradeResult {
	p.logger.Info("validating", "worker", workerName, "request_id", req.RequestID)

	if result, rejected := p.validator.Validate(ctx, req); rejected {
		p.logger.Warn("validation failed", "worker", workerName, "request_id", req.RequestID, "status", result.Status.String())
		return result
	}
	p.logger.Info("validation passed", "worker", workerName, "request_id", req.RequestID)

	result := p.executor.Execute(ctx, req)

	if result.IsSuccess() {
		p.logger.Info("executed", "worker", workerName, "request_id", req.RequestID, "ticket_id", result.TicketID)
	} else {
		p.logger.Error("failed", "worker", workerName, "request_id", req.RequestID, "status", result.Status.String(), "error", result.ErrorMessage)
	}

	return result
}
