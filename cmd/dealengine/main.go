// Command dealengine runs the trade dispatch engine end to end: it
// connects to a simulated MT5 broker, starts the worker pool, launches a
// fleet of simulated clients against it, optionally streams results to a
// WebSocket dashboard, and prints an execution summary on shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"dealengine/internal/broker"
	"dealengine/internal/connection"
	"dealengine/internal/core"
	"dealengine/internal/processor"
	"dealengine/pkg/clientsim"
	"dealengine/pkg/config"
	"dealengine/pkg/liveserver"
	"dealengine/pkg/logging"
	"dealengine/pkg/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file (omit to use built-in demo defaults)")
	burst := flag.Bool("burst", false, "Run the burst profile: more clients, less delay, fewer retries")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dealengine version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath, *burst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting dealengine", "version", version, "workers", cfg.Processor.NumWorkers)

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup("dealengine", version)
		if err != nil {
			logger.Warn("telemetry setup failed, continuing without it", "error", err.Error())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	mockBroker := broker.New(cfg.Broker.FailureRate)

	connMgr := connection.New(mockBroker, logger, connection.DefaultConfig)
	if err := connMgr.Connect(ctx, cfg.Broker.Server, cfg.Broker.Login, string(cfg.Broker.Password)); err != nil {
		logger.Error("failed to connect to broker", "error", err.Error())
		os.Exit(1)
	}
	defer connMgr.Disconnect()

	symbols := mockBroker.GetSymbols(ctx)
	logger.Info("broker connected", "symbols", len(symbols))

	proc := processor.New(mockBroker, logger, processor.Config{
		NumWorkers:      cfg.Processor.NumWorkers,
		MaxRetries:      cfg.Processor.MaxRetries,
		RetryBaseMs:     cfg.Processor.RetryBaseMs,
		SubmitRateLimit: rate.Limit(cfg.Processor.SubmitRateLimit),
		SubmitBurst:     cfg.Processor.SubmitBurst,
	})

	if tel != nil {
		// Setup already wired GetGlobalMetrics() to the meter provider.
		proc.WithMetrics(telemetry.GetGlobalMetrics())
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown error", "error", err.Error())
			}
		}()
	}

	var hub *liveserver.Hub
	var server *liveserver.Server
	if cfg.Live.Enabled {
		hub = liveserver.NewHub(logger)
		go hub.Run(ctx)

		server = liveserver.NewServer(hub, logger, []string{"*"})
		server.SetRateLimit(float64(cfg.Live.PerIPConnLimit), cfg.Live.PerIPConnBurst)
		server.SetStatsProvider(proc)
		go func() {
			logger.Info("starting live dashboard server", "addr", cfg.Live.ListenAddr)
			if err := server.Start(ctx, cfg.Live.ListenAddr); err != nil {
				logger.Error("live server error", "error", err.Error())
			}
		}()
	}

	proc.Start(ctx)

	badRequestFreq := 0.0
	if cfg.Clients.BadRequestFrequency > 0 {
		badRequestFreq = 1.0 / float64(cfg.Clients.BadRequestFrequency)
	}

	clientConfig := clientsim.Config{
		NumRequests:         cfg.Clients.RequestsPerClient,
		MinDelay:            50 * time.Millisecond,
		MaxDelay:            200 * time.Millisecond,
		SendBadRequests:     cfg.Clients.BadRequestFrequency > 0,
		BadRequestFrequency: badRequestFreq,
	}
	clientPrefix := "Client"
	if *burst {
		clientConfig.MinDelay = time.Millisecond
		clientConfig.MaxDelay = 10 * time.Millisecond
		clientPrefix = "Burst"
	}

	pool := clientsim.NewPool(cfg.Clients.Count, clientPrefix, clientConfig, logger)

	logger.Info("launching client simulators", "clients", cfg.Clients.Count, "requests_per_client", cfg.Clients.RequestsPerClient)
	startTime := time.Now()

	submitter := submitterAdapter{proc: proc, hub: hub}
	pool.RunAll(ctx, submitter)
	pool.Stop()
	submitTime := time.Now()

	logger.Info("all clients finished submitting, draining queue")
	for proc.QueueDepth() > 0 {
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)
	endTime := time.Now()

	proc.Stop()

	totalRequests := cfg.Clients.Count * cfg.Clients.RequestsPerClient
	totalMs := endTime.Sub(startTime).Milliseconds()
	submitMs := submitTime.Sub(startTime).Milliseconds()
	throughput := 0.0
	if totalMs > 0 {
		throughput = 1000.0 * float64(totalRequests) / float64(totalMs)
	}

	fmt.Printf("\n  Timing:\n")
	fmt.Printf("    Client submission phase: %dms\n", submitMs)
	fmt.Printf("    Total processing time:   %dms\n", totalMs)
	fmt.Printf("    Requests processed:      %d\n", totalRequests)
	fmt.Printf("    Throughput:              %.1f req/sec\n", throughput)

	printSummary(os.Stdout, proc.Tracker())

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("error stopping live server", "error", err.Error())
		}
	}

	logger.Info("dealengine stopped")
}

// submitterAdapter broadcasts every terminal result to the live dashboard
// (when enabled) in addition to delivering it to the client's own callback.
type submitterAdapter struct {
	proc *processor.DealProcessor
	hub  *liveserver.Hub
}

func (s submitterAdapter) Submit(ctx context.Context, req core.TradeRequest, callback processor.ResultCallback) {
	s.proc.Submit(ctx, req, func(result core.TradeResult) {
		if s.hub != nil {
			s.hub.Broadcast(liveserver.NewTradeResultMessage(result))
		}
		if callback != nil {
			callback(result)
		}
	})
}

func loadConfig(path string, burst bool) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if burst {
		cfg.Processor.NumWorkers = 8
		cfg.Processor.MaxRetries = 2
		cfg.Processor.RetryBaseMs = 50
		cfg.Clients.Count = 10
		cfg.Clients.RequestsPerClient = 20
	}

	return cfg, nil
}
