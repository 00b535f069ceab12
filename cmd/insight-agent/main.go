package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shoplytics/insight-agent/pkg/agent"
	"github.com/shoplytics/insight-agent/pkg/gateway"
	"github.com/shoplytics/insight-agent/pkg/metrics"
	"github.com/shoplytics/insight-agent/pkg/planner"
	"github.com/shoplytics/insight-agent/pkg/server"
	"github.com/shoplytics/insight-agent/pkg/storage"
)

const (
	ClientName      = "insight-agent"
	ServiceName     = "Order Analytics Insight Agent"
	ShutdownTimeout = 10 * time.Second
)

//go:embed VERSION
var Version string

func main() {
	var (
		debug        bool
		bindAddr     string
		dbPath       string
		toolServer   string
		model        string
		maxSteps     int
		printVersion bool
	)
	flag.BoolVar(&debug, "debug", false, "debug mode")
	flag.StringVar(&bindAddr, "bind", "localhost:8990", "bind address (host:port)")
	flag.StringVar(&dbPath, "db", "build/insight-agent.db", "SQLite audit database file path")
	flag.StringVar(&toolServer, "tools", "http://localhost:8989/mcp", "MCP tool server endpoint")
	flag.StringVar(&model, "model", "gpt-4o-mini", "planner model name")
	flag.IntVar(&maxSteps, "max-steps", agent.DefaultMaxSteps, "step budget per turn")
	flag.BoolVar(&printVersion, "version", false, "print version and exit")
	flag.Parse()
	// Sanitize version
	version := strings.TrimSpace(Version)
	// Check if the version flag is set
	if printVersion {
		fmt.Printf("%s Version: %s\n", ServiceName, version)
		os.Exit(0)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logger.Debug().Msg("debug mode enabled")
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Fatal().Msg("OPENAI_API_KEY is not set")
	}

	// Initialize audit storage
	storeCfg := storage.Config{
		DatabasePath: dbPath,
		Debug:        debug,
	}
	store, err := storage.NewSQLiteStorage(storeCfg)
	if err != nil {
		logger.Fatal().Msgf("Failed to initialize storage: %v", err)
	}
	logger.Info().Msgf("Database initialized at %s", dbPath)

	metricsStore := metrics.NewStore(logger, metrics.WithStorage(store))
	gw := gateway.NewMCPGateway(toolServer, ClientName, version, logger)
	generator := planner.NewLLMGenerator(model, apiKey, os.Getenv("OPENAI_BASE_URL"), logger)
	assistant := agent.NewAssistant(gw, generator, metricsStore, logger, agent.WithMaxSteps(maxSteps))

	srv := server.New(assistant, metricsStore, store, gw, logger, ServiceName, version)

	httpServer := &http.Server{
		Addr:              bindAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info().Msgf("%s starting on address %s", ServiceName, bindAddr)
	logger.Info().Msgf("Tool server endpoint: %s", toolServer)

	go func() {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Msgf("%s failed to start: %v", ClientName, err)
		}
	}()
	<-signalCtx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Msgf("HTTP shutdown error: %v", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Msgf("%s shutdown error: %v", ServiceName, err)
	} else {
		logger.Info().Msgf("%s shutdown complete", ServiceName)
	}
}
