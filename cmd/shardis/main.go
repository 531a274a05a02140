// Package main implements the shardis server, a sharding proxy that makes
// a set of Redis-protocol stores look like one: clients connect to shardis
// with any Redis client, and keys are spread over the backend shards
// registered at runtime.
//
// The server is the composition root; the pieces live in internal/:
//   - internal/resp     - wire protocol reader and writer
//   - internal/topology - shard registry and key placement
//   - internal/backend  - pooled backend connections
//   - internal/proxy    - sessions, dispatcher, routing
//
// Operating model:
//
//	# Start the proxy
//	shardis --port 6380
//
//	# Register backends and use it
//	redis-cli -p 6380 ADDSHARD 127.0.0.1 6379 0
//	redis-cli -p 6380 SET greeting hello
//	redis-cli -p 6380 GET greeting
//	redis-cli -p 6380 INFO
//
// Configuration:
//
// Every flag falls back to an environment variable when left unset.
//
//	--port               SHARDIS_PORT                listen port (default 6380)
//	--log-level          SHARDIS_LOG_LEVEL           debug, info, warn, error
//	--password           SHARDIS_PASSWORD            require AUTH when non-empty
//	--dial-timeout       SHARDIS_DIAL_TIMEOUT        backend dial timeout
//	--backend-timeout    SHARDIS_BACKEND_TIMEOUT     per-command backend timeout
//	--max-backend-conns  SHARDIS_MAX_BACKEND_CONNS   pooled conns per endpoint
//
// Shard topology is runtime state: it is built with ADDSHARD after start
// and is not persisted. Exit is clean on SIGINT/SIGTERM; the only fatal
// startup error is failing to bind the listen port.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/shardis/internal/backend"
	"github.com/dreamware/shardis/internal/proxy"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	var (
		port     = flag.Int("port", getenvInt("SHARDIS_PORT", 6380), "port number to listen to")
		logLevel = flag.String("log-level", getenv("SHARDIS_LOG_LEVEL", "info"), "logging level: debug, info, warn or error")
		password = flag.String("password", getenv("SHARDIS_PASSWORD", ""), "password clients must AUTH with (empty disables AUTH)")
		dialTO   = flag.Duration("dial-timeout", getenvDuration("SHARDIS_DIAL_TIMEOUT", backend.DefaultDialTimeout), "backend dial timeout")
		opTO     = flag.Duration("backend-timeout", getenvDuration("SHARDIS_BACKEND_TIMEOUT", backend.DefaultOpTimeout), "per-command backend timeout")
		maxConns = flag.Int("max-backend-conns", getenvInt("SHARDIS_MAX_BACKEND_CONNS", backend.DefaultMaxPerEndpoint), "pooled connections per backend endpoint")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	pool := backend.New(backend.Config{
		DialTimeout:    *dialTO,
		OpTimeout:      *opTO,
		MaxPerEndpoint: *maxConns,
		Logger:         logger,
	})

	srv := proxy.NewServer(proxy.Config{
		Password: *password,
		Pool:     pool,
		Logger:   logger,
	})

	if err := srv.Listen(":" + strconv.Itoa(*port)); err != nil {
		logFatal("listen: %v", err)
	}
	logger.Info("starting shardis", "port", *port, "auth", *password != "")

	go func() {
		if err := srv.Serve(); err != nil {
			logFatal("serve: %v", err)
		}
	}()

	// Wait for a shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	if err := srv.Close(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("shardis stopped")
}

// newLogger builds the process logger at the requested level. Unknown
// levels fall back to info rather than refusing to start.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// getenv retrieves an environment variable with a default fallback value.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvInt retrieves an integer environment variable; unset or
// unparseable values fall back to the default.
func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// getenvDuration retrieves a duration environment variable ("2s",
// "500ms"); unset or unparseable values fall back to the default.
func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
