package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aeolun/peerchat/pkg/directory"
	"github.com/aeolun/peerchat/pkg/registry"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.peerchat/registry.toml", "Path to config file")
	tcpPort := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	udpPort := flag.Int("udp-port", 0, "UDP heartbeat port (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	metricsPort := flag.Int("metrics-port", 0, "Prometheus metrics port (overrides config, 0 disables)")
	heartbeatTimeout := flag.Int("heartbeat-timeout", 0, "Heartbeat timeout in seconds (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Peerchat Registry %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := registry.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *tcpPort != 0 {
		config.Registry.TCPPort = *tcpPort
	}
	if *udpPort != 0 {
		config.Registry.UDPPort = *udpPort
	}
	if *dbPath != "" {
		config.Registry.DatabasePath = *dbPath
	}
	if *metricsPort != 0 {
		config.Registry.MetricsPort = *metricsPort
	}
	if *heartbeatTimeout != 0 {
		config.Heartbeat.TimeoutSeconds = *heartbeatTimeout
	}

	finalDBPath, err := config.GetDatabasePath()
	if err != nil {
		log.Fatalf("Failed to resolve database path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(finalDBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	store, err := directory.Open(finalDBPath)
	if err != nil {
		log.Fatalf("Failed to open directory store: %v", err)
	}

	registryConfig := config.ToConfig()

	var metrics *registry.Metrics
	if registryConfig.MetricsPort > 0 {
		metrics = registry.NewMetrics()
	}

	srv, err := registry.NewServer(store, registryConfig, metrics)
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start registry: %v", err)
	}

	log.Printf("Peerchat registry %s started successfully", Version)
	log.Printf("Database: %s", finalDBPath)
	log.Printf("TCP port: %d", registryConfig.TCPPort)
	log.Printf("UDP heartbeat port: %d", registryConfig.UDPPort)
	log.Printf("Heartbeat timeout: %s", registryConfig.HeartbeatTimeout)
	if registryConfig.MetricsPort > 0 {
		log.Printf("Metrics: http://localhost:%d/metrics", registryConfig.MetricsPort)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	log.Printf("Received signal %v, shutting down...", sig)

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Registry stopped cleanly")
	case <-time.After(10 * time.Second):
		log.Printf("Shutdown timed out, exiting")
	}
}
