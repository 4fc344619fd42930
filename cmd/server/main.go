package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/friendhunter/relay/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.friendhunter/relay.toml", "Path to config file")
	port := flag.Int("port", 0, "HTTP port to listen on (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	// Handle --version flag
	if *version {
		fmt.Printf("Friend Hunter relay server %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flag and PORT env (for PaaS deploys) override config file
	if *port != 0 {
		config.Server.HTTPPort = *port
	} else if env := os.Getenv("PORT"); env != "" {
		p, err := strconv.Atoi(env)
		if err != nil {
			log.Fatalf("Invalid PORT environment variable %q: %v", env, err)
		}
		config.Server.HTTPPort = p
	}

	serverConfig := config.ToConfig()

	if len(serverConfig.AdminTokens) == 0 {
		log.Printf("WARNING: no admin tokens configured, admin endpoints will reject all requests")
	}

	srv := server.NewServer(serverConfig)

	if *debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("Friend Hunter relay server %s started successfully", Version)
	log.Printf("WebSocket endpoint: ws://localhost:%d/ws", serverConfig.HTTPPort)
	log.Printf("Health check available at http://localhost:%d/health", serverConfig.HTTPPort)
	log.Printf("Metrics available at http://localhost:%d/metrics", serverConfig.HTTPPort)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
