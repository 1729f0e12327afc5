package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/zhaobenny/agenttop/agent/internal/config"
	"github.com/zhaobenny/agenttop/internal/ingest"
	"github.com/zhaobenny/agenttop/internal/ledger"
	"github.com/zhaobenny/agenttop/internal/scanner"
)

const version = "0.1.0"

func main() {
	command := "run"
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "run", "summary", "config", "install", "start", "stop", "uninstall", "status", "version":
			command = args[0]
			args = args[1:]
		}
	}

	switch command {
	case "version":
		fmt.Printf("agenttop-agent version %s\n", version)
	case "summary":
		runSummary(args)
	case "config":
		runConfig(args)
	case "run":
		runForeground(args)
	default:
		runServiceCommand(command)
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()
}

// openLedger opens the store; this is the only startup step allowed to be
// fatal. Everything past it degrades to partial data instead of stopping.
func openLedger(cfg *config.Config, logger zerolog.Logger) *ledger.DB {
	db, err := ledger.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DBPath).Msg("cannot open usage ledger")
	}
	return db
}

func newDriver(cfg *config.Config, db *ledger.DB, logger zerolog.Logger) *ingest.Driver {
	opts := ingest.Options{
		Interval:        cfg.ScanInterval,
		RetentionDays:   cfg.RetentionDays,
		CleanupSchedule: cfg.CleanupSchedule,
	}
	claude := scanner.NewClaude(logger, cfg.ClaudeRoots...)
	codex := scanner.NewCodex(logger, cfg.CodexRoots...)
	return ingest.New(db, claude, codex, opts, logger)
}

func runForeground(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	interval := fs.Duration("interval", 0, "Scan interval override (e.g. 30s, 1m)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *interval > 0 {
		cfg.ScanInterval = *interval
	}

	logger := newLogger(cfg.LogLevel)
	db := openLedger(cfg, logger)
	defer db.Close()

	drv := newDriver(cfg, db, logger)
	logger.Info().Dur("interval", cfg.ScanInterval).Str("db", cfg.DBPath).Msg("agent started")

	svc := &agentService{driver: drv}
	s, err := service.New(svc, serviceConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	if err := s.Run(); err != nil {
		logger.Fatal().Err(err).Msg("agent stopped")
	}
}

func runSummary(args []string) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	period := fs.String("period", "today", "Summary period: today, week or month")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger("error")
	db := openLedger(cfg, logger)
	defer db.Close()

	summary, err := db.UsageSummary(ledger.Period(*period))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(summary)
		return
	}

	fmt.Printf("Usage since %s\n\n", summary.Since.Format("2006-01-02 15:04"))
	for _, p := range summary.Providers {
		fmt.Printf("%s: %d requests, $%.4f\n", p.Provider, p.Requests, p.CostUSD)
		for _, m := range p.Models {
			fmt.Printf("  %-28s %6d req  in %10d  out %10d  $%.4f\n",
				m.Model, m.Requests, m.Usage.InputTokens, m.Usage.OutputTokens, m.CostUSD)
		}
	}
	fmt.Printf("\nToday: $%.4f   This month: $%.4f\n", summary.TodayCostUSD, summary.MonthCostUSD)
}

func runConfig(args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	write := fs.Bool("write", false, "Write the effective configuration to disk (assigns an agent id on first write)")
	fs.Parse(args)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *write {
		if err := config.Save(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration written.")
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

// agentService adapts the ingestion driver to service.Interface so the same
// loop runs in the foreground and under the platform service manager.
type agentService struct {
	driver *ingest.Driver
}

func (a *agentService) Start(service.Service) error {
	a.driver.Start()
	return nil
}

func (a *agentService) Stop(service.Service) error {
	a.driver.Stop()
	return nil
}

func serviceConfig() *service.Config {
	return &service.Config{
		Name:        "agenttop-agent",
		DisplayName: "agenttop Usage Agent",
		Description: "Collects Claude Code and Codex CLI token usage into a local ledger",
		Arguments:   []string{"run"},
	}
}

func runServiceCommand(command string) {
	s, err := service.New(&agentService{}, serviceConfig())
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	switch command {
	case "install":
		if err := s.Install(); err != nil {
			log.Fatalf("Failed to install service: %v", err)
		}
		if err := s.Start(); err != nil {
			log.Fatalf("Service installed but failed to start: %v", err)
		}
		fmt.Println("Service installed and started.")
	case "start":
		if err := s.Start(); err != nil {
			log.Fatalf("Failed to start service: %v", err)
		}
		fmt.Println("Service started.")
	case "stop":
		if err := s.Stop(); err != nil {
			log.Fatalf("Failed to stop service: %v", err)
		}
		fmt.Println("Service stopped.")
	case "uninstall":
		s.Stop() // ignore error
		if err := s.Uninstall(); err != nil {
			log.Fatalf("Failed to uninstall service: %v", err)
		}
		fmt.Println("Service uninstalled.")
	case "status":
		status, err := s.Status()
		if err != nil {
			fmt.Printf("Service status: not installed or error (%v)\n", err)
			return
		}
		switch status {
		case service.StatusRunning:
			fmt.Println("Service status: running")
		case service.StatusStopped:
			fmt.Println("Service status: stopped")
		default:
			fmt.Println("Service status: unknown")
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		os.Exit(1)
	}
}
