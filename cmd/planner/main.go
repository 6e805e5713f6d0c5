// Command planner runs the home energy planning service: a recurring
// optimization loop that schedules battery charging, grid exchange and
// water heating against day-ahead prices, plus the observation recorder
// and the status HTTP surface.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/cepro-home/energy-planner/config"
	"github.com/cepro-home/energy-planner/forecaststore"
	"github.com/cepro-home/energy-planner/meteo"
	"github.com/cepro-home/energy-planner/obsstore"
	"github.com/cepro-home/energy-planner/orchestrator"
	"github.com/cepro-home/energy-planner/plant"
	"github.com/cepro-home/energy-planner/risk"
	"github.com/cepro-home/energy-planner/schedulestore"
)

func main() {
	var (
		configFile = flag.String("config", "config.json", "Configuration file path")
		help       = flag.Bool("help", false, "Show help message")
		version    = flag.String("forecast-version", "baseline", "Active forecast version")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)

	db, err := sql.Open("postgres", cfg.PostgresConnString)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error opening database:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forecasts := forecaststore.New(db)
	observations := obsstore.New(db)
	schedules := schedulestore.New(db)
	for name, migrate := range map[string]func(context.Context) error{
		"forecasts":    forecasts.Migrate,
		"observations": observations.Migrate,
		"schedules":    schedules.Migrate,
	} {
		if err := migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error migrating %s store: %v\n", name, err)
			os.Exit(1)
		}
	}

	plantClient, err := plant.NewTCPClient(cfg.PlantModbusAddress, plant.GatewayAddress)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error connecting to plant gateway:", err)
		os.Exit(1)
	}
	defer plantClient.Close()

	riskEngine := &risk.Engine{}
	weatherCtx, weatherCancel := context.WithTimeout(ctx, 30*time.Second)
	forecast, werr := meteo.NewClient(cfg.UserAgent).GetCompact(weatherCtx, meteo.Location{
		Latitude:  cfg.Latitude,
		Longitude: cfg.Longitude,
	})
	weatherCancel()
	if werr != nil {
		// The static safety factor still works without weather; the
		// dynamic mode degrades to its baseline temperatures.
		logger.Printf("weather fetch failed, continuing without temperature data: %v", werr)
	} else {
		riskEngine.Weather = forecast
	}

	orch := orchestrator.New(orchestrator.Deps{
		Config:          cfg,
		Logger:          logger,
		Plant:           plantClient,
		Forecasts:       forecasts,
		Observations:    observations,
		Schedules:       schedules,
		Risk:            riskEngine,
		ForecastVersion: *version,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := orch.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("orchestrator error: %v", err)
		}
	}()

	logger.Printf("Planner started (interval %dm, horizon %dh). Press Ctrl+C to stop...",
		cfg.Planner.IntervalMinutes, cfg.HorizonHours)

	<-sigChan
	logger.Printf("Shutdown signal received, stopping planner...")

	cancel()
	orch.Stop()

	logger.Printf("Planner stopped")
}

func showHelp() {
	fmt.Println("Home Energy Planner")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  planner [flags]")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
