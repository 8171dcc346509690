package main

import (
	"context"
	"log"
	"os"

	"github.com/ozcount/scrutiny-engine/internal/api"
	"github.com/ozcount/scrutiny-engine/internal/config"
	"github.com/ozcount/scrutiny-engine/internal/db"
	"github.com/ozcount/scrutiny-engine/internal/runner"
)

func main() {
	log.Println("Starting STV Scrutiny Engine...")

	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <config.toml> [more configs...]", os.Args[0])
	}

	work, err := config.Load(os.Args[1:]...)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	log.Printf("Loaded configuration: %s (%d contests)", work.Description, len(work.Tasks))

	// Result persistence is optional: without DATABASE_URL (or with an
	// unreachable database) counts still run and write JSON documents.
	var dbConn *db.PostgresStore
	if dbUrl := os.Getenv("DATABASE_URL"); dbUrl != "" {
		dbConn, err = db.Connect(dbUrl)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without result persistence. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	// Setup WebSocket Hub for the live round stream
	wsHub := api.NewHub()
	go wsHub.Run()

	outputDir := getEnvOrDefault("OUTPUT_DIR", "output")
	contests := runner.New(work, dbConn, outputDir, api.BroadcastRoundAlert(wsHub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := contests.RunAll(ctx); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// Batch mode is the default: count, write documents, exit zero.
	// SERVE=true keeps the process up to serve results and recounts.
	if getEnvOrDefault("SERVE", "false") != "true" {
		log.Println("All contests complete.")
		return
	}

	r := api.SetupRouter(dbConn, contests, wsHub)
	port := getEnvOrDefault("PORT", "5339")
	log.Printf("Results API running on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault returns the env var value or a safe default for non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
