package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/rawblock/mixsim/internal/api"
	"github.com/rawblock/mixsim/internal/db"
	"github.com/rawblock/mixsim/internal/sim"
	"github.com/rawblock/mixsim/pkg/models"
)

func main() {
	log.Println("Starting RawBlock Mixnet Measurement Engine...")

	// ─── Configuration ──────────────────────────────────────────────────
	// Everything comes from environment variables. DATABASE_URL is
	// optional: without it the engine still runs sweeps and writes the
	// CSV tree, it just cannot serve aggregated stats from Postgres.
	// ────────────────────────────────────────────────────────────────────

	outDir := getEnvOrDefault("OUTPUT_DIR", "./results")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("FATAL: Cannot create output directory %s: %v", outDir, err)
	}

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		dbConn, err = db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting sweep results. Error: %v", err)
			dbConn = nil
		} else {
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set — sweep results will only exist as CSV files")
	}

	// Setup WebSocket hub for sweep lifecycle events
	wsHub := api.NewHub()
	go wsHub.Run()

	var store sim.ResultStore
	if dbConn != nil {
		store = dbConn
	}
	runner := sim.NewRunner(store, func(event sim.Event) {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[Engine] Failed to marshal sweep event: %v", err)
			return
		}
		wsHub.Broadcast(payload)
	})

	// Optionally kick off a sweep immediately: SWEEP_EXPERIMENT,
	// SWEEP_SESSION and SWEEP_QUEUE_TYPE select the grid.
	if expStr := os.Getenv("SWEEP_EXPERIMENT"); expStr != "" {
		exp, err := models.ParseExperimentID(expStr)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		session, err := models.ParseSessionID(getEnvOrDefault("SWEEP_SESSION", "1"))
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		queueType, err := models.ParseQueueType(getEnvOrDefault("SWEEP_QUEUE_TYPE", "NonMix"))
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		sweepID, err := runner.StartSweep(context.Background(), sim.SweepConfig{
			Experiment: exp,
			Session:    session,
			QueueType:  queueType,
			OutDir:     outDir,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to start sweep: %v", err)
		}
		log.Printf("Started sweep %s (e%ss%s, %s)", sweepID, expStr,
			getEnvOrDefault("SWEEP_SESSION", "1"), queueType)
	}

	// Setup the Gin router
	r := api.SetupRouter(dbConn, runner, wsHub, outDir)

	port := getEnvOrDefault("PORT", "5340")
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnvOrDefault reads an environment variable with a fallback default.
func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}
