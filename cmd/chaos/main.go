// cmd/chaos/main.go
//
// Runs the fault-injection suite against the local compose stack and
// prints the results as JSON.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"libris/internal/chaos"
	"libris/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	engine := chaos.NewEngine(db, log.Logger)
	engine.RegisterExperiments()

	results, err := engine.RunAll(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("experiment suite aborted")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Fatal().Err(err).Msg("encode results")
	}
	if err != nil {
		os.Exit(1)
	}
}
