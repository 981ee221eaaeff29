// cmd/catalog/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"libris/internal/catalog"
	"libris/internal/config"
	"libris/internal/notify"
	"libris/internal/observability"
	"libris/pkg/eventlog"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()
	port := config.Port("CATALOG_PORT", "8081")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "catalog-service", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn().Err(err).Msg("tracing disabled")
	} else {
		defer shutdownTracing(context.Background())
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	conn, ch, err := notify.Dial(cfg.AMQPURL, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to broker")
	}
	defer conn.Close()
	defer ch.Close()

	bridge := notify.NewBridge(notify.NewAMQPPublisher(ch), log.Logger)
	consumer := notify.NewConsumer(ch, bridge, log.Logger)
	if err := consumer.Start(ctx, notify.BookKey); err != nil {
		log.Fatal().Err(err).Msg("start notification consumer")
	}

	journal := eventlog.NewJournal(db)
	svc := catalog.NewService(journal, db, bridge, cfg.AckWait, log.Logger)
	handler := catalog.NewHandler(svc)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	handler.Routes(r)

	srv := &http.Server{Addr: ":" + port, Handler: r}
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Warn().Msg("shutting down")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		srv.Shutdown(shutdownCtx)
		cancel()
	}()

	log.Info().Str("port", port).Msg("catalog service listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}
