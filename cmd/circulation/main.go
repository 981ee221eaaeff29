// cmd/circulation/main.go
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

	"libris/internal/circulation"
	"libris/internal/clients"
	"libris/internal/config"
	"libris/internal/inventory"
	"libris/internal/notify"
	"libris/internal/observability"
	"libris/pkg/eventlog"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg := config.Load()
	port := config.Port("CIRCULATION_PORT", "8082")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, "circulation-service", cfg.OTLPEndpoint)
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
	if err := consumer.Start(ctx, notify.RentalKey, notify.ReservationKey); err != nil {
		log.Fatal().Err(err).Msg("start notification consumer")
	}

	journal := eventlog.NewJournal(db)
	store := circulation.NewPostgresStore(db, journal)
	catalogClient := clients.NewCatalogClient(cfg.CatalogURL)
	membershipClient := clients.NewMembershipClient(cfg.MembershipURL)
	ledger := inventory.NewLedger()

	svc := circulation.NewCoordinator(catalogClient, membershipClient, store, ledger, bridge, cfg.AckWait, log.Logger)
	handler := circulation.NewHandler(svc)

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

	log.Info().Str("port", port).Msg("circulation service listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("serve")
	}
}
