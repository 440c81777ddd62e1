package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"medipickup/m/internal/api"
	"medipickup/m/internal/config"
	"medipickup/m/internal/database"
	"medipickup/m/internal/inventory"
	"medipickup/m/internal/migrations"
	"medipickup/m/internal/notify"
	"medipickup/m/internal/order"
	"medipickup/m/internal/seed"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	cfg := config.Load()

	db, err := database.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	seed.LoadMedicines(db, cfg.MedicineCSV, log)

	hub := notify.NewHub(log)
	sockets := notify.NewSocketServer(hub, log)
	ledger := inventory.NewLedger(db, log)
	orders := order.New(db, ledger, hub, log)
	handler := api.New(db, orders, ledger, sockets, cfg.Secret, log)

	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: handler.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("order-pickup server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
