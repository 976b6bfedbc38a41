package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Miguel4950/g4-prestamos-backend/internal/catalog"
	"github.com/Miguel4950/g4-prestamos-backend/internal/config"
	"github.com/Miguel4950/g4-prestamos-backend/internal/httpx"
	kafkax "github.com/Miguel4950/g4-prestamos-backend/internal/kafka"
	"github.com/Miguel4950/g4-prestamos-backend/internal/loans"
	"github.com/Miguel4950/g4-prestamos-backend/internal/policy"
	"github.com/Miguel4950/g4-prestamos-backend/internal/postgres"
	"github.com/Miguel4950/g4-prestamos-backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for reservation notifications
	prod := kafkax.NewProducer(cfg.KafkaBrokers, loans.TopicReservationNotified, 1024)
	prod.Start(ctx)

	// Catalog gateway with cached integration token
	tokens := catalog.NewTokenClient(cfg.AuthBaseURL, cfg.IntegrationUser, cfg.IntegrationPassword)
	gateway := catalog.NewGateway(cfg.CatalogBaseURL, tokens)

	// Policy cache: built once here and injected; values are memoized for
	// the process lifetime, a restart picks up changed knobs.
	policyCache := policy.NewCache(&policy.RedisStore{RDB: rdb})

	queue := loans.NewQueue(&loans.ReservationRepo{DB: db}, gateway, policyCache, prod, cfg.ServiceName)
	engine := loans.NewEngine(&loans.LoanRepo{DB: db}, gateway, policyCache, queue)

	router := httpx.NewRouter()
	(&httpx.LoansHandler{Engine: engine, Redis: rdb}).Register(router)
	(&httpx.ReservationsHandler{Queue: queue}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // close inbox -> flush & close writer
	cancel()
	prod.WaitClosed()
}
