package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-stream/internal/app"
	"github.com/suPer8Hu/ai-stream/internal/chat"
	"github.com/suPer8Hu/ai-stream/internal/config"
	"github.com/suPer8Hu/ai-stream/internal/db"
	"github.com/suPer8Hu/ai-stream/internal/httpapi"
	"github.com/suPer8Hu/ai-stream/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-stream/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-stream/internal/store/redisstore"
	"github.com/suPer8Hu/ai-stream/internal/worker"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := chat.NewRepo(gdb).Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HistoryCacheTTL)
	defer rds.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	cancelPing()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit publisher: %v", err)
	}
	defer pub.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a := app.New(cfg, gdb, rds, promReg)
	h := handlers.NewHandler(a.ChatSvc, pub, a.Gate)
	r := httpapi.NewRouter(h, cfg.JWTSecret, cfg.CORSOrigins, promReg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Windows left open by a crashed generation are released here.
	go a.Gate.RunJanitor(ctx, cfg.GateJanitorInterval, cfg.GateStaleTimeout)

	// Queued jobs are answered in this process so they share a.Gate with
	// the streaming endpoint. Run a single instance.
	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()
	if err := rabbitmq.DeclareJobQueues(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}
	if err := ch.Qos(cfg.WorkerConcurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}
	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	// Updates go out on their own channel so publishing never waits
	// behind consumer acks.
	upCh, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit updates channel: %v", err)
	}
	defer upCh.Close()
	updates, err := rabbitmq.NewUpdatePublisher(upCh, cfg.RabbitUpdatesQueue)
	if err != nil {
		log.Fatalf("updates queue declare: %v", err)
	}

	consumer := worker.NewConsumer(a.Repo, a.ChatSvc, updates)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		log.Printf("job consumer started, queue=%s updates=%s concurrency=%d", cfg.RabbitQueue, cfg.RabbitUpdatesQueue, cfg.WorkerConcurrency)
		consumer.Run(ctx, msgs, cfg.WorkerConcurrency)
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("api shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	<-consumerDone
	if n := a.Gate.ClearAll(); n > 0 {
		log.Printf("released %d processing windows on shutdown", n)
	}
}
