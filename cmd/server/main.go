package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verity/internal/audit/correlator"
	"verity/internal/audit/feed"
	"verity/internal/audit/handler"
	"verity/internal/audit/metrics"
	"verity/internal/audit/pipeline"
	"verity/internal/audit/regulatory"
	"verity/internal/audit/resolution"
	"verity/internal/integrations/emissions"
	"verity/internal/integrations/entityregistry"
	"verity/internal/integrations/intelligence"
	"verity/internal/integrations/reasoning"
	"verity/internal/platform/config"
	"verity/internal/platform/httpserver"
	"verity/internal/platform/logger"
	platformredis "verity/internal/platform/redis"
	httptransport "verity/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Audit logic lives
// in the stage packages; collaborator clients degrade gracefully when their
// keys are absent, so a bare `go run ./cmd/server` works for demos.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	// Collaborators.
	var reasoner *reasoning.Client
	if cfg.Reasoning.APIKey != "" {
		reasoner = reasoning.New(cfg.Reasoning, cfg.ReasoningModel)
	} else {
		log.Warn("reasoning collaborator unconfigured, running deterministic detectors only")
	}
	estimator := emissions.New(cfg.Emissions, emissions.WithLogger(log))
	verifier := entityregistry.New(cfg.EntityRegistry, entityregistry.WithLogger(log))
	searcher := intelligence.New(cfg.Intelligence, intelligence.WithLogger(log))

	// Live feed observers.
	feedOpts := []feed.Option{}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		feedOpts = append(feedOpts, feed.WithSink(feed.NewRedisSink(redisClient, cfg.Redis.FeedChannel)))
		log.Info("redis feed sink enabled", "channel", cfg.Redis.FeedChannel)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaClient, err := feed.NewKafkaClient(cfg.Kafka.Brokers)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		sink := feed.NewKafkaSink(kafkaClient, cfg.Kafka.FeedTopic)
		defer sink.Close()
		feedOpts = append(feedOpts, feed.WithSink(sink))
		log.Info("kafka feed sink enabled", "topic", cfg.Kafka.FeedTopic)
	}
	recorder := feed.New(log, feedOpts...)
	defer recorder.Close()

	// Pipeline stages.
	correlatorOpts := []correlator.Option{correlator.WithLogger(log), correlator.WithEstimator(estimator)}
	mapperOpts := []regulatory.Option{
		regulatory.WithLogger(log),
		regulatory.WithVerifier(verifier),
		regulatory.WithSearcher(searcher),
	}
	resolverOpts := []resolution.Option{resolution.WithLogger(log)}
	if reasoner != nil {
		correlatorOpts = append(correlatorOpts, correlator.WithReasoner(reasoner, reasoning.DecodeFencedJSON))
		mapperOpts = append(mapperOpts, regulatory.WithReasoner(reasoner, reasoning.DecodeFencedJSON))
		resolverOpts = append(resolverOpts, resolution.WithReasoner(reasoner))
	}

	auditMetrics := metrics.New()
	runner := pipeline.New(
		correlator.New(correlatorOpts...),
		regulatory.New(mapperOpts...),
		resolution.New(resolverOpts...),
		pipeline.WithPublisher(recorder),
		pipeline.WithMetrics(auditMetrics),
		pipeline.WithLogger(log),
		pipeline.WithDefaultMaxLoops(cfg.Server.MaxLoops),
	)

	auditHandler := handler.New(runner, estimator, verifier, searcher, log)
	router := httptransport.NewRouter(log, cfg.Server.JWTSigningKey, auditHandler)

	srv := httpserver.New(cfg.Server.Addr, router)
	log.Info("starting verity audit service", "addr", cfg.Server.Addr, "max_loops", cfg.Server.MaxLoops)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
