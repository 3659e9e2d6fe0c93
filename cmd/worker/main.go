package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/folio/backend/internal/bootstrap"
	"github.com/OFFIS-RIT/folio/backend/internal/db"
	"github.com/OFFIS-RIT/folio/backend/internal/ingest"
	"github.com/OFFIS-RIT/folio/backend/internal/queue"
	"github.com/OFFIS-RIT/folio/backend/internal/storage"
	"github.com/OFFIS-RIT/folio/backend/internal/util"
	"github.com/OFFIS-RIT/folio/backend/pkg/loader/web"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger"
	"github.com/OFFIS-RIT/folio/backend/pkg/logger/console"
	pgstore "github.com/OFFIS-RIT/folio/backend/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client, err := storage.NewS3Client(ctx)
	if err != nil {
		logger.Fatal("Failed to create S3 client", "err", err)
	}
	exports := storage.NewExportStore(s3Client, util.GetEnv("AWS_BUCKET"))

	aiClient, err := bootstrap.NewAIClient()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}

	// Init pgx client
	if err := db.Migrate(util.GetEnv("MIGRATIONS_PATH"), util.GetEnv("DATABASE_URL")); err != nil {
		logger.Fatal("Failed to run migrations", "err", err)
	}
	pgConn, err := bootstrap.ConnectDB(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	ingestCfg := ingest.Config{
		Store:    pgstore.NewDocumentStorageWithConnection(pgConn),
		Embedder: aiClient,
		Lock:     bootstrap.NewIngestLock(pgConn),
		Parallel: util.GetEnvInt("AI_PARALLEL_REQ", 4),
	}
	if util.GetEnvBool("INGEST_FETCH_PUBLICATIONS", false) {
		ingestCfg.Pages = web.NewLoader()
	}

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.IngestQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	processor := &queue.Processor{
		Ingest:    ingest.NewService(ingestCfg),
		Exports:   exports,
		Snapshots: db.NewSnapshots(pgConn),
		Channel:   ch,
	}

	// One message at a time: ingests replace whole collections.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.IngestQueue,
		queue.IngestQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.IngestQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.IngestQueue)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.IngestQueue)
				return
			}
			startTime := time.Now()
			logger.Info("Received message", "queue", queue.IngestQueue)

			if err := processor.ProcessIngestMessage(ctx, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queue.IngestQueue, "err", err)
				queue.HandleProcessingError(consumerCh, msg, queue.IngestQueue)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.IngestQueue)
			}

			metrics := aiClient.GetMetrics()
			logger.Info(
				"AI Metrics",
				"requests", metrics.Requests,
				"input_tokens", metrics.InputTokens,
				"total_tokens", metrics.TotalTokens,
				"duration", clock(time.Duration(metrics.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", clock(time.Since(startTime)))
			aiClient.ResetMetrics()
		}
	}
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
