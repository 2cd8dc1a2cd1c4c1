package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailqueue/internal/config"
	"github.com/ignite/mailqueue/internal/feedback"
	"github.com/ignite/mailqueue/internal/pkg/distlock"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/repository/postgres"
	"github.com/ignite/mailqueue/internal/service/events"
	"github.com/ignite/mailqueue/internal/service/queue"
	"github.com/ignite/mailqueue/internal/service/suppression"
	"github.com/ignite/mailqueue/internal/transport"
	"github.com/ignite/mailqueue/internal/worker"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	log.Println("Starting mail queue workers...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.LevelFromString(cfg.Logging.Level))

	if cfg.Database.URL == "" {
		log.Fatal("database.url (or DATABASE_URL) is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to database")

	// Redis backs the cross-process worker locks; without it the workers
	// fall back to Postgres advisory locks.
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unreachable, using advisory locks: %v", err)
			rdb = nil
		}
		pingCancel()
	}

	suppressionSvc := suppression.NewService(postgres.NewSuppressionRepo(db))
	eventsSvc := events.NewService(postgres.NewEventRepo(db))
	queueSvc := queue.NewService(postgres.NewQueueRepo(db), suppressionSvc)
	retentionRepo := postgres.NewRetentionRepo(db)

	// Send worker pool
	smtpTransport := transport.NewSMTP(transport.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		HELOHost: cfg.SMTP.HELOHost,
	})
	sendPool := worker.NewSendWorkerPool(queueSvc, smtpTransport, worker.SendPoolConfig{
		NumWorkers:   cfg.Sender.NumWorkers,
		BatchSize:    cfg.Sender.BatchSize,
		PollInterval: cfg.Sender.PollInterval(),
		SendTimeout:  cfg.Sender.SendTimeout(),
	})
	if err := sendPool.Start(); err != nil {
		log.Fatalf("Failed to start send pool: %v", err)
	}
	log.Printf("Send worker pool started (%d workers, batch %d)", cfg.Sender.NumWorkers, cfg.Sender.BatchSize)

	// Stale lease recovery
	recoveryLock := distlock.New(rdb, db, "mailqueue:recovery", cfg.Recovery.StaleAge())
	recovery := worker.NewQueueRecoveryWorker(retentionRepo, recoveryLock, cfg.Recovery.Interval(), cfg.Recovery.StaleAge())
	go recovery.Start(ctx)
	log.Printf("Queue recovery worker started (every %s, stale after %s)", cfg.Recovery.Interval(), cfg.Recovery.StaleAge())

	// Retention cleanup
	cleanupLock := distlock.New(rdb, db, "mailqueue:cleanup", cfg.Retention.Interval())
	cleanup := worker.NewDataCleanupWorker(retentionRepo, cleanupLock, worker.RetentionConfig{
		Interval:       cfg.Retention.Interval(),
		QueueRetention: cfg.Retention.QueueRetention(),
		EventRetention: cfg.Retention.EventRetention(),
	})
	go cleanup.Start(ctx)
	log.Printf("Data cleanup worker started (every %s)", cfg.Retention.Interval())

	// Provider feedback loop via SQS
	var consumer *feedback.Consumer
	if cfg.Feedback.Enabled && cfg.Feedback.QueueURL != "" {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Feedback.Region)}
		if cfg.Feedback.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.Feedback.AccessKey, cfg.Feedback.SecretKey, "")))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v", err)
		}
		ingestor := feedback.NewIngestor(eventsSvc, suppressionSvc)
		consumer = feedback.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Feedback.QueueURL, ingestor)
		consumer.Start(ctx)
		log.Printf("Feedback consumer started on %s", cfg.Feedback.QueueURL)
	}

	log.Println("Workers running...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down workers...")
	cancel()

	sendPool.Stop()
	if consumer != nil {
		consumer.Stop()
	}

	log.Println("Workers stopped")
}
