package main

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/mailvault/mailvault/config"
	"github.com/mailvault/mailvault/interfaces"
	"github.com/mailvault/mailvault/internal/database"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/repository"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/services/download"
	"github.com/mailvault/mailvault/services/events"
	"github.com/mailvault/mailvault/services/imap"
	"github.com/mailvault/mailvault/services/storage"
	syncservice "github.com/mailvault/mailvault/services/sync"
)

// runtime holds everything a command needs after bootstrap.
type runtime struct {
	cfg          *config.Config
	log          logger.Logger
	db           *gorm.DB
	repositories *repository.Repositories
	client       interfaces.MailClient
	blobs        interfaces.BlobStorage
	events       interfaces.EventPublisher
	syncer       *syncservice.Service
	downloads    *download.Service

	tracerCloser io.Closer
}

func newRuntime() (*runtime, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, err
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	rt := &runtime{cfg: cfg, log: appLogger}

	if cfg.Tracing.Enabled {
		tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
		if err != nil {
			appLogger.Warnf("Tracing disabled, jaeger init failed: %v", err)
		} else {
			opentracing.SetGlobalTracer(tracer)
			rt.tracerCloser = closer
		}
	}

	rt.db, err = database.NewConnection(cfg.DatabaseConfig)
	if err != nil {
		return nil, err
	}
	rt.repositories = repository.InitRepositories(rt.db)

	rt.client = imap.NewMailClient(cfg.ImapConfig, appLogger)

	rt.blobs, err = storage.NewBlobStorage(cfg.AppConfig, cfg.StorageConfig)
	if err != nil {
		return nil, err
	}

	if cfg.AppConfig.RabbitMQURL != "" {
		publisher, err := events.NewRabbitMQPublisher(cfg.AppConfig.RabbitMQURL, appLogger, nil)
		if err != nil {
			appLogger.Warnf("Event publishing disabled, RabbitMQ unavailable: %v", err)
		} else {
			rt.events = publisher
		}
	}

	rt.syncer = syncservice.NewService(
		rt.client,
		rt.repositories.AccountRepository,
		rt.repositories.MailRepository,
		appLogger,
		cfg.ImapConfig.SyncBatchSize,
	)

	runner := download.NewExecBatchRunner(appLogger, time.Duration(cfg.AppConfig.WorkerTimeoutMinutes)*time.Minute)
	rt.downloads = download.NewService(
		rt.client,
		rt.repositories.AccountRepository,
		rt.repositories.MailRepository,
		rt.blobs,
		rt.events,
		appLogger,
		runner,
		time.Duration(cfg.AppConfig.ProgressPollSeconds)*time.Second,
	)

	return rt, nil
}

func (rt *runtime) close() {
	if rt.events != nil {
		if err := rt.events.Close(); err != nil {
			rt.log.Errorf("Error closing event publisher: %v", err)
		}
	}
	if rt.tracerCloser != nil {
		rt.tracerCloser.Close()
	}
}

func main() {
	app := &cli.App{
		Name:  "mailvault",
		Usage: "archive IMAP mailboxes into durable .eml storage",
		Commands: []*cli.Command{
			migrateCommand(),
			accountCommand(),
			syncCommand(),
			downloadCommand(),
			downloadBatchCommand(),
			statsCommand(),
			watchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
