package cron

import (
	"context"
	"sync"

	"github.com/caarlos0/env/v6"
	cronv3 "github.com/robfig/cron/v3"

	"github.com/mailvault/mailvault/config"
	"github.com/mailvault/mailvault/interfaces"
	cron_config "github.com/mailvault/mailvault/internal/cron/config"
	"github.com/mailvault/mailvault/internal/logger"
	"github.com/mailvault/mailvault/internal/tracing"
	"github.com/mailvault/mailvault/services/download"
	syncservice "github.com/mailvault/mailvault/services/sync"
)

const (
	// GroupArchive serializes sync and download passes; the two jobs touch the
	// same accounts and must never overlap
	GroupArchive = "archive"
)

// LOCK MANAGEMENT
var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupArchive: new(sync.Mutex),
	},
}

type CronManager struct {
	cfg       *config.Config
	log       logger.Logger
	cron      *cronv3.Cron
	stopCh    chan struct{}
	jobIDs    map[string]cronv3.EntryID
	accounts  interfaces.AccountRepository
	syncer    *syncservice.Service
	downloads *download.Service
}

func NewCronManager(cfg *config.Config, log logger.Logger, accounts interfaces.AccountRepository, syncer *syncservice.Service, downloads *download.Service) *CronManager {
	return &CronManager{
		cfg:       cfg,
		log:       log,
		stopCh:    make(chan struct{}),
		jobIDs:    make(map[string]cronv3.EntryID),
		accounts:  accounts,
		syncer:    syncer,
		downloads: downloads,
	}
}

// Stop gracefully stops the cron manager
func (cm *CronManager) Stop() {
	if cm.cron != nil {
		cm.log.Info("Stopping cron manager")
		ctx := cm.cron.Stop()
		// Wait for jobs to finish
		<-ctx.Done()
	}
	close(cm.stopCh)
}

// registerJobs adds all cron jobs to the scheduler
func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	var cronConfig cron_config.Config
	if err := env.Parse(&cronConfig); err != nil {
		cm.log.Fatalf("Failed to parse cron config from environment: %v", err)
	}

	if cronConfig.CronScheduleHeartbeat != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleHeartbeat, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			cm.log.Info("Cron heartbeat")
		})
		if err != nil {
			cm.log.Fatalf("Could not add heartbeat cron job: %v", err)
		}
		cm.jobIDs["heartbeat"] = id
		cm.log.Infof("Registered heartbeat job with schedule: %s", cronConfig.CronScheduleHeartbeat)
	}

	if cronConfig.CronScheduleSync != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleSync, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupArchive].Lock()
			defer jobLocks.locks[GroupArchive].Unlock()
			cm.syncAccounts()
		})
		if err != nil {
			cm.log.Fatalf("Could not add sync cron job: %v", err)
		}
		cm.jobIDs["sync"] = id
		cm.log.Infof("Registered sync job with schedule: %s", cronConfig.CronScheduleSync)
	}

	if cronConfig.CronScheduleDownload != "" {
		id, err := c.AddFunc(cronConfig.CronScheduleDownload, func() {
			defer tracing.RecoverAndLogToJaeger(cm.log)
			jobLocks.locks[GroupArchive].Lock()
			defer jobLocks.locks[GroupArchive].Unlock()
			cm.downloadPending()
		})
		if err != nil {
			cm.log.Fatalf("Could not add download cron job: %v", err)
		}
		cm.jobIDs["download"] = id
		cm.log.Infof("Registered download job with schedule: %s", cronConfig.CronScheduleDownload)
	}
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.log.Info("Starting cron manager")
	cronOptions := []cronv3.Option{
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	}
	c := cronv3.New(cronOptions...)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) syncAccounts() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.syncAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.accounts.ListAll(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list accounts: %v", err)
		return
	}

	for _, account := range accounts {
		if err := cm.syncer.SyncAccount(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Scheduled sync of account %s failed: %v", account.User, err)
		}
	}
}

func (cm *CronManager) downloadPending() {
	ctx := context.Background()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.downloadPending")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	accounts, err := cm.accounts.ListIncomplete(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to list incomplete accounts: %v", err)
		return
	}
	if len(accounts) == 0 {
		cm.log.Info("All accounts fully downloaded, nothing to do")
		return
	}

	for _, account := range accounts {
		if err := cm.downloads.Run(ctx, account, cm.cfg.AppConfig.PageLimit, cm.cfg.AppConfig.Concurrency); err != nil {
			tracing.TraceErr(span, err)
			cm.log.Errorf("Scheduled download for account %s failed: %v", account.User, err)
		}
	}
}
