package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/mmdatafocus/eventrecon/models"
	"github.com/mmdatafocus/eventrecon/models/reports"
	"github.com/mmdatafocus/eventrecon/ops"
	"github.com/mmdatafocus/eventrecon/recon"
	"github.com/mmdatafocus/eventrecon/stores"
	"github.com/mmdatafocus/eventrecon/utils"
	"github.com/sirupsen/logrus"
)

// app holds what every subcommand shares: settings, logger, the notifier and the report board.
type app struct {
	settings config.Settings
	logger   *logrus.Logger
	override *stores.BranchOverride
	notifier recon.Notifier
	board    *recon.ReportBoard
	locker   recon.Locker
}

func newApp(ctx context.Context) (*app, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	logger := config.ConfigureLogger(s)

	a := &app{
		settings: s,
		logger:   logger,
		notifier: recon.NopNotifier(),
		board:    recon.NewReportBoard(logger),
	}

	if s.BranchesFile != "" {
		o, err := stores.LoadBranchOverride(s.BranchesFile)
		if err != nil {
			return nil, err
		}
		a.override = o
	}

	if err := config.ConnectRedis(ctx, s.RedisAddress, s.ConnectAttempts); err != nil {
		config.LogError(logger, "reconciler", "newApp", "ConnectRedis", nil, err)
	}
	a.locker = config.NewRedisLocker()

	if !config.NotificationsDisabled() && s.PubSubTopic != "" {
		client, err := config.GetPubSubClient(ctx, s)
		if err != nil {
			config.LogError(logger, "reconciler", "newApp", "GetPubSubClient", nil, err)
		} else {
			a.notifier = &recon.PubSubNotifier{Client: client, Topic: s.PubSubTopic, Logger: logger}
		}
	}
	return a, nil
}

// close releases the process-wide clients.
func (a *app) close() {
	config.ClosePubSub()
	config.CloseRedis()
}

func (a *app) windows() recon.Windows {
	return recon.Windows{
		PendingDays:        a.settings.PendingWindowDays,
		StatusLookbackDays: a.settings.StatusLookbackDays,
		UnresolvedDays:     a.settings.UnresolvedWindowDays,
	}
}

// openTracking connects the tracking store, migrating it first when TRACKING_AUTO_MIGRATE is set.
func (a *app) openTracking(ctx context.Context) (*stores.TrackingStore, error) {
	db, err := config.OpenTracking(ctx, a.settings)
	if err != nil {
		return nil, err
	}
	if a.settings.TrackingAutoMigrate {
		if err := models.MigrateTracking(db); err != nil {
			config.CloseGorm(db)
			return nil, err
		}
	}
	return stores.NewTrackingStore(db), nil
}

// acquire is the RuntimeFactory: one tracking connection and one lazily opened authority handle
// per unit of work. Event logs are dialed per branch by the caller.
func (a *app) acquire(ctx context.Context) (*recon.Runtime, error) {
	tracking, err := a.openTracking(ctx)
	if err != nil {
		return nil, err
	}
	rt := &recon.Runtime{
		Tracking: tracking,
		Logger:   a.logger,
		Notifier: a.notifier,
	}
	rt.OnRelease(func() { _ = tracking.Close() })

	authority := stores.NewAuthorityStore(func(ctx context.Context) (*sql.DB, error) {
		return config.OpenAuthority(ctx, a.settings)
	}, a.logger)
	rt.OnRelease(func() { _ = authority.Close() })
	rt.Authority = authority

	rt.Branches = &stores.BranchCatalog{
		Source:   authority,
		Override: a.override,
		CacheTTL: a.settings.BranchCacheTTL,
		Logger:   a.logger,
	}
	rt.EventLogs = recon.EventLogOpenerFunc(func(ctx context.Context, branch int) (recon.EventLog, error) {
		db, err := config.OpenEventLog(ctx, a.settings, branch)
		if err != nil {
			return nil, err
		}
		return stores.NewEventLogStore(db, branch), nil
	})
	return rt, nil
}

func (a *app) cycle() *recon.Cycle {
	return &recon.Cycle{
		Acquire:           a.acquire,
		Windows:           a.windows(),
		SkipPreValidation: config.SkipPreValidation(),
		Board:             a.board,
	}
}

func (a *app) cleanupJob() *recon.CleanupJob {
	return &recon.CleanupJob{
		Acquire:     a.acquire,
		MaxWorkers:  a.settings.CleanupMaxWorkers,
		TaskTimeout: a.settings.CleanupTaskTimeout,
		Board:       a.board,
	}
}

func (a *app) cycleScheduler() *recon.Scheduler {
	c := a.cycle()
	return &recon.Scheduler{
		Name:     "cycle",
		Interval: a.settings.CycleInterval,
		Locker:   a.locker,
		Logger:   a.logger,
		Job: func(ctx context.Context) error {
			_, err := c.Run(ctx)
			return err
		},
	}
}

func (a *app) cleanupScheduler() *recon.Scheduler {
	if !a.settings.CleanupEnabled {
		return nil
	}
	job := a.cleanupJob()
	return &recon.Scheduler{
		Name:     "cleanup",
		Interval: a.settings.CleanupInterval,
		Locker:   a.locker,
		Logger:   a.logger,
		Job: func(ctx context.Context) error {
			_, err := job.Run(ctx, nil)
			return err
		},
	}
}

// uploader returns nil when GCS_BUCKET is not configured.
func (a *app) uploader() ops.Uploader {
	if a.settings.GCSBucket == "" {
		return nil
	}
	return func(ctx context.Context, objectName string, data []byte) (string, error) {
		client, err := utils.GetGCSClient(ctx, a.settings.GCSCredentialsJSON)
		if err != nil {
			return "", fmt.Errorf("gcs client: %w", err)
		}
		defer client.Close()

		uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		return utils.UploadBytesToGCS(uploadCtx, client, a.settings.GCSBucket, objectName, data, reports.ContentTypeXLSX)
	}
}
