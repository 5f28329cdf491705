package main

import (
	"context"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/Teskh/production-sub000/internal/api"
	"github.com/Teskh/production-sub000/internal/config"
	"github.com/Teskh/production-sub000/internal/database"
	"github.com/Teskh/production-sub000/internal/keystore"
	"github.com/Teskh/production-sub000/internal/lock"
	"github.com/Teskh/production-sub000/internal/services/advancement"
	"github.com/Teskh/production-sub000/internal/services/audit"
	"github.com/Teskh/production-sub000/internal/services/qc"
	"github.com/Teskh/production-sub000/internal/services/scheduler"
	"github.com/Teskh/production-sub000/internal/services/tasks"
)

// App holds the wired services for one CLI invocation
type App struct {
	ctx              context.Context
	cfg              *config.Config
	db               *gorm.DB
	locks            *lock.MutexMap
	taskService      *tasks.Service
	engine           *advancement.Engine
	qcService        *qc.Service
	auditService     *audit.Service
	schedulerService *scheduler.Service
	schedulerRunning bool
}

// NewApp creates a new App for cfg
func NewApp(cfg *config.Config) *App {
	return &App{
		cfg:   cfg,
		locks: lock.NewMutexMap(),
	}
}

// startup opens the database and wires the services. Advancement listens
// before QC so a completion moves the unit before checks are opened.
func (a *App) startup(ctx context.Context) error {
	a.ctx = ctx

	db, err := database.Open(a.cfg.Database, a.cfg.Debug())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	a.taskService = tasks.NewService(db, a.locks)
	a.engine = advancement.NewEngine()
	a.qcService = qc.NewService(db, a.taskService)
	a.engine.SetReworkFinisher(a.qcService)
	a.taskService.AddListener(a.engine)
	a.taskService.AddListener(a.qcService)
	a.auditService = audit.NewService(db)

	a.schedulerService = scheduler.NewService(db, ctx, a.engine, a.locks, a.qcService)
	if url := a.cfg.Notifications.WebhookURL; url != "" {
		token, err := keystore.LoadToken(a.cfg.Notifications.KeyringService, a.cfg.Notifications.Token)
		if err != nil {
			return err
		}
		client := api.NewClient(url, token, a.cfg.Notifications.Timeout)
		a.schedulerService.SetNotifier(client, a.cfg.Notifications.BatchSize)
	}

	return nil
}

// shutdown stops the scheduler and closes the database
func (a *App) shutdown() {
	if a.schedulerRunning {
		a.schedulerService.Stop()
	}

	if err := database.Close(a.db); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}
