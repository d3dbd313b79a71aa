package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/taskmaster/lifecycle/internal/adapters/cache"
	"github.com/taskmaster/lifecycle/internal/adapters/notify"
	"github.com/taskmaster/lifecycle/internal/adapters/repository"
	"github.com/taskmaster/lifecycle/internal/application/services"
	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/domain/lifecycle"
	"github.com/taskmaster/lifecycle/internal/infrastructure/config"
	"github.com/taskmaster/lifecycle/internal/infrastructure/database"
	"github.com/taskmaster/lifecycle/internal/infrastructure/logger"
	"github.com/taskmaster/lifecycle/internal/ports"
)

// app holds everything a command needs once the process is wired.
type app struct {
	cfg      *config.Config
	logger   *logger.Logger
	db       *database.DB
	redis    *redis.Client
	clock    lifecycle.Clock
	location *time.Location

	tasks      *services.TaskService
	reconcile  *services.ReconcileService
	recurrence *services.RecurrenceService
	tokens     *services.TokenService
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// bootstrap connects storage and builds the services. The caller must Close
// the returned app.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: appLogger, clock: lifecycle.SystemClock{}}

	a.location, err = time.LoadLocation(cfg.Recurrence.Timezone)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid recurrence timezone %q: %w", cfg.Recurrence.Timezone, err)
	}

	a.db, err = database.New(cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var locker ports.Locker
	dispatchers := notify.FanOut{notify.NewLogDispatcher(appLogger)}

	if cfg.Redis.Enabled {
		a.redis, err = cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker = cache.NewRedisLocker(a.redis)
		if cfg.Notify.RedisEnabled {
			dispatchers = append(dispatchers, notify.NewRedisPublisher(a.redis, cfg.Notify.Channel))
		}
	} else {
		appLogger.Warn("Redis disabled, sweeps are only serialized inside this process")
	}

	taskRepo := repository.NewTaskRepository(a.db.DB)
	defRepo := repository.NewRecurringRepository(a.db.DB)

	engine := lifecycle.NewEngine(a.clock, approverCapability(cfg.Security.ApproverRoles), lifecycle.KindEvidenceClassifier{})

	a.tasks = services.NewTaskService(taskRepo, dispatchers, engine, a.clock, appLogger)
	a.reconcile = services.NewReconcileService(taskRepo, locker, a.clock, appLogger, services.ReconcileOptions{
		BatchSize:  cfg.Reconcile.BatchSize,
		SessionCap: cfg.Reconcile.SessionCap,
		LockTTL:    cfg.Reconcile.LockTTL,
	})
	a.recurrence = services.NewRecurrenceService(defRepo, taskRepo, locker, a.clock, a.location, cfg.Recurrence.LockTTL, appLogger)
	a.tokens = services.NewTokenService(cfg.JWT, a.clock)

	return a, nil
}

func approverCapability(roles []string) lifecycle.RoleCapability {
	capability := lifecycle.RoleCapability{}
	for _, r := range roles {
		if role := entities.UserRole(r); role.IsValid() {
			capability.Roles = append(capability.Roles, role)
		}
	}
	if len(capability.Roles) == 0 {
		capability.Roles = lifecycle.DefaultApproverRoles
	}
	return capability
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", "error", err)
		}
	}
	_ = a.logger.Close()
}
