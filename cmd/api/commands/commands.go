package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/taskmaster/lifecycle/internal/application/services"
	"github.com/taskmaster/lifecycle/internal/domain/entities"
	"github.com/taskmaster/lifecycle/internal/infrastructure/database"
	"github.com/taskmaster/lifecycle/internal/infrastructure/scheduler"
	"github.com/taskmaster/lifecycle/internal/infrastructure/server"
)

// Build information, set with -ldflags.
var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "development"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the lifecycle API server",
		Long:  "Start the HTTP API together with the scheduled recurrence and reconcile sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd)
		},
	}
}

// NewMigrateCommand creates the migrate command with subcommands
func NewMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long:  "Manage database migrations (up, down, version)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply up migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return runMigration(cmd, "up", steps)
		},
	}
	upCmd.Flags().Int("steps", 0, "Number of migrations to apply, 0 for all")

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return runMigration(cmd, "down", steps)
		},
	}
	downCmd.Flags().Int("steps", 0, "Number of migrations to revert, 0 for all")

	migrateCmd.AddCommand(upCmd, downCmd, &cobra.Command{
		Use:   "version",
		Short: "Print current migration version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showMigrationVersion(cmd)
		},
	})

	return migrateCmd
}

// NewReconcileCommand creates the timer recovery command
func NewReconcileCommand() *cobra.Command {
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recover timers left running on closed tasks",
	}

	reconcileCmd.AddCommand(&cobra.Command{
		Use:   "preview",
		Short: "Report the corrections without writing them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, true)
		},
	}, &cobra.Command{
		Use:   "commit",
		Short: "Apply the corrections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd, false)
		},
	})

	return reconcileCmd
}

// NewRecurrenceCommand creates the recurring task command
func NewRecurrenceCommand() *cobra.Command {
	recurrenceCmd := &cobra.Command{
		Use:   "recurrence",
		Short: "Materialize recurring task definitions",
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Create tasks for every definition due on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return runSweep(cmd, date)
		},
	}
	sweepCmd.Flags().String("date", "", "Calendar date (YYYY-MM-DD), defaults to today")

	materializeCmd := &cobra.Command{
		Use:   "materialize",
		Short: "Create the task for one definition on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			date, _ := cmd.Flags().GetString("date")
			return runMaterialize(cmd, id, date)
		},
	}
	materializeCmd.Flags().String("id", "", "Definition ID (required)")
	materializeCmd.Flags().String("date", "", "Calendar date (YYYY-MM-DD), defaults to today")
	_ = materializeCmd.MarkFlagRequired("id")

	recurrenceCmd.AddCommand(sweepCmd, materializeCmd)
	return recurrenceCmd
}

// NewTokenCommand creates the token command used to mint bearer tokens
func NewTokenCommand() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Bearer token commands",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _ := cmd.Flags().GetString("id")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return issueToken(cmd, id, role, ttl)
		},
	}
	issueCmd.Flags().String("id", "", "Actor ID, a new one is generated when empty")
	issueCmd.Flags().String("role", string(entities.UserRoleDeveloper), "Actor role (admin, project_manager, team_lead, developer, viewer)")
	issueCmd.Flags().Duration("ttl", 0, "Token lifetime, defaults to jwt.expires_in")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifecycle %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Build Date: %s\n", BuildDate)
			fmt.Fprintf(cmd.OutOrStdout(), "Git Commit: %s\n", GitCommit)
		},
	}
}

func runServer(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	checks := map[string]server.HealthCheck{"database": a.db.HealthCheck}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}

	srv := server.New(a.cfg, server.Dependencies{
		Tasks:      a.tasks,
		Reconcile:  a.reconcile,
		Recurrence: a.recurrence,
		Tokens:     a.tokens,
		Checks:     checks,
	}, a.logger)

	sched := scheduler.New(a.location, a.clock, a.logger)
	if a.cfg.Recurrence.Enabled {
		if err := sched.AddRecurrenceSweep(a.cfg.Recurrence.SweepSchedule, a.recurrence); err != nil {
			return err
		}
	}
	if a.cfg.Reconcile.Schedule != "" {
		if err := sched.AddReconcile(a.cfg.Reconcile.Schedule, a.reconcile); err != nil {
			return err
		}
	}
	sched.Start()

	a.logger.Info("Starting lifecycle API server",
		"port", a.cfg.Server.Port,
		"environment", a.cfg.App.Environment,
		"scheduled_jobs", sched.Jobs(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port))
	}()

	select {
	case err = <-errCh:
		a.logger.Error("Server stopped unexpectedly", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error("Server shutdown failed", "error", serr)
	}
	if serr := sched.Stop(shutdownCtx); serr != nil {
		a.logger.Warn("Scheduled jobs did not finish before shutdown", "error", serr)
	}

	a.logger.Info("Server stopped")
	return err
}

func withMigrator(cmd *cobra.Command, run func(*database.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	m, err := db.NewMigrator()
	if err != nil {
		return err
	}
	return run(m)
}

func runMigration(cmd *cobra.Command, direction string, steps int) error {
	return withMigrator(cmd, func(m *database.Migrator) error {
		var (
			changed bool
			err     error
		)
		switch direction {
		case "up":
			changed, err = m.Up(steps)
		case "down":
			changed, err = m.Down(steps)
		default:
			return fmt.Errorf("unknown migration direction %q", direction)
		}
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if !changed {
			fmt.Fprintln(cmd.OutOrStdout(), "No migrations to run")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Migration %s completed successfully\n", direction)
		}
		return nil
	})
}

func showMigrationVersion(cmd *cobra.Command) error {
	return withMigrator(cmd, func(m *database.Migrator) error {
		version, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("failed to get migration version: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Current migration version: %d\n", version)
		fmt.Fprintf(cmd.OutOrStdout(), "Dirty: %t\n", dirty)
		return nil
	})
}

func runReconcile(cmd *cobra.Command, dryRun bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.reconcile.Run(ctx, dryRun)
	if err != nil {
		return err
	}
	return printJSON(cmd, report)
}

func runSweep(cmd *cobra.Command, date string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.recurrence.ParseDate(date)
	if err != nil {
		return err
	}

	report, err := a.recurrence.Sweep(ctx, day)
	if errors.Is(err, entities.ErrSweepInProgress) {
		return fmt.Errorf("another sweep holds the lock: %w", err)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, report)
}

func runMaterialize(cmd *cobra.Command, rawID, date string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid definition id: %w", err)
	}

	a, err := bootstrap(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.recurrence.ParseDate(date)
	if err != nil {
		return err
	}

	task, err := a.recurrence.MaterializeOn(cmd.Context(), id, day)
	if err != nil {
		return err
	}
	return printJSON(cmd, task)
}

func issueToken(cmd *cobra.Command, rawID, role string, ttl time.Duration) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	actor := entities.Actor{ID: uuid.New(), Role: entities.UserRole(role)}
	if rawID != "" {
		if actor.ID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("invalid actor id: %w", err)
		}
	}

	token, err := services.NewTokenService(cfg.JWT, nil).Issue(actor, ttl)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Actor: %s (%s)\n", actor.ID, actor.Role)
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
