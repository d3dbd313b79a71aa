package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskmaster/lifecycle/cmd/api/commands"
)

// @title Task Lifecycle API
// @version 1.0
// @description Approval workflow, timer reconciliation and recurring task scheduling.

// @contact.name TaskMaster Support
// @contact.url https://github.com/taskmaster/lifecycle

// @license.name MIT

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	rootCmd := &cobra.Command{
		Use:           "lifecycle",
		Short:         "Task lifecycle engine",
		Long:          `Runs the task approval workflow, recovers timers left running on closed tasks and materializes recurring tasks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml)")

	// Add commands
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewReconcileCommand())
	rootCmd.AddCommand(commands.NewRecurrenceCommand())
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		log.Printf("Command execution failed: %v", err)
		os.Exit(1)
	}
}
