package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/campusnet/backend/internal/config"
	"github.com/emilythestrangee/campusnet/backend/internal/database"
	"github.com/emilythestrangee/campusnet/backend/internal/database/migrations"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "campusnet",
	Short: "Campus social network API",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and realtime server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return serve(cmd.Context(), cfg, newLogger(cfg))
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(db database.Service) error {
			sqlDB, err := db.GetDB().DB()
			if err != nil {
				return err
			}
			if err := migrations.Up(sqlDB); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(db database.Service) error {
			sqlDB, err := db.GetDB().DB()
			if err != nil {
				return err
			}
			if err := migrations.Down(sqlDB); err != nil {
				return err
			}
			fmt.Println("Rolled back one migration")
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDatabase(func(db database.Service) error {
			sqlDB, err := db.GetDB().DB()
			if err != nil {
				return err
			}
			version, dirty, err := migrations.Version(sqlDB)
			if err != nil {
				return err
			}
			fmt.Printf("Version: %d\n", version)
			if dirty {
				fmt.Println("Schema is dirty; fix it by hand before migrating again")
			}
			return nil
		})
	},
}

// withDatabase opens the configured database for the duration of fn.
func withDatabase(fn func(database.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.New(cfg.Database, cfg.Env == "development")
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(db)
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML config file")

	// migrate subcommands
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)

	// root commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}
