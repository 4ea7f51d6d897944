// Package app is the composition root every entry point (CLI subcommands,
// the HTTP server) builds from: logger, SQLite repository, tool invoker
// registry, and the wired Step/Task Executors plus Learning Observer.
// There is deliberately no process-wide mutable registry for tools; the
// injected ToolInvoker is the single composition seam for both local and
// remote dispatch.
package app

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	"taskengine/internal/utils"
	"taskengine/pkg/execution"
	"taskengine/pkg/learning"
	"taskengine/pkg/logger"
	"taskengine/pkg/repository"
	"taskengine/pkg/repository/sqlite"
	"taskengine/pkg/toolinvoker"
	"taskengine/pkg/valuegen"
)

// App bundles the wired collaborators shared by every entry point.
type App struct {
	Repo     repository.Repository
	TaskExec *execution.TaskExecutor
	Invoker  *toolinvoker.Registry
	Logger   utils.ExtendedLogger
	closeDB  func() error
}

// Close releases resources opened by Build (the SQLite connection).
func (a *App) Close() error {
	if a.closeDB != nil {
		return a.closeDB()
	}
	return nil
}

// Build constructs the full dependency graph from viper configuration.
// Real tool handlers are registered by the caller against a.Invoker before
// the first ExecuteTask call; a plan step whose action is registered
// with neither a local handler nor a remote invoker fails non-retryably.
func Build() (*App, error) {
	log, err := logger.New(logger.Options{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		File:   viper.GetString("log-file"),
		Stdout: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	migrationsDir := viper.GetString("migrations-dir")
	if !filepath.IsAbs(migrationsDir) {
		if abs, err := filepath.Abs(migrationsDir); err == nil {
			migrationsDir = abs
		}
	}

	db, err := sqlite.Open(viper.GetString("db-path"), migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}

	invoker := toolinvoker.NewRegistry(nil, log)
	generator := valuegen.Unavailable{}

	stepExec := execution.NewStepExecutor(db, invoker, generator, log)
	rates := learning.CostRates{
		InputPer1k:  viper.GetFloat64("input-rate-per-1k"),
		OutputPer1k: viper.GetFloat64("output-rate-per-1k"),
	}
	observer := learning.New(db, rates, log)
	taskExec := execution.NewTaskExecutor(db, stepExec, observer, log)

	return &App{
		Repo:     db,
		TaskExec: taskExec,
		Invoker:  invoker,
		Logger:   log,
		closeDB:  db.Close,
	}, nil
}
