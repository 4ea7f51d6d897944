// Package cmd wires the execution engine up as a Cobra CLI: a SQLite-
// backed repository, the task/server subcommands, and the shared
// logging/configuration setup.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskengine/cmd/server"
	"taskengine/cmd/task"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskengine",
	Short: "Plan-driven task execution engine",
	Long: `taskengine drives a persisted Task through the steps of a Plan:
resolving templated parameters, invoking tools, pausing for human input,
retrying transient failures, enforcing per-step timeouts, and recording
learning signals once a task reaches a terminal state.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to run once.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.taskengine.yaml)")
	rootCmd.PersistentFlags().String("db-path", "taskengine.db", "path to the SQLite database file")
	rootCmd.PersistentFlags().String("migrations-dir", "pkg/repository/sqlite/migrations", "path to the SQL migrations directory")
	rootCmd.PersistentFlags().String("log-file", "", "append logs to this file in addition to stdout")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().Int64("step-timeout-ms", 30_000, "default per-step timeout in milliseconds")
	rootCmd.PersistentFlags().Int("max-retries", 3, "default per-step retry budget")
	rootCmd.PersistentFlags().Float64("input-rate-per-1k", 0.003, "estimated cost per 1k input tokens")
	rootCmd.PersistentFlags().Float64("output-rate-per-1k", 0.015, "estimated cost per 1k output tokens")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db-path", rootCmd.PersistentFlags().Lookup("db-path"))
	_ = viper.BindPFlag("migrations-dir", rootCmd.PersistentFlags().Lookup("migrations-dir"))
	_ = viper.BindPFlag("log-file", rootCmd.PersistentFlags().Lookup("log-file"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("step-timeout-ms", rootCmd.PersistentFlags().Lookup("step-timeout-ms"))
	_ = viper.BindPFlag("max-retries", rootCmd.PersistentFlags().Lookup("max-retries"))
	_ = viper.BindPFlag("input-rate-per-1k", rootCmd.PersistentFlags().Lookup("input-rate-per-1k"))
	_ = viper.BindPFlag("output-rate-per-1k", rootCmd.PersistentFlags().Lookup("output-rate-per-1k"))

	rootCmd.AddCommand(task.TaskCmd)
	rootCmd.AddCommand(server.ServerCmd)
}

func initConfig() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using system environment variables")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".taskengine")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
