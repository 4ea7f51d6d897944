// Package task provides Cobra subcommands for operator inspection and
// control of individual tasks: execute, resume, and show.
package task

import "github.com/spf13/cobra"

// TaskCmd groups the task-level operator commands under `taskengine task`.
var TaskCmd = &cobra.Command{
	Use:   "task",
	Short: "Inspect and drive individual tasks",
}

func init() {
	TaskCmd.AddCommand(executeCmd)
	TaskCmd.AddCommand(resumeCmd)
	TaskCmd.AddCommand(showCmd)
}
