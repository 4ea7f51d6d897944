package task

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"taskengine/internal/app"
)

var executeCmd = &cobra.Command{
	Use:   "execute <taskId>",
	Short: "Execute (or resume the kick-off of) a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Build()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.TaskExec.ExecuteTask(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("execute task %q: %w", args[0], err)
		}
		fmt.Printf("task %s -> %s\n", result.TaskID, result.Status)
		if result.Error != "" {
			fmt.Printf("error: %s\n", result.Error)
		}
		return nil
	},
}
