package task

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"taskengine/internal/app"
)

var showCmd = &cobra.Command{
	Use:   "show <taskId>",
	Short: "Print a task's current persisted state as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.Build()
		if err != nil {
			return err
		}
		defer a.Close()

		t, err := a.Repo.FindTask(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("find task %q: %w", args[0], err)
		}
		encoded, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal task %q: %w", args[0], err)
		}
		fmt.Println(string(encoded))
		return nil
	},
}
