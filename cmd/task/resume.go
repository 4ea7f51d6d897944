package task

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"taskengine/internal/app"
	"taskengine/pkg/execution"
)

var resumeInputsFlag []string

var resumeCmd = &cobra.Command{
	Use:   "resume <taskId>",
	Short: "Resume a paused task by supplying answers to its pending inputs",
	Long: `Resume a paused task. Each --input flag supplies one answer to a
PendingUserInput in the form stepId:field=value, e.g.
--input step2:source=Acme.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := parseInputs(resumeInputsFlag)
		if err != nil {
			return err
		}

		a, err := app.Build()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.TaskExec.ResumeTask(context.Background(), args[0], inputs)
		if err != nil {
			return fmt.Errorf("resume task %q: %w", args[0], err)
		}
		fmt.Printf("task %s -> %s\n", result.TaskID, result.Status)
		return nil
	},
}

func init() {
	resumeCmd.Flags().StringArrayVar(&resumeInputsFlag, "input", nil, "stepId:field=value, repeatable")
}

func parseInputs(raw []string) ([]execution.ResumeInput, error) {
	inputs := make([]execution.ResumeInput, 0, len(raw))
	for _, r := range raw {
		stepAndField, value, ok := strings.Cut(r, "=")
		if !ok {
			return nil, fmt.Errorf("malformed --input %q: expected stepId:field=value", r)
		}
		stepID, field, ok := strings.Cut(stepAndField, ":")
		if !ok {
			return nil, fmt.Errorf("malformed --input %q: expected stepId:field=value", r)
		}
		inputs = append(inputs, execution.ResumeInput{StepID: stepID, Field: field, Value: value})
	}
	return inputs, nil
}
