package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/snapshotter/internal/externaltask"
	"github.com/JakeFAU/snapshotter/internal/workflow"
)

type taskFlags struct {
	topic        string
	lockDuration int64
	tasksPerRun  int
	variables    string
	taskID       string
	errorMessage string
	workflow     string
}

func newTaskCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "task <command> [arg]",
		Short: "Runs one external-task operation against the workflow engine",
		Long: `Commands:
  fetch                     lock tasks and print them as JSON
  fetch_looped [seconds]    fetch repeatedly, sleeping between cycles (default 5)
  unlock                    release --task_id
  complete                  complete --task_id
  extend_duration <ms>      extend the lock of --task_id
  bpmnError <code>          raise a BPMN error on --task_id with --error_message`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			command, err := externaltask.ParseCommand(args)
			if err != nil {
				return err
			}
			runner, err := appInstance.Runner()
			if err != nil {
				return err
			}
			params := externaltask.Params{
				Topic:        flags.topic,
				LockDuration: flags.lockDuration,
				TasksPerRun:  flags.tasksPerRun,
				Variables:    externaltask.SplitVariables(flags.variables),
				TaskID:       flags.taskID,
				ErrorMessage: flags.errorMessage,
			}
			tasks, err := runner.Run(cmd.Context(), command, params)
			if err != nil {
				return fmt.Errorf("%s: %w", command.Name(), err)
			}
			if _, ok := command.(externaltask.Fetch); !ok {
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if tasks == nil {
				tasks = []workflow.ExternalTask{}
			}
			return enc.Encode(tasks)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.topic, "topic", "", "external task topic")
	f.Int64Var(&flags.lockDuration, "lock_duration", 0, "lock duration in milliseconds")
	f.IntVar(&flags.tasksPerRun, "tasks_per_run", 0, "maximum tasks to lock per fetch")
	f.StringVar(&flags.variables, "variables", "", "comma separated variables to fetch")
	f.StringVar(&flags.taskID, "task_id", "", "external task id")
	f.StringVar(&flags.errorMessage, "error_message", "", "bpmn error message")
	f.StringVar(&flags.workflow, "workflow", "", "workflow engine url (overrides workflow.url)")
	return cmd
}
