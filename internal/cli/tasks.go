package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"cio-queue/internal/models"
)

func statusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the number of queued tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			status := a.Queue.Status(cmd.Context())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Site:    %s\n", status.QueueID)
			fmt.Fprintf(out, "Storage: %s\n", a.Config.StorageBackend)
			count := okColor.Sprint(status.NumTasksInQueue)
			if status.NumTasksInQueue >= a.Config.MinTasksToRun {
				count = warnColor.Sprint(status.NumTasksInQueue)
			}
			fmt.Fprintf(out, "Tasks:   %s\n", count)
			return nil
		},
	}
}

func inventoryCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:     "inventory",
		Aliases: []string{"ls"},
		Short:   "List queued tasks in run order",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			inventory := a.Queue.Inventory(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(inventory)
			}
			if len(inventory) == 0 {
				fmt.Fprintln(out, "Queue is empty.")
				return nil
			}
			for _, item := range inventory {
				fmt.Fprintf(out, "%s  %-22s %s\n", item.TaskPersistedID, item.TaskType, dimColor.Sprint(item.CreatedAt.Local().Format(time.DateTime)))
				if item.StartsGroup() {
					fmt.Fprintf(out, "    starts:    %s\n", *item.GroupStart)
				}
				if len(item.GroupMember) > 0 {
					fmt.Fprintf(out, "    member of: %s\n", strings.Join(item.GroupMember, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw inventory as JSON")

	return cmd
}

func showCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Print one task body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			task, ok := a.Queue.Task(cmd.Context(), args[0])
			if !ok {
				return fmt.Errorf("task %s not found", args[0])
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task:  %s\n", task.StorageID)
			fmt.Fprintf(out, "Type:  %s\n", task.Type)
			runs := fmt.Sprint(task.RunResults.TotalRuns)
			if task.RunResults.TotalRuns > 0 {
				runs = warnColor.Sprint(runs)
			}
			fmt.Fprintf(out, "Runs:  %s\n", runs)
			fmt.Fprintf(out, "Data:  %s\n", string(task.Data))
			return nil
		},
	}
}

func addCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "add <type> <json>",
		Short: "Queue a task from a JSON payload",
		Long: fmt.Sprintf(`Queue a task. The payload is validated the same way the HTTP API validates it.

Types: %s`, strings.Join(taskTypeNames(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Queue.AddJSONTask(cmd.Context(), models.QueueTaskType(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s queued (%d in queue)\n", okColor.Sprint("✓"), args[0], status.NumTasksInQueue)
			return nil
		},
	}
}

func taskTypeNames() []string {
	names := make([]string, 0, len(models.AllTaskTypes))
	for _, t := range models.AllTaskTypes {
		names = append(names, string(t))
	}
	return names
}
