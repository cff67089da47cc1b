package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func runCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drain the queue once against the track API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			a, err := flags.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Queue.RunAndWait(ctx)
			if err != nil {
				return fmt.Errorf("drain interrupted: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Succeeded: %s\n", okColor.Sprint(result.Succeeded))
			failed := fmt.Sprint(result.Failed)
			if result.Failed > 0 {
				failed = errColor.Sprint(result.Failed)
			}
			fmt.Fprintf(out, "Failed:    %s\n", failed)
			if result.Pruned > 0 {
				fmt.Fprintf(out, "Pruned:    %s\n", warnColor.Sprint(result.Pruned))
			}
			fmt.Fprintf(out, "Not run:   %d\n", result.Remaining)
			if result.Halted {
				fmt.Fprintln(out, errColor.Sprint("Drain halted: track API unreachable or credentials rejected."))
			}
			fmt.Fprintf(out, "In queue:  %d\n", a.Queue.Status(context.WithoutCancel(ctx)).NumTasksInQueue)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop starting new tasks after this long")

	return cmd
}

func pruneCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete tasks older than the configured expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			expired := a.Queue.DeleteExpiredTasks(cmd.Context())
			out := cmd.OutOrStdout()
			if len(expired) == 0 {
				fmt.Fprintln(out, "Nothing expired.")
				return nil
			}
			for _, id := range expired {
				fmt.Fprintf(out, "%s %s\n", warnColor.Sprint("deleted"), id)
			}
			fmt.Fprintf(out, "%d expired task(s) removed, %d left\n", len(expired), a.Queue.Status(cmd.Context()).NumTasksInQueue)
			return nil
		},
	}
}
