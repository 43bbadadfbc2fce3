package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/store"
	"issuemind.app/triage/internal/worker"
)

var (
	taskWait      bool
	taskTimeout   time.Duration
	taskStatuses  []string
	taskKinds     []string
	taskRepoID    int64
	taskIssueID   int64
	taskLimit     int
	taskOlderThan time.Duration

	waitPollInterval = 200 * time.Millisecond
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Enqueue and inspect AI tasks",
}

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue <issue-id> <summary|fix|explain|related>",
	Short: "Enqueue an AI task for an issue",
	Long: `Enqueue an AI task for an issue.

With --wait the command blocks until the task finishes. When the queue is
in-process (QUEUE_BACKEND=memory) the task is executed by this command.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, err := parseID(args[0], "issue id")
		if err != nil {
			return err
		}

		task, err := rt.Services.Tasks().Enqueue(cmd.Context(), issueID, model.TaskKind(strings.ToLower(args[1])))
		if err != nil {
			return err
		}
		ui.Success("task #%d (%s) queued for issue #%d", task.ID, task.Kind, task.IssueID)

		if !taskWait {
			return nil
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), taskTimeout)
		defer cancel()

		task, err = waitForTask(ctx, task.ID)
		if err != nil {
			return err
		}
		printTaskOutcome(task)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := store.TaskFilter{Limit: taskLimit}
		for _, s := range taskStatuses {
			filter.Statuses = append(filter.Statuses, model.TaskStatus(strings.ToLower(s)))
		}
		for _, k := range taskKinds {
			filter.Kinds = append(filter.Kinds, model.TaskKind(strings.ToLower(k)))
		}
		if taskRepoID > 0 {
			filter.RepositoryID = &taskRepoID
		}
		if taskIssueID > 0 {
			filter.IssueID = &taskIssueID
		}

		tasks, err := rt.Services.Query().ListTasks(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			ui.Info("No tasks match.")
			return nil
		}
		return printTasks(tasks)
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a pending task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := parseID(args[0], "task id")
		if err != nil {
			return err
		}
		if _, err := rt.Services.Tasks().Cancel(cmd.Context(), taskID); err != nil {
			return err
		}
		ui.Success("task #%d cancelled", taskID)
		return nil
	},
}

var taskRetryCmd = &cobra.Command{
	Use:   "retry <task-id>",
	Short: "Retry a failed, retryable task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID, err := parseID(args[0], "task id")
		if err != nil {
			return err
		}
		task, err := rt.Services.Tasks().Retry(cmd.Context(), taskID)
		if err != nil {
			return err
		}
		ui.Success("task #%d queued as a retry of #%d", task.ID, taskID)
		return nil
	},
}

var taskClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete completed tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var repoID *int64
		if taskRepoID > 0 {
			repoID = &taskRepoID
		}
		n, err := rt.Services.Query().ClearCompleted(cmd.Context(), repoID)
		if err != nil {
			return err
		}
		ui.Success("deleted %d completed tasks", n)
		return nil
	},
}

var taskPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete completed and failed tasks older than --older-than",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := rt.Services.Query().PurgeTerminal(cmd.Context(), taskOlderThan)
		if err != nil {
			return err
		}
		ui.Success("purged %d terminal tasks older than %s", n, taskOlderThan)
		return nil
	},
}

func init() {
	taskEnqueueCmd.Flags().BoolVarP(&taskWait, "wait", "w", false, "Wait for the task to finish")
	taskEnqueueCmd.Flags().DurationVar(&taskTimeout, "timeout", 5*time.Minute, "Give up waiting after this long")

	taskListCmd.Flags().StringSliceVar(&taskStatuses, "status", nil, "Filter by status: pending, running, completed, failed")
	taskListCmd.Flags().StringSliceVar(&taskKinds, "kind", nil, "Filter by kind: summary, fix, explain, related")
	taskListCmd.Flags().Int64Var(&taskRepoID, "repo", 0, "Filter by repository id")
	taskListCmd.Flags().Int64Var(&taskIssueID, "issue", 0, "Filter by issue id")
	taskListCmd.Flags().IntVar(&taskLimit, "limit", 50, "Maximum tasks to show")

	taskClearCmd.Flags().Int64Var(&taskRepoID, "repo", 0, "Only clear tasks of this repository")

	taskPurgeCmd.Flags().DurationVar(&taskOlderThan, "older-than", 30*24*time.Hour, "Minimum age of purged tasks")

	taskCmd.AddCommand(taskEnqueueCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskRetryCmd)
	taskCmd.AddCommand(taskClearCmd)
	taskCmd.AddCommand(taskPurgeCmd)
	rootCmd.AddCommand(taskCmd)
}

// waitForTask polls until the task is terminal. With an in-process queue
// it runs a worker pool for the duration of the wait.
func waitForTask(ctx context.Context, taskID int64) (*model.Task, error) {
	if rt.Memory != nil {
		processor, err := rt.NewProcessor()
		if err != nil {
			return nil, err
		}
		pool := worker.NewPool(rt.Memory, processor, worker.ConfigFrom(rt.Config))
		go func() {
			if err := pool.Run(ctx); err != nil {
				slog.ErrorContext(ctx, "worker pool stopped", "error", err)
			}
		}()
		defer pool.Stop()
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		task, err := rt.Services.Tasks().Get(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("task #%d still %s: %w", taskID, task.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func printTaskOutcome(t *model.Task) {
	if t.Status == model.TaskStatusCompleted {
		ui.Success("task #%d completed after %d attempt(s)", t.ID, t.Attempts)
		if len(t.Result) > 0 {
			fmt.Fprintln(ui.Out, string(t.Result))
		}
		return
	}
	retry := ""
	if t.Retryable {
		retry = fmt.Sprintf(" (retry with 'issuemind task retry %d')", t.ID)
	}
	ui.Warning("task #%d failed: %s%s", t.ID, t.FailureReason, retry)
}

func printTasks(tasks []model.Task) error {
	table := ui.Table([]string{"ID", "Issue", "Kind", "Status", "Attempts", "Updated", "Reason"})
	for _, t := range tasks {
		updated := t.UpdatedAt
		_ = table.Append([]string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.IssueID, 10),
			string(t.Kind),
			TaskStatusColor(t.Status),
			strconv.Itoa(t.Attempts),
			timeAgo(&updated),
			truncate(t.FailureReason, 50),
		})
	}
	return table.Render()
}
