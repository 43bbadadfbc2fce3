package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

var repoInterval time.Duration

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage mirrored repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <github|gitlab> <owner/name>",
	Short: "Register a repository and run its first sync",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, ok := splitFullName(args[1])
		if !ok {
			return fmt.Errorf("repository must be owner/name, got %q", args[1])
		}

		result, err := rt.Services.Repositories().Register(cmd.Context(), service.RegisterRepositoryParams{
			Provider:     model.Provider(args[0]),
			Owner:        owner,
			Name:         name,
			SyncInterval: repoInterval,
		})
		if err != nil {
			return err
		}

		repo := result.Repository
		if !result.Created {
			ui.Info("%s is already registered as #%d", cyan(repo.FullName()), repo.ID)
			return nil
		}
		ui.Success("registered %s as #%d", cyan(repo.FullName()), repo.ID)
		if result.SyncErr != nil {
			ui.Warning("first sync failed: %v", result.SyncErr)
			return nil
		}
		printSyncResult(result.Sync)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered repositories",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repos, err := rt.Services.Repositories().List(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			ui.Info("No repositories registered. Use 'issuemind repo add github owner/name' to add one.")
			return nil
		}

		table := ui.Table([]string{"ID", "Repository", "Provider", "Open", "Closed", "Interval", "Last sync", "Error"})
		for _, r := range repos {
			_ = table.Append([]string{
				strconv.FormatInt(r.ID, 10),
				cyan(r.FullName()),
				string(r.Provider),
				strconv.FormatInt(r.OpenIssues, 10),
				strconv.FormatInt(r.ClosedIssues, 10),
				r.SyncInterval.String(),
				timeAgo(r.LastSyncedAt),
				red(truncate(r.LastSyncError, 40)),
			})
		}
		return table.Render()
	},
}

var repoSyncCmd = &cobra.Command{
	Use:   "sync <repo-id>",
	Short: "Sync a repository now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := parseID(args[0], "repository id")
		if err != nil {
			return err
		}
		result, err := rt.Services.Sync().SyncRepository(cmd.Context(), repoID)
		if err != nil {
			return err
		}
		printSyncResult(result)
		return nil
	},
}

func init() {
	repoAddCmd.Flags().DurationVar(&repoInterval, "interval", 0, "Sync interval (default from SYNC_DEFAULT_INTERVAL)")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoSyncCmd)
	rootCmd.AddCommand(repoCmd)
}

// splitFullName splits at the last slash so GitLab subgroups stay in owner.
func splitFullName(full string) (owner, name string, ok bool) {
	i := strings.LastIndex(full, "/")
	if i <= 0 || i == len(full)-1 {
		return "", "", false
	}
	return full[:i], full[i+1:], true
}

func printSyncResult(r *service.SyncResult) {
	if r == nil {
		return
	}
	ui.Success("sync finished in %s: %d created, %d updated, %d closed, %d unchanged",
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
		r.Created, r.Updated, r.Closed, r.Unchanged)
}
