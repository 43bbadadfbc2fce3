package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"issuemind.app/triage/internal/model"
	"issuemind.app/triage/internal/service"
)

var (
	issueStates     []string
	issuePriorities []string
	issueLabels     []string
	issueQuery      string
	issueAssignee   string
	issueSort       string
	issueAscending  bool
	issuePage       int
	issuePerPage    int
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Browse mirrored issues and their annotations",
}

var issueListCmd = &cobra.Command{
	Use:     "list <repo-id>",
	Aliases: []string{"ls"},
	Short:   "List issues of a repository",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoID, err := parseID(args[0], "repository id")
		if err != nil {
			return err
		}

		var filter service.IssueFilter
		for _, s := range issueStates {
			filter.States = append(filter.States, model.IssueState(strings.ToLower(s)))
		}
		for _, p := range issuePriorities {
			if strings.EqualFold(p, "none") {
				filter.Priorities = append(filter.Priorities, model.PriorityNone)
				continue
			}
			priority, ok := model.ParsePriority(p)
			if !ok {
				return fmt.Errorf("unknown priority %q", p)
			}
			filter.Priorities = append(filter.Priorities, priority)
		}
		filter.Labels = issueLabels
		filter.Query = issueQuery
		filter.Assignee = issueAssignee

		page, err := rt.Services.Query().ListIssues(cmd.Context(), repoID, filter,
			service.IssueSort{Field: service.IssueSortField(issueSort), Ascending: issueAscending},
			service.Page{Page: issuePage, PerPage: issuePerPage})
		if err != nil {
			return err
		}
		if page.Total == 0 {
			ui.Info("No issues match.")
			return nil
		}

		table := ui.Table([]string{"ID", "#", "State", "Priority", "Title", "Labels", "Updated"})
		for _, v := range page.Items {
			updated := v.UpdatedAt
			_ = table.Append([]string{
				strconv.FormatInt(v.ID, 10),
				strconv.FormatInt(v.Number, 10),
				IssueStateColor(v.State),
				PriorityColor(v.Priority),
				truncate(v.Title, 60),
				strings.Join(v.Labels, ","),
				timeAgo(&updated),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
		ui.Info("page %d, %d of %d issues", page.Page, len(page.Items), page.Total)
		return nil
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show an issue with its annotation and recent tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		issueID, err := parseID(args[0], "issue id")
		if err != nil {
			return err
		}
		detail, err := rt.Services.Query().GetIssueDetail(cmd.Context(), issueID)
		if err != nil {
			return err
		}
		return printIssueDetail(detail)
	},
}

func init() {
	issueListCmd.Flags().StringSliceVar(&issueStates, "state", nil, "Filter by state: open, closed")
	issueListCmd.Flags().StringSliceVar(&issuePriorities, "priority", nil, "Filter by priority: urgent, critical, high, medium, low, none")
	issueListCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Require label (repeatable)")
	issueListCmd.Flags().StringVarP(&issueQuery, "query", "q", "", "Search title and body")
	issueListCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Filter by assignee")
	issueListCmd.Flags().StringVar(&issueSort, "sort", "updated", "Sort by: updated, created, priority")
	issueListCmd.Flags().BoolVar(&issueAscending, "asc", false, "Oldest first (time sorts only)")
	issueListCmd.Flags().IntVar(&issuePage, "page", 1, "Page number")
	issueListCmd.Flags().IntVar(&issuePerPage, "per-page", service.DefaultPerPage, "Issues per page")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	rootCmd.AddCommand(issueCmd)
}

func printIssueDetail(d *model.IssueDetail) error {
	out := ui.Out
	is := d.Issue

	fmt.Fprintf(out, "%s #%d %s\n", cyan(d.Repository.FullName()), is.Number, is.Title)
	fmt.Fprintf(out, "  state:     %s\n", IssueStateColor(is.State))
	fmt.Fprintf(out, "  author:    %s\n", is.Author)
	if len(is.Assignees) > 0 {
		fmt.Fprintf(out, "  assignees: %s\n", strings.Join(is.Assignees, ", "))
	}
	if len(is.Labels) > 0 {
		fmt.Fprintf(out, "  labels:    %s\n", strings.Join(is.Labels, ", "))
	}
	fmt.Fprintf(out, "  comments:  %d\n", len(is.Comments))
	fmt.Fprintf(out, "  url:       %s\n", is.URL)

	if ann := d.Annotation; ann != nil {
		fmt.Fprintf(out, "\n%s (version %d)\n", cyan("Annotation"), ann.Version)
		if s := ann.Summary; s != nil {
			fmt.Fprintf(out, "  priority:  %s\n", PriorityColor(s.Priority))
			if len(s.Tags) > 0 {
				fmt.Fprintf(out, "  tags:      %s\n", strings.Join(s.Tags, ", "))
			}
			fmt.Fprintf(out, "  summary:   %s\n", s.Summary)
		}
		if f := ann.Fix; f != nil {
			fmt.Fprintf(out, "  fix:       %s\n", truncate(f.Explanation, 200))
			if len(f.AffectedFiles) > 0 {
				fmt.Fprintf(out, "  files:     %s\n", strings.Join(f.AffectedFiles, ", "))
			}
		}
		if e := ann.Explain; e != nil {
			fmt.Fprintf(out, "  explain:   %s\n", truncate(e.Explanation, 200))
		}
		if r := ann.Related; r != nil {
			for _, rel := range r.Related {
				fmt.Fprintf(out, "  related:   #%d %s (%.2f)\n", rel.Number, truncate(rel.Title, 50), rel.Score)
			}
		}
	} else {
		fmt.Fprintf(out, "\n%s\n", faint("Not annotated yet."))
	}

	if len(d.RecentTasks) > 0 {
		fmt.Fprintf(out, "\n%s\n", cyan("Recent tasks"))
		return printTasks(d.RecentTasks)
	}
	return nil
}
