package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/google/go-github/v77/github"

	"issuemind.app/triage/internal/model"
)

const githubPageSize = 100

type gitHubProvider struct {
	client *github.Client
}

// NewGitHubProvider builds a GitHub client. baseURL is only needed for
// GitHub Enterprise; httpClient may be nil.
func NewGitHubProvider(token, baseURL string, httpClient *http.Client) (Provider, error) {
	client := github.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github base url: %w", err)
		}
	}
	return &gitHubProvider{client: client}, nil
}

func (p *gitHubProvider) GetRepository(ctx context.Context, ref model.RepositoryRef) (*RepositoryMetadata, error) {
	repo, _, err := p.client.Repositories.Get(ctx, ref.Owner, ref.Name)
	if err != nil {
		return nil, handleGitHubError(err, "fetching github repository")
	}

	meta := &RepositoryMetadata{
		ExternalID:  strconv.FormatInt(repo.GetID(), 10),
		Description: repo.GetDescription(),
		Language:    repo.GetLanguage(),
		URL:         repo.GetHTMLURL(),
		Stars:       int64(repo.GetStargazersCount()),
	}
	if repo.PushedAt != nil {
		pushed := repo.GetPushedAt().Time
		meta.LastActivityAt = &pushed
	} else if repo.UpdatedAt != nil {
		updated := repo.GetUpdatedAt().Time
		meta.LastActivityAt = &updated
	}
	return meta, nil
}

func (p *gitHubProvider) ListIssues(ctx context.Context, ref model.RepositoryRef, since *time.Time) ([]model.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "asc",
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}
	if since != nil {
		opts.Since = *since
	}

	var issues []model.Issue
	for {
		page, resp, err := p.client.Issues.ListByRepo(ctx, ref.Owner, ref.Name, opts)
		if err != nil {
			return nil, handleGitHubError(err, "listing github issues")
		}

		for _, gh := range page {
			// The issues endpoint also returns pull requests.
			if gh == nil || gh.IsPullRequest() {
				continue
			}
			issues = append(issues, mapGitHubIssue(gh))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	return issues, nil
}

func (p *gitHubProvider) ListComments(ctx context.Context, ref model.RepositoryRef, number int64) ([]model.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: githubPageSize},
	}

	var comments []model.Comment
	for {
		page, resp, err := p.client.Issues.ListComments(ctx, ref.Owner, ref.Name, int(number), opts)
		if err != nil {
			return nil, handleGitHubError(err, "listing github comments")
		}

		for _, c := range page {
			if c == nil {
				continue
			}
			comment := model.Comment{
				ExternalID: strconv.FormatInt(c.GetID(), 10),
				Body:       c.GetBody(),
				CreatedAt:  c.GetCreatedAt().Time,
				UpdatedAt:  c.GetUpdatedAt().Time,
			}
			if user := c.GetUser(); user != nil {
				comment.Author = user.GetLogin()
			}
			comments = append(comments, comment)
		}

		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}

	sortComments(comments)
	return comments, nil
}

func mapGitHubIssue(gh *github.Issue) model.Issue {
	issue := model.Issue{
		Number:       int64(gh.GetNumber()),
		ExternalID:   strconv.FormatInt(gh.GetID(), 10),
		Title:        gh.GetTitle(),
		Body:         gh.GetBody(),
		URL:          gh.GetHTMLURL(),
		State:        model.IssueStateOpen,
		CommentCount: int64(gh.GetComments()),
		CreatedAt:    gh.GetCreatedAt().Time,
		UpdatedAt:    gh.GetUpdatedAt().Time,
		Labels:       []string{},
		Assignees:    []string{},
	}
	if gh.GetState() == "closed" {
		issue.State = model.IssueStateClosed
	}
	if user := gh.GetUser(); user != nil {
		issue.Author = user.GetLogin()
	}
	for _, label := range gh.Labels {
		if label != nil {
			issue.Labels = append(issue.Labels, label.GetName())
		}
	}
	for _, assignee := range gh.Assignees {
		if assignee != nil {
			issue.Assignees = append(issue.Assignees, assignee.GetLogin())
		}
	}
	if gh.ClosedAt != nil {
		closedAt := gh.GetClosedAt().Time
		issue.ClosedAt = &closedAt
	}
	return issue
}

func handleGitHubError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return fmt.Errorf("%s: %w: primary rate limit (resets at %v)", msg, ErrProviderUnavailable, rateLimitErr.Rate.Reset.Time)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("%s: %w: secondary rate limit (retry after %v)", msg, ErrProviderUnavailable, abuseErr.GetRetryAfter())
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return classifyStatus(respErr.Response.StatusCode, msg, err)
	}

	return classifyTransport(msg, err)
}

func sortComments(comments []model.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		if comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].ExternalID < comments[j].ExternalID
		}
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
}
