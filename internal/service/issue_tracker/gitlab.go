package issue_tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"issuemind.app/triage/internal/model"
)

const gitlabPageSize = 100

type gitLabProvider struct {
	client *gitlab.Client
}

// NewGitLabProvider builds a GitLab client. baseURL is the instance URL
// (e.g. https://gitlab.example.com); empty means gitlab.com.
func NewGitLabProvider(token, baseURL string, httpClient *http.Client) (Provider, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(strings.TrimSuffix(baseURL, "/")+"/api/v4"))
	}
	if httpClient != nil {
		opts = append(opts, gitlab.WithHTTPClient(httpClient))
	}

	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &gitLabProvider{client: client}, nil
}

func projectPath(ref model.RepositoryRef) string {
	return ref.Owner + "/" + ref.Name
}

func (p *gitLabProvider) GetRepository(ctx context.Context, ref model.RepositoryRef) (*RepositoryMetadata, error) {
	project, resp, err := p.client.Projects.GetProject(projectPath(ref), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, handleGitLabError(err, resp, "fetching gitlab project")
	}

	return &RepositoryMetadata{
		ExternalID:     strconv.FormatInt(int64(project.ID), 10),
		Description:    project.Description,
		URL:            project.WebURL,
		Stars:          int64(project.StarCount),
		LastActivityAt: project.LastActivityAt,
	}, nil
}

func (p *gitLabProvider) ListIssues(ctx context.Context, ref model.RepositoryRef, since *time.Time) ([]model.Issue, error) {
	opts := &gitlab.ListProjectIssuesOptions{
		ListOptions: gitlab.ListOptions{
			Page:    1,
			PerPage: gitlabPageSize,
		},
		OrderBy:      gitlab.Ptr("updated_at"),
		Sort:         gitlab.Ptr("asc"),
		UpdatedAfter: since,
	}

	var issues []model.Issue
	for {
		page, resp, err := p.client.Issues.ListProjectIssues(projectPath(ref), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, handleGitLabError(err, resp, "listing gitlab issues")
		}

		for _, gl := range page {
			if gl != nil {
				issues = append(issues, mapGitLabIssue(gl))
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return issues, nil
}

func (p *gitLabProvider) ListComments(ctx context.Context, ref model.RepositoryRef, number int64) ([]model.Comment, error) {
	discussions, resp, err := p.client.Discussions.ListIssueDiscussions(
		projectPath(ref),
		number,
		nil,
		gitlab.WithContext(ctx),
	)
	if err != nil {
		return nil, handleGitLabError(err, resp, "listing gitlab discussions")
	}

	var comments []model.Comment
	for _, d := range discussions {
		if d == nil {
			continue
		}
		for _, n := range d.Notes {
			// System notes are label/assignee changes, not comments.
			if n == nil || n.System {
				continue
			}

			comment := model.Comment{
				ExternalID: strconv.FormatInt(int64(n.ID), 10),
				Author:     n.Author.Username,
				Body:       n.Body,
			}
			if n.CreatedAt != nil {
				comment.CreatedAt = *n.CreatedAt
			}
			comment.UpdatedAt = comment.CreatedAt
			if n.UpdatedAt != nil {
				comment.UpdatedAt = *n.UpdatedAt
			}
			comments = append(comments, comment)
		}
	}

	sortComments(comments)
	return comments, nil
}

func mapGitLabIssue(gl *gitlab.Issue) model.Issue {
	issue := model.Issue{
		Number:       int64(gl.IID),
		ExternalID:   strconv.FormatInt(int64(gl.ID), 10),
		Title:        gl.Title,
		Body:         gl.Description,
		URL:          gl.WebURL,
		State:        model.IssueStateOpen,
		CommentCount: int64(gl.UserNotesCount),
		ClosedAt:     gl.ClosedAt,
		Labels:       []string{},
		Assignees:    []string{},
	}
	if gl.State == "closed" {
		issue.State = model.IssueStateClosed
	}
	if gl.Author != nil {
		issue.Author = gl.Author.Username
	}
	for _, l := range gl.Labels {
		issue.Labels = append(issue.Labels, l)
	}
	for _, a := range gl.Assignees {
		if a != nil {
			issue.Assignees = append(issue.Assignees, a.Username)
		}
	}
	if gl.CreatedAt != nil {
		issue.CreatedAt = *gl.CreatedAt
	}
	if gl.UpdatedAt != nil {
		issue.UpdatedAt = *gl.UpdatedAt
	}
	return issue
}

func handleGitLabError(err error, resp *gitlab.Response, msg string) error {
	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return classifyStatus(respErr.Response.StatusCode, msg, err)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode, msg, err)
	}
	return classifyTransport(msg, err)
}
