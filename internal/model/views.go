package model

// IssueView joins an issue with its current annotation. Issues without an
// annotation carry empty priority, tags and summary.
type IssueView struct {
	Issue
	Priority          Priority `json:"priority"`
	Tags              []string `json:"tags"`
	Summary           string   `json:"summary"`
	AnnotationVersion int64    `json:"annotation_version"`
}

func NewIssueView(issue Issue, ann *Annotation) IssueView {
	v := IssueView{Issue: issue, Priority: ann.Priority(), Tags: ann.Tags(), Summary: ann.SummaryText()}
	if ann != nil {
		v.AnnotationVersion = ann.Version
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	return v
}

// IssueDetail is the full read model for a single issue.
type IssueDetail struct {
	Issue       Issue       `json:"issue"`
	Annotation  *Annotation `json:"annotation"`
	Repository  Repository  `json:"repository"`
	RecentTasks []Task      `json:"recent_tasks"`
}
