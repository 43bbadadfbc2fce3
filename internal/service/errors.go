package service

import "errors"

var (
	ErrRepositoryNotFound  = errors.New("repository not found")
	ErrIssueNotFound       = errors.New("issue not found")
	ErrTaskNotFound        = errors.New("task not found")
	ErrAnnotationNotFound  = errors.New("issue has no annotation")
	ErrDuplicateActiveTask = errors.New("a task of this kind is already pending or running for the issue")
	ErrTaskNotCancellable  = errors.New("only pending tasks can be cancelled")
	ErrTaskNotRetryable    = errors.New("only failed tasks marked retryable can be retried")
	ErrInvalidTaskKind     = errors.New("invalid task kind")
	ErrInvalidInput        = errors.New("invalid input")
)

// errAnnotationConflict signals a lost head swap. It is retried inside
// AnnotationService and never returned.
var errAnnotationConflict = errors.New("annotation head moved")
