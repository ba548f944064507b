package core

import (
	"context"
	"errors"
	"fmt"
)

// Canonical event types.
const (
	NewIssue        = "NEW_ISSUE"
	ReopenedIssue   = "REOPENED_ISSUE"
	IssueComment    = "ISSUE_COMMENT"
	UnassignedTasks = "UNASSIGNED_TASKS"
)

var (
	// ErrNoIssue is returned by Event.Issue when the event carries no issue.
	ErrNoIssue = fmt.Errorf("event carries no issue: %w", errors.ErrUnsupported)
	// ErrNoComment is returned by Event.Comment when the event carries no comment.
	ErrNoComment = fmt.Errorf("event carries no comment: %w", errors.ErrUnsupported)
)

// IssueLoader fetches the issue an event refers to.
type IssueLoader func(ctx context.Context) (Issue, error)

// CommentLoader fetches the comment an event refers to.
type CommentLoader func(ctx context.Context) (Comment, error)

// Event is a project-scoped event handed to Project.Resolve.
type Event struct {
	// Type is the canonical type, or the raw provider type when no
	// normalization rule applies.
	Type string
	// RawType is the provider event name as received.
	RawType  string
	Provider string
	Project  Project
	// Payload is the raw request body. Empty for synthesized events.
	Payload []byte
	// RequestID correlates the event with the inbound request.
	RequestID string

	// IssueLoader and CommentLoader are nil when the event structurally
	// carries no issue or comment.
	IssueLoader   IssueLoader
	CommentLoader CommentLoader
}

// HasIssue reports whether Issue can be called.
func (e *Event) HasIssue() bool {
	return e != nil && e.IssueLoader != nil
}

// HasComment reports whether Comment can be called.
func (e *Event) HasComment() bool {
	return e != nil && e.CommentLoader != nil
}

// Issue loads the issue of the event. It returns ErrNoIssue when the event
// has none.
func (e *Event) Issue(ctx context.Context) (Issue, error) {
	if !e.HasIssue() {
		return nil, ErrNoIssue
	}
	return e.IssueLoader(ctx)
}

// Comment loads the comment of the event. It returns ErrNoComment when the
// event has none.
func (e *Event) Comment(ctx context.Context) (Comment, error) {
	if !e.HasComment() {
		return Comment{}, ErrNoComment
	}
	return e.CommentLoader(ctx)
}
