package event

import (
	"context"
	"fmt"
	"sync"

	"selfpm/pkg/core"
)

// New classifies the payload and binds issue and comment loaders for
// project. The loaders call the provider only when invoked.
func New(project core.Project, provider, rawType string, payload []byte) *core.Event {
	c := Classify(provider, rawType, payload)
	evt := &core.Event{
		Type:     c.Type,
		RawType:  rawType,
		Provider: provider,
		Project:  project,
		Payload:  payload,
	}
	if c.HasIssue() {
		evt.IssueLoader = memoize(issueLoader(project, c))
	}
	if c.HasComment() {
		loadIssue := evt.IssueLoader
		comment := c.CommentObject
		evt.CommentLoader = func(ctx context.Context) (core.Comment, error) {
			issue, err := loadIssue(ctx)
			if err != nil {
				return core.Comment{}, err
			}
			return issue.Comments().Received(ctx, comment)
		}
	}
	return evt
}

// Synthetic returns a project-scoped event of the given type that carries
// no payload, issue or comment.
func Synthetic(project core.Project, eventType string) *core.Event {
	return &core.Event{
		Type:     eventType,
		RawType:  eventType,
		Provider: project.ProviderName(),
		Project:  project,
	}
}

func issueLoader(project core.Project, c Classification) core.IssueLoader {
	return func(ctx context.Context) (core.Issue, error) {
		issues, err := tracker(project, c.Tracker)
		if err != nil {
			return nil, err
		}
		if len(c.IssueObject) > 0 {
			return issues.Received(ctx, c.IssueObject)
		}
		return issues.GetByID(ctx, c.IssueID)
	}
}

// memoize keeps the first successful issue load so the comment loader and
// later callers share one provider call. Failed loads are retried.
func memoize(load core.IssueLoader) core.IssueLoader {
	var (
		mu     sync.Mutex
		loaded core.Issue
	)
	return func(ctx context.Context) (core.Issue, error) {
		mu.Lock()
		defer mu.Unlock()
		if loaded != nil {
			return loaded, nil
		}
		issue, err := load(ctx)
		if err != nil {
			return nil, err
		}
		loaded = issue
		return issue, nil
	}
}

func tracker(project core.Project, kind Tracker) (core.Issues, error) {
	manager := project.ProjectManager()
	if manager == nil || manager.Provider() == nil {
		return nil, fmt.Errorf("project %s has no provider handle", project.RepoFullName())
	}
	owner, name := core.SplitFullName(project.RepoFullName())
	repo := manager.Provider().Repo(owner, name)
	if kind == PullRequestTracker {
		return repo.PullRequests(), nil
	}
	return repo.Issues(), nil
}
