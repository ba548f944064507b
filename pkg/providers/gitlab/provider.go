// Package gitlab implements core.Provider on top of the GitLab REST API.
package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	gl "github.com/xanzy/go-gitlab"

	"selfpm/pkg/core"
)

// Provider is a GitLab API handle for a single project manager account.
type Provider struct {
	client *Client
}

// New returns a Provider using token against baseURL.
func New(baseURL, token string) (*Provider, error) {
	client, err := NewClient(baseURL, token)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return core.GitLab }

func (p *Provider) Repo(owner, name string) core.Repo {
	pid := name
	if owner != "" {
		pid = owner + "/" + name
	}
	return &repo{client: p.client, pid: pid}
}

// Invitations returns nothing: GitLab adds members directly instead of
// sending invitations the account has to accept.
func (p *Provider) Invitations(ctx context.Context) ([]core.Invitation, error) {
	return nil, nil
}

type repo struct {
	client *Client
	pid    string
}

func (r *repo) Issues() core.Issues { return &issues{repo: r} }

func (r *repo) PullRequests() core.Issues { return &mergeRequests{repo: r} }

type issues struct {
	repo *repo
}

func (i *issues) GetByID(ctx context.Context, id string) (core.Issue, error) {
	iid, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("gitlab issue id %q: %w", id, err)
	}
	raw, _, err := i.repo.client.Issues.GetIssue(i.repo.pid, iid, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab get issue %s#%d: %w", i.repo.pid, iid, err)
	}
	author := ""
	if raw.Author != nil {
		author = raw.Author.Username
	}
	return i.repo.issue(raw.IID, author), nil
}

func (i *issues) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	var object receivedObject
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, fmt.Errorf("gitlab decode issue: %w", err)
	}
	return i.repo.issue(object.IID, object.Author.Username), nil
}

type mergeRequests struct {
	repo *repo
}

func (m *mergeRequests) GetByID(ctx context.Context, id string) (core.Issue, error) {
	iid, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("gitlab merge request id %q: %w", id, err)
	}
	raw, _, err := m.repo.client.MergeRequests.GetMergeRequest(m.repo.pid, iid, nil, gl.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("gitlab get merge request %s!%d: %w", m.repo.pid, iid, err)
	}
	author := ""
	if raw.Author != nil {
		author = raw.Author.Username
	}
	return m.repo.issue(raw.IID, author), nil
}

func (m *mergeRequests) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	var object receivedObject
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, fmt.Errorf("gitlab decode merge request: %w", err)
	}
	return m.repo.issue(object.IID, object.Author.Username), nil
}

// receivedObject is the part of an issue or merge request object that is
// read from payloads. go-gitlab's Issue decoder requires an "id" field that
// hook payloads and notes do not always carry.
type receivedObject struct {
	IID    int `json:"iid"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
}

func (r *repo) issue(iid int, author string) *issue {
	return &issue{iid: iid, repo: r.pid, author: author}
}

type issue struct {
	iid    int
	repo   string
	author string
}

func (i *issue) ID() string              { return strconv.Itoa(i.iid) }
func (i *issue) RepoFullName() string    { return i.repo }
func (i *issue) Author() string          { return i.author }
func (i *issue) Comments() core.Comments { return notes{} }

type notes struct{}

func (notes) Received(ctx context.Context, raw json.RawMessage) (core.Comment, error) {
	var note struct {
		ID     json.Number `json:"id"`
		Body   string      `json:"body"`
		Author struct {
			Username string `json:"username"`
		} `json:"author"`
	}
	if err := json.Unmarshal(raw, &note); err != nil {
		return core.Comment{}, fmt.Errorf("gitlab decode note: %w", err)
	}
	return core.Comment{ID: note.ID.String(), Body: note.Body, Author: note.Author.Username}, nil
}
