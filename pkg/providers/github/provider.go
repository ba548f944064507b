// Package github implements core.Provider on top of the GitHub REST API.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	gh "github.com/google/go-github/v57/github"

	"selfpm/pkg/core"
)

// Provider is a GitHub API handle for a single project manager account.
type Provider struct {
	client *Client
}

// New returns a Provider using token against baseURL.
func New(ctx context.Context, baseURL, token string) (*Provider, error) {
	client, err := NewClient(ctx, baseURL, token)
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

// NewFromClient wraps an existing SDK client.
func NewFromClient(client *Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Name() string { return core.GitHub }

func (p *Provider) Repo(owner, name string) core.Repo {
	return &repo{client: p.client, owner: owner, name: name}
}

// Invitations lists the pending repository invitations of the account.
func (p *Provider) Invitations(ctx context.Context) ([]core.Invitation, error) {
	opts := &gh.ListOptions{PerPage: 100}
	var out []core.Invitation
	for {
		page, resp, err := p.client.Users.ListInvitations(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("github list invitations: %w", err)
		}
		for _, inv := range page {
			out = append(out, &invitation{client: p.client, raw: inv})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

type invitation struct {
	client *Client
	raw    *gh.RepositoryInvitation
}

func (i *invitation) ID() string   { return strconv.FormatInt(i.raw.GetID(), 10) }
func (i *invitation) Repo() string { return i.raw.GetRepo().GetFullName() }

func (i *invitation) Accept(ctx context.Context) error {
	if _, err := i.client.Users.AcceptInvitation(ctx, i.raw.GetID()); err != nil {
		return fmt.Errorf("github accept invitation %d: %w", i.raw.GetID(), err)
	}
	return nil
}

type repo struct {
	client *Client
	owner  string
	name   string
}

func (r *repo) fullName() string { return r.owner + "/" + r.name }

func (r *repo) Issues() core.Issues { return &issues{repo: r} }

func (r *repo) PullRequests() core.Issues { return &pulls{repo: r} }

type issues struct {
	repo *repo
}

func (i *issues) GetByID(ctx context.Context, id string) (core.Issue, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("github issue id %q: %w", id, err)
	}
	raw, _, err := i.repo.client.Issues.Get(ctx, i.repo.owner, i.repo.name, number)
	if err != nil {
		return nil, fmt.Errorf("github get issue %s#%d: %w", i.repo.fullName(), number, err)
	}
	return i.repo.issue(raw.GetNumber(), raw.GetUser().GetLogin()), nil
}

func (i *issues) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	var issue gh.Issue
	if err := json.Unmarshal(raw, &issue); err != nil {
		return nil, fmt.Errorf("github decode issue: %w", err)
	}
	return i.repo.issue(issue.GetNumber(), issue.GetUser().GetLogin()), nil
}

type pulls struct {
	repo *repo
}

func (p *pulls) GetByID(ctx context.Context, id string) (core.Issue, error) {
	number, err := strconv.Atoi(id)
	if err != nil {
		return nil, fmt.Errorf("github pull request id %q: %w", id, err)
	}
	raw, _, err := p.repo.client.PullRequests.Get(ctx, p.repo.owner, p.repo.name, number)
	if err != nil {
		return nil, fmt.Errorf("github get pull request %s#%d: %w", p.repo.fullName(), number, err)
	}
	return p.repo.issue(raw.GetNumber(), raw.GetUser().GetLogin()), nil
}

func (p *pulls) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	var pr gh.PullRequest
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("github decode pull request: %w", err)
	}
	return p.repo.issue(pr.GetNumber(), pr.GetUser().GetLogin()), nil
}

func (r *repo) issue(number int, author string) *issue {
	return &issue{number: number, repo: r.fullName(), author: author}
}

type issue struct {
	number int
	repo   string
	author string
}

func (i *issue) ID() string              { return strconv.Itoa(i.number) }
func (i *issue) RepoFullName() string    { return i.repo }
func (i *issue) Author() string          { return i.author }
func (i *issue) Comments() core.Comments { return comments{} }

type comments struct{}

func (comments) Received(ctx context.Context, raw json.RawMessage) (core.Comment, error) {
	var comment gh.IssueComment
	if err := json.Unmarshal(raw, &comment); err != nil {
		return core.Comment{}, fmt.Errorf("github decode comment: %w", err)
	}
	return core.Comment{
		ID:     strconv.FormatInt(comment.GetID(), 10),
		Body:   comment.GetBody(),
		Author: comment.GetUser().GetLogin(),
	}, nil
}
