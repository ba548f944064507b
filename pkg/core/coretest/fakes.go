// Package coretest provides in-memory implementations of the core
// interfaces for tests.
package coretest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"selfpm/pkg/core"
)

// Self is an in-memory core.Self.
type Self struct {
	Managers    []core.ProjectManager
	ManagersErr error
	Registry    *Projects
	TodoSink    *Todos
}

func (s *Self) ProjectManagers(ctx context.Context) ([]core.ProjectManager, error) {
	return s.Managers, s.ManagersErr
}

func (s *Self) Projects() core.Projects { return s.Registry }

func (s *Self) Todos() core.Todos { return s.TodoSink }

// Projects is an in-memory registry keyed by provider and full name.
type Projects struct {
	mu      sync.Mutex
	byKey   map[string]core.Project
	Err     error
	Lookups []string
}

// NewProjects returns a registry holding the given projects.
func NewProjects(projects ...*Project) *Projects {
	reg := &Projects{byKey: make(map[string]core.Project)}
	for _, p := range projects {
		reg.Add(p)
	}
	return reg
}

// Add registers a project.
func (r *Projects) Add(p *Project) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[p.Provider+":"+p.FullName] = p
}

func (r *Projects) GetProjectByID(ctx context.Context, fullName, provider string) (core.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lookups = append(r.Lookups, fullName)
	if r.Err != nil {
		return nil, r.Err
	}
	p, ok := r.byKey[provider+":"+fullName]
	if !ok {
		return nil, nil
	}
	return p, nil
}

// Project records Resolve calls.
type Project struct {
	FullName   string
	Provider   string
	Token      string
	Manager    core.ProjectManager
	ResolveErr error
	Pocket     core.Wallet
	Deals      []core.Contract
	DealsErr   error

	mu       sync.Mutex
	Resolved []*core.Event
}

func (p *Project) RepoFullName() string                { return p.FullName }
func (p *Project) ProviderName() string                { return p.Provider }
func (p *Project) WebHookToken() string                { return p.Token }
func (p *Project) ProjectManager() core.ProjectManager { return p.Manager }
func (p *Project) Wallet() core.Wallet                 { return p.Pocket }

func (p *Project) Contracts(ctx context.Context) ([]core.Contract, error) {
	return p.Deals, p.DealsErr
}

func (p *Project) Resolve(ctx context.Context, event *core.Event) error {
	p.mu.Lock()
	p.Resolved = append(p.Resolved, event)
	p.mu.Unlock()
	return p.ResolveErr
}

// ResolveCount returns the number of Resolve calls.
func (p *Project) ResolveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Resolved)
}

// Manager is an in-memory core.ProjectManager.
type Manager struct {
	Name        string
	Prov        core.Provider
	Owned       []core.Project
	ProjectsErr error
}

func (m *Manager) Username() string        { return m.Name }
func (m *Manager) Provider() core.Provider { return m.Prov }

func (m *Manager) Projects(ctx context.Context) ([]core.Project, error) {
	return m.Owned, m.ProjectsErr
}

// Provider serves issues from memory and records which API calls were made.
type Provider struct {
	ProviderName   string
	Pending        []core.Invitation
	InvitationsErr error

	mu    sync.Mutex
	Calls []string
}

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) Repo(owner, name string) core.Repo {
	return &repo{provider: p, fullName: owner + "/" + name}
}

func (p *Provider) Invitations(ctx context.Context) ([]core.Invitation, error) {
	return p.Pending, p.InvitationsErr
}

func (p *Provider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, call)
}

// CallLog returns a copy of the recorded calls.
func (p *Provider) CallLog() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Calls...)
}

type repo struct {
	provider *Provider
	fullName string
}

func (r *repo) Issues() core.Issues {
	return &issues{repo: r, kind: "issues"}
}

func (r *repo) PullRequests() core.Issues {
	return &issues{repo: r, kind: "pulls"}
}

type issues struct {
	repo *repo
	kind string
}

func (i *issues) GetByID(ctx context.Context, id string) (core.Issue, error) {
	i.repo.provider.record(i.repo.fullName + " " + i.kind + " get " + id)
	return &Issue{Number: id, Repo: i.repo.fullName, provider: i.repo.provider}, nil
}

func (i *issues) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	var body struct {
		Number json.Number `json:"number"`
		User   struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	i.repo.provider.record(i.repo.fullName + " " + i.kind + " received " + body.Number.String())
	return &Issue{Number: body.Number.String(), Repo: i.repo.fullName, By: body.User.Login, provider: i.repo.provider}, nil
}

// Issue is an in-memory core.Issue.
type Issue struct {
	Number   string
	Repo     string
	By       string
	provider *Provider
}

func (i *Issue) ID() string           { return i.Number }
func (i *Issue) RepoFullName() string { return i.Repo }
func (i *Issue) Author() string       { return i.By }

func (i *Issue) Comments() core.Comments {
	return &comments{issue: i}
}

type comments struct {
	issue *Issue
}

func (c *comments) Received(ctx context.Context, raw json.RawMessage) (core.Comment, error) {
	var body struct {
		ID     json.Number `json:"id"`
		Body   string      `json:"body"`
		Author struct {
			Username string `json:"username"`
		} `json:"author"`
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return core.Comment{}, err
	}
	author := body.Author.Username
	if author == "" {
		author = body.User.Login
	}
	if c.issue.provider != nil {
		c.issue.provider.record(c.issue.Repo + " comment received " + body.ID.String())
	}
	return core.Comment{ID: body.ID.String(), Body: body.Body, Author: author}, nil
}

// Invitation counts Accept calls.
type Invitation struct {
	Identifier string
	Repository string
	AcceptErr  error
	Accepted   int
}

func (i *Invitation) ID() string   { return i.Identifier }
func (i *Invitation) Repo() string { return i.Repository }

func (i *Invitation) Accept(ctx context.Context) error {
	i.Accepted++
	return i.AcceptErr
}

// Todos records posted push payloads.
type Todos struct {
	mu    sync.Mutex
	Posts [][]byte
	Err   error
}

func (t *Todos) Post(ctx context.Context, project core.Project, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Posts = append(t.Posts, append([]byte(nil), payload...))
	return t.Err
}

// PostCount returns the number of Post calls.
func (t *Todos) PostCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Posts)
}

// Wallet records paid invoices.
type Wallet struct {
	Result core.Payment
	Err    error
	Paid   []core.Invoice
}

func (w *Wallet) Pay(ctx context.Context, invoice core.Invoice) (core.Payment, error) {
	w.Paid = append(w.Paid, invoice)
	return w.Result, w.Err
}

// Contract is an in-memory core.Contract.
type Contract struct {
	Key         core.ContractID
	MarkedAt    *time.Time
	Bills       []core.Invoice
	InvoicesErr error
	RemoveErr   error
	Removed     int
}

func (c *Contract) ID() core.ContractID          { return c.Key }
func (c *Contract) MarkedForRemoval() *time.Time { return c.MarkedAt }

func (c *Contract) Invoices(ctx context.Context) ([]core.Invoice, error) {
	return c.Bills, c.InvoicesErr
}

func (c *Contract) Remove(ctx context.Context) error {
	c.Removed++
	return c.RemoveErr
}

// ErrBoom is a generic failure for tests.
var ErrBoom = errors.New("boom")
