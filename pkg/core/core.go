package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Provider names used to key projects and managers.
const (
	GitHub = "github"
	GitLab = "gitlab"
)

// Self is the entry point into the platform core.
type Self interface {
	ProjectManagers(ctx context.Context) ([]ProjectManager, error)
	Projects() Projects
	Todos() Todos
}

// Projects is the registry of managed projects.
type Projects interface {
	// GetProjectByID returns the project registered under fullName for the
	// given provider, or nil when there is none.
	GetProjectByID(ctx context.Context, fullName, provider string) (Project, error)
}

// Project is a repository under management.
type Project interface {
	RepoFullName() string
	ProviderName() string
	WebHookToken() string
	ProjectManager() ProjectManager
	Resolve(ctx context.Context, event *Event) error
	Wallet() Wallet
	Contracts(ctx context.Context) ([]Contract, error)
}

// ProjectManager is a managing account on a provider.
type ProjectManager interface {
	Username() string
	Provider() Provider
	Projects(ctx context.Context) ([]Project, error)
}

// Provider is an authenticated handle on a Git provider API.
type Provider interface {
	Name() string
	Repo(owner, name string) Repo
	Invitations(ctx context.Context) ([]Invitation, error)
}

// Repo gives access to the trackers of a single repository.
type Repo interface {
	Issues() Issues
	PullRequests() Issues
}

// Issues is an issue tracker; pull requests and merge requests are tracked
// through the same interface.
type Issues interface {
	GetByID(ctx context.Context, id string) (Issue, error)
	Received(ctx context.Context, raw json.RawMessage) (Issue, error)
}

// Issue is a single issue or pull request.
type Issue interface {
	ID() string
	RepoFullName() string
	Author() string
	Comments() Comments
}

// Comments ingests comments posted on an issue.
type Comments interface {
	Received(ctx context.Context, raw json.RawMessage) (Comment, error)
}

// Comment is a comment posted on an issue.
type Comment struct {
	ID     string
	Body   string
	Author string
}

// Invitation is a pending collaboration invite.
type Invitation interface {
	ID() string
	Repo() string
	Accept(ctx context.Context) error
}

// Todos receives push payloads for todo extraction.
type Todos interface {
	Post(ctx context.Context, project Project, payload []byte) error
}

// Wallet pays invoices of a project.
type Wallet interface {
	Pay(ctx context.Context, invoice Invoice) (Payment, error)
}

// ContractID identifies a contract of a contributor on a project.
type ContractID struct {
	RepoFullName string
	Contributor  string
	Provider     string
	Role         string
}

func (id ContractID) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", id.Provider, id.RepoFullName, id.Contributor, id.Role)
}

// Contract binds a contributor to a project.
type Contract interface {
	ID() ContractID
	MarkedForRemoval() *time.Time
	Invoices(ctx context.Context) ([]Invoice, error)
	Remove(ctx context.Context) error
}

// Invoice is an invoice of a contract. TotalAmount is in minor currency units.
type Invoice struct {
	ID          string
	TotalAmount int64
	Currency    string
	Paid        bool
}

// Payment is the outcome of a payment attempt.
type Payment struct {
	Status     string
	FailReason string
}

// SplitFullName splits "owner/name" at the last slash so GitLab subgroups
// stay in the owner part.
func SplitFullName(fullName string) (string, string) {
	idx := strings.LastIndex(fullName, "/")
	if idx < 0 {
		return "", fullName
	}
	return fullName[:idx], fullName[idx+1:]
}
