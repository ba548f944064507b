// Package platform assembles the registry, provider clients, billing API and
// message bus into a core.Self.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"selfpm/internal"
	"selfpm/pkg/core"
	"selfpm/pkg/scm"
	"selfpm/pkg/storage"
)

// Billing is the billing API surface projects need.
type Billing interface {
	Contracts(ctx context.Context, provider, fullName string) ([]core.Contract, error)
	Wallet(provider, fullName string) core.Wallet
}

// ProviderFactory builds an authenticated provider handle for a manager.
type ProviderFactory func(ctx context.Context, record storage.ManagerRecord) (core.Provider, error)

// Options configures a Platform.
type Options struct {
	Managers  storage.ManagerStore
	Projects  storage.ProjectStore
	Billing   Billing
	Publisher internal.Publisher
	Rules     *internal.RuleEngine
	Events    internal.EventsConfig
	Providers ProviderFactory
	Logger    *log.Logger
}

// Platform implements core.Self.
type Platform struct {
	managers  storage.ManagerStore
	projects  storage.ProjectStore
	billing   Billing
	publisher internal.Publisher
	rules     *internal.RuleEngine
	events    internal.EventsConfig
	providers ProviderFactory
	logger    *log.Logger
}

// New assembles a Platform. The stores and publisher are required; billing
// is optional and the provider factory and topics have defaults.
func New(opts Options) (*Platform, error) {
	if opts.Managers == nil || opts.Projects == nil {
		return nil, errors.New("manager and project stores are required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Providers == nil {
		opts.Providers = scm.NewFactory(nil).NewProvider
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Events.Topic == "" {
		opts.Events.Topic = "selfpm.events"
	}
	if opts.Events.TodosTopic == "" {
		opts.Events.TodosTopic = "selfpm.todos"
	}
	return &Platform{
		managers:  opts.Managers,
		projects:  opts.Projects,
		billing:   opts.Billing,
		publisher: opts.Publisher,
		rules:     opts.Rules,
		events:    opts.Events,
		providers: opts.Providers,
		logger:    opts.Logger,
	}, nil
}

// ProjectManagers lists every registered manager.
func (p *Platform) ProjectManagers(ctx context.Context) ([]core.ProjectManager, error) {
	records, err := p.managers.ListManagers(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]core.ProjectManager, 0, len(records))
	for _, record := range records {
		out = append(out, p.manager(ctx, record))
	}
	return out, nil
}

func (p *Platform) Projects() core.Projects { return registry{platform: p} }

func (p *Platform) Todos() core.Todos { return todos{platform: p} }

func (p *Platform) manager(ctx context.Context, record storage.ManagerRecord) *manager {
	provider, err := p.providers(ctx, record)
	if err != nil {
		p.logger.Printf("manager %s/%s: %v", record.Provider, record.Username, err)
		provider = brokenProvider{name: record.Provider, err: err}
	}
	return &manager{platform: p, record: record, provider: provider}
}

type registry struct {
	platform *Platform
}

// GetProjectByID returns nil when no project is registered under fullName.
func (r registry) GetProjectByID(ctx context.Context, fullName, provider string) (core.Project, error) {
	p := r.platform
	record, err := p.projects.GetProject(ctx, strings.ToLower(provider), fullName)
	if err != nil || record == nil {
		return nil, err
	}
	managerRecord, err := p.managers.GetManager(ctx, record.Provider, record.Manager)
	if err != nil {
		return nil, err
	}
	proj := &project{platform: p, record: *record}
	if managerRecord != nil {
		proj.manager = p.manager(ctx, *managerRecord)
	}
	return proj, nil
}

type manager struct {
	platform *Platform
	record   storage.ManagerRecord
	provider core.Provider
}

func (m *manager) Username() string        { return m.record.Username }
func (m *manager) Provider() core.Provider { return m.provider }

func (m *manager) Projects(ctx context.Context) ([]core.Project, error) {
	records, err := m.platform.projects.ListProjects(ctx, storage.ProjectFilter{
		Provider: m.record.Provider,
		Manager:  m.record.Username,
	})
	if err != nil {
		return nil, err
	}
	out := make([]core.Project, 0, len(records))
	for _, record := range records {
		out = append(out, &project{platform: m.platform, record: record, manager: m})
	}
	return out, nil
}

type todos struct {
	platform *Platform
}

// Post publishes the raw push payload for todo extraction.
func (t todos) Post(ctx context.Context, proj core.Project, payload []byte) error {
	p := t.platform
	envelope := internal.Event{
		Provider: proj.ProviderName(),
		Name:     "push",
		RawType:  "push",
		Project:  proj.RepoFullName(),
		Payload:  jsonOrNil(payload),
	}
	if err := p.publisher.Publish(ctx, p.events.TodosTopic, envelope); err != nil {
		return fmt.Errorf("publish todos for %s: %w", proj.RepoFullName(), err)
	}
	return nil
}

// brokenProvider stands in for a manager whose client could not be built so
// each call reports the construction error.
type brokenProvider struct {
	name string
	err  error
}

func (b brokenProvider) Name() string { return b.name }

func (b brokenProvider) Repo(owner, name string) core.Repo { return brokenRepo(b) }

func (b brokenProvider) Invitations(ctx context.Context) ([]core.Invitation, error) {
	return nil, b.err
}

type brokenRepo brokenProvider

func (b brokenRepo) Issues() core.Issues       { return brokenIssues(b) }
func (b brokenRepo) PullRequests() core.Issues { return brokenIssues(b) }

type brokenIssues brokenProvider

func (b brokenIssues) GetByID(ctx context.Context, id string) (core.Issue, error) {
	return nil, b.err
}

func (b brokenIssues) Received(ctx context.Context, raw json.RawMessage) (core.Issue, error) {
	return nil, b.err
}
