// Package storage defines the registry of project managers and projects.
package storage

import (
	"context"
	"time"
)

// ManagerRecord is a managing account on a provider.
type ManagerRecord struct {
	Provider    string
	Username    string
	AccessToken string
	// BaseURL is the provider API endpoint; empty means the public service.
	BaseURL   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectRecord is a repository under management.
type ProjectRecord struct {
	Provider     string
	Owner        string
	RepoName     string
	FullName     string
	Manager      string
	WebhookToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ProjectFilter selects project rows.
type ProjectFilter struct {
	Provider string
	Manager  string
	Owner    string
}

// ManagerStore persists project managers.
type ManagerStore interface {
	UpsertManager(ctx context.Context, record ManagerRecord) error
	GetManager(ctx context.Context, provider, username string) (*ManagerRecord, error)
	ListManagers(ctx context.Context, provider string) ([]ManagerRecord, error)
}

// ProjectStore persists projects.
type ProjectStore interface {
	UpsertProject(ctx context.Context, record ProjectRecord) error
	GetProject(ctx context.Context, provider, fullName string) (*ProjectRecord, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]ProjectRecord, error)
	DeleteProject(ctx context.Context, provider, fullName string) error
}
