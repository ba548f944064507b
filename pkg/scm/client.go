// Package scm builds authenticated provider handles for project managers.
package scm

import (
	"context"
	"fmt"
	"strings"

	"selfpm/pkg/core"
	"selfpm/pkg/providers/github"
	"selfpm/pkg/providers/gitlab"
	"selfpm/pkg/storage"
)

// Factory builds provider handles from manager records.
type Factory struct {
	baseURLs map[string]string
}

// NewFactory creates a Factory. baseURLs, keyed by provider name, is used
// for managers that carry no BaseURL of their own.
func NewFactory(baseURLs map[string]string) *Factory {
	return &Factory{baseURLs: baseURLs}
}

// NewProvider returns the go-github or go-gitlab backed provider for record.
func (f *Factory) NewProvider(ctx context.Context, record storage.ManagerRecord) (core.Provider, error) {
	name := strings.ToLower(record.Provider)
	baseURL := record.BaseURL
	if baseURL == "" && f != nil {
		baseURL = f.baseURLs[name]
	}
	switch name {
	case core.GitHub:
		return github.New(ctx, baseURL, record.AccessToken)
	case core.GitLab:
		return gitlab.New(baseURL, record.AccessToken)
	default:
		return nil, fmt.Errorf("unsupported provider for scm client: %q", record.Provider)
	}
}
