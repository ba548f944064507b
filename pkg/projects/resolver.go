package projects

import (
	"context"
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"selfpm/pkg/core"
)

// ErrNotFound is returned when no lookup tier matches a registered project.
var ErrNotFound = errors.New("project not found")

// Resolver maps webhook path coordinates to a registered project.
type Resolver struct {
	projects core.Projects
}

// NewResolver constructs a Resolver over the project registry.
func NewResolver(projects core.Projects) *Resolver {
	return &Resolver{projects: projects}
}

// Resolve looks up owner/name for provider. For GitHub it falls back to the
// name the repository had before a rename and then to the payload's declared
// full name. Registry errors are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, owner, name, provider string, payload []byte) (core.Project, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	candidates := []string{owner + "/" + name}
	if provider == core.GitHub {
		candidates = append(candidates, renamedFrom(payload), declaredFullName(payload))
	}

	tried := make(map[string]bool, len(candidates))
	for _, fullName := range candidates {
		if fullName == "" || tried[fullName] {
			continue
		}
		tried[fullName] = true
		project, err := r.projects.GetProjectByID(ctx, fullName, provider)
		if err != nil {
			return nil, err
		}
		if project != nil {
			return project, nil
		}
	}
	return nil, ErrNotFound
}

func renamedFrom(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	values := gjson.GetManyBytes(payload, "repository.owner.login", "changes.repository.name.from")
	login, previous := values[0].String(), values[1].String()
	if login == "" || previous == "" {
		return ""
	}
	return login + "/" + previous
}

func declaredFullName(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	return gjson.GetBytes(payload, "repository.full_name").String()
}
