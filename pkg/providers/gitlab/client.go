package gitlab

import (
	"fmt"
	"strings"

	gl "github.com/xanzy/go-gitlab"
)

const defaultBaseURL = "https://gitlab.com/api/v4"

// Client is the GitLab SDK client.
type Client = gl.Client

// NewClient creates a GitLab SDK client authenticated with a personal
// access token against baseURL, or gitlab.com when empty.
func NewClient(baseURL, token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("gitlab token is required")
	}
	return gl.NewClient(token, gl.WithBaseURL(normalizeBaseURL(baseURL)))
}

func normalizeBaseURL(base string) string {
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/")
}
