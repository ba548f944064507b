package github

import (
	"context"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.github.com"

// Client is the official GitHub SDK client.
type Client = gh.Client

// NewClient creates a GitHub SDK client authenticated with a personal
// access token. A non-default baseURL selects a GitHub Enterprise host.
func NewClient(ctx context.Context, baseURL, token string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" && baseURL != defaultBaseURL {
		return gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
	}
	return gh.NewClient(httpClient), nil
}
