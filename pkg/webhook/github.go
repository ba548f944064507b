package webhook

import (
	"net/http"

	"selfpm/pkg/core"
)

// GitHubHandler handles POST <prefix>/{owner}/{name} from GitHub.
type GitHubHandler struct {
	*dispatcher
}

// NewGitHubHandler creates a new GitHubHandler.
func NewGitHubHandler(self core.Self, opts Options) *GitHubHandler {
	return &GitHubHandler{dispatcher: newDispatcher(core.GitHub, "X-GitHub-Event", verifyGitHubRequest, self, opts)}
}

// verifyGitHubRequest checks X-Hub-Signature, or X-Hub-Signature-256 when
// only the newer header is sent.
func verifyGitHubRequest(project core.Project, r *http.Request, body []byte) bool {
	signature := r.Header.Get("X-Hub-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Hub-Signature-256")
	}
	return VerifyGitHub(project.WebHookToken(), body, signature)
}
