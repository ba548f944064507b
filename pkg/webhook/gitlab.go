package webhook

import (
	"net/http"

	"selfpm/pkg/core"
)

// GitLabHandler handles POST <prefix>/{path...} from GitLab.
type GitLabHandler struct {
	*dispatcher
}

// NewGitLabHandler creates a new GitLabHandler.
func NewGitLabHandler(self core.Self, opts Options) *GitLabHandler {
	return &GitLabHandler{dispatcher: newDispatcher(core.GitLab, "X-Gitlab-Event", verifyGitLabRequest, self, opts)}
}

func verifyGitLabRequest(project core.Project, r *http.Request, _ []byte) bool {
	return VerifyGitLab(project.WebHookToken(), r.Header.Get("X-Gitlab-Token"))
}
