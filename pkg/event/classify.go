// Package event turns raw provider webhook payloads into core events.
package event

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/webhooks/v6/github"
	"github.com/go-playground/webhooks/v6/gitlab"
	"github.com/tidwall/gjson"

	"selfpm/pkg/core"
)

// Tracker selects the provider tracker an issue reference lives in.
type Tracker int

const (
	// NoTracker marks a payload that refers to no issue.
	NoTracker Tracker = iota
	// IssueTracker is the issue list: GitHub issues, GitLab issues.
	IssueTracker
	// PullRequestTracker holds GitHub pull requests and GitLab merge requests.
	PullRequestTracker
)

// Classification is the result of classifying a payload. It only describes
// what the payload refers to; nothing is fetched.
type Classification struct {
	Type    string
	Tracker Tracker
	// IssueObject is the issue embedded in the payload. When empty the issue
	// is fetched by IssueID.
	IssueObject json.RawMessage
	IssueID     string
	// CommentObject is handed to the issue's comment ingestion.
	CommentObject json.RawMessage
}

// HasIssue reports whether the payload refers to an issue or pull request.
func (c Classification) HasIssue() bool {
	return c.Tracker != NoTracker
}

// HasComment reports whether the payload carries a comment on that issue.
func (c Classification) HasComment() bool {
	return c.HasIssue() && len(c.CommentObject) > 0
}

type classifier func(rawType string, payload []byte) Classification

var classifiers = map[string]classifier{
	core.GitHub: classifyGitHub,
	core.GitLab: classifyGitLab,
}

// Classify maps a provider event to its canonical type and issue/comment
// references. Unknown providers and event types keep the raw type.
func Classify(provider, rawType string, payload []byte) Classification {
	classify, ok := classifiers[strings.ToLower(provider)]
	if !ok {
		return Classification{Type: rawType}
	}
	return classify(rawType, payload)
}

// IsPush reports whether rawType is the provider's push event.
func IsPush(provider, rawType string) bool {
	switch strings.ToLower(provider) {
	case core.GitHub:
		return strings.EqualFold(rawType, string(github.PushEvent))
	case core.GitLab:
		return strings.EqualFold(rawType, string(gitlab.PushEvents))
	default:
		return false
	}
}

func classifyGitHub(rawType string, payload []byte) Classification {
	out := Classification{Type: rawType}
	if strings.EqualFold(rawType, string(github.IssuesEvent)) || strings.EqualFold(rawType, string(github.PullRequestEvent)) {
		action := gjson.GetBytes(payload, "action").String()
		switch {
		case strings.EqualFold(action, "opened"):
			out.Type = core.NewIssue
		case strings.EqualFold(action, "reopened"):
			out.Type = core.ReopenedIssue
		}
	}

	values := gjson.GetManyBytes(payload, "issue", "pull_request", "comment")
	switch {
	case values[0].IsObject():
		out.Tracker = IssueTracker
		out.IssueObject = json.RawMessage(values[0].Raw)
	case values[1].IsObject():
		out.Tracker = PullRequestTracker
		out.IssueObject = json.RawMessage(values[1].Raw)
	}
	if values[2].IsObject() {
		out.CommentObject = json.RawMessage(values[2].Raw)
	}
	return out
}

func classifyGitLab(rawType string, payload []byte) Classification {
	out := Classification{Type: rawType}
	switch {
	case strings.EqualFold(rawType, string(gitlab.IssuesEvents)):
		out.Tracker = IssueTracker
		out.Type = gitlabStateType(rawType, payload)
		out.IssueID = gjson.GetBytes(payload, "object_attributes.iid").String()
	case strings.EqualFold(rawType, string(gitlab.MergeRequestEvents)):
		out.Tracker = PullRequestTracker
		out.Type = gitlabStateType(rawType, payload)
		out.IssueID = gjson.GetBytes(payload, "object_attributes.iid").String()
	case strings.EqualFold(rawType, string(gitlab.CommentEvents)):
		noteable := gjson.GetBytes(payload, "object_attributes.noteable_type").String()
		switch {
		case strings.EqualFold(noteable, "Issue"):
			out.Tracker = IssueTracker
			out.IssueID = gjson.GetBytes(payload, "issue.iid").String()
		case strings.EqualFold(noteable, "MergeRequest"):
			out.Tracker = PullRequestTracker
			out.IssueID = gjson.GetBytes(payload, "merge_request.iid").String()
		default:
			return out
		}
		out.Type = core.IssueComment
		out.CommentObject = gitlabComment(payload)
	}
	if out.IssueID == "" {
		out.Tracker = NoTracker
	}
	return out
}

func gitlabStateType(rawType string, payload []byte) string {
	state := strings.ToLower(gjson.GetBytes(payload, "object_attributes.state").String())
	switch {
	case strings.HasPrefix(state, "open"):
		return core.NewIssue
	case strings.HasPrefix(state, "reopen"):
		return core.ReopenedIssue
	default:
		return rawType
	}
}

type gitlabNote struct {
	ID     json.RawMessage `json:"id"`
	Body   string          `json:"body"`
	Author struct {
		Username string `json:"username"`
	} `json:"author"`
}

// gitlabComment builds a comment object in the shape the comment ingestion
// expects from a Note Hook.
func gitlabComment(payload []byte) json.RawMessage {
	values := gjson.GetManyBytes(payload, "object_attributes.id", "object_attributes.note", "user.username")
	note := gitlabNote{ID: json.RawMessage("null"), Body: values[1].String()}
	if values[0].Exists() {
		note.ID = json.RawMessage(values[0].Raw)
	}
	note.Author.Username = values[2].String()
	raw, err := json.Marshal(note)
	if err != nil {
		return nil
	}
	return raw
}
