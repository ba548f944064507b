package webhook

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"selfpm/pkg/core"
	"selfpm/pkg/core/coretest"
)

type fixture struct {
	self    *coretest.Self
	project *coretest.Project
	todos   *coretest.Todos
}

func newFixture(provider, fullName, token string) *fixture {
	project := &coretest.Project{
		FullName: fullName,
		Provider: provider,
		Token:    token,
		Manager:  &coretest.Manager{Name: "pm", Prov: &coretest.Provider{ProviderName: provider}},
	}
	todos := &coretest.Todos{}
	return &fixture{
		self:    &coretest.Self{Registry: coretest.NewProjects(project), TodoSink: todos},
		project: project,
		todos:   todos,
	}
}

func quietOptions() Options {
	return Options{Logger: log.New(io.Discard, "", 0)}
}

func githubRequest(owner, name, eventType string, body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/github/"+owner+"/"+name, bytes.NewReader(body))
	req.SetPathValue("owner", owner)
	req.SetPathValue("name", name)
	req.Header.Set("X-GitHub-Event", eventType)
	if signature != "" {
		req.Header.Set("X-Hub-Signature", signature)
	}
	return req
}

func gitlabRequest(owner, name, eventType string, body []byte, token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/gitlab/"+owner+"/"+name, bytes.NewReader(body))
	req.SetPathValue("owner", owner)
	req.SetPathValue("name", name)
	req.Header.Set("X-Gitlab-Event", eventType)
	req.Header.Set("X-Gitlab-Token", token)
	return req
}

func TestGitHubIssueOpened(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())
	body := []byte(`{"action":"opened","repository":{"full_name":"john/test"}}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, githubRequest("john", "test", "issues", body, sign("s3cret", body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 1 || fx.todos.PostCount() != 0 {
		t.Fatalf("expected one resolve and no todos, got %d and %d", fx.project.ResolveCount(), fx.todos.PostCount())
	}
	evt := fx.project.Resolved[0]
	if evt.Type != core.NewIssue {
		t.Fatalf("expected NEW_ISSUE, got %q", evt.Type)
	}
	if !bytes.Equal(evt.Payload, body) {
		t.Fatalf("expected raw payload on the event")
	}
}

func TestGitHubPushGoesToTodos(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())
	body := []byte(`{"ref":"refs/heads/main","commits":[]}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, githubRequest("john", "test", "push", body, sign("s3cret", body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fx.todos.PostCount() != 1 || fx.project.ResolveCount() != 0 {
		t.Fatalf("expected one todo post and no resolve, got %d and %d", fx.todos.PostCount(), fx.project.ResolveCount())
	}
	if !bytes.Equal(fx.todos.Posts[0], body) {
		t.Fatalf("expected push payload forwarded unchanged")
	}
}

func TestGitHubInvalidSignature(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())

	for _, eventType := range []string{"issues", "push"} {
		body := []byte(`{"action":"opened"}`)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, githubRequest("john", "test", eventType, body, sign("wrong", body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", eventType, rec.Code)
		}
	}
	if fx.project.ResolveCount() != 0 || fx.todos.PostCount() != 0 {
		t.Fatalf("expected no domain calls on rejected requests")
	}
}

func TestGitHubSHA256Signature(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())
	body := []byte(`{"action":"closed"}`)

	req := githubRequest("john", "test", "issues", body, "")
	req.Header.Set("X-Hub-Signature-256", sign256("s3cret", body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := fx.project.Resolved[0].Type; got != "issues" {
		t.Fatalf("expected verbatim type, got %q", got)
	}
}

func TestGitHubRenamedRepository(t *testing.T) {
	fx := newFixture(core.GitHub, "john/old", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())
	body := []byte(`{"action":"renamed","changes":{"repository":{"name":{"from":"old"}}},"repository":{"full_name":"john/new","owner":{"login":"john"}}}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, githubRequest("john", "new", "repository", body, sign("s3cret", body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 1 {
		t.Fatalf("expected the renamed project to resolve the event")
	}
}

func TestProjectNotFound(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	body := []byte(`{"action":"opened"}`)

	rec := httptest.NewRecorder()
	NewGitHubHandler(fx.self, quietOptions()).ServeHTTP(rec, githubRequest("mary", "other", "issues", body, sign("s3cret", body)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from github, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewGitLabHandler(fx.self, quietOptions()).ServeHTTP(rec, gitlabRequest("john", "test", "Issue Hook", body, "s3cret"))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from gitlab, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 0 || fx.todos.PostCount() != 0 {
		t.Fatalf("expected no domain calls for unknown projects")
	}
}

func TestResolveFailureIsServerError(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	fx.project.ResolveErr = coretest.ErrBoom
	body := []byte(`{"action":"opened"}`)

	rec := httptest.NewRecorder()
	NewGitHubHandler(fx.self, quietOptions()).ServeHTTP(rec, githubRequest("john", "test", "issues", body, sign("s3cret", body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 1 {
		t.Fatalf("expected exactly one resolve attempt")
	}
}

func TestRegistryFailureIsServerError(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	fx.self.Registry.Err = coretest.ErrBoom
	body := []byte(`{}`)

	rec := httptest.NewRecorder()
	NewGitHubHandler(fx.self, quietOptions()).ServeHTTP(rec, githubRequest("john", "test", "issues", body, sign("s3cret", body)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMissingEventHeader(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	body := []byte(`{}`)

	rec := httptest.NewRecorder()
	NewGitHubHandler(fx.self, quietOptions()).ServeHTTP(rec, githubRequest("john", "test", "", body, sign("s3cret", body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(fx.self.Registry.Lookups) != 0 {
		t.Fatalf("expected no project lookup")
	}
}

func TestGitLabNoteHook(t *testing.T) {
	fx := newFixture(core.GitLab, "group/app", "glpat")
	handler := NewGitLabHandler(fx.self, quietOptions())
	body := []byte(`{"user":{"username":"mary"},"object_attributes":{"id":5,"note":"hi","noteable_type":"Issue"},"issue":{"iid":2}}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gitlabRequest("group", "app", "Note Hook", body, "glpat"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	evt := fx.project.Resolved[0]
	if evt.Type != core.IssueComment || !evt.HasComment() {
		t.Fatalf("expected ISSUE_COMMENT with a comment, got %+v", evt)
	}
}

func TestGitLabPushAndToken(t *testing.T) {
	fx := newFixture(core.GitLab, "group/app", "glpat")
	handler := NewGitLabHandler(fx.self, quietOptions())
	body := []byte(`{"object_kind":"push"}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, gitlabRequest("group", "app", "Push Hook", body, "nope"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for token mismatch, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, gitlabRequest("group", "app", "Push Hook", body, "glpat"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fx.todos.PostCount() != 1 || fx.project.ResolveCount() != 0 {
		t.Fatalf("expected a single todo post")
	}
}

func TestGitLabNestedGroupRoute(t *testing.T) {
	fx := newFixture(core.GitLab, "group/sub/app", "glpat")
	mux := http.NewServeMux()
	mux.Handle("POST /gitlab/{path...}", NewGitLabHandler(fx.self, quietOptions()))

	req := httptest.NewRequest(http.MethodPost, "/gitlab/group/sub/app", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Gitlab-Event", "Pipeline Hook")
	req.Header.Set("X-Gitlab-Token", "glpat")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 1 {
		t.Fatalf("expected nested group project to resolve")
	}
}

func TestRequestIDHeader(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	handler := NewGitHubHandler(fx.self, quietOptions())
	body := []byte(`{"action":"opened"}`)

	req := githubRequest("john", "test", "issues", body, sign("s3cret", body))
	req.Header.Set("X-GitHub-Delivery", "delivery-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-Id") != "delivery-1" {
		t.Fatalf("expected delivery id as request id, got %q", rec.Header().Get("X-Request-Id"))
	}
	if fx.project.Resolved[0].RequestID != "delivery-1" {
		t.Fatalf("expected request id on the event")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, githubRequest("john", "test", "issues", body, sign("s3cret", body)))
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a generated request id")
	}
}

func TestMaxBody(t *testing.T) {
	fx := newFixture(core.GitHub, "john/test", "s3cret")
	opts := quietOptions()
	opts.MaxBody = 8
	body := []byte(`{"action":"opened","padding":"xxxxxxxx"}`)

	rec := httptest.NewRecorder()
	NewGitHubHandler(fx.self, opts).ServeHTTP(rec, githubRequest("john", "test", "issues", body, sign("s3cret", body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
	if fx.project.ResolveCount() != 0 {
		t.Fatalf("expected no resolve for oversized body")
	}
}
