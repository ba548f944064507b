package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	provider, err := New(context.Background(), server.URL, "secret-token")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func TestGetIssueByID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/john/test/issues/7", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("unexpected authorization %q", got)
		}
		_, _ = w.Write([]byte(`{"number":7,"user":{"login":"mary"}}`))
	})
	provider := newTestProvider(t, mux)

	issue, err := provider.Repo("john", "test").Issues().GetByID(context.Background(), "7")
	if err != nil {
		t.Fatalf("get issue: %v", err)
	}
	if issue.ID() != "7" || issue.Author() != "mary" || issue.RepoFullName() != "john/test" {
		t.Fatalf("unexpected issue %s %s %s", issue.ID(), issue.Author(), issue.RepoFullName())
	}
}

func TestGetPullRequestByID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/john/test/pulls/3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"number":3,"user":{"login":"amy"}}`))
	})
	provider := newTestProvider(t, mux)

	pr, err := provider.Repo("john", "test").PullRequests().GetByID(context.Background(), "3")
	if err != nil {
		t.Fatalf("get pull request: %v", err)
	}
	if pr.ID() != "3" || pr.Author() != "amy" {
		t.Fatalf("unexpected pull request %s %s", pr.ID(), pr.Author())
	}
}

func TestGetIssueErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/repos/john/test/issues/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
	})
	provider := newTestProvider(t, mux)
	issues := provider.Repo("john", "test").Issues()

	if _, err := issues.GetByID(context.Background(), "9"); err == nil {
		t.Fatalf("expected error for missing issue")
	}
	if _, err := issues.GetByID(context.Background(), "abc"); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

func TestReceivedIssueAndComment(t *testing.T) {
	provider := newTestProvider(t, http.NotFoundHandler())
	issues := provider.Repo("john", "test").Issues()

	issue, err := issues.Received(context.Background(), json.RawMessage(`{"number":12,"user":{"login":"mary"}}`))
	if err != nil {
		t.Fatalf("received issue: %v", err)
	}
	if issue.ID() != "12" || issue.Author() != "mary" {
		t.Fatalf("unexpected issue %s %s", issue.ID(), issue.Author())
	}

	comment, err := issue.Comments().Received(context.Background(), json.RawMessage(`{"id":99,"body":"@zoe estimate?","user":{"login":"bob"}}`))
	if err != nil {
		t.Fatalf("received comment: %v", err)
	}
	if comment.ID != "99" || comment.Body != "@zoe estimate?" || comment.Author != "bob" {
		t.Fatalf("unexpected comment %+v", comment)
	}

	if _, err := issues.Received(context.Background(), json.RawMessage(`{`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInvitationsListAndAccept(t *testing.T) {
	accepted := ""
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/user/repository_invitations", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":42,"repository":{"full_name":"john/test"}}]`))
	})
	mux.HandleFunc("PATCH /api/v3/user/repository_invitations/{id}", func(w http.ResponseWriter, r *http.Request) {
		accepted = r.PathValue("id")
		w.WriteHeader(http.StatusNoContent)
	})
	provider := newTestProvider(t, mux)

	invitations, err := provider.Invitations(context.Background())
	if err != nil {
		t.Fatalf("invitations: %v", err)
	}
	if len(invitations) != 1 || invitations[0].ID() != "42" || invitations[0].Repo() != "john/test" {
		t.Fatalf("unexpected invitations %+v", invitations)
	}
	if err := invitations[0].Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted != "42" {
		t.Fatalf("expected invitation 42 accepted, got %q", accepted)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error without token")
	}
}
