package webhook

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"selfpm/internal"
	"selfpm/pkg/core"
	"selfpm/pkg/event"
	"selfpm/pkg/projects"
)

const maxDebugPayload = 4096

// Options configures a webhook handler.
type Options struct {
	Logger *log.Logger
	// MaxBody caps the request body size. Zero disables the cap.
	MaxBody     int64
	DebugEvents bool
}

// verifier checks the request against the resolved project's secret.
type verifier func(project core.Project, r *http.Request, body []byte) bool

// dispatcher is the provider-independent part of a webhook endpoint.
type dispatcher struct {
	provider    string
	eventHeader string
	verify      verifier
	resolver    *projects.Resolver
	todos       core.Todos
	logger      *log.Logger
	maxBody     int64
	debugEvents bool
}

func newDispatcher(provider, eventHeader string, verify verifier, self core.Self, opts Options) *dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &dispatcher{
		provider:    provider,
		eventHeader: eventHeader,
		verify:      verify,
		resolver:    projects.NewResolver(self.Projects()),
		todos:       self.Todos(),
		logger:      logger,
		maxBody:     opts.MaxBody,
		debugEvents: opts.DebugEvents,
	}
}

func (d *dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if d.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, d.maxBody)
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-Id", reqID)
	logger := internal.WithRequestID(d.logger, reqID)
	internal.IncRequest(d.provider)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		logger.Printf("%s read body failed: %v", d.provider, err)
		d.respond(w, http.StatusBadRequest)
		return
	}
	rawType := r.Header.Get(d.eventHeader)
	if rawType == "" {
		logger.Printf("%s request without %s header", d.provider, d.eventHeader)
		d.respond(w, http.StatusBadRequest)
		return
	}
	if d.debugEvents {
		logDebugEvent(logger, d.provider, rawType, rawBody)
	}

	owner, name := coordinates(r)
	project, err := d.resolver.Resolve(r.Context(), owner, name, d.provider, rawBody)
	if errors.Is(err, projects.ErrNotFound) {
		logger.Printf("%s project %s/%s not found", d.provider, owner, name)
		d.respond(w, http.StatusNoContent)
		return
	}
	if err != nil {
		logger.Printf("%s project lookup %s/%s failed: %v", d.provider, owner, name, err)
		d.respond(w, http.StatusInternalServerError)
		return
	}

	if !d.verify(project, r, rawBody) {
		logger.Printf("%s signature mismatch for %s", d.provider, project.RepoFullName())
		d.respond(w, http.StatusBadRequest)
		return
	}

	if err := d.dispatch(r.Context(), project, rawType, rawBody, reqID); err != nil {
		logger.Printf("%s event %s for %s failed: %v", d.provider, rawType, project.RepoFullName(), err)
		d.respond(w, http.StatusInternalServerError)
		return
	}
	logger.Printf("%s event %s for %s handled", d.provider, rawType, project.RepoFullName())
	d.respond(w, http.StatusOK)
}

// dispatch forwards push events to the todos and resolves everything else.
func (d *dispatcher) dispatch(ctx context.Context, project core.Project, rawType string, rawBody []byte, reqID string) error {
	if event.IsPush(d.provider, rawType) {
		return d.todos.Post(ctx, project, rawBody)
	}
	evt := event.New(project, d.provider, rawType, rawBody)
	evt.RequestID = reqID
	return project.Resolve(ctx, evt)
}

func (d *dispatcher) respond(w http.ResponseWriter, status int) {
	internal.IncResponse(d.provider, status)
	w.WriteHeader(status)
}

// coordinates reads owner and name from the route. A trailing {path...}
// wildcard is split at its last slash so nested GitLab groups stay in owner.
func coordinates(r *http.Request) (string, string) {
	if path := strings.Trim(r.PathValue("path"), "/"); path != "" {
		return core.SplitFullName(path)
	}
	return r.PathValue("owner"), r.PathValue("name")
}

func requestID(r *http.Request) string {
	for _, header := range []string{"X-GitHub-Delivery", "X-Gitlab-Event-UUID", "X-Request-Id"} {
		if id := strings.TrimSpace(r.Header.Get(header)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func logDebugEvent(logger *log.Logger, provider, rawType string, body []byte) {
	payload := body
	suffix := ""
	if len(payload) > maxDebugPayload {
		payload = payload[:maxDebugPayload]
		suffix = "...(truncated)"
	}
	logger.Printf("debug event provider=%s name=%s payload=%s%s", provider, rawType, payload, suffix)
}
