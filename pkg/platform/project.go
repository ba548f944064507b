package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"selfpm/internal"
	"selfpm/pkg/core"
	"selfpm/pkg/storage"
)

var errNoBilling = errors.New("billing api is not configured")

type project struct {
	platform *Platform
	record   storage.ProjectRecord
	manager  core.ProjectManager
}

func (p *project) RepoFullName() string { return p.record.FullName }
func (p *project) ProviderName() string { return p.record.Provider }
func (p *project) WebHookToken() string { return p.record.WebhookToken }

func (p *project) ProjectManager() core.ProjectManager { return p.manager }

func (p *project) Wallet() core.Wallet {
	if p.platform.billing == nil {
		return nil
	}
	return p.platform.billing.Wallet(p.record.Provider, p.record.FullName)
}

func (p *project) Contracts(ctx context.Context) ([]core.Contract, error) {
	if p.platform.billing == nil {
		return nil, errNoBilling
	}
	return p.platform.billing.Contracts(ctx, p.record.Provider, p.record.FullName)
}

// Resolve publishes the event envelope to the events topic and to every
// topic selected by the routing rules. Issue and comment summaries are
// loaded first so a provider failure fails the delivery.
func (p *project) Resolve(ctx context.Context, evt *core.Event) error {
	envelope, err := p.envelope(ctx, evt)
	if err != nil {
		return err
	}
	platform := p.platform
	logger := internal.WithRequestID(platform.logger, evt.RequestID)

	err = platform.publisher.Publish(ctx, platform.events.Topic, envelope)
	if err != nil {
		err = fmt.Errorf("publish %s: %w", platform.events.Topic, err)
	}
	for _, match := range platform.rules.EvaluateWithLogger(envelope, logger) {
		if publishErr := platform.publisher.PublishForDrivers(ctx, match.Topic, envelope, match.Drivers); publishErr != nil {
			err = errors.Join(err, fmt.Errorf("publish %s: %w", match.Topic, publishErr))
		}
	}
	if err != nil {
		return err
	}
	logger.Printf("event %s for %s/%s published", envelope.Name, envelope.Provider, envelope.Project)
	return nil
}

func (p *project) envelope(ctx context.Context, evt *core.Event) (internal.Event, error) {
	envelope := internal.Event{
		Provider:  p.record.Provider,
		Name:      evt.Type,
		RawType:   evt.RawType,
		Project:   p.record.FullName,
		RequestID: evt.RequestID,
		Payload:   jsonOrNil(evt.Payload),
		Data:      internal.FlattenPayload(evt.Payload),
	}
	if evt.HasIssue() {
		issue, err := evt.Issue(ctx)
		if err != nil {
			return envelope, fmt.Errorf("load issue: %w", err)
		}
		envelope.Issue = &internal.IssueSummary{ID: issue.ID(), Author: issue.Author()}
	}
	if evt.HasComment() {
		comment, err := evt.Comment(ctx)
		if err != nil {
			return envelope, fmt.Errorf("load comment: %w", err)
		}
		envelope.Comment = &internal.CommentSummary{ID: comment.ID, Body: comment.Body, Author: comment.Author}
	}
	return envelope, nil
}

func jsonOrNil(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		return nil
	}
	return json.RawMessage(payload)
}
