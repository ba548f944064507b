package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher publishes event envelopes to one or more message bus drivers.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
	// PublishForDrivers publishes to the named drivers only. No names
	// means every configured driver.
	PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error
	Close() error
}

// NewPublisher builds every configured driver and fans envelopes out to
// them. A driver that fails to build after publish_retry attempts is logged
// and skipped; it is an error only when no driver is left.
func NewPublisher(cfg WatermillConfig) (Publisher, error) {
	logger := watermill.NewStdLogger(false, false)

	out := &fanout{publishers: make(map[string]Publisher)}
	for _, name := range configuredDrivers(cfg) {
		pub, err := buildWithRetry(cfg.PublishRetry, time.Sleep, func() (Publisher, error) {
			return buildDriver(name, cfg, logger)
		})
		if err != nil {
			logger.Error("publisher init failed, skipping driver", err, watermill.LogFields{"driver": name})
			continue
		}
		out.publishers[name] = pub
		out.order = append(out.order, name)
	}
	if len(out.order) == 0 {
		return nil, errors.New("no publishers available")
	}
	return out, nil
}

// configuredDrivers lists the lowercased driver names in config order,
// without duplicates. The single driver key is the fallback and gochannel
// the default.
func configuredDrivers(cfg WatermillConfig) []string {
	names := cfg.Drivers
	if len(names) == 0 && cfg.Driver != "" {
		names = []string{cfg.Driver}
	}
	if len(names) == 0 {
		return []string{"gochannel"}
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

func buildWithRetry(cfg PublishRetryConfig, sleep func(time.Duration), build func() (Publisher, error)) (Publisher, error) {
	attempts := max(cfg.Attempts, 1)
	delay := time.Duration(cfg.DelayMS) * time.Millisecond

	var err error
	for i := 0; i < attempts; i++ {
		var pub Publisher
		if pub, err = build(); err == nil {
			return pub, nil
		}
		if i < attempts-1 && delay > 0 {
			sleep(delay)
		}
	}
	return nil, err
}

// watermillPublisher adapts a watermill publisher to Publisher.
type watermillPublisher struct {
	publisher message.Publisher
	closeFn   func() error
}

// NewWatermillPublisher wraps pub; closeFn, when set, runs after pub is
// closed.
func NewWatermillPublisher(pub message.Publisher, closeFn func() error) Publisher {
	return &watermillPublisher{publisher: pub, closeFn: closeFn}
}

func (w *watermillPublisher) Publish(ctx context.Context, topic string, event Event) error {
	msg, err := encodeEnvelope(event, topic)
	if err != nil {
		return err
	}
	msg.SetContext(ctx)
	return w.publisher.Publish(topic, msg)
}

func (w *watermillPublisher) PublishForDrivers(ctx context.Context, topic string, event Event, _ []string) error {
	return w.Publish(ctx, topic, event)
}

func (w *watermillPublisher) Close() error {
	err := w.publisher.Close()
	if w.closeFn != nil {
		err = errors.Join(err, w.closeFn())
	}
	return err
}

// fanout publishes to several drivers and joins their errors.
type fanout struct {
	publishers map[string]Publisher
	order      []string
}

func (f *fanout) Publish(ctx context.Context, topic string, event Event) error {
	return f.PublishForDrivers(ctx, topic, event, nil)
}

func (f *fanout) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	targets := f.order
	if len(drivers) > 0 {
		targets = drivers
	}

	var errs []error
	for _, name := range targets {
		name = strings.ToLower(name)
		pub, ok := f.publishers[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown driver %s", name))
			continue
		}
		if err := pub.Publish(ctx, topic, event); err != nil {
			IncPublishError(name)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) Close() error {
	var errs []error
	for _, name := range f.order {
		errs = append(errs, f.publishers[name].Close())
	}
	return errors.Join(errs...)
}
