package internal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// stubPublisher records what watermill would have sent.
type stubPublisher struct {
	published    int
	lastTopic    string
	lastMetadata message.Metadata
	closed       bool
	err          error
}

func (s *stubPublisher) Publish(topic string, msgs ...*message.Message) error {
	if s.err != nil {
		return s.err
	}
	s.published += len(msgs)
	s.lastTopic = topic
	if len(msgs) > 0 {
		s.lastMetadata = msgs[0].Metadata
	}
	return nil
}

func (s *stubPublisher) Close() error {
	s.closed = true
	return nil
}

// withDriver registers a stub-backed driver for the duration of the test.
func withDriver(t *testing.T, name string, stub *stubPublisher) {
	t.Helper()
	orig, had := driverBuilders[name]
	t.Cleanup(func() {
		if had {
			driverBuilders[name] = orig
		} else {
			delete(driverBuilders, name)
		}
	})
	RegisterDriver(name, func(cfg WatermillConfig, logger watermill.LoggerAdapter) (Publisher, error) {
		return NewWatermillPublisher(stub, nil), nil
	})
}

func TestRegisterDriver(t *testing.T) {
	stub := &stubPublisher{}
	withDriver(t, "custom", stub)

	pub, err := NewPublisher(WatermillConfig{Driver: "Custom"})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "custom.topic", Event{Provider: "github", Name: "NEW_ISSUE"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stub.published != 1 || stub.lastTopic != "custom.topic" {
		t.Fatalf("expected publish to custom.topic once, got %d to %q", stub.published, stub.lastTopic)
	}
	if stub.lastMetadata.Get(MetaEvent) != "NEW_ISSUE" || stub.lastMetadata.Get(MetaTopic) != "custom.topic" {
		t.Fatalf("unexpected metadata %v", stub.lastMetadata)
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !stub.closed {
		t.Fatalf("expected driver to be closed")
	}
}

func TestRegisterDriverIgnoresBlank(t *testing.T) {
	before := len(driverBuilders)
	RegisterDriver("  ", func(WatermillConfig, watermill.LoggerAdapter) (Publisher, error) { return nil, nil })
	RegisterDriver("nil-builder", nil)
	if len(driverBuilders) != before {
		t.Fatalf("expected blank registrations to be ignored")
	}
}

func TestFanoutToConfiguredDrivers(t *testing.T) {
	a := &stubPublisher{}
	b := &stubPublisher{}
	withDriver(t, "multi-a", a)
	withDriver(t, "multi-b", b)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"multi-a", "MULTI-B", "multi-a"}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "github"}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Fatalf("expected one publish per driver, got a=%d b=%d", a.published, b.published)
	}

	if err := pub.PublishForDrivers(context.Background(), "multi.topic", Event{Provider: "github"}, []string{"Multi-B"}); err != nil {
		t.Fatalf("publish to b: %v", err)
	}
	if a.published != 1 || b.published != 2 {
		t.Fatalf("expected only b to receive the rule publish, got a=%d b=%d", a.published, b.published)
	}
}

func TestFanoutUnknownAndFailingDrivers(t *testing.T) {
	ok := &stubPublisher{}
	failing := &stubPublisher{err: errors.New("broker down")}
	withDriver(t, "known", ok)
	withDriver(t, "failing", failing)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"known", "failing"}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	err = pub.PublishForDrivers(context.Background(), "topic", Event{Provider: "gitlab"}, []string{"known", "failing", "missing"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if !strings.Contains(err.Error(), "unknown driver missing") || !strings.Contains(err.Error(), "failing: broker down") {
		t.Fatalf("unexpected error %v", err)
	}
	if ok.published != 1 {
		t.Fatalf("expected known driver to still publish, got %d", ok.published)
	}
}

func TestNewPublisherSkipsBrokenDrivers(t *testing.T) {
	stub := &stubPublisher{}
	withDriver(t, "working", stub)

	pub, err := NewPublisher(WatermillConfig{Drivers: []string{"kafka", "working"}})
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := pub.Publish(context.Background(), "t", Event{}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if stub.published != 1 {
		t.Fatalf("expected working driver to publish")
	}
}

func TestNewPublisherNoDrivers(t *testing.T) {
	if _, err := NewPublisher(WatermillConfig{Driver: "does-not-exist"}); err == nil {
		t.Fatalf("expected error when no driver can be built")
	}
}

func TestConfiguredDrivers(t *testing.T) {
	cases := []struct {
		name string
		cfg  WatermillConfig
		want string
	}{
		{"default", WatermillConfig{}, "gochannel"},
		{"single", WatermillConfig{Driver: "Kafka"}, "kafka"},
		{"list wins", WatermillConfig{Driver: "kafka", Drivers: []string{"nats", "http"}}, "nats,http"},
		{"dedupe", WatermillConfig{Drivers: []string{" sql ", "SQL", "", "amqp"}}, "sql,amqp"},
	}
	for _, tc := range cases {
		if got := strings.Join(configuredDrivers(tc.cfg), ","); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBuildWithRetry(t *testing.T) {
	var slept []time.Duration
	sleep := func(d time.Duration) { slept = append(slept, d) }

	calls := 0
	pub, err := buildWithRetry(PublishRetryConfig{Attempts: 3, DelayMS: 5}, sleep, func() (Publisher, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("not yet")
		}
		return NewWatermillPublisher(&stubPublisher{}, nil), nil
	})
	if err != nil || pub == nil {
		t.Fatalf("expected third attempt to succeed, got %v", err)
	}
	if calls != 3 || len(slept) != 2 || slept[0] != 5*time.Millisecond {
		t.Fatalf("unexpected retries: calls=%d slept=%v", calls, slept)
	}

	calls = 0
	_, err = buildWithRetry(PublishRetryConfig{}, sleep, func() (Publisher, error) {
		calls++
		return nil, errors.New("down")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected a single failed attempt, got calls=%d err=%v", calls, err)
	}
}
