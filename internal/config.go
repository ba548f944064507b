package internal

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the main application configuration.
type AppConfig struct {
	// Server holds server-specific configuration.
	Server struct {
		Port           int    `yaml:"port"`
		ReadTimeoutMS  int64  `yaml:"read_timeout_ms"`
		WriteTimeoutMS int64  `yaml:"write_timeout_ms"`
		IdleTimeoutMS  int64  `yaml:"idle_timeout_ms"`
		ReadHeaderMS   int64  `yaml:"read_header_timeout_ms"`
		MaxBodyBytes   int64  `yaml:"max_body_bytes"`
		RateLimitRPS   int64  `yaml:"rate_limit_rps"`
		RateLimitBurst int64  `yaml:"rate_limit_burst"`
		RateLimitIdle  int64  `yaml:"rate_limit_idle_ms"`
		TrustProxy     bool   `yaml:"trust_proxy_headers"`
		MetricsEnabled bool   `yaml:"metrics_enabled"`
		MetricsPath    string `yaml:"metrics_path"`
		DebugEvents    bool   `yaml:"debug_events"`
	} `yaml:"server"`
	// Providers contains configuration for each Git provider.
	Providers struct {
		GitHub ProviderConfig `yaml:"github"`
		GitLab ProviderConfig `yaml:"gitlab"`
	} `yaml:"providers"`
	// Storage is the database holding managers and projects.
	Storage StorageConfig `yaml:"storage"`
	// Core is the platform HTTP API serving contracts, invoices and payments.
	Core CoreConfig `yaml:"core"`
	// Events names the topics resolved events and push payloads go to.
	Events EventsConfig `yaml:"events"`
	// Watermill holds configuration for the message publishers.
	Watermill WatermillConfig `yaml:"watermill"`
	// Scheduler configures the periodic jobs.
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// Config represents the application configuration including rules.
type Config struct {
	AppConfig   `yaml:",inline"`
	Rules       []Rule `yaml:"rules"`
	RulesStrict bool   `yaml:"rules_strict"`
}

// ProviderConfig represents the configuration for a single Git provider.
type ProviderConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path is the webhook route prefix; requests go to <path>/{owner}/{name}.
	Path string `yaml:"path"`
	// BaseURL overrides the provider API endpoint for self-hosted instances.
	BaseURL string `yaml:"base_url"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	Dialect     string `yaml:"dialect"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type CoreConfig struct {
	BaseURL   string `yaml:"base_url"`
	Token     string `yaml:"token"`
	TimeoutMS int64  `yaml:"timeout_ms"`
	// Retries bounds retried reads. Writes are never retried.
	Retries int `yaml:"retries"`
}

type EventsConfig struct {
	Topic      string `yaml:"topic"`
	TodosTopic string `yaml:"todos_topic"`
}

// WatermillConfig holds the configuration for Watermill, which handles messaging.
type WatermillConfig struct {
	Driver       string             `yaml:"driver"`
	Drivers      []string           `yaml:"drivers"`
	GoChannel    GoChannelConfig    `yaml:"gochannel"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	NATS         NATSConfig         `yaml:"nats"`
	AMQP         AMQPConfig         `yaml:"amqp"`
	SQL          SQLConfig          `yaml:"sql"`
	HTTP         HTTPConfig         `yaml:"http"`
	RiverQueue   RiverQueueConfig   `yaml:"riverqueue"`
	PublishRetry PublishRetryConfig `yaml:"publish_retry"`
}

// GoChannelConfig holds configuration for the GoChannel pub/sub.
type GoChannelConfig struct {
	OutputChannelBuffer            int64 `yaml:"output_buffer"`
	Persistent                     bool  `yaml:"persistent"`
	BlockPublishUntilSubscriberAck bool  `yaml:"block_publish_until_subscriber_ack"`
}

// KafkaConfig holds configuration for the Kafka pub/sub.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// NATSConfig holds configuration for the NATS streaming publisher.
type NATSConfig struct {
	ClusterID string `yaml:"cluster_id"`
	ClientID  string `yaml:"client_id"`
	URL       string `yaml:"url"`
}

// AMQPConfig holds configuration for the AMQP pub/sub.
type AMQPConfig struct {
	URL  string `yaml:"url"`
	Mode string `yaml:"mode"`
}

// SQLConfig holds configuration for the SQL pub/sub.
type SQLConfig struct {
	Driver               string `yaml:"driver"`
	DSN                  string `yaml:"dsn"`
	Dialect              string `yaml:"dialect"`
	AutoInitializeSchema bool   `yaml:"auto_initialize_schema"`
}

// HTTPConfig holds configuration for the HTTP publisher.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	Mode    string `yaml:"mode"`
}

// RiverQueueConfig holds configuration for the RiverQueue publisher.
type RiverQueueConfig struct {
	Driver      string   `yaml:"driver"`
	DSN         string   `yaml:"dsn"`
	Table       string   `yaml:"table"`
	Queue       string   `yaml:"queue"`
	Kind        string   `yaml:"kind"`
	MaxAttempts int      `yaml:"max_attempts"`
	Priority    int      `yaml:"priority"`
	Tags        []string `yaml:"tags"`
}

type PublishRetryConfig struct {
	Attempts int `yaml:"attempts"`
	DelayMS  int `yaml:"delay_ms"`
}

// SchedulerConfig selects the scheduler backend and the job schedules.
type SchedulerConfig struct {
	Enabled *bool `yaml:"enabled"`
	// Backend is "cron" (in-process) or "river" (Postgres periodic jobs).
	Backend string            `yaml:"backend"`
	River   RiverSchedulerCfg `yaml:"river"`
	Jobs    struct {
		AcceptInvitations     JobConfig `yaml:"accept_invitations"`
		PayInvoices           JobConfig `yaml:"pay_invoices"`
		ReviewContracts       JobConfig `yaml:"review_contracts"`
		ReviewUnassignedTasks JobConfig `yaml:"review_unassigned_tasks"`
	} `yaml:"jobs"`
}

type RiverSchedulerCfg struct {
	DSN   string `yaml:"dsn"`
	Queue string `yaml:"queue"`
	// Migrate runs the River schema migrations at startup.
	Migrate bool `yaml:"migrate"`
}

// JobConfig is either a fixed interval (with an optional first-run delay)
// or a standard five-field cron expression.
type JobConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	EveryMS        int64  `yaml:"every_ms"`
	InitialDelayMS int64  `yaml:"initial_delay_ms"`
	Cron           string `yaml:"cron"`
}

// IsEnabled defaults to true when unset.
func (j JobConfig) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// IsEnabled defaults to true when unset.
func (s SchedulerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoadConfig loads the full application configuration, including rules, from a YAML file.
// It expands environment variables, applies defaults, and normalizes rules.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg.AppConfig)
	if err := validate(&cfg.AppConfig); err != nil {
		return cfg, err
	}
	normalized, err := normalizeRules(cfg.Rules)
	if err != nil {
		return cfg, err
	}
	cfg.Rules = normalized
	return cfg, nil
}

// RulesConfig represents the rule-specific parts of the configuration.
type RulesConfig struct {
	Rules  []Rule `yaml:"rules"`
	Strict bool   `yaml:"rules_strict"`
	Logger *log.Logger
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 5000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 10000
	}
	if cfg.Server.IdleTimeoutMS == 0 {
		cfg.Server.IdleTimeoutMS = 60000
	}
	if cfg.Server.ReadHeaderMS == 0 {
		cfg.Server.ReadHeaderMS = 5000
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.Server.RateLimitIdle == 0 {
		cfg.Server.RateLimitIdle = 10 * 60 * 1000
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Providers.GitHub.Path == "" {
		cfg.Providers.GitHub.Path = "/github"
	}
	if cfg.Providers.GitLab.Path == "" {
		cfg.Providers.GitLab.Path = "/gitlab"
	}
	cfg.Providers.GitHub.Path = strings.TrimRight(cfg.Providers.GitHub.Path, "/")
	cfg.Providers.GitLab.Path = strings.TrimRight(cfg.Providers.GitLab.Path, "/")
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "selfpm.db"
	}
	if cfg.Core.TimeoutMS == 0 {
		cfg.Core.TimeoutMS = 10000
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = "selfpm.events"
	}
	if cfg.Events.TodosTopic == "" {
		cfg.Events.TodosTopic = "selfpm.todos"
	}
	if cfg.Watermill.Driver == "" {
		cfg.Watermill.Driver = "gochannel"
	}
	if cfg.Watermill.GoChannel.OutputChannelBuffer == 0 {
		cfg.Watermill.GoChannel.OutputChannelBuffer = 64
	}
	if cfg.Watermill.HTTP.Mode == "" {
		cfg.Watermill.HTTP.Mode = "topic_url"
	}
	if cfg.Watermill.RiverQueue.Table == "" {
		cfg.Watermill.RiverQueue.Table = "river_job"
	}
	if cfg.Watermill.RiverQueue.Queue == "" {
		cfg.Watermill.RiverQueue.Queue = "default"
	}
	if cfg.Watermill.RiverQueue.Kind == "" {
		cfg.Watermill.RiverQueue.Kind = "selfpm.event"
	}
	if cfg.Watermill.RiverQueue.MaxAttempts == 0 {
		cfg.Watermill.RiverQueue.MaxAttempts = 25
	}
	if cfg.Watermill.PublishRetry.Attempts == 0 {
		cfg.Watermill.PublishRetry.Attempts = 3
	}
	if cfg.Watermill.PublishRetry.DelayMS == 0 {
		cfg.Watermill.PublishRetry.DelayMS = 500
	}

	s := &cfg.Scheduler
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "cron"
	}
	if s.River.Queue == "" {
		s.River.Queue = "selfpm_jobs"
	}
	jobDefaults(&s.Jobs.AcceptInvitations, 10*60*1000, 0)
	jobDefaults(&s.Jobs.ReviewUnassignedTasks, 10*60*1000, 0)
	jobDefaults(&s.Jobs.ReviewContracts, 24*60*60*1000, 15*60*1000)
	if s.Jobs.PayInvoices.Cron == "" && s.Jobs.PayInvoices.EveryMS == 0 {
		s.Jobs.PayInvoices.Cron = "0 0 * * MON"
	}
}

func jobDefaults(job *JobConfig, everyMS, delayMS int64) {
	if job.Cron != "" || job.EveryMS != 0 {
		return
	}
	job.EveryMS = everyMS
	if job.InitialDelayMS == 0 {
		job.InitialDelayMS = delayMS
	}
}

func validate(cfg *AppConfig) error {
	switch cfg.Scheduler.Backend {
	case "cron", "river":
	default:
		return fmt.Errorf("unsupported scheduler backend: %s", cfg.Scheduler.Backend)
	}
	if cfg.Scheduler.Backend == "river" && cfg.Scheduler.IsEnabled() && cfg.Scheduler.River.DSN == "" {
		return fmt.Errorf("scheduler.river.dsn is required for the river backend")
	}
	return nil
}

func normalizeRules(rules []Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for i := range rules {
		rule := rules[i]
		rule.When = strings.TrimSpace(rule.When)
		emit := make(EmitList, 0, len(rule.Emit))
		for _, topic := range rule.Emit {
			if trimmed := strings.TrimSpace(topic); trimmed != "" {
				emit = append(emit, trimmed)
			}
		}
		rule.Emit = emit
		if rule.When == "" || len(rule.Emit) == 0 {
			return nil, fmt.Errorf("rule %d is missing when or emit", i)
		}
		if len(rule.Drivers) > 0 {
			drivers := make([]string, 0, len(rule.Drivers))
			for _, driver := range rule.Drivers {
				trimmed := strings.TrimSpace(driver)
				if trimmed != "" {
					drivers = append(drivers, trimmed)
				}
			}
			rule.Drivers = drivers
		}
		out = append(out, rule)
	}
	return out, nil
}
