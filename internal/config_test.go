package internal

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Providers.GitHub.Path != "/github" || cfg.Providers.GitLab.Path != "/gitlab" {
		t.Fatalf("unexpected provider paths %q %q", cfg.Providers.GitHub.Path, cfg.Providers.GitLab.Path)
	}
	if cfg.Server.RateLimitIdle != 10*60*1000 || cfg.Server.TrustProxy {
		t.Fatalf("unexpected rate limit defaults idle=%d trust=%v", cfg.Server.RateLimitIdle, cfg.Server.TrustProxy)
	}
	if cfg.Watermill.Driver != "gochannel" {
		t.Fatalf("expected default watermill driver, got %q", cfg.Watermill.Driver)
	}
	if cfg.Events.Topic != "selfpm.events" || cfg.Events.TodosTopic != "selfpm.todos" {
		t.Fatalf("unexpected topics %+v", cfg.Events)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.DSN != "selfpm.db" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Scheduler.Backend != "cron" || !cfg.Scheduler.IsEnabled() {
		t.Fatalf("unexpected scheduler defaults %+v", cfg.Scheduler)
	}
}

func TestLoadConfigJobDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	jobs := cfg.Scheduler.Jobs
	if jobs.AcceptInvitations.EveryMS != 600000 || jobs.AcceptInvitations.InitialDelayMS != 0 {
		t.Fatalf("unexpected accept invitations schedule %+v", jobs.AcceptInvitations)
	}
	if jobs.ReviewUnassignedTasks.EveryMS != 600000 {
		t.Fatalf("unexpected unassigned tasks schedule %+v", jobs.ReviewUnassignedTasks)
	}
	if jobs.ReviewContracts.EveryMS != 86400000 || jobs.ReviewContracts.InitialDelayMS != 900000 {
		t.Fatalf("unexpected review contracts schedule %+v", jobs.ReviewContracts)
	}
	if jobs.PayInvoices.Cron != "0 0 * * MON" {
		t.Fatalf("unexpected pay invoices schedule %+v", jobs.PayInvoices)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("SELFPM_CORE_TOKEN", "tok-123")
	content := "core:\n  base_url: https://core.example\n  token: ${SELFPM_CORE_TOKEN}\nscheduler:\n  jobs:\n    pay_invoices:\n      enabled: false\n"
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Core.Token != "tok-123" {
		t.Fatalf("expected expanded token, got %q", cfg.Core.Token)
	}
	if cfg.Scheduler.Jobs.PayInvoices.IsEnabled() {
		t.Fatalf("expected pay invoices to be disabled")
	}
}

func TestLoadConfigRiverRequiresDSN(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "scheduler:\n  backend: river\n")); err == nil {
		t.Fatalf("expected error for missing river dsn")
	}
	if _, err := LoadConfig(writeConfig(t, "scheduler:\n  backend: quartz\n")); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestLoadConfigInvalidRule(t *testing.T) {
	content := "rules:\n  - when: event == \"NEW_ISSUE\"\n"
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Fatalf("expected error for missing emit")
	}
}

func TestLoadConfigTrimsFields(t *testing.T) {
	content := "rules:\n  - when: \"  event == \\\"NEW_ISSUE\\\"  \"\n    emit: \"  issues.new  \"\n  - when: provider == \"gitlab\"\n    emit: [\" a \", b]\n    drivers: [\" amqp \", \"\"]\n"
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load rules config: %v", err)
	}
	if cfg.Rules[0].When != "event == \"NEW_ISSUE\"" {
		t.Fatalf("expected trimmed when, got %q", cfg.Rules[0].When)
	}
	if len(cfg.Rules[0].Emit) != 1 || cfg.Rules[0].Emit[0] != "issues.new" {
		t.Fatalf("expected trimmed emit, got %q", cfg.Rules[0].Emit)
	}
	if len(cfg.Rules[1].Emit) != 2 || cfg.Rules[1].Emit[0] != "a" {
		t.Fatalf("expected emit list, got %q", cfg.Rules[1].Emit)
	}
	if len(cfg.Rules[1].Drivers) != 1 || cfg.Rules[1].Drivers[0] != "amqp" {
		t.Fatalf("expected trimmed drivers, got %q", cfg.Rules[1].Drivers)
	}
}
