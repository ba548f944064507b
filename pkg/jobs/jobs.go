// Package jobs implements the periodic reconciliation sweeps over managers,
// projects and contracts.
package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"selfpm/internal"
	"selfpm/pkg/core"
	"selfpm/pkg/event"
)

// Job names.
const (
	AcceptInvitationsJob     = "accept_invitations"
	PayInvoicesJob           = "pay_invoices"
	ReviewContractsJob       = "review_contracts"
	ReviewUnassignedTasksJob = "review_unassigned_tasks"
)

const (
	// MinPayout is the smallest invoice total, in minor units, that is paid.
	MinPayout int64 = 108 * 100
	// RemovalGraceDays is how many whole days a contract stays marked for
	// removal before it is removed.
	RemovalGraceDays = 30
)

// Clock returns the current time.
type Clock func() time.Time

// Job is a named sweep.
type Job struct {
	Name string
	Run  func(ctx context.Context) Report
}

// Jobs runs sweeps against the platform core.
type Jobs struct {
	self   core.Self
	logger *log.Logger
	now    Clock
}

// Option customizes Jobs.
type Option func(*Jobs)

// WithClock replaces time.Now.
func WithClock(now Clock) Option {
	return func(j *Jobs) {
		j.now = now
	}
}

// New returns the sweeps over self. A nil logger logs to log.Default().
func New(self core.Self, logger *log.Logger, opts ...Option) *Jobs {
	if logger == nil {
		logger = log.Default()
	}
	j := &Jobs{self: self, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// All returns every sweep keyed by its job name.
func (j *Jobs) All() []Job {
	return []Job{
		{Name: AcceptInvitationsJob, Run: j.AcceptInvitations},
		{Name: PayInvoicesJob, Run: j.PayInvoices},
		{Name: ReviewContractsJob, Run: j.ReviewContractsMarkedForRemoval},
		{Name: ReviewUnassignedTasksJob, Run: j.ReviewUnassignedTasks},
	}
}

// AcceptInvitations accepts every pending invitation of every manager.
func (j *Jobs) AcceptInvitations(ctx context.Context) Report {
	report := Report{Job: AcceptInvitationsJob}
	managers := j.managers(ctx, &report)
	for _, manager := range managers {
		j.logger.Printf("%s: checking invitations of %s", report.Job, manager.Username())
		invitations, err := manager.Provider().Invitations(ctx)
		if err != nil {
			report.fail(managerLabel(manager.Username()), err)
			continue
		}
		each(&report, invitations, invitationLabel(manager), func(inv core.Invitation) error {
			return inv.Accept(ctx)
		})
	}
	return j.finish(report)
}

// PayInvoices makes at most one payment attempt per contract: the first
// unpaid invoice reaching MinPayout.
func (j *Jobs) PayInvoices(ctx context.Context) Report {
	report := Report{Job: PayInvoicesJob}
	for _, project := range j.projects(ctx, &report) {
		wallet := project.Wallet()
		contracts, ok := j.contracts(ctx, &report, project)
		if !ok {
			continue
		}
		each(&report, contracts, contractLabel, func(contract core.Contract) error {
			invoices, err := contract.Invoices(ctx)
			if err != nil {
				return fmt.Errorf("list invoices: %w", err)
			}
			invoice, ok := payable(invoices)
			if !ok {
				return nil
			}
			j.logger.Printf("%s: %s is trying to pay invoice #%s for contract %s", report.Job, managerName(project), invoice.ID, contract.ID())
			if wallet == nil {
				return fmt.Errorf("invoice #%s: project has no wallet", invoice.ID)
			}
			payment, err := wallet.Pay(ctx, invoice)
			if err != nil {
				return fmt.Errorf("pay invoice #%s: %w", invoice.ID, err)
			}
			j.logger.Printf("%s: payment of invoice #%s finished with status %s (%s)", report.Job, invoice.ID, payment.Status, payment.FailReason)
			return nil
		})
	}
	return j.finish(report)
}

func payable(invoices []core.Invoice) (core.Invoice, bool) {
	for _, invoice := range invoices {
		if !invoice.Paid && invoice.TotalAmount >= MinPayout {
			return invoice, true
		}
	}
	return core.Invoice{}, false
}

// ReviewContractsMarkedForRemoval removes contracts marked for removal more
// than RemovalGraceDays whole days ago.
func (j *Jobs) ReviewContractsMarkedForRemoval(ctx context.Context) Report {
	report := Report{Job: ReviewContractsJob}
	now := j.now()
	for _, project := range j.projects(ctx, &report) {
		contracts, ok := j.contracts(ctx, &report, project)
		if !ok {
			continue
		}
		expired := make([]core.Contract, 0, len(contracts))
		for _, contract := range contracts {
			if ExpiredMark(contract.MarkedForRemoval(), now) {
				expired = append(expired, contract)
			}
		}
		each(&report, expired, contractLabel, func(contract core.Contract) error {
			j.logger.Printf("%s: removing contract %s marked on %s", report.Job, contract.ID(), contract.MarkedForRemoval().Format(time.RFC3339))
			return contract.Remove(ctx)
		})
	}
	return j.finish(report)
}

// ExpiredMark reports whether marked lies more than RemovalGraceDays whole
// days before now. A nil mark never expires.
func ExpiredMark(marked *time.Time, now time.Time) bool {
	if marked == nil {
		return false
	}
	days := int(now.Sub(*marked) / (24 * time.Hour))
	return days > RemovalGraceDays
}

// ReviewUnassignedTasks hands every project an UNASSIGNED_TASKS event.
func (j *Jobs) ReviewUnassignedTasks(ctx context.Context) Report {
	report := Report{Job: ReviewUnassignedTasksJob}
	each(&report, j.projects(ctx, &report), projectLabel, func(project core.Project) error {
		j.logger.Printf("%s: reviewing unassigned tasks of %s", report.Job, project.RepoFullName())
		return project.Resolve(ctx, event.Synthetic(project, core.UnassignedTasks))
	})
	return j.finish(report)
}

func (j *Jobs) managers(ctx context.Context, report *Report) []core.ProjectManager {
	managers, err := j.self.ProjectManagers(ctx)
	if err != nil {
		report.fail("project managers", err)
		return nil
	}
	return managers
}

// projects flattens the projects of every manager. A manager whose projects
// cannot be listed is recorded and skipped.
func (j *Jobs) projects(ctx context.Context, report *Report) []core.Project {
	var out []core.Project
	for _, manager := range j.managers(ctx, report) {
		j.logger.Printf("%s: checking projects of %s", report.Job, manager.Username())
		projects, err := manager.Projects(ctx)
		if err != nil {
			report.fail(managerLabel(manager.Username()), err)
			continue
		}
		out = append(out, projects...)
	}
	return out
}

func (j *Jobs) contracts(ctx context.Context, report *Report, project core.Project) ([]core.Contract, bool) {
	contracts, err := project.Contracts(ctx)
	if err != nil {
		report.fail(projectLabel(project), fmt.Errorf("list contracts: %w", err))
		return nil, false
	}
	return contracts, true
}

func (j *Jobs) finish(report Report) Report {
	for _, failure := range report.Failures {
		j.logger.Printf("%s: %s failed: %v", report.Job, failure.Item, failure.Err)
	}
	internal.RecordJobRun(report.Job, len(report.Failures))
	j.logger.Printf("%s: done processed=%d failed=%d", report.Job, report.Processed, len(report.Failures))
	return report
}

func invitationLabel(manager core.ProjectManager) func(core.Invitation) string {
	return func(inv core.Invitation) string {
		return fmt.Sprintf("manager %s invitation %s (%s)", manager.Username(), inv.ID(), inv.Repo())
	}
}

func projectLabel(project core.Project) string {
	return fmt.Sprintf("project %s/%s", project.ProviderName(), project.RepoFullName())
}

func contractLabel(contract core.Contract) string {
	return fmt.Sprintf("contract %s", contract.ID())
}

func managerName(project core.Project) string {
	if manager := project.ProjectManager(); manager != nil {
		return manager.Username()
	}
	return "manager"
}
