package internal

import (
	"expvar"
	"net/http"
	"strconv"
)

var (
	requestsTotal  = expvar.NewMap("selfpm_requests_total")
	responsesTotal = expvar.NewMap("selfpm_responses_total")
	publishErrors  = expvar.NewMap("selfpm_publish_errors_total")
	jobRuns        = expvar.NewMap("selfpm_job_runs_total")
	jobFailures    = expvar.NewMap("selfpm_job_failures_total")
)

func IncRequest(provider string) {
	requestsTotal.Add(provider, 1)
}

func IncResponse(provider string, status int) {
	responsesTotal.Add(provider+"_"+strconv.Itoa(status), 1)
}

func IncPublishError(driver string) {
	publishErrors.Add(driver, 1)
}

// RecordJobRun counts a finished job run and its item failures.
func RecordJobRun(job string, failures int) {
	jobRuns.Add(job, 1)
	if failures > 0 {
		jobFailures.Add(job, int64(failures))
	}
}

// MetricsHandler serves the expvar variables as JSON.
func MetricsHandler() http.Handler {
	return expvar.Handler()
}
