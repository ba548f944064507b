package jobs

import (
	"errors"
	"fmt"
)

// Failure is an item a sweep could not process.
type Failure struct {
	Item string
	Err  error
}

func (f Failure) Error() string {
	return f.Item + ": " + f.Err.Error()
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Report accumulates the outcome of one job run. A sweep records failures
// in the report and always continues with the next item.
type Report struct {
	Job       string
	Processed int
	Failures  []Failure
}

// Err joins the recorded failures, or returns nil when there are none.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

func (r *Report) fail(item string, err error) {
	r.Failures = append(r.Failures, Failure{Item: item, Err: err})
}

// each applies fn to every item in order. Errors are recorded against the
// item label; fn never stops the fold.
func each[T any](r *Report, items []T, label func(T) string, fn func(T) error) {
	for _, item := range items {
		if err := fn(item); err != nil {
			r.fail(label(item), err)
			continue
		}
		r.Processed++
	}
}

func managerLabel(username string) string {
	return fmt.Sprintf("manager %s", username)
}
