package utils

import (
	"github.com/hashicorp/go-multierror"
)

// CleanJob is a single piece of cleanup work, typically an unmount or a
// volume close captured as a closure at acquisition time.
type CleanJob func() error

// NewCleanStack returns a new stack.
func NewCleanStack() *CleanStack {
	return &CleanStack{}
}

// CleanStack is a LIFO stack of cleanup jobs. Every resource the pipeline
// acquires is pushed here the moment the acquisition succeeds, and Cleanup
// runs on every exit path, so no code path can return with a dangling mount
// or an open mapping.
type CleanStack struct {
	jobs []CleanJob
}

// Push adds a job to the top of the stack.
func (clean *CleanStack) Push(job CleanJob) {
	clean.jobs = append(clean.jobs, job)
}

// Pop removes and returns the job at the top of the stack, nil if empty.
func (clean *CleanStack) Pop() CleanJob {
	if len(clean.jobs) == 0 {
		return nil
	}
	job := clean.jobs[len(clean.jobs)-1]
	clean.jobs = clean.jobs[:len(clean.jobs)-1]
	return job
}

// Cleanup runs the whole stack in reverse order. Individual job errors do not
// stop the unwind, they are aggregated and appended to the given error, which
// always takes precedence as it reflects the original failure.
func (clean *CleanStack) Cleanup(err error) error {
	var errs error
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	for job := clean.Pop(); job != nil; job = clean.Pop() {
		if jobErr := job(); jobErr != nil {
			errs = multierror.Append(errs, jobErr)
		}
	}
	return errs
}
