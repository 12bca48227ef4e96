package vmrepo

import (
	"fmt"
)

// PipelineError is published on a repository's pipeline error stream when a
// queued resort task fails. Failed tasks are not retried.
type PipelineError struct {
	Collection string
	Task       string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s task failed: %v", e.Collection, e.Task, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
