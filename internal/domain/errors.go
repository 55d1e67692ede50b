package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidArtifactID = errors.New("invalid artifact id")
	ErrHostNotAllowed    = errors.New("source host not allowed")
)

// UploadError reports an asset that could not be pushed to the generation
// backend, either because the local file is missing or because every attempt
// failed. Err holds the last underlying failure.
type UploadError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *UploadError) Error() string {
	if e.Attempts == 0 {
		return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// SubmissionError reports a workflow the backend refused to queue.
type SubmissionError struct {
	Status  int
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("submission rejected: status %d: %s", e.Status, strings.TrimSpace(e.Message))
	}
	if e.Err != nil {
		return fmt.Sprintf("submission failed: %v", e.Err)
	}
	return "submission failed: " + e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TemplateError reports a workflow template that cannot be loaded or filled.
type TemplateError struct {
	Source string
	Err    error
}

func (e *TemplateError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("workflow template: %v", e.Err)
	}
	return fmt.Sprintf("workflow template %s: %v", e.Source, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// PollError reports a status query that failed while waiting for a job.
type PollError struct {
	JobID string
	Err   error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll job %s: %v", e.JobID, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// PollTimeoutError reports a job that did not produce output before the wait
// deadline, or whose wait was cancelled by the caller.
type PollTimeoutError struct {
	JobID  string
	Waited time.Duration
	Err    error
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("poll job %s: no output after %s: %v", e.JobID, e.Waited.Round(time.Millisecond), e.Err)
}

func (e *PollTimeoutError) Unwrap() error { return e.Err }

// FetchError reports an artifact download that did not yield an image.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
