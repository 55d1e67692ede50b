package pipeline

import (
	"github.com/rs/zerolog"

	"photobooth/internal/workflow"
)

// State is the lifecycle position of a generation job.
type State string

const (
	StateSubmitting         State = "submitting"
	StateAwaitingUpload     State = "awaiting_upload"
	StateAwaitingCompletion State = "awaiting_completion"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// Job tracks one generation request. It lives only for the duration of Run.
type Job struct {
	ID       string
	ClientID string
	Params   workflow.Params
	Frame    string
	State    State

	log *zerolog.Logger
}

func (j *Job) transition(next State) {
	prev := j.State
	j.State = next
	j.log.Debug().
		Str("client_id", j.ClientID).
		Str("job_id", j.ID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Msg("pipeline: job state")
}

// Terminal reports whether the job reached Completed or Failed.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}
