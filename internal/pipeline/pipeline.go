// Package pipeline runs one portrait generation end to end: upload the photo,
// pick and upload the frame, submit the filled workflow and wait for output.
package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photobooth/internal/infra"
	"photobooth/internal/providers/comfy"
	"photobooth/internal/workflow"
)

// Backend is the subset of the generation backend used by the pipeline.
type Backend interface {
	UploadImage(ctx context.Context, path string) (string, error)
	QueuePrompt(ctx context.Context, workflow any, clientID string) (string, error)
	AwaitOutput(ctx context.Context, jobID string) (comfy.Output, error)
	ViewURL(out comfy.Output) string
}

// Options configures a Pipeline.
type Options struct {
	Backend          Backend
	Template         *workflow.Template
	FramesDir        string
	DefaultFrameName string
	Logger           *infra.Logger
}

// Pipeline is safe for concurrent use; every Run owns its own Job.
type Pipeline struct {
	backend      Backend
	template     *workflow.Template
	framesDir    string
	defaultFrame string
	logger       *infra.Logger
}

// Request is one client submission.
type Request struct {
	PhotoPath string
	Params    workflow.Params
	Frame     string
}

// Result describes a completed job.
type Result struct {
	JobID     string
	ClientID  string
	Frame     string
	Output    comfy.Output
	RemoteURL string
}

var frameNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Backend == nil {
		return nil, errors.New("pipeline: backend is required")
	}
	if opts.Template == nil {
		return nil, errors.New("pipeline: workflow template is required")
	}
	defaultFrame := strings.TrimSpace(opts.DefaultFrameName)
	if defaultFrame == "" {
		defaultFrame = "sample_frame.png"
	}
	return &Pipeline{
		backend:      opts.Backend,
		template:     opts.Template,
		framesDir:    opts.FramesDir,
		defaultFrame: defaultFrame,
		logger:       infra.OrDiscard(opts.Logger),
	}, nil
}

// Run executes the job. Errors are the typed backend errors from the comfy
// and workflow packages, unwrapped so callers can map them to responses.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	log := p.log(ctx)
	job := &Job{
		ClientID: uuid.NewString(),
		Params:   req.Params,
		State:    StateSubmitting,
		log:      log,
	}

	res, err := p.run(ctx, job, req)
	if err != nil {
		job.transition(StateFailed)
		log.Error().Err(err).Str("client_id", job.ClientID).Str("job_id", job.ID).Msg("pipeline: job failed")
		return Result{}, err
	}
	job.transition(StateCompleted)
	log.Info().
		Str("client_id", job.ClientID).
		Str("job_id", job.ID).
		Str("frame", job.Frame).
		Str("output", res.Output.Filename).
		Msg("pipeline: portrait generated")
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, job *Job, req Request) (Result, error) {
	job.transition(StateAwaitingUpload)
	imageName, err := p.backend.UploadImage(ctx, req.PhotoPath)
	if err != nil {
		return Result{}, err
	}
	frame, err := p.resolveFrame(ctx, job.log, req.Frame)
	if err != nil {
		return Result{}, err
	}
	job.Frame = frame

	graph, err := p.template.Fill(imageName, frame, req.Params)
	if err != nil {
		return Result{}, err
	}
	jobID, err := p.backend.QueuePrompt(ctx, graph, job.ClientID)
	if err != nil {
		return Result{}, err
	}
	job.ID = jobID
	job.transition(StateAwaitingCompletion)

	out, err := p.backend.AwaitOutput(ctx, jobID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		JobID:     jobID,
		ClientID:  job.ClientID,
		Frame:     frame,
		Output:    out,
		RemoteURL: p.backend.ViewURL(out),
	}, nil
}

// resolveFrame returns the backend name of the frame for this job. A selected
// frame that is invalid, missing locally or fails to upload falls back to the
// default frame name. Without a selection the default frame file is uploaded
// when present.
func (p *Pipeline) resolveFrame(ctx context.Context, log *zerolog.Logger, selected string) (string, error) {
	selected = strings.TrimSpace(selected)
	if selected != "" {
		if !frameNamePattern.MatchString(selected) {
			log.Warn().Str("frame", selected).Msg("pipeline: invalid frame selector, using default frame")
			return p.defaultFrame, nil
		}
		path := filepath.Join(p.framesDir, selected+".png")
		if !fileExists(path) {
			log.Warn().Str("path", path).Msg("pipeline: frame file not found, using default frame")
			return p.defaultFrame, nil
		}
		name, err := p.backend.UploadImage(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return "", err
			}
			log.Warn().Err(err).Str("path", path).Msg("pipeline: frame upload failed, using default frame")
			return p.defaultFrame, nil
		}
		return name, nil
	}

	path := filepath.Join(p.framesDir, p.defaultFrame)
	if !fileExists(path) {
		return p.defaultFrame, nil
	}
	return p.backend.UploadImage(ctx, path)
}

func (p *Pipeline) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return p.logger
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
