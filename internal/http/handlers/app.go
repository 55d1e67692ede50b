package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"photobooth/internal/artifact"
	"photobooth/internal/infra"
	"photobooth/internal/pipeline"
	"photobooth/internal/storage"
)

// Generator runs one portrait generation.
type Generator interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Artifacts stores and looks up local copies of generated images.
type Artifacts interface {
	Store(ctx context.Context, id, remoteURL string) (artifact.Record, error)
	Lookup(ctx context.Context, id string) (artifact.Record, error)
}

// PhotoNormalizer prepares an uploaded photo and returns the path to send.
type PhotoNormalizer interface {
	Normalize(src string) (string, error)
}

type App struct {
	Generator  Generator
	Artifacts  Artifacts
	Photos     PhotoNormalizer
	Sources    *artifact.SourcePolicy
	HTTPClient *http.Client

	// Stored serves /storage/images, Frames serves /images.
	Stored *storage.FileStore
	Frames *storage.FileStore

	UploadsDir     string
	SubmitMaxBytes int64
	Logger         *infra.Logger
}

type failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, message, detail string) {
	a.json(w, code, failure{Success: false, Message: message, Error: detail})
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return infra.OrDiscard(a.Logger)
}

// httpClient follows redirects only to hosts the source policy allows.
func (a *App) httpClient() *http.Client {
	return a.Sources.Client(a.HTTPClient)
}
