package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"photobooth/internal/artifact"
	"photobooth/internal/domain"
	"photobooth/internal/pipeline"
	"photobooth/internal/workflow"
)

const (
	defaultSubmitMaxBytes = 20 << 20
	multipartMemory       = 8 << 20

	msgSubmitOK     = "Portrait generated successfully!"
	msgSubmitFailed = "An error occurred during image processing. Please try again."
)

type submitResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	ImageURL string `json:"imageUrl,omitempty"`
}

// Submit accepts the wizard form, runs the generation pipeline and answers
// with a proxied URL of the result. The uploaded photo never outlives the
// request.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	log := a.log(r)
	maxBytes := a.SubmitMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultSubmitMaxBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusBadRequest, "Photo is too large", err.Error())
			return
		}
		a.error(w, http.StatusBadRequest, "Invalid form data", err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	photoPath, err := a.spoolPhoto(r)
	if err != nil {
		a.error(w, http.StatusBadRequest, "A photo is required", err.Error())
		return
	}
	defer removeTemp(log, photoPath)

	sendPath := photoPath
	if a.Photos != nil {
		if sendPath, err = a.Photos.Normalize(photoPath); err != nil {
			a.error(w, http.StatusBadRequest, "Could not read the photo", err.Error())
			return
		}
		if sendPath != photoPath {
			defer removeTemp(log, sendPath)
		}
	}

	form := r.MultipartForm.Value
	field := func(key string) string {
		if v := form[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	req := pipeline.Request{
		PhotoPath: sendPath,
		Frame:     field("selectedFrame"),
		Params: workflow.Params{
			Gender:     field("gender"),
			Position:   field("position"),
			Venue:      field("setPanggung"),
			Expression: field("expression"),
			Genre:      field("bandGenre"),
		},
	}
	log.Info().
		Bool("has_name", field("fullName") != "").
		Bool("has_email", field("email") != "").
		Str("gender", req.Params.Gender).
		Str("position", req.Params.Position).
		Str("genre", req.Params.Genre).
		Str("frame", req.Frame).
		Msg("submit: received form")

	res, err := a.Generator.Run(r.Context(), req)
	if err != nil {
		a.error(w, submitStatus(err), msgSubmitFailed, err.Error())
		return
	}
	a.json(w, http.StatusOK, submitResponse{
		Success:  true,
		Message:  msgSubmitOK,
		ImageURL: proxyURL(res.RemoteURL),
	})
}

// spoolPhoto copies the "image" part into UploadsDir and returns its path.
func (a *App) spoolPhoto(r *http.Request) (string, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		return "", fmt.Errorf("image field: %w", err)
	}
	defer file.Close()

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		return "", fmt.Errorf("detect image type: %w", err)
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("unsupported content type %s", mt.String())
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if err := os.MkdirAll(a.UploadsDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(a.UploadsDir, "photo-*"+mt.Extension())
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

func submitStatus(err error) int {
	var (
		timeout    *domain.PollTimeoutError
		upload     *domain.UploadError
		submission *domain.SubmissionError
		poll       *domain.PollError
	)
	switch {
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &upload), errors.As(err, &submission), errors.As(err, &poll):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func proxyURL(remote string) string {
	if remote == "" || strings.HasPrefix(remote, "/") {
		return remote
	}
	return artifact.ProxyPath + "?url=" + url.QueryEscape(remote)
}
