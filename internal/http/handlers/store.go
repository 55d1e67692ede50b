package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"photobooth/internal/artifact"
	"photobooth/internal/domain"
)

var validate = validator.New()

type storeImageRequest struct {
	ImageID  string `json:"imageId" validate:"required"`
	ImageURL string `json:"imageUrl" validate:"required"`
}

type storeImageResponse struct {
	Success  bool   `json:"success"`
	LocalURL string `json:"localUrl"`
}

// StoreImage keeps a local copy of a generated image under the client's id.
// Repeated and concurrent calls for one id download it once; the source URL
// is only checked when a download is needed.
func (a *App) StoreImage(w http.ResponseWriter, r *http.Request) {
	var req storeImageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "Missing required fields", err.Error())
		return
	}
	if err := artifact.ValidateID(req.ImageID); err != nil {
		a.error(w, http.StatusBadRequest, "Invalid image id", err.Error())
		return
	}

	rec, err := a.Artifacts.Store(r.Context(), req.ImageID, req.ImageURL)
	if err != nil {
		var fetchErr *domain.FetchError
		switch {
		case errors.Is(err, domain.ErrInvalidArtifactID):
			a.error(w, http.StatusBadRequest, "Invalid image id", err.Error())
		case errors.Is(err, domain.ErrHostNotAllowed):
			a.error(w, http.StatusBadRequest, "Image source not allowed", err.Error())
		case errors.As(err, &fetchErr):
			a.log(r).Warn().Err(err).Str("artifact_id", req.ImageID).Msg("store-image: fetch failed")
			a.error(w, http.StatusBadGateway, "Failed to store image", err.Error())
		default:
			a.log(r).Error().Err(err).Str("artifact_id", req.ImageID).Msg("store-image: failed")
			a.error(w, http.StatusInternalServerError, "Failed to store image", err.Error())
		}
		return
	}
	a.json(w, http.StatusOK, storeImageResponse{Success: true, LocalURL: rec.LocalURL})
}
