package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"photobooth/internal/storage"
)

// StoredImage serves a stored artifact by file name.
func (a *App) StoredImage(w http.ResponseWriter, r *http.Request) {
	serveFile(w, r, a.Stored, chi.URLParam(r, "name"))
}

// FrameImage serves a frame overlay from the frames directory.
func (a *App) FrameImage(w http.ResponseWriter, r *http.Request) {
	serveFile(w, r, a.Frames, chi.URLParam(r, "name"))
}

// serveFile only serves bare file names, so there is no directory listing and
// no way out of the store's root.
func serveFile(w http.ResponseWriter, r *http.Request, files *storage.FileStore, name string) {
	if files == nil {
		http.NotFound(w, r)
		return
	}
	f, entry, err := files.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, entry.Name, entry.ModTime, f)
}
