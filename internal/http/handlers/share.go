package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"photobooth/internal/domain"
	"photobooth/internal/middleware"
)

type shareCopy struct {
	Lang     string
	Title    string
	Download string
	Create   string
	NotFound string
}

var shareCopies = map[string]shareCopy{
	"en": {Lang: "en", Title: "AI Portrait", Download: "Download Portrait", Create: "Create Your Own", NotFound: "Image not found"},
	"id": {Lang: "id", Title: "Potret AI", Download: "Unduh Potret", Create: "Buat Punyamu", NotFound: "Gambar tidak ditemukan"},
}

var shareTmpl = template.Must(template.New("share").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Title}}</title>
<meta property="og:title" content="{{.Title}}">
<meta property="og:image" content="{{.ImageURL}}">
<style>
body{font-family:Arial,sans-serif;margin:0;padding:20px;display:flex;flex-direction:column;align-items:center;background-color:#f0f2f5}
.container{max-width:500px;width:100%;background:#fff;padding:20px;border-radius:12px;box-shadow:0 2px 4px rgba(0,0,0,.1);text-align:center}
img{max-width:100%;border-radius:8px;margin:20px 0}
.button{display:inline-block;padding:12px 24px;background-color:#3b82f6;color:#fff;text-decoration:none;border-radius:6px;font-weight:600;margin:10px}
.button:hover{background-color:#2563eb}
</style>
</head>
<body>
<div class="container">
<h1>{{.Title}}</h1>
<img src="{{.ImageURL}}" alt="{{.Title}}">
<div class="button-group">
<a href="{{.ImageURL}}" download="ai-portrait.png" class="button">{{.Download}}</a>
<a href="/" class="button">{{.Create}}</a>
</div>
</div>
</body>
</html>
`))

type sharePage struct {
	shareCopy
	ImageURL string
}

// Share renders the download page for a stored image. Ids that were never
// stored, or whose file has been evicted, get a 404.
func (a *App) Share(w http.ResponseWriter, r *http.Request) {
	text := shareCopyFor(middleware.LocaleFromContext(r.Context()))
	id := chi.URLParam(r, "imageId")
	rec, err := a.Artifacts.Lookup(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidArtifactID) {
			http.Error(w, text.NotFound, http.StatusNotFound)
			return
		}
		a.log(r).Error().Err(err).Str("artifact_id", id).Msg("share: lookup failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	page := sharePage{shareCopy: text, ImageURL: absoluteURL(r, rec.LocalURL)}
	if err := shareTmpl.Execute(w, page); err != nil {
		a.log(r).Error().Err(err).Str("artifact_id", id).Msg("share: render failed")
	}
}

func shareCopyFor(locale string) shareCopy {
	if c, ok := shareCopies[locale]; ok {
		return c
	}
	return shareCopies["en"]
}

// absoluteURL prefixes a server-relative path with the scheme and host the
// client used.
func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "https" || proto == "http" {
		scheme = proto
	}
	return scheme + "://" + r.Host + "/" + strings.TrimPrefix(path, "/")
}
