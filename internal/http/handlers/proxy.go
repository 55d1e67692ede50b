package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"photobooth/internal/domain"
)

const proxySniffLen = 3072

// ProxyImage relays an image from an allowlisted host so the browser can load
// it from this origin. Bodies that do not sniff as an image are refused.
func (a *App) ProxyImage(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "No image URL provided", http.StatusBadRequest)
		return
	}
	src, err := a.Sources.Resolve(raw)
	if err != nil {
		a.log(r).Warn().Err(err).Msg("proxy-image: rejected source")
		http.Error(w, "Image source not allowed", http.StatusBadRequest)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, src.String(), nil)
	if err != nil {
		http.Error(w, "Image source not allowed", http.StatusBadRequest)
		return
	}
	resp, err := a.httpClient().Do(req)
	if err != nil {
		if errors.Is(err, domain.ErrHostNotAllowed) {
			a.log(r).Warn().Err(err).Str("host", src.Host).Msg("proxy-image: redirect rejected")
			http.Error(w, "Image source not allowed", http.StatusBadRequest)
			return
		}
		a.log(r).Warn().Err(err).Str("host", src.Host).Msg("proxy-image: upstream request failed")
		http.Error(w, "Error fetching image", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.log(r).Warn().Int("status", resp.StatusCode).Str("host", src.Host).Msg("proxy-image: upstream status")
		http.Error(w, "Error fetching image", http.StatusBadGateway)
		return
	}

	head := make([]byte, proxySniffLen)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		http.Error(w, "Error fetching image", http.StatusBadGateway)
		return
	}
	head = head[:n]
	sniffed := mimetype.Detect(head).String()
	if !strings.HasPrefix(sniffed, "image/") {
		a.log(r).Warn().Str("host", src.Host).Str("detected", sniffed).Msg("proxy-image: upstream body is not an image")
		http.Error(w, "Error fetching image", http.StatusBadGateway)
		return
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		contentType = sniffed
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, io.MultiReader(bytes.NewReader(head), resp.Body)); err != nil {
		a.log(r).Debug().Err(err).Msg("proxy-image: copy interrupted")
	}
}
