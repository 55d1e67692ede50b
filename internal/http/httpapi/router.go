package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"photobooth/internal/http/handlers"
	"photobooth/internal/middleware"
)

// Options carries the cross-cutting settings for the router.
type Options struct {
	Logger          zerolog.Logger
	CORSOrigins     []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP.
	TrustProxy      bool
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	if opts.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(
		middleware.RequestID,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Generation and storage calls hit the backend or the network; rate limit them.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		r.Post("/submit", app.Submit)
		r.Post("/store-image", app.StoreImage)
	})

	r.Get("/share/{imageId}", app.Share)
	r.Get("/proxy-image", app.ProxyImage)
	r.Get("/storage/images/{name}", app.StoredImage)
	r.Get("/images/{name}", app.FrameImage)

	return r
}
