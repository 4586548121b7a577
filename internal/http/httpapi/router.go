package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"bananastudio/internal/http/handlers"
	"bananastudio/internal/middleware"
)

func NewRouter(app *handlers.App) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(middleware.CORS(app.Config.CORSOrigins))
	r.Use(middleware.Locale("zh"))

	// Health
	r.Get("/v1/healthz", app.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			// Only submissions burn upstream credits; reads are uncapped.
			r.With(middleware.RateLimit(app.Config.SubmitRateLimit, app.Config.SubmitRateWindow)).
				Post("/", app.CreateJobs)
			r.Get("/", app.ListJobs)
			r.Post("/clear-failed", app.ClearFailed)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GetJob)
				r.Delete("/", app.DeleteJob)
				r.Get("/events", app.JobEvents)
				r.Post("/retry", app.RetryJob)
				r.Post("/cancel-backoff", app.CancelBackoff)
				r.Post("/auto-retry", app.EnableAutoRetry)
				r.Post("/regenerate", app.RegenerateJob)
				r.Post("/rerun", app.RerunJob)
			})
		})

		r.Route("/images", func(r chi.Router) {
			r.Post("/", app.UploadImages)
			r.Get("/", app.GetSelection)
			r.Post("/reset", app.ResetSelection)
			r.Get("/{fingerprint}/thumbnail", app.ImageThumbnail)
		})

		r.Get("/credits", app.GetCredits)
	})

	return r
}
