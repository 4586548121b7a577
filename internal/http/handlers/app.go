package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	"bananastudio/internal/credits"
	"bananastudio/internal/imagestore"
	"bananastudio/internal/infra"
	"bananastudio/internal/job"
	"bananastudio/internal/nanobanana"
)

// App bundles the handler dependencies.
type App struct {
	Config   *infra.Config
	Logger   infra.Logger
	Client   *nanobanana.Client
	Registry *job.Registry
	Store    *imagestore.Store
	Credits  *credits.Poller
	validate *validator.Validate
}

func NewApp(cfg *infra.Config, logger infra.Logger, client *nanobanana.Client, registry *job.Registry, store *imagestore.Store, poller *credits.Poller) *App {
	return &App{
		Config:   cfg,
		Logger:   logger,
		Client:   client,
		Registry: registry,
		Store:    store,
		Credits:  poller,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
