package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"bananastudio/internal/imagestore"
)

type uploadImagesRequest struct {
	Payloads []string `json:"payloads" validate:"required,min=1"`
}

type uploadImageItem struct {
	Index       int    `json:"index"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Error       string `json:"error,omitempty"`
}

type uploadImagesResponse struct {
	Items     []uploadImageItem `json:"items"`
	Selection []string          `json:"selection"`
	Stored    int               `json:"stored"`
}

// UploadImages replaces the active selection with the uploaded payloads.
// Hashing failures are reported per item and never block the rest of the
// batch.
func (a *App) UploadImages(w http.ResponseWriter, r *http.Request) {
	var req uploadImagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	// Changing the picker input starts a fresh selection, like the original
	// uploader: stored images stay, only the active selection resets.
	a.Store.ResetSelection()

	results := a.Store.AddAll(req.Payloads)
	items := make([]uploadImageItem, 0, len(results))
	for _, res := range results {
		item := uploadImageItem{Index: res.Index, Fingerprint: res.Fingerprint}
		if res.Err != nil {
			item.Error = res.Err.Error()
			a.Logger.Warn().Int("index", res.Index).Err(res.Err).Msg("handlers: image payload rejected")
		}
		items = append(items, item)
	}
	a.json(w, http.StatusOK, uploadImagesResponse{
		Items:     items,
		Selection: a.Store.Selection(),
		Stored:    a.Store.Size(),
	})
}

// GetSelection reports the active selection and store size.
func (a *App) GetSelection(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"selection": a.Store.Selection(),
		"stored":    a.Store.Size(),
	})
}

// ResetSelection clears the active selection without touching stored images.
func (a *App) ResetSelection(w http.ResponseWriter, r *http.Request) {
	a.Store.ResetSelection()
	a.json(w, http.StatusOK, map[string]any{
		"selection": a.Store.Selection(),
		"stored":    a.Store.Size(),
	})
}

// ImageThumbnail renders a preview thumbnail for a stored image, keyed by its
// fingerprint.
func (a *App) ImageThumbnail(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	size := imagestore.DefaultThumbSize
	if v := r.URL.Query().Get("size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	thumb, err := a.Store.Thumbnail(fp, size)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{
		"fingerprint": fp,
		"thumbnail":   thumb,
	})
}
