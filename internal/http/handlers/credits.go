package handlers

import "net/http"

// GetCredits returns the most recently polled balance. The poller is an
// optional collaborator: without credentials it is never started.
func (a *App) GetCredits(w http.ResponseWriter, r *http.Request) {
	if a.Credits == nil {
		a.error(w, http.StatusNotFound, "credits_unavailable", "credits polling is not configured")
		return
	}
	balance, ok := a.Credits.Latest()
	if !ok {
		a.error(w, http.StatusServiceUnavailable, "credits_pending", "no successful balance poll yet")
		return
	}
	a.json(w, http.StatusOK, balance)
}
