package livestream

import (
	"encoding/json"
	"net/http"
	"time"

	"marketpulse/storegateway"
)

// TrackHandler implements the /track endpoint: POST marks a slug as
// the one currently being viewed, grounded on the teacher's
// handlers_config.go CRUD handler shape (decode body, write through the
// store, encode the result).
type TrackHandler struct {
	store *storegateway.Store
}

func NewTrackHandler(store *storegateway.Store) *TrackHandler {
	return &TrackHandler{store: store}
}

type trackRequest struct {
	Slug string `json:"slug"`
}

func (h *TrackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeTrackError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Slug == "" {
		writeTrackError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Deactivate every currently-active slug and upsert the new one as
	// active inside a single transaction, so at most one tracked slug is
	// ever active even when two POSTs race.
	row := storegateway.TrackedSlug{Slug: req.Slug, Active: true, UpdatedAt: time.Now()}
	err := h.store.Transaction(r.Context(), func(tx *storegateway.Store) error {
		if err := tx.Patch(r.Context(), &storegateway.TrackedSlug{}, "active = ?", []interface{}{true}, map[string]interface{}{"active": false}); err != nil {
			return err
		}
		return tx.Upsert(r.Context(), &row, []string{"slug"}, []string{"active", "updated_at"})
	})
	if err != nil {
		writeTrackError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(row)
}

// writeTrackError writes the §7 "user-visible failure" shape for the
// track endpoint: an HTTP status with a JSON {error: "..."} body.
func writeTrackError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
