package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/scribblesense/scribblesense/internal/catalog"
	"github.com/scribblesense/scribblesense/internal/dashboard"
	"github.com/scribblesense/scribblesense/internal/profile"
)

func (h *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user := currentUser(r)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
		"name":    user.Name(),
	})
}

func (h *HTTPServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, ok := h.loadProfile(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"profile": p,
	})
}

// handleUpdateProfile applies the fields present in the body to the stored
// profile. The user id and join date cannot be changed.
func (h *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	current, ok := h.loadProfile(w, r)
	if !ok {
		return
	}

	updated := current
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&updated); err != nil {
		fail(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	updated.UserID = current.UserID
	updated.JoinDate = current.JoinDate
	updated.UpdatedAt = time.Now()

	updated, err := profile.Normalize(updated)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.profiles.SaveProfile(r.Context(), updated); err != nil {
		h.logger.Error("Failed to save profile",
			slog.String("user", updated.UserID),
			slog.String("error", err.Error()),
		)
		fail(w, http.StatusInternalServerError, "Failed to save profile")
		return
	}

	h.logger.Info("Profile updated", slog.String("user", updated.UserID))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Profile updated",
		"profile": updated,
	})
}

// loadProfile returns the saved profile of the caller, or one built from
// their account when nothing was saved yet.
func (h *HTTPServer) loadProfile(w http.ResponseWriter, r *http.Request) (profile.Profile, bool) {
	user := currentUser(r)
	p, err := h.profiles.Profile(r.Context(), user.ID)
	if errors.Is(err, profile.ErrNotFound) {
		return profile.FromUser(user), true
	}
	if err != nil {
		h.logger.Error("Failed to load profile",
			slog.String("user", user.ID),
			slog.String("error", err.Error()),
		)
		fail(w, http.StatusInternalServerError, "Failed to load profile")
		return profile.Profile{}, false
	}
	return p, true
}

// handleResources filters the catalog by the search, language and type
// query parameters.
func (h *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := catalog.Filter{
		Search:   q.Get("search"),
		Language: q.Get("language"),
		Type:     q.Get("type"),
	}.Normalize()
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	resources := h.catalog.Filter(filter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"total":     len(resources),
		"resources": resources,
	})
}

func (h *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	var src dashboard.ActivitySource
	if h.activity != nil {
		src = h.activity
	}

	summary, err := dashboard.Build(r.Context(), src, time.Now())
	if err != nil {
		// The seeded history is still worth showing.
		h.logger.Warn("Dashboard built without live activity", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    summary,
	})
}
