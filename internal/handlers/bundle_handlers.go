package handlers

// Bundle handlers serve the public X3DH key material a client needs to
// start a session with another user: identity key, signed pre-key, and
// (if any remain) a one-time pre-key claimed atomically for this fetch.

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jaydenbeard/messaging-app/internal/db"
	"github.com/jaydenbeard/messaging-app/internal/middleware"
	"github.com/jaydenbeard/messaging-app/internal/models"
)

// GetBundle godoc
// @Summary Fetch a user's X3DH pre-key bundle
// @Description Returns the identity key, signed pre-key, and (if available) a freshly claimed one-time pre-key for userId
// @Tags Session Establishment
// @Produce json
// @Param userId path string true "Target user ID"
// @Success 200 {object} models.UserKeys
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /users/{userId}/bundle [get]
func GetBundle(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(mux.Vars(r)["userId"])
		if err != nil {
			http.Error(w, "Invalid user ID", http.StatusBadRequest)
			return
		}

		keys, err := database.GetUserKeys(userID)
		if err != nil {
			http.Error(w, "User not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, keys)
	}
}

// UploadPreKeys godoc
// @Summary Publish a batch of one-time pre-key public halves
// @Description Lets an authenticated user replenish the pool of one-time pre-keys the relay hands out on their behalf
// @Tags Session Establishment
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /users/me/prekeys [post]
func UploadPreKeys(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req struct {
			PreKeys []models.PreKey `json:"prekeys"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.PreKeys) == 0 {
			http.Error(w, "No pre-keys provided", http.StatusBadRequest)
			return
		}

		uploads := make([]db.PreKeyUpload, len(req.PreKeys))
		for i, pk := range req.PreKeys {
			uploads[i] = db.PreKeyUpload{KeyID: pk.PreKeyID, PublicKey: pk.PublicKey}
		}

		if err := database.SavePreKeys(userID, uploads); err != nil {
			http.Error(w, "Failed to save pre-keys", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"saved": len(uploads)})
	}
}
