package handlers

// Session handlers let an authenticated client persist and recover its
// Double Ratchet state through the relay's Session Directory. The
// relay never sees plaintext or key material here — state is an opaque
// blob produced by security.SessionStore/RatchetState.Serialize; the
// relay's only job is naming the session and storing the bytes.

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jaydenbeard/messaging-app/internal/middleware"
	"github.com/jaydenbeard/messaging-app/internal/sessiondir"
)

// EstablishSession godoc
// @Summary Persist the initial Double Ratchet state for a new session
// @Description Binds the authenticated user and peerId to a session and stores the caller's opaque serialized ratchet state
// @Tags Session Establishment
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /sessions/{peerId} [post]
func EstablishSession(dir sessiondir.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		peerID := mux.Vars(r)["peerId"]

		var req struct {
			State string `json:"state"` // base64-encoded opaque ratchet blob
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		state, err := base64.StdEncoding.DecodeString(req.State)
		if err != nil {
			http.Error(w, "state must be base64-encoded", http.StatusBadRequest)
			return
		}

		session, err := dir.GetOrCreate(r.Context(), userID.String(), peerID)
		if err != nil {
			http.Error(w, "Failed to establish session", http.StatusInternalServerError)
			return
		}
		if err := dir.Persist(r.Context(), session.SessionID, state); err != nil {
			http.Error(w, "Failed to persist session state", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"session_id": session.SessionID})
	}
}

// GetSessionState godoc
// @Summary Fetch the authenticated user's persisted session state for a peer
// @Tags Session Establishment
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]string
// @Router /sessions/{peerId} [get]
func GetSessionState(dir sessiondir.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		peerID := mux.Vars(r)["peerId"]

		session, err := dir.GetOrCreate(r.Context(), userID.String(), peerID)
		if err != nil {
			http.Error(w, "Failed to look up session", http.StatusInternalServerError)
			return
		}
		state, err := dir.Load(r.Context(), session.SessionID)
		if err != nil {
			if errors.Is(err, sessiondir.ErrSessionNotFound) {
				http.Error(w, "No session established", http.StatusNotFound)
				return
			}
			http.Error(w, "Failed to load session state", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{
			"session_id": session.SessionID,
			"state":      base64.StdEncoding.EncodeToString(state),
		})
	}
}

// WipeSession godoc
// @Summary Tear down persisted session state with a peer
// @Tags Session Establishment
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /sessions/{peerId} [delete]
func WipeSession(dir sessiondir.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		peerID := mux.Vars(r)["peerId"]

		session, err := dir.GetOrCreate(r.Context(), userID.String(), peerID)
		if err != nil {
			http.Error(w, "Failed to look up session", http.StatusInternalServerError)
			return
		}
		if err := dir.Wipe(r.Context(), session.SessionID); err != nil {
			http.Error(w, "Failed to wipe session", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"wiped": true})
	}
}
