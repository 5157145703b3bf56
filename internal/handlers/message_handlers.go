package handlers

// Message handlers relay opaque Double Ratchet ciphertexts between
// established sessions. The relay never decodes Ciphertext; it only
// stores and forwards it keyed by recipient, in arrival order.

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jaydenbeard/messaging-app/internal/db"
	"github.com/jaydenbeard/messaging-app/internal/metrics"
	"github.com/jaydenbeard/messaging-app/internal/middleware"
	"github.com/jaydenbeard/messaging-app/internal/models"
)

// SendMessage godoc
// @Summary Relay a ratchet ciphertext to another user
// @Tags Messaging
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /messages [post]
func SendMessage(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		senderID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req models.MessageEnvelope
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.ReceiverID == uuid.Nil || len(req.Ciphertext) == 0 {
			http.Error(w, "receiver_id and ciphertext are required", http.StatusBadRequest)
			return
		}

		msg := &db.Message{
			MessageID:   uuid.New(),
			SenderID:    senderID,
			ReceiverID:  req.ReceiverID,
			Ciphertext:  req.Ciphertext,
			MessageType: req.MessageType,
			Timestamp:   time.Now(),
			Status:      "sent",
		}
		if msg.MessageType == "" {
			msg.MessageType = "ratchet"
		}

		if err := database.SaveMessage(msg); err != nil {
			http.Error(w, "Failed to store message", http.StatusInternalServerError)
			return
		}
		metrics.RecordMessageSent(msg.MessageType)

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"message_id": msg.MessageID})
	}
}

// PullMessages godoc
// @Summary Fetch this user's undelivered ciphertexts, in arrival order
// @Tags Messaging
// @Produce json
// @Success 200 {array} db.Message
// @Router /messages [get]
func PullMessages(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := middleware.GetUserID(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		messages, err := database.GetPendingMessages(userID)
		if err != nil {
			http.Error(w, "Failed to fetch messages", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, messages)
	}
}

// AckMessage godoc
// @Summary Acknowledge delivery or read status of a relayed message
// @Tags Messaging
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Router /messages/{messageId}/status [put]
func AckMessage(database *db.PostgresDB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID, err := uuid.Parse(mux.Vars(r)["messageId"])
		if err != nil {
			http.Error(w, "Invalid message ID", http.StatusBadRequest)
			return
		}

		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.Status != "delivered" && req.Status != "read" {
			http.Error(w, "status must be 'delivered' or 'read'", http.StatusBadRequest)
			return
		}

		if err := database.UpdateMessageStatus(messageID, req.Status, time.Now()); err != nil {
			http.Error(w, "Failed to update message status", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"updated": true})
	}
}
