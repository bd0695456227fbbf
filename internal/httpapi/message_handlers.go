package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/middleware"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/store"
)

func (a *api) sendMessage(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Content        string     `json:"content"`
		Kind           string     `json:"kind"`
		ReplyToID      *uuid.UUID `json:"reply_to_id"`
		IdempotencyKey string     `json:"idempotency_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	kind := model.MessageKind(req.Kind)
	if kind == "" {
		kind = model.MessageText
	}
	msg, err := a.services.Messaging.Send(uid, roomID, req.Content, kind, req.ReplyToID, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *api) fetchHistory(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}

	limit := queryInt(r, "limit", 0)
	var cursor *store.Cursor
	if raw := r.URL.Query().Get("before_created_at"); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, apperr.New(apperr.Validation, "invalid before_created_at"))
			return
		}
		msgID, err := uuid.Parse(r.URL.Query().Get("before_message_id"))
		if err != nil {
			writeError(w, apperr.New(apperr.Validation, "invalid before_message_id"))
			return
		}
		cursor = &store.Cursor{CreatedAt: createdAt, MessageID: msgID}
	}

	messages, err := a.services.Messaging.History(uid, roomID, cursor, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *api) getMessage(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := a.services.Messaging.Get(uid, messageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (a *api) deleteMessage(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	messageID, err := pathUUID(r, "message_id")
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := a.services.Messaging.Delete(uid, messageID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}
