package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/middleware"
	"github.com/cpu-jia/chatroom/internal/model"
	"github.com/cpu-jia/chatroom/internal/service"
)

func (a *api) createRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	var req struct {
		Name      string `json:"name"`
		IsPrivate bool   `json:"is_private"`
		Password  string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	room, err := a.services.Room.Create(uid, req.Name, req.IsPrivate, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (a *api) listRooms(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	rooms, err := a.services.Room.ListForUser(uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (a *api) getRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	room, err := a.services.Room.Get(uid, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *api) updateRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Name      *string `json:"name"`
		IsPrivate *bool   `json:"is_private"`
		Password  *string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	room, err := a.services.Room.Update(uid, roomID, service.RoomUpdate{
		Name: req.Name, IsPrivate: req.IsPrivate, Password: req.Password,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

func (a *api) closeRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.services.Room.Close(uid, roomID); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *api) joinRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	_ = decodeJSON(r, &req) // an empty body is valid for public rooms
	room, member, err := a.services.Room.Join(uid, roomID, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": room, "member": member})
}

func (a *api) leaveRoom(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.services.Room.Leave(uid, roomID); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *api) listMembers(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	members, err := a.services.Room.ListMembers(uid, roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

// onlineMembers surfaces Presence.Members for a room (spec.md §6, §8
// scenario 5); membership is enforced the same way as GET /rooms/{id}.
func (a *api) onlineMembers(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := a.services.Room.Get(uid, roomID); err != nil {
		writeError(w, err)
		return
	}
	members, err := a.hub.OnlineMembers(r.Context(), roomID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (a *api) inviteMember(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := uuid.Parse(req.UserID)
	if err != nil {
		writeError(w, apperr.New(apperr.Validation, "invalid user_id"))
		return
	}
	role := model.RoomRole(req.Role)
	if role == "" {
		role = model.RoleMember
	}
	if err := a.services.Room.Invite(uid, roomID, target, role); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "invited"})
}

func (a *api) changeRole(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := pathUUID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	var req struct {
		Role string `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := a.services.Room.ChangeRole(uid, roomID, target, model.RoomRole(req.Role)); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (a *api) kickMember(w http.ResponseWriter, r *http.Request) {
	uid, _ := middleware.UserIDFromContext(r.Context())
	roomID, err := pathUUID(r, "room_id")
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := pathUUID(r, "user_id")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.services.Room.Kick(uid, roomID, target); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}
