package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/cpu-jia/chatroom/internal/apperr"
	"github.com/cpu-jia/chatroom/internal/middleware"
)

// upgrader is grounded on the teacher's chat-system upgrader
// (06-projects/03-chat-system/main.go). CheckOrigin accepts every Origin;
// the CORS middleware ahead of this handler only sets response headers
// and rejects no origin, so the upgrade is gated by the bearer token
// alone.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (a *api) serveWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Authentication, "missing bearer token"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	a.hub.Accept(userID, conn)
}
