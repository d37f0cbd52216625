package appointments

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/smart-care-platform/internal/http/middleware"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// streamFrame is one websocket message: the caller's full appointment list.
type streamFrame struct {
	Type         string        `json:"type"`
	Appointments []Appointment `json:"appointments"`
	SentAt       time.Time     `json:"sentAt"`
}

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	origins := middleware.ParseOrigins(allowedOrigins)
	up := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096}
	if origins.Empty() {
		// nil CheckOrigin enforces same-origin.
		return up
	}
	up.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return origins.Allows(origin)
	}
	return up
}

// Stream handles GET /appointments/stream. It upgrades to a websocket and sends the
// caller's appointment list on connect and after every change. Only the latest list is
// kept when the client reads slower than changes arrive.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, role, ok := h.subject(w, r)
	if !ok {
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("appointments: websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	latest := make(chan []Appointment, 1)
	unsubscribe, err := h.coord.GetUserAppointments(ctx, userID, role, func(list []Appointment) {
		select {
		case <-latest:
		default:
		}
		select {
		case latest <- list:
		default:
		}
	})
	if err != nil {
		h.logger.Error("appointments: stream subscribe failed", "error", err, "user_id", userID)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(streamWriteWait))
		return
	}
	defer unsubscribe()

	go h.readPump(ws, cancel)
	h.writePump(ctx, ws, latest, userID)
}

// readPump discards client messages and cancels ctx when the peer goes away.
func (h *Handler) readPump(ws *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(ctx context.Context, ws *websocket.Conn, latest <-chan []Appointment, userID string) {
	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		case list := <-latest:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteJSON(streamFrame{Type: "appointments", Appointments: list, SentAt: time.Now().UTC()}); err != nil {
				h.logger.Debug("appointments: stream write failed", "error", err, "user_id", userID)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
