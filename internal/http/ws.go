package httpapp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cesargomez89/inkqueue/internal/constants"
	"github.com/cesargomez89/inkqueue/internal/http/dto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressSocket streams queue changes. The subscription is opened before
// the snapshot is read so no change can fall between the two; clients drop
// events whose version is not newer than what they hold.
func (h *Handler) ProgressSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.Hub.Subscribe()
	defer sub.Close()
	log := h.Logger.With("subscriber", sub.ID())
	log.Debug("Progress subscriber connected")

	jobs, err := h.Actions.Active(r.Context())
	if err != nil {
		log.Error("Failed to load snapshot", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "snapshot failed"),
			time.Now().Add(constants.WSWriteTimeout))
		return
	}
	if err := writeFrame(conn, dto.ProgressFrame{Type: dto.FrameSnapshot, Jobs: jobs}); err != nil {
		return
	}

	done := make(chan struct{})
	go readPump(conn, done)

	ping := time.NewTicker(constants.WSPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Debug("Progress subscriber disconnected")
			return
		case ev, ok := <-sub.Events():
			if !ok {
				// dropped for falling behind; the client resnapshots on reconnect
				log.Warn("Progress subscriber dropped", "dropped", sub.Dropped())
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber fell behind"),
					time.Now().Add(constants.WSWriteTimeout))
				return
			}
			if err := writeFrame(conn, dto.ProgressFrame{Type: dto.FrameEvent, Event: &ev}); err != nil {
				log.Debug("Progress write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(constants.WSWriteTimeout)); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame dto.ProgressFrame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(frame)
}

// readPump discards client messages and keeps the read deadline alive on
// pongs. It closes done once the connection is gone.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(constants.WSMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(constants.WSPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(constants.WSPongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
