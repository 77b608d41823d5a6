package internal

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// display screens are served from the same box but may reach it by IP or hostname.
		return true
	},
}

// viewerConn binds one websocket display to its hub subscription.
type viewerConn struct {
	hub  *Hub
	sub  *subscriber
	conn *websocket.Conn
}

// ServeWS upgrades the request and streams live events to it until the peer
// goes away. New viewers immediately receive the most recent update frame.
func (hub *Hub) ServeWS(writer http.ResponseWriter, request *http.Request) {
	conn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		hub.logger.Warn("websocket upgrade failed", "remote", request.RemoteAddr, "error", err)
		return
	}
	viewer := &viewerConn{
		hub:  hub,
		sub:  &subscriber{send: make(chan []byte, subscriberBuffer), replay: true},
		conn: conn,
	}
	hub.add(viewer.sub)
	hub.logger.Debug("viewer connected", "remote", request.RemoteAddr)

	go viewer.writePump()
	go viewer.readPump()
}

// readPump only exists to observe pongs and the close handshake; viewers
// never send anything meaningful.
func (viewer *viewerConn) readPump() {
	defer func() {
		viewer.hub.remove(viewer.sub)
		viewer.conn.Close()
	}()
	viewer.conn.SetReadLimit(maxMsgSize)
	_ = viewer.conn.SetReadDeadline(time.Now().Add(pongWait))
	viewer.conn.SetPongHandler(func(string) error {
		return viewer.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := viewer.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				viewer.hub.logger.Debug("viewer read error", "error", err)
			}
			return
		}
	}
}

func (viewer *viewerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		viewer.conn.Close()
	}()
	for {
		select {
		case message, ok := <-viewer.sub.send:
			_ = viewer.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = viewer.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := viewer.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = viewer.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := viewer.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
