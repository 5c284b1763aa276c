package syncfeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Every origin is accepted: no Origin check is applied to the upgrade
	// here or in the HTTP layer; this package only speaks the sync protocol.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	pendingWakeups = 1
)

// ServeWS upgrades the connection and streams sync_events for viewerUserID
// starting strictly after fromCursor: an immediate catch-up pull followed by
// live forwarding driven by hub wake-ups. Delivery is at-least-once and
// the client is expected to de-duplicate by cursor; a
// slow client that can't keep up is dropped and must reconnect with its
// last-seen cursor rather than have the server buffer unboundedly.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, db *sql.DB, viewerUserID string, fromCursor int64) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	wake, unsubscribe := hub.Subscribe(viewerUserID)
	defer unsubscribe()

	// Drain client-initiated close/ping frames on a reader goroutine so the
	// connection's read deadline keeps advancing.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	cursor := fromCursor
	if err := drain(ctx, conn, db, viewerUserID, &cursor); err != nil {
		return err
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-wake:
			if err := drain(ctx, conn, db, viewerUserID, &cursor); err != nil {
				log.Printf("syncfeed: drain failed for %s: %v", viewerUserID, err)
				return nil
			}
		}
	}
}

// drain pulls every event past cursor in Pull-sized pages and forwards each
// as a JSON frame, advancing cursor as it goes.
func drain(ctx context.Context, conn *websocket.Conn, db *sql.DB, viewerUserID string, cursor *int64) error {
	for {
		res, err := Pull(ctx, db, viewerUserID, *cursor, DefaultPullLimit)
		if err != nil {
			return err
		}
		if len(res.Events) == 0 {
			return nil
		}
		for _, ev := range res.Events {
			frame, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		}
		*cursor = res.NextCursor
		if len(res.Events) < DefaultPullLimit {
			return nil
		}
	}
}

// ParseCursor parses the `since` query parameter used by both the pull and
// WebSocket endpoints, defaulting to 0 (full replay) on empty or invalid input.
func ParseCursor(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
