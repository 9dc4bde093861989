package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// feedWriteTimeout bounds a single snapshot write to a slow client.
const feedWriteTimeout = 10 * time.Second

// serveFeed upgrades to a WebSocket and writes view(snapshot) as JSON for
// the current snapshot and every later one. Snapshots are latest-wins, so a
// slow client skips intermediate ones. Client messages are discarded; the
// feed ends when the client closes, the request context ends or the session
// closes.
func serveFeed[T, V any](w http.ResponseWriter, r *http.Request, origins []string,
	subscribe func() (<-chan T, func()), view func(T) V) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		slog.Debug("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	snapshots, cancel := subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "session closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(wctx, conn, view(snap))
			wcancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) == -1 {
					slog.Debug("api: websocket write", "err", err)
				}
				return
			}
		}
	}
}

// identity is the view for feeds whose snapshots are already the wire form.
func identity[T any](v T) T { return v }
