package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BeagleDevfr/shopping-sync-backend/pkg/room"
	"github.com/BeagleDevfr/shopping-sync-backend/pkg/store"
)

const (
	writeTimeout   = 5 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 15 * time.Second
	maxMessageSize = 16 * 1024
)

// inbound is the flattened client→server envelope. Only the fields named by
// the message's event are read.
type inbound struct {
	Event   string      `json:"event"`
	ListID  string      `json:"listId"`
	User    Participant `json:"user"`
	Item    *store.Item `json:"item"`
	ItemID  string      `json:"itemId"`
	Checked bool        `json:"checked"`
}

type handlerFunc func(ctx context.Context, c *room.Client, msg inbound) error

// ServeConn runs one websocket connection to completion. Inbound messages
// are handled one at a time in arrival order, each through the full pipeline,
// so a connection's own events never reorder. On any read error the client
// detaches from all rooms and receives nothing further.
func (p *Pipeline) ServeConn(ctx context.Context, ws *websocket.Conn) {
	c := p.hub.NewClient()
	defer c.Close()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeLoop(ws, c)
	}()

	handlers := map[string]handlerFunc{
		EventJoinList: func(ctx context.Context, c *room.Client, msg inbound) error {
			return p.Join(ctx, c, msg.ListID, msg.User)
		},
		EventAddItem: func(ctx context.Context, c *room.Client, msg inbound) error {
			if msg.Item == nil {
				return fmt.Errorf("%w: missing item", ErrValidation)
			}
			_, err := p.AddItem(ctx, msg.ListID, *msg.Item)
			return err
		},
		EventToggleItem: func(ctx context.Context, c *room.Client, msg inbound) error {
			return p.ToggleItem(ctx, msg.ListID, msg.ItemID, msg.Checked)
		},
		EventRemoveItem: func(ctx context.Context, c *room.Client, msg inbound) error {
			return p.RemoveItem(ctx, msg.ListID, msg.ItemID)
		},
	}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("connection closed", "conn", c.ID, "err", err)
			}
			break
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("failed to decode message", "conn", c.ID, "err", err)
			continue
		}
		h, ok := handlers[msg.Event]
		if !ok {
			slog.Warn("unknown event", "conn", c.ID, "event", msg.Event)
			continue
		}
		if err := h(ctx, c, msg); err != nil {
			slog.Error("event failed", "conn", c.ID, "event", msg.Event, "err", err)
		}
	}

	c.Close()
	<-writerDone
}

// writeLoop drains the client's outbound queue to the socket and keeps the
// connection alive with pings. It owns all writes to ws.
func writeLoop(ws *websocket.Conn, c *room.Client) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	defer ws.Close()
	for {
		select {
		case msg, ok := <-c.Outbound():
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-t.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
