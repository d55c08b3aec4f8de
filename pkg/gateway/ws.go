package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Channel is the abstract bidirectional transport the gateway serves over.
// Transport failures are the orchestrator's retry problem; the gateway just
// stops serving the broken channel.
type Channel interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
}

// Serve reads requests from ch and writes responses back until ctx ends or
// the channel fails.
func (g *Gateway) Serve(ctx context.Context, ch Channel) error {
	for {
		raw, err := ch.Receive(ctx)
		if err != nil {
			return err
		}
		resp := g.Handle(ctx, raw)
		if err := ch.Send(ctx, resp); err != nil {
			return err
		}
	}
}

// WSChannel adapts a coder/websocket connection to Channel. Messages are
// text frames carrying one JSON request or response each.
type WSChannel struct {
	Conn *websocket.Conn
}

// Receive implements Channel.
func (c *WSChannel) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.Conn.Read(ctx)
	return data, err
}

// Send implements Channel.
func (c *WSChannel) Send(ctx context.Context, data []byte) error {
	return c.Conn.Write(ctx, websocket.MessageText, data)
}

// WebsocketHandler upgrades each HTTP request and serves the gateway over
// the resulting connection until the peer goes away.
func WebsocketHandler(g *Gateway, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept failed", "err", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "serving ended")

		err = g.Serve(r.Context(), &WSChannel{Conn: conn})
		switch {
		case errors.Is(err, context.Canceled):
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		case websocket.CloseStatus(err) == websocket.StatusGoingAway:
		case err != nil:
			logger.Debug("websocket session ended", "err", err)
		}
		conn.Close(websocket.StatusNormalClosure, "")
	})
}
