package broadcast

import (
	"context"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/websocket"
)

// WebsocketConfig configures the websocket endpoint.
type WebsocketConfig struct {
	// AllowedOrigins restricts the Origin header. Empty allows any origin.
	AllowedOrigins []string
	// WriteTimeout bounds a single frame write. Default: 10s
	WriteTimeout time.Duration
}

type wsConn struct {
	ws           *websocket.Conn
	ready        atomic.Bool
	writeTimeout time.Duration
}

func (c *wsConn) Ready() bool { return c.ready.Load() }

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(c.ws, string(frame))
}

// WebsocketHandler upgrades requests and subscribes each connection to the
// hub until the client goes away. Inbound messages are read and discarded.
func WebsocketHandler(hub *Hub, cfg WebsocketConfig) http.Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return websocket.Server{
		Handshake: func(wsCfg *websocket.Config, r *http.Request) error {
			if len(cfg.AllowedOrigins) == 0 {
				return nil
			}
			origin := r.Header.Get("Origin")
			if !slices.Contains(cfg.AllowedOrigins, origin) {
				log.Ctx(r.Context()).Warn().Str("origin", origin).Msg("Rejected websocket origin")
				return websocket.ErrBadWebSocketOrigin
			}
			return nil
		},
		Handler: func(ws *websocket.Conn) {
			defer ws.Close()

			logger := zerolog.Ctx(ws.Request().Context())
			conn := &wsConn{ws: ws, writeTimeout: cfg.WriteTimeout}
			conn.ready.Store(true)
			defer conn.ready.Store(false)

			unsubscribe, err := hub.Subscribe(conn)
			if err != nil {
				logger.Warn().Err(err).Msg("Websocket subscribe failed")
				return
			}
			defer unsubscribe()

			logger.Info().Msg("Websocket subscriber connected")

			// the server read timeout would otherwise end idle subscriptions
			_ = ws.SetReadDeadline(time.Time{})

			for {
				var msg string
				if err := websocket.Message.Receive(ws, &msg); err != nil {
					logger.Info().Err(err).Msg("Websocket subscriber disconnected")
					return
				}
			}
		},
	}
}
