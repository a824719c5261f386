package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/trackers"
)

// authWait bounds how long a fresh socket gets to present its token.
const authWait = 10 * time.Second

// HandlerConfig holds configuration for the WebSocket endpoint.
type HandlerConfig struct {
	// JWTSecret signs and verifies handshake tokens (HMAC).
	JWTSecret string
}

// NewHandlerDefaults provides a config drawing the secret from the
// environment.
func NewHandlerDefaults() *HandlerConfig {
	return &HandlerConfig{JWTSecret: os.Getenv("REALTIME_JWT_SECRET")}
}

// Handler upgrades HTTP requests to authenticated subscriber sockets.
type Handler struct {
	hub      *Hub
	store    trackers.Store
	auth     *Authenticator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(cfg *HandlerConfig, hub *Hub, store trackers.Store, users UserResolver, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		auth:  NewAuthenticator([]byte(cfg.JWTSecret), users),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect cross-origin from the map UI.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "RealtimeHandler").Logger(),
	}
}

// ServeHTTP upgrades the connection, performs the auth handshake and starts
// the client pumps. The first client message must be an auth event; anything
// else closes the socket.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed.")
		return
	}

	subject, orgID, err := h.handshake(r.Context(), conn)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Handshake rejected.")
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"),
			time.Now().Add(writeWait),
		)
		_ = conn.Close()
		return
	}

	client := newClient(h.hub, h.store, conn, subject, orgID, h.logger)
	// The socket outlives the upgrade request, so pumps run on a fresh
	// context.
	client.start(context.Background())
	h.logger.Info().Str("user", subject).Msg("Subscriber connected.")
}

func (h *Handler) handshake(ctx context.Context, conn *websocket.Conn) (string, *int64, error) {
	_ = conn.SetReadDeadline(time.Now().Add(authWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	var msg ClientMessage
	if err := conn.ReadJSON(&msg); err != nil {
		return "", nil, err
	}
	if msg.Type != EventAuth {
		return "", nil, ErrUnauthorized
	}
	var payload AuthPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return "", nil, ErrUnauthorized
	}
	return h.auth.Authenticate(ctx, payload.Token)
}
