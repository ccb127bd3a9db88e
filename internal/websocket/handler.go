package websocket

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Benevox/rapidpro/internal/infrastructure"
)

// OrgParam is the query parameter selecting the organization a client
// follows
const OrgParam = "org"

// HandlerConfig configures the upgrade
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	// Requests without an Origin header are always accepted.
	AllowedOrigins []string
}

// Handler upgrades HTTP requests and registers the connections on a hub
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates an upgrade handler for hub
func NewHandler(hub *Hub, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}

	return &Handler{
		hub:    hub,
		logger: logger.With(slog.String("component", "websocket.handler")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeHTTP upgrades the request and starts the client pumps
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written an error response
		h.logger.WarnContext(ctx, "WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	client := NewClient(h.hub, NewConnectionWrapper(conn), r.URL.Query().Get(OrgParam),
		infrastructure.GetTraceID(ctx), h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
