package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/garloon/meet-and-greet-server/internal/domain"
	apperrors "github.com/garloon/meet-and-greet-server/internal/errors"
)

// Deadline for the presence cleanup that runs after a websocket closes.
const disconnectTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, browser clients connect cross-site
	},
}

// clientCommand is the JSON frame clients send over the chat socket.
type clientCommand struct {
	Action    string `json:"action"`
	ChannelID string `json:"channelId"`
	Body      string `json:"body"`
}

func (s *Server) handleListChannels(c echo.Context) error {
	if s.catalog == nil {
		return c.JSON(200, []domain.Channel{})
	}

	channels, err := s.catalog.List(c.Request().Context())
	if err != nil {
		slog.Error("Failed to list channels", "error", err)
		return c.JSON(500, map[string]string{"error": "Failed to load channels"})
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return c.JSON(200, channels)
}

// handleWebSocket upgrades the connection and runs the read pump until
// the client disconnects. Identity travels in the handshake; all later
// frames are commands scoped to that identity.
func (s *Server) handleWebSocket(c echo.Context) error {
	userID := identityValue(c, "userId", "X-User-ID")
	if userID == "" {
		return c.JSON(400, map[string]string{"error": "userId is required"})
	}
	displayName := identityValue(c, "displayName", "X-Display-Name")
	avatar := identityValue(c, "avatar", "X-Avatar")

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return nil
	}

	connectionID := uuid.NewString()
	if err := s.registry.Attach(connectionID, conn); err != nil {
		slog.Error("Failed to attach connection", "connection_id", connectionID, "error", err)
		conn.Close()
		return nil
	}

	slog.Debug("Websocket connected", "connection_id", connectionID, "user_id", userID)
	s.readPump(c.Request().Context(), conn, connectionID, userID, displayName, avatar)

	// The request context dies with the connection; cleanup gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	s.coordinator.Disconnect(ctx, connectionID)
	s.registry.Detach(connectionID)

	slog.Debug("Websocket disconnected", "connection_id", connectionID, "user_id", userID)
	return nil
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, connectionID, userID, displayName, avatar string) {
	for {
		var cmd clientCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Websocket read error", "connection_id", connectionID, "error", err)
			}
			return
		}

		var err error
		switch cmd.Action {
		case "join":
			if err = s.validateChannel(ctx, cmd.ChannelID); err == nil {
				err = s.coordinator.Join(ctx, connectionID, cmd.ChannelID, userID, displayName, avatar)
			}
		case "leave":
			err = s.coordinator.Leave(ctx, connectionID, cmd.ChannelID, userID)
		case "send":
			err = s.coordinator.SendMessage(ctx, connectionID, cmd.ChannelID, userID, displayName, cmd.Body)
		case "heartbeat":
			s.coordinator.Heartbeat(ctx, connectionID)
		case "forceLeaveAll":
			err = s.coordinator.ForceLeaveAll(ctx, connectionID, userID)
		default:
			s.coordinator.NotifyRejected(connectionID, "unknown action")
		}

		if err != nil {
			s.notifyError(connectionID, err)
		}
	}
}

// notifyError surfaces client-visible rejections on the socket. Transient
// infrastructure faults stay server-side; the coordinator has already
// logged them.
func (s *Server) notifyError(connectionID string, err error) {
	e := apperrors.As(err)
	switch e.Kind {
	case apperrors.KindThrottled:
		s.coordinator.NotifyThrottled(connectionID)
	case apperrors.KindValidation:
		s.coordinator.NotifyRejected(connectionID, e.Message)
	}
}

// validateChannel checks the catalog when one is configured. Catalog
// outages fail open so chat keeps working without the database.
func (s *Server) validateChannel(ctx context.Context, channelID string) error {
	if s.catalog == nil || channelID == "" {
		return nil
	}
	exists, err := s.catalog.Exists(ctx, channelID)
	if err != nil {
		slog.Warn("Channel existence check failed, allowing join", "channel_id", channelID, "error", err)
		return nil
	}
	if !exists {
		return apperrors.Validation("channel not found")
	}
	return nil
}

func identityValue(c echo.Context, queryParam, header string) string {
	if v := c.QueryParam(queryParam); v != "" {
		return v
	}
	return c.Request().Header.Get(header)
}
