package notify

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/response"
)

// WebSocketUpgrader abstracts websocket upgrade so tests can inject a double.
type WebSocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*websocket.Conn, error)
}

// Handler exposes the event feed over websockets.
type Handler struct {
	manager  *ConnectionManager
	upgrader WebSocketUpgrader
}

func NewHandler(manager *ConnectionManager) *Handler {
	return &Handler{manager: manager, upgrader: &defaultUpgrader}
}

func (h *Handler) SetWebSocketUpgrader(u WebSocketUpgrader) {
	if u != nil {
		h.upgrader = u
	}
}

var defaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are already filtered by the CORS middleware.
		return true
	},
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws/events", h.handleWebSocket)
	router.GET("/events/status", h.getStatus)
}

// @Summary      Subscribe to asset events
// @Description  Upgrades to a websocket that streams minted / sold / bought events for the user.
// @Tags         events
// @Param        user_id  query  int  true  "User ID"
// @Failure      400  {object}  response.APIResponse "Invalid user_id"
// @Router       /ws/events [get]
func (h *Handler) handleWebSocket(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid user_id", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade error")
		return
	}

	client := h.manager.AddClient(userID, conn)
	log.WithField("user_id", userID).Debug("event feed connected")

	go h.readLoop(client)
	go h.writeLoop(client)
}

// readLoop only drains control frames; clients do not send events.
func (h *Handler) readLoop(client *Client) {
	defer func() {
		h.manager.RemoveClient(client)
		client.Conn.Close()
		log.WithField("user_id", client.UserID).Debug("event feed disconnected")
	}()

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-client.Done:
			return
		default:
		}

		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.WithError(err).WithField("user_id", client.UserID).Debug("websocket read error")
			}
			return
		}
	}
}

func (h *Handler) writeLoop(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-client.Done:
			return

		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(message); err != nil {
				log.WithError(err).WithField("user_id", client.UserID).Debug("websocket write error")
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// @Summary      Online event subscribers
// @Tags         events
// @Produce      json
// @Success      200  {object}  response.APIResponse
// @Router       /events/status [get]
func (h *Handler) getStatus(c *gin.Context) {
	users := h.manager.GetOnlineUsers()
	response.SendAPIResponse(c, http.StatusOK, true, "online status", gin.H{
		"online_users": users,
		"count":        len(users),
	})
}
