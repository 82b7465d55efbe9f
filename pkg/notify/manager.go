package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Client represents a connected user
type Client struct {
	UserID int64
	Conn   *websocket.Conn
	Send   chan interface{} // Channel to send messages to this client
	Done   chan struct{}    // Signal to stop reading/writing
}

// ConnectionManager manages all active WebSocket connections
type ConnectionManager struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[int64]*Client),
	}
}

// AddClient registers a new client connection, replacing any previous one for the user.
func (cm *ConnectionManager) AddClient(userID int64, conn *websocket.Conn) *Client {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.clients[userID]; ok {
		close(existing.Done)
		if existing.Conn != nil {
			existing.Conn.Close()
		}
	}

	client := &Client{
		UserID: userID,
		Conn:   conn,
		Send:   make(chan interface{}, 32),
		Done:   make(chan struct{}),
	}

	cm.clients[userID] = client
	return client
}

// RemoveClient unregisters client if it is still the user's current connection.
func (cm *ConnectionManager) RemoveClient(client *Client) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if current, ok := cm.clients[client.UserID]; ok && current == client {
		close(client.Done)
		delete(cm.clients, client.UserID)
	}
}

// IsOnline checks if a user is currently online
func (cm *ConnectionManager) IsOnline(userID int64) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	_, exists := cm.clients[userID]
	return exists
}

// GetOnlineUsers returns a list of all online user IDs
func (cm *ConnectionManager) GetOnlineUsers() []int64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	users := make([]int64, 0, len(cm.clients))
	for userID := range cm.clients {
		users = append(users, userID)
	}
	return users
}

// SendToUser queues a message for a specific user.
func (cm *ConnectionManager) SendToUser(userID int64, message interface{}) error {
	cm.mu.RLock()
	client, ok := cm.clients[userID]
	cm.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %d is not online", userID)
	}

	select {
	case client.Send <- message:
		return nil
	case <-client.Done:
		return fmt.Errorf("user %d disconnected", userID)
	default:
		return fmt.Errorf("user %d message queue full", userID)
	}
}

// Publish implements Publisher. Offline users are skipped.
func (cm *ConnectionManager) Publish(userID int64, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if !cm.IsOnline(userID) {
		return
	}
	if err := cm.SendToUser(userID, ev); err != nil {
		log.WithError(err).WithField("event", ev.Type).Debug("event not delivered")
	}
}
