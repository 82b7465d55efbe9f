package notify

import "time"

type EventType string

const (
	EventMinted     EventType = "minted"
	EventMintFailed EventType = "mint_failed"
	EventSold       EventType = "sold"
	EventBought     EventType = "bought"
)

// Event is pushed to a user's websocket feed.
type Event struct {
	Type           EventType `json:"event_type"`
	AssetID        int64     `json:"asset_id"`
	AssetName      string    `json:"asset_name,omitempty"`
	TokenID        string    `json:"token_id,omitempty"`
	Price          int64     `json:"price,omitempty"`
	CounterpartyID int64     `json:"counterparty_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers events on a best-effort basis.
type Publisher interface {
	Publish(userID int64, ev Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(int64, Event) {}

// ErrorResponse sent to client on errors
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
