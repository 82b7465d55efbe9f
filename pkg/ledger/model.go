package ledger

import "time"

type AssetStatus string

const (
	StatusPending    AssetStatus = "pending"
	StatusActive     AssetStatus = "active"
	StatusMintFailed AssetStatus = "mint_failed"
)

// Failure reasons recorded on mint_failed rows.
const (
	FailureTimeout     = "timeout"
	FailureRejected    = "rejected"
	FailureSubmit      = "submit_failed"
	FailureInterrupted = "interrupted"

	// The submit call timed out without a handle; the mint may have landed.
	FailureSubmitUnknown = "submit_unknown"
)

func (s AssetStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusMintFailed:
		return true
	default:
		return false
	}
}

// User is a chat account known to the ledger. ExternalID is the chat id.
type User struct {
	ID          int64     `json:"id"`
	ExternalID  int64     `json:"external_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type Asset struct {
	ID             int64          `json:"id"`
	OwnerID        int64          `json:"owner_id"`
	Name           string         `json:"name"`
	Metadata       map[string]any `json:"metadata"`
	ContentURI     string         `json:"content_uri"`
	OnchainTokenID *string        `json:"onchain_token_id"`
	ListedPrice    int64          `json:"listed_price"`
	Status         AssetStatus    `json:"status"`
	MintTx         *string        `json:"mint_tx,omitempty"`
	FailureReason  *string        `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Purchasable reports whether the asset can be bought right now.
func (a Asset) Purchasable() bool {
	return a.Status == StatusActive && a.ListedPrice > 0
}

func (a Asset) Reason() string {
	if a.FailureReason == nil {
		return ""
	}
	return *a.FailureReason
}

func (a Asset) TokenID() string {
	if a.OnchainTokenID == nil {
		return ""
	}
	return *a.OnchainTokenID
}

// clone returns a deep copy so a critical section never mutates the stored row.
func (a Asset) clone() Asset {
	out := a
	if a.Metadata != nil {
		out.Metadata = make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	out.OnchainTokenID = copyString(a.OnchainTokenID)
	out.MintTx = copyString(a.MintTx)
	out.FailureReason = copyString(a.FailureReason)
	return out
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

type AssetList struct {
	Items []Asset `json:"items"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}

type UserList struct {
	Items []User `json:"items"`
	Total int64  `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}
