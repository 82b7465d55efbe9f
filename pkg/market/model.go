package market

import (
	"errors"
	"time"
)

var (
	ErrInvalidPrice        = errors.New("price must be a positive amount")
	ErrNotOwner            = errors.New("requester does not own the asset")
	ErrNotListed           = errors.New("asset is not listed for sale")
	ErrSelfPurchase        = errors.New("cannot buy your own asset")
	ErrAssetNotActive      = errors.New("asset is not active")
	ErrChainTransfer       = errors.New("on-chain transfer failed")
	ErrOwnershipDivergence = errors.New("ledger and chain disagree on the owner")
)

// Receipt describes a completed purchase.
type Receipt struct {
	AssetID     int64     `json:"asset_id"`
	Price       int64     `json:"price"`
	SellerID    int64     `json:"seller_id"`
	BuyerID     int64     `json:"buyer_id"`
	TokenID     string    `json:"token_id"`
	TxHandle    string    `json:"tx_handle,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

type ListRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
	Price  int64 `json:"price" binding:"required"`
}

type OwnerRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}
