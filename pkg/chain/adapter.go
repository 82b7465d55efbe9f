// Package chain is the boundary to the external, eventually-confirmed ledger
// that records token ownership. Every call may be slow or fail; nothing here
// is assumed to succeed synchronously.
package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

var (
	// ErrTimeout means the transaction was not confirmed in time. It may still land.
	ErrTimeout = errors.New("chain confirmation timed out")
	// ErrRejected means the transaction definitely failed.
	ErrRejected      = errors.New("chain transaction rejected")
	ErrTokenNotFound = errors.New("token not found on chain")
	ErrUnknownTx     = errors.New("unknown transaction handle")
	ErrUnavailable   = errors.New("chain adapter unavailable")
)

// SurrogatePrefix marks token ids assigned locally when no chain is configured.
const SurrogatePrefix = "local-"

type TxHandle string

type Confirmation struct {
	Handle  TxHandle `json:"handle"`
	TokenID string   `json:"token_id,omitempty"`
}

type Adapter interface {
	SubmitMint(ctx context.Context, contentURI, ownerAddress string) (TxHandle, error)
	SubmitTransfer(ctx context.Context, tokenID, fromAddress, toAddress string) (TxHandle, error)
	// AwaitConfirmation may be called again with the same handle; it never resubmits.
	AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error)
	CurrentOwner(ctx context.Context, tokenID string) (string, error)
}

// Wallets resolves the on-chain address a user's assets are held at. Key
// custody stays with the signing collaborator behind it.
type Wallets interface {
	AddressFor(ctx context.Context, userID int64) (string, error)
}

// IsSurrogate reports whether tokenID was assigned locally and has no chain record.
func IsSurrogate(tokenID string) bool {
	return strings.HasPrefix(tokenID, SurrogatePrefix)
}

// DerivedWallets maps users to deterministic custodial addresses.
type DerivedWallets struct {
	Salt string
}

func (w DerivedWallets) AddressFor(ctx context.Context, userID int64) (string, error) {
	h := blake3.New()
	h.Write([]byte(w.Salt))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(userID, 10)))
	sum := h.Sum(nil)
	return "0x" + hex.EncodeToString(sum[:20]), nil
}
