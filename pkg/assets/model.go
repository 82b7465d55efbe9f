package assets

import "errors"

var (
	ErrValidation    = errors.New("invalid mint request")
	ErrContentUpload = errors.New("content upload failed")
	ErrMintFailed    = errors.New("mint failed")
	// ErrMintPending means the mint transaction is still unconfirmed.
	ErrMintPending  = errors.New("mint not yet confirmed")
	ErrNotRetryable = errors.New("asset is not in a retryable state")

	errInterrupted = errors.New("mint interrupted before submission")
)

const maxNameLength = 128

type MintRequest struct {
	OwnerID  int64
	Name     string
	Metadata map[string]any
	Content  []byte
}
