package chain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Noop stands in when no chain is configured: mints confirm at once with a
// surrogate token id and the local ledger is authoritative.
type Noop struct{}

func (Noop) SubmitMint(ctx context.Context, contentURI, ownerAddress string) (TxHandle, error) {
	return TxHandle(SurrogatePrefix + uuid.NewString()), nil
}

func (Noop) SubmitTransfer(ctx context.Context, tokenID, fromAddress, toAddress string) (TxHandle, error) {
	return TxHandle("noop-transfer-" + uuid.NewString()), nil
}

func (Noop) AwaitConfirmation(ctx context.Context, handle TxHandle, timeout time.Duration) (Confirmation, error) {
	conf := Confirmation{Handle: handle}
	if strings.HasPrefix(string(handle), SurrogatePrefix) {
		conf.TokenID = string(handle)
	}
	return conf, nil
}

func (Noop) CurrentOwner(ctx context.Context, tokenID string) (string, error) {
	return "", ErrTokenNotFound
}
