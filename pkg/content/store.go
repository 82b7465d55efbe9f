// Package content persists raw asset content and hands back a stable,
// content-derived address for it.
package content

import (
	"context"
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"
)

var (
	ErrStoreUnavailable = errors.New("content store unavailable")
	ErrEmptyContent     = errors.New("content is empty")
)

type Store interface {
	// Put stores data and returns its address. Storing the same bytes twice
	// yields a usable address both times.
	Put(ctx context.Context, data []byte) (string, error)
}

// Digest returns the hex blake3 digest used to address data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
