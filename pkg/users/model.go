package users

import (
	"errors"

	"nftmarket/pkg/ledger"
)

var ErrInvalidExternalID = errors.New("external_id must be positive")

const maxDisplayNameLength = 64

// Profile is a user together with the assets they currently own.
type Profile struct {
	User   ledger.User      `json:"user"`
	Assets ledger.AssetList `json:"assets"`
}
