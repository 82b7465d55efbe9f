package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/faults"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/notify"
)

type MarketService interface {
	List(ctx context.Context, userID, assetID, price int64) (ledger.Asset, error)
	Unlist(ctx context.Context, userID, assetID int64) (ledger.Asset, error)
	Buy(ctx context.Context, buyerID, assetID int64) (Receipt, error)
	Browse(ctx context.Context, limit int) ([]ledger.Asset, error)
}

// Deps are the collaborators of the marketplace. Chain, Faults and Events
// may be left nil.
type Deps struct {
	Store          ledger.Store
	Chain          chain.Adapter
	Wallets        chain.Wallets
	Faults         faults.Reporter
	Events         notify.Publisher
	ConfirmTimeout time.Duration
}

type marketService struct {
	store          ledger.Store
	chain          chain.Adapter
	wallets        chain.Wallets
	faults         faults.Reporter
	events         notify.Publisher
	confirmTimeout time.Duration
	now            func() time.Time
}

func NewMarketService(d Deps) MarketService {
	s := &marketService{
		store:          d.Store,
		chain:          d.Chain,
		wallets:        d.Wallets,
		faults:         d.Faults,
		events:         d.Events,
		confirmTimeout: d.ConfirmTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if s.chain == nil {
		s.chain = chain.Noop{}
	}
	if s.wallets == nil {
		s.wallets = chain.DerivedWallets{}
	}
	if s.events == nil {
		s.events = notify.Discard{}
	}
	if s.confirmTimeout <= 0 {
		s.confirmTimeout = 2 * time.Minute
	}
	return s
}

func (s *marketService) List(ctx context.Context, userID, assetID, price int64) (ledger.Asset, error) {
	if price <= 0 {
		return ledger.Asset{}, ErrInvalidPrice
	}
	asset, err := s.store.WithAssetLock(ctx, assetID, func(ctx context.Context, a *ledger.Asset) error {
		if a.Status != ledger.StatusActive {
			return ErrAssetNotActive
		}
		if a.OwnerID != userID {
			return ErrNotOwner
		}
		a.ListedPrice = price
		return nil
	})
	if err != nil {
		return ledger.Asset{}, err
	}

	log.WithFields(log.Fields{"asset_id": assetID, "user_id": userID, "price": price}).Info("asset listed")
	return asset, nil
}

func (s *marketService) Unlist(ctx context.Context, userID, assetID int64) (ledger.Asset, error) {
	return s.store.WithAssetLock(ctx, assetID, func(ctx context.Context, a *ledger.Asset) error {
		if a.OwnerID != userID {
			return ErrNotOwner
		}
		a.ListedPrice = 0
		return nil
	})
}

func (s *marketService) Buy(ctx context.Context, buyerID, assetID int64) (Receipt, error) {
	if _, err := s.store.GetUser(ctx, buyerID); err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	asset, err := s.store.WithAssetLock(ctx, assetID, func(ctx context.Context, a *ledger.Asset) error {
		if a.Status != ledger.StatusActive || a.ListedPrice <= 0 {
			return ErrNotListed
		}
		if a.OwnerID == buyerID {
			return ErrSelfPurchase
		}

		receipt = Receipt{
			AssetID:  a.ID,
			Price:    a.ListedPrice,
			SellerID: a.OwnerID,
			BuyerID:  buyerID,
			TokenID:  a.TokenID(),
		}

		handle, err := s.transferOnChain(ctx, *a, buyerID)
		if err != nil {
			return err
		}
		receipt.TxHandle = string(handle)

		a.OwnerID = buyerID
		a.ListedPrice = 0
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}

	receipt.CompletedAt = s.now()
	log.WithFields(log.Fields{
		"asset_id": receipt.AssetID,
		"seller":   receipt.SellerID,
		"buyer":    receipt.BuyerID,
		"price":    receipt.Price,
	}).Info("asset sold")

	s.events.Publish(receipt.SellerID, notify.Event{
		Type: notify.EventSold, AssetID: asset.ID, AssetName: asset.Name,
		TokenID: receipt.TokenID, Price: receipt.Price, CounterpartyID: receipt.BuyerID,
	})
	s.events.Publish(receipt.BuyerID, notify.Event{
		Type: notify.EventBought, AssetID: asset.ID, AssetName: asset.Name,
		TokenID: receipt.TokenID, Price: receipt.Price, CounterpartyID: receipt.SellerID,
	})
	return receipt, nil
}

// transferOnChain moves the token from the current owner to the buyer. It
// queries the chain first so a transfer that landed after an earlier timeout
// is never submitted twice.
func (s *marketService) transferOnChain(ctx context.Context, a ledger.Asset, buyerID int64) (chain.TxHandle, error) {
	tokenID := a.TokenID()
	if tokenID == "" || chain.IsSurrogate(tokenID) {
		return "", nil
	}

	sellerAddr, err := s.wallets.AddressFor(ctx, a.OwnerID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve seller address: %w", ErrChainTransfer, err)
	}
	buyerAddr, err := s.wallets.AddressFor(ctx, buyerID)
	if err != nil {
		return "", fmt.Errorf("%w: resolve buyer address: %w", ErrChainTransfer, err)
	}

	current, err := s.chain.CurrentOwner(ctx, tokenID)
	switch {
	case errors.Is(err, chain.ErrTokenNotFound):
		s.report(ctx, faults.Fault{
			Kind:       faults.KindMissingToken,
			AssetID:    a.ID,
			TokenID:    tokenID,
			LocalOwner: sellerAddr,
			Detail:     "token of a listed asset is unknown to the chain",
		})
		return "", fmt.Errorf("%w: %w", ErrOwnershipDivergence, err)
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrChainTransfer, err)
	}

	switch current {
	case buyerAddr:
		log.WithFields(log.Fields{"asset_id": a.ID, "token_id": tokenID}).
			Warn("earlier transfer already landed, finalizing without resubmitting")
		return "", nil
	case sellerAddr:
	default:
		s.report(ctx, faults.Fault{
			Kind:         faults.KindOwnershipDivergence,
			AssetID:      a.ID,
			TokenID:      tokenID,
			LocalOwner:   sellerAddr,
			OnchainOwner: current,
			Detail:       "on-chain owner is neither seller nor buyer",
		})
		return "", ErrOwnershipDivergence
	}

	handle, err := s.chain.SubmitTransfer(ctx, tokenID, sellerAddr, buyerAddr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrChainTransfer, err)
	}
	if _, err := s.chain.AwaitConfirmation(ctx, handle, s.confirmTimeout); err != nil {
		log.WithError(err).WithFields(log.Fields{"asset_id": a.ID, "tx": handle}).Warn("transfer not confirmed")
		return handle, fmt.Errorf("%w: %w", ErrChainTransfer, err)
	}
	return handle, nil
}

func (s *marketService) report(ctx context.Context, f faults.Fault) {
	if s.faults == nil {
		log.WithField("asset_id", f.AssetID).Error(f.String())
		return
	}
	s.faults.Report(ctx, f)
}

func (s *marketService) Browse(ctx context.Context, limit int) ([]ledger.Asset, error) {
	return s.store.ListPurchasable(ctx, limit)
}
