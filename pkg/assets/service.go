package assets

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/chain"
	"nftmarket/pkg/content"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/notify"
)

type AssetService interface {
	Mint(ctx context.Context, req MintRequest) (ledger.Asset, error)
	GetAssetByID(ctx context.Context, id int64) (ledger.Asset, error)
	ListAssets(ctx context.Context, page, limit int) ([]ledger.Asset, int64, error)
	// ResumeMint re-queries the recorded mint transaction of an unfinished
	// asset. It never submits a new transaction.
	ResumeMint(ctx context.Context, id int64) (ledger.Asset, error)
	// RetryMint resumes a failed mint and resubmits only when the previous
	// attempt is known not to have landed.
	RetryMint(ctx context.Context, id int64) (ledger.Asset, error)
}

type Deps struct {
	Store           ledger.Store
	Content         content.Store
	Chain           chain.Adapter
	Wallets         chain.Wallets
	Events          notify.Publisher
	ConfirmTimeout  time.Duration
	ResumeTimeout   time.Duration
	MaxContentBytes int64
}

type assetService struct {
	store          ledger.Store
	content        content.Store
	chain          chain.Adapter
	wallets        chain.Wallets
	events         notify.Publisher
	confirmTimeout time.Duration
	resumeTimeout  time.Duration
	maxBytes       int64
	now            func() time.Time
}

func NewAssetService(d Deps) AssetService {
	s := &assetService{
		store:          d.Store,
		content:        d.Content,
		chain:          d.Chain,
		wallets:        d.Wallets,
		events:         d.Events,
		confirmTimeout: d.ConfirmTimeout,
		resumeTimeout:  d.ResumeTimeout,
		maxBytes:       d.MaxContentBytes,
		now:            time.Now,
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
	if s.resumeTimeout <= 0 {
		s.resumeTimeout = 5 * time.Second
	}
	if s.maxBytes <= 0 {
		s.maxBytes = 10 << 20
	}
	return s
}

func (s *assetService) validate(ctx context.Context, req *MintRequest) error {
	if len(req.Content) == 0 {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if int64(len(req.Content)) > s.maxBytes {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, s.maxBytes)
	}
	if req.Name == "" {
		req.Name = fmt.Sprintf("NFT-%d", s.now().Unix())
	}
	if len(req.Name) > maxNameLength {
		return fmt.Errorf("%w: name longer than %d characters", ErrValidation, maxNameLength)
	}
	if req.Metadata == nil {
		req.Metadata = map[string]any{}
	}
	if _, err := s.store.GetUser(ctx, req.OwnerID); err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) || errors.Is(err, ledger.ErrInvalidID) {
			return fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return err
	}
	return nil
}

func (s *assetService) Mint(ctx context.Context, req MintRequest) (ledger.Asset, error) {
	if err := s.validate(ctx, &req); err != nil {
		return ledger.Asset{}, err
	}

	uri, err := s.content.Put(ctx, req.Content)
	if err != nil {
		return ledger.Asset{}, fmt.Errorf("%w: %w", ErrContentUpload, err)
	}

	pending, err := s.store.InsertAsset(ctx, ledger.Asset{
		OwnerID:    req.OwnerID,
		Name:       req.Name,
		Metadata:   req.Metadata,
		ContentURI: uri,
		Status:     ledger.StatusPending,
	})
	if err != nil {
		return ledger.Asset{}, err
	}

	entry := log.WithFields(log.Fields{"asset_id": pending.ID, "owner_id": req.OwnerID})
	entry.Debug("asset inserted, minting")

	var mintErr error
	asset, err := s.store.WithAssetLock(ctx, pending.ID, func(ctx context.Context, a *ledger.Asset) error {
		mintErr = s.submitAndAwait(ctx, a)
		return nil
	})
	if err != nil {
		return ledger.Asset{}, err
	}
	return asset, s.finish(asset, mintErr)
}

// submitAndAwait submits a fresh mint for a and records the outcome on it.
// A failed mint is a committed state, so the error is reported, not returned
// to the store.
func (s *assetService) submitAndAwait(ctx context.Context, a *ledger.Asset) error {
	addr, err := s.wallets.AddressFor(ctx, a.OwnerID)
	if err != nil {
		markFailed(a, ledger.FailureSubmit)
		return err
	}

	handle, err := s.chain.SubmitMint(ctx, a.ContentURI, addr)
	if errors.Is(err, chain.ErrTimeout) {
		markFailed(a, ledger.FailureSubmitUnknown)
		return err
	}
	if err != nil {
		markFailed(a, ledger.FailureSubmit)
		return err
	}
	tx := string(handle)
	a.MintTx = &tx

	return s.await(ctx, a, handle, s.confirmTimeout)
}

func (s *assetService) await(ctx context.Context, a *ledger.Asset, handle chain.TxHandle, timeout time.Duration) error {
	conf, err := s.chain.AwaitConfirmation(ctx, handle, timeout)
	switch {
	case errors.Is(err, chain.ErrTimeout):
		markFailed(a, ledger.FailureTimeout)
		return err
	case errors.Is(err, chain.ErrRejected):
		markFailed(a, ledger.FailureRejected)
		return err
	case err != nil:
		markFailed(a, ledger.FailureSubmit)
		return err
	case conf.TokenID == "":
		markFailed(a, ledger.FailureRejected)
		return fmt.Errorf("%w: confirmation carried no token id", chain.ErrRejected)
	}

	token := conf.TokenID
	a.OnchainTokenID = &token
	a.Status = ledger.StatusActive
	a.FailureReason = nil
	return nil
}

func markFailed(a *ledger.Asset, reason string) {
	a.Status = ledger.StatusMintFailed
	a.FailureReason = &reason
}

// finish logs and publishes the outcome of a mint attempt.
func (s *assetService) finish(a ledger.Asset, mintErr error) error {
	entry := log.WithFields(log.Fields{"asset_id": a.ID, "owner_id": a.OwnerID})
	if a.Status == ledger.StatusActive {
		entry.WithField("token_id", a.TokenID()).Info("asset minted")
		s.events.Publish(a.OwnerID, notify.Event{
			Type: notify.EventMinted, AssetID: a.ID, AssetName: a.Name, TokenID: a.TokenID(),
		})
		return nil
	}

	if mintErr == nil {
		mintErr = errors.New(a.Reason())
	}
	entry.WithError(mintErr).WithField("reason", a.Reason()).Warn("mint failed")
	s.events.Publish(a.OwnerID, notify.Event{Type: notify.EventMintFailed, AssetID: a.ID, AssetName: a.Name})
	return fmt.Errorf("%w: %w", ErrMintFailed, mintErr)
}

func (s *assetService) GetAssetByID(ctx context.Context, id int64) (ledger.Asset, error) {
	return s.store.GetAsset(ctx, id)
}

func (s *assetService) ListAssets(ctx context.Context, page, limit int) ([]ledger.Asset, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 10
	}
	offset := (page - 1) * limit
	return s.store.ListAssets(ctx, limit, offset)
}

func (s *assetService) ResumeMint(ctx context.Context, id int64) (ledger.Asset, error) {
	var resumeErr error
	asset, err := s.store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
		resumeErr = s.resume(ctx, a)
		return nil
	})
	if err != nil {
		return ledger.Asset{}, err
	}
	return asset, s.resumeOutcome(asset, resumeErr)
}

// resume re-awaits the recorded transaction of a. Rows without a transaction
// are marked interrupted; rows already known rejected are left alone.
func (s *assetService) resume(ctx context.Context, a *ledger.Asset) error {
	switch {
	case a.Status == ledger.StatusActive:
		return nil
	case a.MintTx == nil:
		if a.Status == ledger.StatusPending {
			markFailed(a, ledger.FailureInterrupted)
			return errInterrupted
		}
		return ErrNotRetryable
	case a.Status == ledger.StatusMintFailed && a.Reason() != ledger.FailureTimeout:
		return ErrNotRetryable
	}

	wasPending := a.Status == ledger.StatusPending
	err := s.await(ctx, a, chain.TxHandle(*a.MintTx), s.resumeTimeout)
	if errors.Is(err, chain.ErrTimeout) && wasPending {
		// Still unknown: leave the row as it was.
		a.Status = ledger.StatusPending
		a.FailureReason = nil
	}
	return err
}

func (s *assetService) resumeOutcome(a ledger.Asset, err error) error {
	switch {
	case err == nil:
		if a.Status == ledger.StatusActive {
			log.WithFields(log.Fields{"asset_id": a.ID, "token_id": a.TokenID()}).Info("mint recovered")
		}
		return nil
	case errors.Is(err, chain.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrMintPending, err)
	case errors.Is(err, ErrNotRetryable):
		return err
	default:
		return s.finish(a, err)
	}
}

func (s *assetService) RetryMint(ctx context.Context, id int64) (ledger.Asset, error) {
	var (
		mintErr   error
		attempted bool
	)
	asset, err := s.store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
		if a.Status != ledger.StatusMintFailed {
			return fmt.Errorf("%w: status is %s", ErrNotRetryable, a.Status)
		}
		if a.Reason() == ledger.FailureSubmitUnknown {
			return fmt.Errorf("%w: submission outcome unknown, verify on chain first", ErrNotRetryable)
		}

		if a.MintTx != nil && a.Reason() == ledger.FailureTimeout {
			err := s.await(ctx, a, chain.TxHandle(*a.MintTx), s.resumeTimeout)
			if !errors.Is(err, chain.ErrRejected) {
				// Confirmed, or still unknown and therefore unsafe to resubmit.
				attempted, mintErr = true, err
				return nil
			}
		}

		a.MintTx = nil
		attempted, mintErr = true, s.submitAndAwait(ctx, a)
		return nil
	})
	if err != nil {
		return ledger.Asset{}, err
	}
	if !attempted {
		return asset, nil
	}
	return asset, s.finish(asset, mintErr)
}
