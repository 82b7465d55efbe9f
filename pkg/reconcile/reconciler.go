// Package reconcile periodically drives unfinished mints to a final state and
// audits ledger ownership against the chain.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/assets"
	"nftmarket/pkg/chain"
	"nftmarket/pkg/faults"
	"nftmarket/pkg/ledger"
)

const auditPageSize = 100

// errNoChange rolls back an audit section that only reads.
var errNoChange = errors.New("no change")

// MintResumer re-queries unfinished mints without resubmitting them.
type MintResumer interface {
	ResumeMint(ctx context.Context, id int64) (ledger.Asset, error)
}

type Config struct {
	Interval time.Duration
	// PendingGrace is how old a pending row must be before it is considered
	// abandoned by its minting request.
	PendingGrace time.Duration
	// StuckAfter is the age after which an unconfirmed mint is reported.
	StuckAfter time.Duration
}

// Report summarizes one reconciliation pass.
type Report struct {
	Resumed   int `json:"resumed"`
	Recovered int `json:"recovered"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Audited   int `json:"audited"`
	Faults    int `json:"faults"`
}

type Reconciler struct {
	store   ledger.Store
	resumer MintResumer
	chain   chain.Adapter
	wallets chain.Wallets
	faults  faults.Reporter
	cfg     Config
	now     func() time.Time

	mu        sync.Mutex
	scheduler *gocron.Scheduler
}

func New(store ledger.Store, resumer MintResumer, adapter chain.Adapter, wallets chain.Wallets, reporter faults.Reporter, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PendingGrace <= 0 {
		cfg.PendingGrace = 5 * time.Minute
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = time.Hour
	}
	if adapter == nil {
		adapter = chain.Noop{}
	}
	if wallets == nil {
		wallets = chain.DerivedWallets{}
	}
	return &Reconciler{
		store:   store,
		resumer: resumer,
		chain:   adapter,
		wallets: wallets,
		faults:  reporter,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start runs RunOnce every Interval in the background. Overlapping runs are skipped.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		return nil
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(r.cfg.Interval).WaitForSchedule().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Interval*4)
		defer cancel()
		rep, err := r.RunOnce(ctx)
		if err != nil {
			log.WithError(err).Warn("reconciliation pass failed")
			return
		}
		log.WithFields(log.Fields{
			"resumed":   rep.Resumed,
			"recovered": rep.Recovered,
			"failed":    rep.Failed,
			"pending":   rep.Pending,
			"audited":   rep.Audited,
			"faults":    rep.Faults,
		}).Debug("reconciliation pass done")
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	s.StartAsync()
	r.scheduler = s
	log.WithField("interval", r.cfg.Interval).Info("reconciler started")
	return nil
}

func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduler != nil {
		r.scheduler.Stop()
		r.scheduler = nil
	}
}

// RunOnce resumes unfinished mints and audits active tokens.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var rep Report
	if err := r.resumeMints(ctx, &rep); err != nil {
		return rep, err
	}
	if err := r.audit(ctx, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Reconciler) resumeMints(ctx context.Context, rep *Report) error {
	pending, err := r.store.ListAssetsByStatus(ctx, ledger.StatusPending, auditPageSize)
	if err != nil {
		return fmt.Errorf("list pending assets: %w", err)
	}
	failed, err := r.store.ListAssetsByStatus(ctx, ledger.StatusMintFailed, auditPageSize)
	if err != nil {
		return fmt.Errorf("list failed assets: %w", err)
	}

	now := r.now()
	candidates := make([]ledger.Asset, 0, len(pending)+len(failed))
	for _, a := range pending {
		if now.Sub(a.CreatedAt) >= r.cfg.PendingGrace {
			candidates = append(candidates, a)
		}
	}
	for _, a := range failed {
		switch {
		case a.MintTx != nil && a.Reason() == ledger.FailureTimeout:
			candidates = append(candidates, a)
		case a.Reason() == ledger.FailureSubmitUnknown:
			// No handle to query; an operator has to look the mint up.
			rep.Faults++
			r.report(ctx, faults.Fault{
				Kind:    faults.KindUnknownSubmission,
				AssetID: a.ID,
				Detail:  fmt.Sprintf("mint submission for %s timed out without a transaction handle", a.ContentURI),
			})
		}
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.Resumed++
		got, err := r.resumer.ResumeMint(ctx, c.ID)
		entry := log.WithField("asset_id", c.ID)
		switch {
		case err == nil && got.Status == ledger.StatusActive:
			rep.Recovered++
		case errors.Is(err, assets.ErrMintPending):
			rep.Pending++
			if now.Sub(c.CreatedAt) >= r.cfg.StuckAfter {
				rep.Faults++
				r.report(ctx, faults.Fault{
					Kind:    faults.KindStuckMint,
					AssetID: c.ID,
					Detail:  fmt.Sprintf("mint transaction %s unconfirmed since %s", deref(c.MintTx), c.CreatedAt.Format(time.RFC3339)),
				})
			}
		case errors.Is(err, assets.ErrMintFailed):
			rep.Failed++
		case err != nil && !errors.Is(err, assets.ErrNotRetryable):
			entry.WithError(err).Warn("resume mint failed")
		}
	}
	return nil
}

func (r *Reconciler) audit(ctx context.Context, rep *Report) error {
	for offset := 0; ; offset += auditPageSize {
		items, total, err := r.store.ListAssets(ctx, auditPageSize, offset)
		if err != nil {
			return fmt.Errorf("list assets: %w", err)
		}
		for _, a := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if a.Status != ledger.StatusActive || a.TokenID() == "" || chain.IsSurrogate(a.TokenID()) {
				continue
			}
			rep.Audited++
			if r.auditAsset(ctx, a.ID) {
				rep.Faults++
			}
		}
		if len(items) == 0 || int64(offset+auditPageSize) >= total {
			return nil
		}
	}
}

// auditAsset compares the ledger owner with the chain under the asset lock so
// an in-flight purchase is never mistaken for divergence.
func (r *Reconciler) auditAsset(ctx context.Context, id int64) bool {
	var fault *faults.Fault
	_, err := r.store.WithAssetLock(ctx, id, func(ctx context.Context, a *ledger.Asset) error {
		expected, err := r.wallets.AddressFor(ctx, a.OwnerID)
		if err != nil {
			return err
		}
		current, err := r.chain.CurrentOwner(ctx, a.TokenID())
		switch {
		case errors.Is(err, chain.ErrTokenNotFound):
			fault = &faults.Fault{
				Kind: faults.KindMissingToken, AssetID: a.ID, TokenID: a.TokenID(),
				LocalOwner: expected, Detail: "active asset token is unknown to the chain",
			}
		case err != nil:
			return err
		case current != expected:
			fault = &faults.Fault{
				Kind: faults.KindOwnershipDivergence, AssetID: a.ID, TokenID: a.TokenID(),
				LocalOwner: expected, OnchainOwner: current, Detail: "ledger owner differs from chain owner",
			}
		}
		return errNoChange
	})
	if err != nil && !errors.Is(err, errNoChange) {
		log.WithError(err).WithField("asset_id", id).Warn("ownership audit skipped")
		return false
	}
	if fault == nil {
		return false
	}
	r.report(ctx, *fault)
	return true
}

func (r *Reconciler) report(ctx context.Context, f faults.Fault) {
	if r.faults == nil {
		log.WithField("asset_id", f.AssetID).Error(f.String())
		return
	}
	r.faults.Report(ctx, f)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
