// Package admin serves the operator views: a ledger report, recent
// consistency faults and manual mint recovery.
package admin

import (
	"context"

	"nftmarket/pkg/faults"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/reconcile"
)

const reportScanPage = 100

type FaultSource interface {
	Recent() []faults.Fault
}

type MintRetrier interface {
	RetryMint(ctx context.Context, id int64) (ledger.Asset, error)
}

type ReconcileRunner interface {
	RunOnce(ctx context.Context) (reconcile.Report, error)
}

type Report struct {
	Users      ledger.UserList            `json:"users"`
	Assets     ledger.AssetList           `json:"assets"`
	ByStatus   map[ledger.AssetStatus]int `json:"by_status"`
	Listed     int                        `json:"listed"`
	FaultCount int                        `json:"fault_count"`
}

type AdminService interface {
	BuildReport(ctx context.Context, page, limit int) (Report, error)
	Faults() []faults.Fault
	RetryMint(ctx context.Context, id int64) (ledger.Asset, error)
	Reconcile(ctx context.Context) (reconcile.Report, error)
}

type adminService struct {
	store      ledger.Store
	faults     FaultSource
	retrier    MintRetrier
	reconciler ReconcileRunner
}

func NewAdminService(store ledger.Store, fs FaultSource, retrier MintRetrier, reconciler ReconcileRunner) AdminService {
	return &adminService{store: store, faults: fs, retrier: retrier, reconciler: reconciler}
}

func (s *adminService) BuildReport(ctx context.Context, page, limit int) (Report, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	offset := (page - 1) * limit

	users, userTotal, err := s.store.ListUsers(ctx, limit, offset)
	if err != nil {
		return Report{}, err
	}
	items, assetTotal, err := s.store.ListAssets(ctx, limit, offset)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Users:    ledger.UserList{Items: users, Total: userTotal, Page: page, Limit: limit},
		Assets:   ledger.AssetList{Items: items, Total: assetTotal, Page: page, Limit: limit},
		ByStatus: map[ledger.AssetStatus]int{},
	}
	for off := 0; ; off += reportScanPage {
		batch, total, err := s.store.ListAssets(ctx, reportScanPage, off)
		if err != nil {
			return Report{}, err
		}
		for _, a := range batch {
			rep.ByStatus[a.Status]++
			if a.Purchasable() {
				rep.Listed++
			}
		}
		if len(batch) == 0 || int64(off+reportScanPage) >= total {
			break
		}
	}
	rep.FaultCount = len(s.Faults())
	return rep, nil
}

func (s *adminService) Faults() []faults.Fault {
	if s.faults == nil {
		return []faults.Fault{}
	}
	return s.faults.Recent()
}

func (s *adminService) RetryMint(ctx context.Context, id int64) (ledger.Asset, error) {
	return s.retrier.RetryMint(ctx, id)
}

func (s *adminService) Reconcile(ctx context.Context) (reconcile.Report, error) {
	return s.reconciler.RunOnce(ctx)
}
