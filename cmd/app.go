package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"nftmarket/pkg/admin"
	"nftmarket/pkg/assets"
	"nftmarket/pkg/chain"
	"nftmarket/pkg/config"
	"nftmarket/pkg/content"
	"nftmarket/pkg/db"
	"nftmarket/pkg/faults"
	"nftmarket/pkg/ledger"
	"nftmarket/pkg/market"
	"nftmarket/pkg/notify"
	"nftmarket/pkg/reconcile"
	"nftmarket/pkg/sendemail"
	"nftmarket/pkg/users"
)

// application owns every long-lived collaborator of the engine.
type application struct {
	cfg *config.Config

	pool  *pgxpool.Pool
	redis *redis.Client
	nats  *nats.Conn

	store   ledger.Store
	content content.Store
	chain   chain.Adapter
	wallets chain.Wallets
	faults  *faults.Recorder
	events  *notify.ConnectionManager

	users      users.UserService
	assets     assets.AssetService
	market     market.MarketService
	reconciler *reconcile.Reconciler
	admin      admin.AdminService
}

func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	a := &application{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	locker, err := a.buildLocker(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.buildStore(ctx, locker); err != nil {
		return nil, err
	}
	if err := a.buildContent(); err != nil {
		return nil, err
	}
	if err := a.buildChain(); err != nil {
		return nil, err
	}

	var alerter faults.Alerter
	if cfg.SendGridAPIKey != "" && cfg.OperatorEmail != "" {
		alerter = sendemail.NewEmailService(cfg.SendGridAPIKey, cfg.SendGridSenderEmail, cfg.SendGridSenderName, cfg.OperatorEmail)
	}
	a.faults = faults.NewRecorder(200, alerter)
	a.faults.SetRealertInterval(cfg.FaultRealertInterval)
	a.events = notify.NewConnectionManager()

	a.users = users.NewUserService(a.store)
	a.assets = assets.NewAssetService(assets.Deps{
		Store:           a.store,
		Content:         a.content,
		Chain:           a.chain,
		Wallets:         a.wallets,
		Events:          a.events,
		ConfirmTimeout:  cfg.ChainConfirmTimeout,
		MaxContentBytes: cfg.MaxContentBytes,
	})
	a.market = market.NewMarketService(market.Deps{
		Store:          a.store,
		Chain:          a.chain,
		Wallets:        a.wallets,
		Faults:         a.faults,
		Events:         a.events,
		ConfirmTimeout: cfg.ChainConfirmTimeout,
	})
	a.reconciler = reconcile.New(a.store, a.assets, a.chain, a.wallets, a.faults, reconcile.Config{
		Interval:     cfg.ReconcileInterval,
		PendingGrace: cfg.PendingMintGrace,
	})
	a.admin = admin.NewAdminService(a.store, a.faults, a.assets, a.reconciler)

	ok = true
	return a, nil
}

func (a *application) buildLocker(ctx context.Context) (ledger.Locker, error) {
	if a.cfg.LockBackend != config.LockRedis {
		return ledger.NewLockTable(), nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	log.Info("connected to Redis, asset locks are shared")
	return ledger.NewRedisLocker(a.redis, a.cfg.RedisLockTTL), nil
}

func (a *application) buildStore(ctx context.Context, locker ledger.Locker) error {
	if a.cfg.LedgerBackend == config.LedgerMemory {
		log.Warn("using the in-memory ledger, state is lost on restart")
		a.store = ledger.NewMemoryStore(locker)
		return nil
	}
	if a.cfg.MigrateOnStart {
		if err := db.MigrateUp(a.cfg.DatabaseURL); err != nil {
			return err
		}
	}
	pool, err := db.Connect(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.pool = pool
	a.store = ledger.NewPostgresStore(pool, locker)
	return nil
}

func (a *application) buildContent() error {
	if a.cfg.ContentBackend == config.ContentIPFS {
		a.content = content.NewIPFSStore(content.IPFSConfig{
			APIURL:        a.cfg.IPFSAPIURL,
			ProjectID:     a.cfg.IPFSProjectID,
			ProjectSecret: a.cfg.IPFSProjectSecret,
			GatewayURL:    a.cfg.IPFSGatewayURL,
		})
		return nil
	}
	cs, err := content.NewLocalStore(a.cfg.ContentDir, a.cfg.ContentPublicURL)
	if err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	a.content = cs
	return nil
}

func (a *application) buildChain() error {
	switch a.cfg.ChainBackend {
	case config.ChainNATS:
		nc, err := chain.ConnectNATS(a.cfg.NATSURL, "nftmarket")
		if err != nil {
			return err
		}
		a.nats = nc
		relay := chain.NewNATSRelay(nc, a.cfg.ChainSubjectPrefix)
		relay.SetRequestTimeout(a.cfg.ChainRequestTimeout)
		a.chain = relay
		a.wallets = relay
	case config.ChainSim:
		log.Warn("using the chain simulator")
		a.chain = chain.NewSimulator(0)
		a.wallets = chain.DerivedWallets{Salt: a.cfg.WalletSalt}
	default:
		log.Info("no chain configured, tokens get local surrogate ids")
		a.chain = chain.Noop{}
		a.wallets = chain.DerivedWallets{Salt: a.cfg.WalletSalt}
	}
	return nil
}

func (a *application) Close() {
	if a.reconciler != nil {
		a.reconciler.Stop()
	}
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			log.WithError(err).Warn("NATS drain failed")
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
