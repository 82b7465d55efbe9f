package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"nftmarket/pkg/chain"
)

const (
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"

	LockLocal = "local"
	LockRedis = "redis"

	ContentLocal = "local"
	ContentIPFS  = "ipfs"

	ChainNone = "none"
	ChainSim  = "sim"
	ChainNATS = "nats"
)

// sectionRelayCalls is how many bounded relayer requests a purchase makes
// before its confirmation wait.
const sectionRelayCalls = 4

type Config struct {
	Env                  string
	Port                 string
	EnableTLS            bool
	TLSCertPath          string
	TLSKeyPath           string
	TLSCert              string
	TLSKey               string
	TLSSelfSigned        bool
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	LedgerBackend     string
	DatabaseURL       string
	DBMaxConns        int32
	DBMinConns        int32
	DBMaxConnIdleTime time.Duration
	MigrateOnStart    bool

	LockBackend  string
	RedisURL     string
	RedisLockTTL time.Duration

	ContentBackend    string
	ContentDir        string
	ContentPublicURL  string
	IPFSAPIURL        string
	IPFSProjectID     string
	IPFSProjectSecret string
	IPFSGatewayURL    string
	MaxContentBytes   int64

	ChainBackend        string
	NATSURL             string
	ChainSubjectPrefix  string
	ChainConfirmTimeout time.Duration
	ChainRequestTimeout time.Duration
	WalletSalt          string

	ReconcileInterval    time.Duration
	PendingMintGrace     time.Duration
	FaultRealertInterval time.Duration

	AdminTokenHash      string
	SendGridAPIKey      string
	SendGridSenderEmail string
	SendGridSenderName  string
	OperatorEmail       string

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("ENABLE_TLS", false)
	v.SetDefault("TLS_SELF_SIGNED", true)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("CORS_ALLOW_CREDENTIALS", false)

	v.SetDefault("LEDGER_BACKEND", LedgerPostgres)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", "5m")
	v.SetDefault("MIGRATE_ON_START", true)

	v.SetDefault("LOCK_BACKEND", LockLocal)
	v.SetDefault("REDIS_LOCK_TTL", "2m")

	v.SetDefault("CONTENT_BACKEND", ContentLocal)
	v.SetDefault("CONTENT_DIR", "content")
	v.SetDefault("IPFS_API_URL", "https://ipfs.infura.io:5001")
	v.SetDefault("IPFS_GATEWAY_URL", "https://ipfs.io/ipfs/")
	v.SetDefault("MAX_CONTENT_BYTES", 10<<20)

	v.SetDefault("CHAIN_BACKEND", ChainNone)
	v.SetDefault("NATS_URL", "nats://127.0.0.1:4222")
	v.SetDefault("CHAIN_SUBJECT_PREFIX", "chain")
	v.SetDefault("CHAIN_CONFIRM_TIMEOUT", "60s")
	v.SetDefault("CHAIN_REQUEST_TIMEOUT", "10s")

	v.SetDefault("RECONCILE_INTERVAL", "1m")
	v.SetDefault("PENDING_MINT_GRACE", "5m")
	v.SetDefault("FAULT_REALERT_INTERVAL", "1h")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	env := strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV")))
	if env == "" {
		env = "development"
	}

	cfg := &Config{
		Env:                  env,
		Port:                 v.GetString("SERVER_PORT"),
		EnableTLS:            v.GetBool("ENABLE_TLS"),
		TLSCertPath:          v.GetString("TLS_CERT_PATH"),
		TLSKeyPath:           v.GetString("TLS_KEY_PATH"),
		TLSCert:              v.GetString("TLS_CERT"),
		TLSKey:               v.GetString("TLS_KEY"),
		TLSSelfSigned:        v.GetBool("TLS_SELF_SIGNED"),
		CORSAllowedOrigins:   splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		CORSAllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),

		LedgerBackend:     strings.ToLower(v.GetString("LEDGER_BACKEND")),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DBMaxConns:        v.GetInt32("DB_MAX_CONNS"),
		DBMinConns:        v.GetInt32("DB_MIN_CONNS"),
		DBMaxConnIdleTime: v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
		MigrateOnStart:    v.GetBool("MIGRATE_ON_START"),

		LockBackend:  strings.ToLower(v.GetString("LOCK_BACKEND")),
		RedisURL:     v.GetString("REDIS_URL"),
		RedisLockTTL: v.GetDuration("REDIS_LOCK_TTL"),

		ContentBackend:    strings.ToLower(v.GetString("CONTENT_BACKEND")),
		ContentDir:        v.GetString("CONTENT_DIR"),
		ContentPublicURL:  v.GetString("CONTENT_PUBLIC_URL"),
		IPFSAPIURL:        v.GetString("IPFS_API_URL"),
		IPFSProjectID:     v.GetString("IPFS_PROJECT_ID"),
		IPFSProjectSecret: v.GetString("IPFS_PROJECT_SECRET"),
		IPFSGatewayURL:    v.GetString("IPFS_GATEWAY_URL"),
		MaxContentBytes:   v.GetInt64("MAX_CONTENT_BYTES"),

		ChainBackend:        strings.ToLower(v.GetString("CHAIN_BACKEND")),
		NATSURL:             v.GetString("NATS_URL"),
		ChainSubjectPrefix:  v.GetString("CHAIN_SUBJECT_PREFIX"),
		ChainConfirmTimeout: v.GetDuration("CHAIN_CONFIRM_TIMEOUT"),
		ChainRequestTimeout: v.GetDuration("CHAIN_REQUEST_TIMEOUT"),
		WalletSalt:          v.GetString("WALLET_SALT"),

		ReconcileInterval:    v.GetDuration("RECONCILE_INTERVAL"),
		PendingMintGrace:     v.GetDuration("PENDING_MINT_GRACE"),
		FaultRealertInterval: v.GetDuration("FAULT_REALERT_INTERVAL"),

		AdminTokenHash:      v.GetString("ADMIN_TOKEN_HASH"),
		SendGridAPIKey:      v.GetString("SENDGRID_API_KEY"),
		SendGridSenderEmail: v.GetString("SENDGRID_SENDER_EMAIL"),
		SendGridSenderName:  v.GetString("SENDGRID_SENDER_NAME"),
		OperatorEmail:       v.GetString("OPERATOR_EMAIL"),

		LogLevel:  v.GetString("LOG_LEVEL"),
		LogFormat: strings.ToLower(v.GetString("LOG_FORMAT")),
	}

	// Enforce TLS in production
	if cfg.Env == "production" {
		cfg.EnableTLS = true
	}
	if cfg.Port == "" {
		if cfg.EnableTLS {
			cfg.Port = "8443"
		} else {
			cfg.Port = "8080"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when LEDGER_BACKEND=%s", LedgerPostgres)
		}
		if c.DBMaxConns < 2 {
			return fmt.Errorf("DB_MAX_CONNS must be at least 2 so reads are not starved by locked sections")
		}
	case LedgerMemory:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}

	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when LOCK_BACKEND=%s", LockRedis)
		}
		if budget := c.SectionBudget(); c.RedisLockTTL <= budget {
			return fmt.Errorf("REDIS_LOCK_TTL (%s) must exceed the longest locked section (%s)", c.RedisLockTTL, budget)
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}

	switch c.ContentBackend {
	case ContentLocal, ContentIPFS:
	default:
		return fmt.Errorf("unknown CONTENT_BACKEND %q", c.ContentBackend)
	}

	switch c.ChainBackend {
	case ChainNone, ChainSim, ChainNATS:
	default:
		return fmt.Errorf("unknown CHAIN_BACKEND %q", c.ChainBackend)
	}

	if c.ChainConfirmTimeout <= 0 {
		return fmt.Errorf("CHAIN_CONFIRM_TIMEOUT must be positive")
	}
	if c.ChainBackend == ChainNATS && c.ChainRequestTimeout <= 0 {
		return fmt.Errorf("CHAIN_REQUEST_TIMEOUT must be positive")
	}
	if c.MaxContentBytes <= 0 {
		return fmt.Errorf("MAX_CONTENT_BYTES must be positive")
	}

	if c.Env == "production" {
		if !c.EnableTLS {
			return fmt.Errorf("TLS must be enabled in production")
		}
		files := c.TLSCertPath != "" && c.TLSKeyPath != ""
		inline := c.TLSCert != "" && c.TLSKey != ""
		if !files && !inline {
			return fmt.Errorf("TLS_CERT_PATH and TLS_KEY_PATH (or TLS_CERT and TLS_KEY) are required in production")
		}
	}
	return nil
}

// SectionBudget is the longest a purchase can hold an asset lock: two wallet
// lookups, an owner check and a transfer submit against the relayer, then the
// confirmation wait plus the relay's reply headroom.
func (c *Config) SectionBudget() time.Duration {
	budget := c.ChainConfirmTimeout + chain.AwaitHeadroom
	if c.ChainBackend == ChainNATS {
		budget += sectionRelayCalls * c.ChainRequestTimeout
	}
	return budget
}

// SetupLogger configures the package-level logrus logger.
func (c *Config) SetupLogger() {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		log.Warnf("invalid LOG_LEVEL %q, using info", c.LogLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if o := strings.TrimSpace(p); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
