package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/buildmarket/pkg/auth"
	"github.com/Mindburn-Labs/buildmarket/pkg/capability"
	"github.com/Mindburn-Labs/buildmarket/pkg/config"
	"github.com/Mindburn-Labs/buildmarket/pkg/escrow"
	"github.com/Mindburn-Labs/buildmarket/pkg/sqldb"
	"github.com/Mindburn-Labs/buildmarket/pkg/store"
)

const redisPrefix = "buildmarket"

// Files under the data directory.
const (
	capabilitySeedFile = "capability.seed"
	jwtSeedFile        = "jwt.seed"
	adminTokenFile     = "admin.capability"
)

type backends struct {
	store   store.Store
	custody escrow.Custody
	close   func() error
}

func setupBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Printf("[buildmarket] memory mode: state is lost on exit")
		return &backends{store: store.NewMemoryStore(), custody: escrow.NewMemoryVault(), close: func() error { return nil }}, nil

	case config.BackendSQLite, config.BackendPostgres:
		dsn := ""
		if cfg.StoreBackend == config.BackendPostgres {
			dsn = cfg.DatabaseURL
		}
		db, dialect, err := sqldb.Open(ctx, dsn, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		if dialect == sqldb.SQLite {
			log.Printf("[buildmarket] lite mode: using sqlite at %s", filepath.Join(cfg.DataDir, "buildmarket.db"))
		} else {
			log.Println("[buildmarket] postgres: connected")
		}

		st := store.NewSQLStore(db, dialect)
		if err := st.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init job store: %w", err)
		}
		cust := escrow.NewSQLCustody(db, dialect)
		if err := cust.Init(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to init custody: %w", err)
		}
		return &backends{store: st, custody: cust, close: db.Close}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		log.Printf("[buildmarket] redis: connected to %s", cfg.Redis.Addr)
		return &backends{
			store:   store.NewRedisStore(client, redisPrefix),
			custody: escrow.NewRedisCustody(client, redisPrefix),
			close:   client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func loadAuthority(dataDir string) (*capability.Authority, error) {
	keys, err := capability.LoadOrCreateKeyring(filepath.Join(dataDir, capabilitySeedFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load capability keyring: %w", err)
	}
	return capability.NewAuthority(keys), nil
}

func loadKeySet(dataDir string) (*auth.KeySet, error) {
	ks, err := auth.LoadOrCreateKeySet(filepath.Join(dataDir, jwtSeedFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load token keyset: %w", err)
	}
	return ks, nil
}

// ensureAdminToken mints the admin capability and writes it to the data
// directory unless a token file already exists. It returns the token path.
func ensureAdminToken(a *capability.Authority, dataDir string) (string, bool, error) {
	path := filepath.Join(dataDir, adminTokenFile)
	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}
	admin, err := a.MintAdmin()
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", false, err
	}
	if err := os.WriteFile(path, []byte(a.EncodeAdmin(admin)+"\n"), 0o600); err != nil {
		return "", false, fmt.Errorf("write admin capability: %w", err)
	}
	return path, true, nil
}
