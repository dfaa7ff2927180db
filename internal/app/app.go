// Package app wires the encryption layer together for a client
// process: mongo-backed stores, redis-backed caches, the bundle
// directory and the crypto facade. Callers construct one App per
// account and use its Crypto service.
package app

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"chatcipher/internal/config"
	"chatcipher/internal/directory"
	identityRepo "chatcipher/internal/repository/identity"
	messageRepo "chatcipher/internal/repository/message"
	cryptoSvc "chatcipher/internal/service/crypto"
	redisSvc "chatcipher/internal/service/redis"
	"chatcipher/internal/session"
)

const (
	bundleCacheTTL  = 24 * time.Hour
	ratchetStateTTL = 30 * 24 * time.Hour
)

type (
	Options struct {
		// Policy controls when the directory refreshes from the remote
		// bundle service.
		Policy   directory.RefreshPolicy
		StaleTTL time.Duration

		// FailClosed drops outgoing messages that cannot be encrypted
		// instead of sending them as plaintext.
		FailClosed bool
	}

	App struct {
		Crypto    *cryptoSvc.Service
		Directory *directory.Directory

		remote *directory.HTTPClient
	}
)

// New composes the encryption layer for one account.
func New(cfg *config.Config, accountID string, db *mongo.Database, opts Options) *App {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redis := redisSvc.NewRedis(rdb)

	remote := directory.NewHTTPClient(cfg.Server.Addr)
	dir := directory.New(remote, directory.NewRedisCache(redis, bundleCacheTTL), directory.Options{
		Policy:   opts.Policy,
		StaleTTL: opts.StaleTTL,
	})

	factory := session.NewFactory(session.NewRedisStateStore(redis, ratchetStateTTL))

	svc := cryptoSvc.New(
		accountID,
		dir,
		factory,
		messageRepo.NewRepo(db),
		identityRepo.NewRepo(db),
		cryptoSvc.Options{FailClosed: opts.FailClosed},
	)

	return &App{
		Crypto:    svc,
		Directory: dir,
		remote:    remote,
	}
}

// WatchBundleChanges subscribes to the bundle service's change feed and
// invalidates the directory's in-memory copies until ctx ends.
func (a *App) WatchBundleChanges(ctx context.Context) error {
	events, err := a.remote.Subscribe(ctx)
	if err != nil {
		return err
	}
	go a.Directory.WatchInvalidate(events)
	return nil
}
