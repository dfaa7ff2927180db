// Package directory resolves user identifiers to the bundle collections
// needed to start sessions with them. It layers an advisory local cache
// under the authoritative remote service and deduplicates concurrent
// resolutions per user.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chatcipher/internal/model"
	"chatcipher/internal/utils/log"
)

var (
	// ErrBundleUnavailable means neither the remote service nor the
	// local cache could produce a bundle collection. Hard error for the
	// encrypt/decrypt path: a missing bundle never means "no encryption
	// needed".
	ErrBundleUnavailable = errors.New("bundle collection unavailable")

	// ErrPublishFailed means the remote write was not acknowledged. The
	// local identity must not be marked published when this is returned.
	ErrPublishFailed = errors.New("bundle publish failed")
)

// RefreshPolicy decides when Resolve consults the remote service.
type RefreshPolicy int

const (
	// AlwaysRefresh hits the remote service on every resolution and
	// treats the cache purely as a fallback. Freshness over latency.
	AlwaysRefresh RefreshPolicy = iota

	// CacheFirst serves a cache hit without touching the remote.
	CacheFirst

	// RefreshIfStale serves an in-memory copy younger than StaleTTL,
	// otherwise behaves like AlwaysRefresh.
	RefreshIfStale
)

type Options struct {
	Policy   RefreshPolicy
	StaleTTL time.Duration
	MemoSize int
}

type Directory struct {
	remote Remote
	cache  Cache
	policy RefreshPolicy
	ttl    time.Duration

	memo  gcache.Cache
	group singleflight.Group
}

func New(remote Remote, cache Cache, opts Options) *Directory {
	size := opts.MemoSize
	if size <= 0 {
		size = 256
	}
	ttl := opts.StaleTTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Directory{
		remote: remote,
		cache:  cache,
		policy: opts.Policy,
		ttl:    ttl,
		memo:   gcache.New(size).LRU().Build(),
	}
}

// Resolve returns the bundle collection for userID according to the
// configured refresh policy. Concurrent resolutions for the same user
// share one lookup.
func (d *Directory) Resolve(ctx context.Context, userID string) (*model.BundleCollection, error) {
	v, err, _ := d.group.Do(userID, func() (any, error) {
		return d.resolve(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.BundleCollection), nil
}

func (d *Directory) resolve(ctx context.Context, userID string) (*model.BundleCollection, error) {
	if d.policy == RefreshIfStale {
		if v, err := d.memo.Get(userID); err == nil {
			return v.(*model.BundleCollection), nil
		}
	}

	cached, err := d.cache.Read(ctx, userID)
	if err != nil {
		log.Warn("bundle cache read failed", zap.String("user_id", userID), zap.Error(err))
		cached = nil
	}

	if d.policy == CacheFirst && cached != nil {
		return cached, nil
	}

	fresh, err := d.remote.Fetch(ctx, userID)
	if err != nil {
		if cached != nil {
			// serve stale: the cache is advisory but better than failing
			log.Warn("remote bundle fetch failed, serving cached collection",
				zap.String("user_id", userID), zap.Error(err))
			return cached, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBundleUnavailable, err)
	}

	if err := d.cache.Write(ctx, userID, fresh); err != nil {
		log.Warn("bundle cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err := d.memo.SetWithExpire(userID, fresh, d.ttl); err != nil {
		log.Warn("bundle memo write failed", zap.String("user_id", userID), zap.Error(err))
	}

	return fresh, nil
}

// Publish merges the local device's bundle into the user's collection
// (add-or-replace by DeviceID) and pushes it to the remote service. The
// local cache is updated only after the remote write is acknowledged, so
// a device never believes it is registered when it is not.
func (d *Directory) Publish(ctx context.Context, userID string, deviceID model.DeviceID, bundle model.PublicKeyBundle) (*model.BundleCollection, error) {
	col, err := d.remote.Fetch(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrRemoteNotFound) {
			log.Warn("fetch before publish failed, starting empty collection",
				zap.String("user_id", userID), zap.Error(err))
		}
		col = model.NewBundleCollection(userID)
	}

	col.Put(deviceID, bundle)

	if err := d.remote.Publish(ctx, col); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	if err := d.cache.Write(ctx, userID, col); err != nil {
		log.Warn("bundle cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err := d.memo.SetWithExpire(userID, col, d.ttl); err != nil {
		log.Warn("bundle memo write failed", zap.String("user_id", userID), zap.Error(err))
	}

	return col, nil
}

// Invalidate drops the in-memory copy for userID, e.g. on a
// bundle-change event from the subscription feed.
func (d *Directory) Invalidate(userID string) {
	d.memo.Remove(userID)
}

// WatchInvalidate consumes bundle-change events until the channel closes
// and invalidates the affected users.
func (d *Directory) WatchInvalidate(events <-chan BundleEvent) {
	for ev := range events {
		log.Debug("bundle changed remotely", zap.String("user_id", ev.UserID))
		d.Invalidate(ev.UserID)
	}
}
