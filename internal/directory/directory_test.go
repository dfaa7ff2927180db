package directory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chatcipher/internal/directory"
	"chatcipher/internal/model"
)

type fakeRemote struct {
	mu      sync.Mutex
	cols    map[string]*model.BundleCollection
	fetches int32
	down    bool
	slow    time.Duration

	publishErr error
	published  []*model.BundleCollection
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{cols: make(map[string]*model.BundleCollection)}
}

func (r *fakeRemote) Fetch(_ context.Context, userID string) (*model.BundleCollection, error) {
	atomic.AddInt32(&r.fetches, 1)
	if r.slow > 0 {
		time.Sleep(r.slow)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errors.New("remote unreachable")
	}
	col, ok := r.cols[userID]
	if !ok {
		return nil, directory.ErrRemoteNotFound
	}
	return col, nil
}

func (r *fakeRemote) Publish(_ context.Context, col *model.BundleCollection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.cols[col.UserID] = col
	r.published = append(r.published, col)
	return nil
}

type fakeCache struct {
	mu     sync.Mutex
	data   map[string]*model.BundleCollection
	writes int
	reads  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]*model.BundleCollection)}
}

func (c *fakeCache) Read(_ context.Context, userID string) (*model.BundleCollection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return c.data[userID], nil
}

func (c *fakeCache) Write(_ context.Context, userID string, col *model.BundleCollection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.data[userID] = col
	return nil
}

func collection(userID string, devices ...string) *model.BundleCollection {
	col := model.NewBundleCollection(userID)
	for _, d := range devices {
		col.Put(model.NewDeviceID([]byte(d)), model.PublicKeyBundle{})
	}
	return col
}

func TestAlwaysRefreshHitsRemoteAndWritesCache(t *testing.T) {
	remote := newFakeRemote()
	remote.cols["bob"] = collection("bob", "dev1")
	cache := newFakeCache()
	d := directory.New(remote, cache, directory.Options{Policy: directory.AlwaysRefresh})

	col, err := d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, col.Devices, 1)
	require.Equal(t, 1, cache.writes)

	// a cache hit does not stop the refresh
	_, err = d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&remote.fetches))
	require.Equal(t, 2, cache.writes)
}

func TestCacheFirstServesCacheWithoutRemote(t *testing.T) {
	remote := newFakeRemote()
	cache := newFakeCache()
	cache.data["bob"] = collection("bob", "dev1")
	d := directory.New(remote, cache, directory.Options{Policy: directory.CacheFirst})

	col, err := d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, col.Devices, 1)
	require.EqualValues(t, 0, atomic.LoadInt32(&remote.fetches))
}

func TestRemoteDownServesStaleCache(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	cache := newFakeCache()
	cache.data["bob"] = collection("bob", "dev1")
	d := directory.New(remote, cache, directory.Options{Policy: directory.AlwaysRefresh})

	col, err := d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, col.Devices, 1)
}

func TestRemoteDownNoCacheIsHardError(t *testing.T) {
	remote := newFakeRemote()
	remote.down = true
	d := directory.New(remote, newFakeCache(), directory.Options{})

	_, err := d.Resolve(context.Background(), "bob")
	require.ErrorIs(t, err, directory.ErrBundleUnavailable)
}

func TestUnpublishedUserIsHardError(t *testing.T) {
	d := directory.New(newFakeRemote(), newFakeCache(), directory.Options{})

	_, err := d.Resolve(context.Background(), "nobody")
	require.ErrorIs(t, err, directory.ErrBundleUnavailable)
}

func TestRefreshIfStaleServesMemoWithinTTL(t *testing.T) {
	remote := newFakeRemote()
	remote.cols["bob"] = collection("bob", "dev1")
	d := directory.New(remote, newFakeCache(), directory.Options{
		Policy:   directory.RefreshIfStale,
		StaleTTL: time.Minute,
	})

	_, err := d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	_, err = d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&remote.fetches))

	// an invalidation forces the next resolve back to the remote
	d.Invalidate("bob")
	_, err = d.Resolve(context.Background(), "bob")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&remote.fetches))
}

func TestConcurrentResolutionsShareOneFetch(t *testing.T) {
	remote := newFakeRemote()
	remote.cols["bob"] = collection("bob", "dev1")
	remote.slow = 50 * time.Millisecond
	d := directory.New(remote, newFakeCache(), directory.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Resolve(context.Background(), "bob")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&remote.fetches))
}

func TestPublishMergesByDevice(t *testing.T) {
	remote := newFakeRemote()
	remote.cols["alice"] = collection("alice", "phone")
	cache := newFakeCache()
	d := directory.New(remote, cache, directory.Options{})

	newDev := model.NewDeviceID([]byte("laptop"))
	col, err := d.Publish(context.Background(), "alice", newDev, model.PublicKeyBundle{})
	require.NoError(t, err)
	require.Len(t, col.Devices, 2)

	// replacing the same device does not grow the collection
	col, err = d.Publish(context.Background(), "alice", newDev, model.PublicKeyBundle{})
	require.NoError(t, err)
	require.Len(t, col.Devices, 2)

	require.Positive(t, cache.writes)
}

func TestPublishFailureSkipsCacheWrite(t *testing.T) {
	remote := newFakeRemote()
	remote.publishErr = errors.New("remote rejected")
	cache := newFakeCache()
	d := directory.New(remote, cache, directory.Options{})

	_, err := d.Publish(context.Background(), "alice", model.NewDeviceID([]byte("phone")), model.PublicKeyBundle{})
	require.ErrorIs(t, err, directory.ErrPublishFailed)
	require.Zero(t, cache.writes)
}
