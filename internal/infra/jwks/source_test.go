package jwks_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astro-web3/apigw-token-authorizer/internal/domain/autherr"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/cache"
	"github.com/astro-web3/apigw-token-authorizer/internal/infra/jwks"
)

func TestCachedSource_ServesSnapshotWithinTTL(t *testing.T) {
	server := newKeyServer(t, jwksDocument(t, "k1"))
	clock := newFakeClock()
	source := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute,
		jwks.WithClock(clock.Now))

	first, err := source.KeySet(context.Background())
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	second, err := source.KeySet(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), server.hits.Load())

	clock.Advance(time.Second)
	_, err = source.KeySet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), server.hits.Load())
}

func TestCachedSource_ConcurrentReadersFetchOnce(t *testing.T) {
	server := newKeyServer(t, jwksDocument(t, "k1"))
	source := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := source.KeySet(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, 1, set.Len())
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), server.hits.Load())
}

func TestCachedSource_RefreshIsRateLimited(t *testing.T) {
	server := newKeyServer(t, jwksDocument(t, "k1"))
	clock := newFakeClock()
	source := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Hour,
		jwks.WithClock(clock.Now),
		jwks.WithMinRefreshInterval(30*time.Second),
	)

	_, err := source.KeySet(context.Background())
	require.NoError(t, err)

	server.respond(http.StatusOK, jwksDocument(t, "k1", "k2"))

	set, err := source.Refresh(context.Background())
	require.NoError(t, err)
	_, ok := set.Find("k2")
	assert.False(t, ok, "refresh inside the interval must not reach the endpoint")
	assert.Equal(t, int32(1), server.hits.Load())

	clock.Advance(30 * time.Second)
	set, err = source.Refresh(context.Background())
	require.NoError(t, err)
	_, ok = set.Find("k2")
	assert.True(t, ok)
	assert.Equal(t, int32(2), server.hits.Load())

	cached, err := source.KeySet(context.Background())
	require.NoError(t, err)
	assert.Same(t, set, cached)
}

func TestCachedSource_FetchErrorIsNotCached(t *testing.T) {
	server := newKeyServer(t, nil)
	server.respond(http.StatusOK, []byte(`{"notkeys":[]}`))
	source := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute)

	_, err := source.KeySet(context.Background())
	require.ErrorIs(t, err, autherr.ErrFormat)

	server.respond(http.StatusOK, jwksDocument(t, "k1"))
	set, err := source.KeySet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestCachedSource_SharedStore(t *testing.T) {
	server := newKeyServer(t, jwksDocument(t, "k1"))
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient("redis://"+mr.Addr(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewKeySetStore(client)

	first := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute,
		jwks.WithSharedStore(store))
	second := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute,
		jwks.WithSharedStore(store))

	a, err := first.KeySet(context.Background())
	require.NoError(t, err)
	b, err := second.KeySet(context.Background())
	require.NoError(t, err)

	assert.Equal(t, a.Keys, b.Keys)
	assert.Equal(t, int32(1), server.hits.Load())
}

func TestCachedSource_SharedStoreCorruptEntry(t *testing.T) {
	server := newKeyServer(t, jwksDocument(t, "k1"))
	mr := miniredis.RunT(t)
	client, err := cache.NewRedisClient("redis://"+mr.Addr(), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewKeySetStore(client)

	require.NoError(t, store.Set(context.Background(), server.URL, []byte("garbage"), time.Minute))

	source := jwks.NewCachedSource(jwks.NewFetcher(server.URL, time.Second), time.Minute,
		jwks.WithSharedStore(store))

	set, err := source.KeySet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, int32(1), server.hits.Load())
}
