package trust

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/eudgc/verifier/internal/cborcodec"
	"github.com/eudgc/verifier/internal/cose"
)

// memStore is an in-memory storage.Store stand-in, avoiding a filesystem
// round trip for store-engine unit tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Load(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[name]
	if !ok {
		return nil, errors.New("storage: not found")
	}
	return b, nil
}

func (m *memStore) Save(ctx context.Context, name string, plaintext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = plaintext
	return nil
}

// countingFetcher counts how many times Fetch actually ran, to assert
// single-flight coalescing collapses concurrent refreshes into one.
type countingFetcher struct {
	body  []byte
	calls int64
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return 200, f.body, nil
}

type failingFetcher struct{ err error }

func (f *failingFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	return 0, nil, f.err
}

func emptyTrustListPayload(vf, vu int64) []byte {
	var out []byte
	out = append(out, cborcodec.EncodeMapHeader(3)...)
	out = append(out, cborcodec.EncodeText(tlKeyValidFrom)...)
	out = append(out, cborcodec.EncodeNegOrUint(vf)...)
	out = append(out, cborcodec.EncodeText(tlKeyValidUntil)...)
	out = append(out, cborcodec.EncodeNegOrUint(vu)...)
	out = append(out, cborcodec.EncodeText(tlKeyEntries)...)
	out = append(out, cborcodec.EncodeArrayHeader(0)...)
	return out
}

func testKeyAndPayload(t *testing.T, vf, vu int64) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	payload := emptyTrustListPayload(vf, vu)
	return key, payload
}

func signTrustList(t *testing.T, key *ecdsa.PrivateKey, payload []byte) []byte {
	t.Helper()
	s := &cose.Sign1{Protected: cose.EncodeProtectedHeader(cose.AlgorithmES256, nil), Payload: payload}
	require.NoError(t, cose.Sign(s, cose.AlgorithmES256, key))
	return cose.Marshal(s)
}

func TestSignedStoreFetchesAndCachesFresh(t *testing.T) {
	key, payload := testKeyAndPayload(t, 0, 1<<61)
	signed := signTrustList(t, key, payload)

	fetcher := &countingFetcher{body: signed}
	store := newSignedStore[TrustList]("trustlist", fetcher, "data", "", &key.PublicKey, newMemStore(), fixedClock(1500), logr.Discard(), decodeTrustList)

	data, state := store.Get(context.Background())
	require.Equal(t, stateFresh, state)
	require.EqualValues(t, 0, data.ValidFrom)
	require.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))

	// A second Get within the freshness window must not refetch.
	_, _ = store.Get(context.Background())
	require.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestSignedStoreServesStaleOnRefreshFailure(t *testing.T) {
	key, payload := testKeyAndPayload(t, 0, 1100) // valid only until t=1100
	signed := signTrustList(t, key, payload)

	fetcher := &countingFetcher{body: signed}
	clock := fixedClock(1000)
	store := newSignedStore[TrustList]("trustlist", fetcher, "data", "", &key.PublicKey, newMemStore(), clock, logr.Discard(), decodeTrustList)

	_, state := store.Get(context.Background())
	require.Equal(t, stateFresh, state)

	clock.set(1500) // now outside the window: stale
	store.fetcher = &failingFetcher{err: errors.New("network down")}

	data, state := store.Get(context.Background())
	require.Equal(t, stateStale, state)
	require.EqualValues(t, 0, data.ValidFrom) // still serving the last good bundle
}

func TestSignedStorePersistsAcrossRestart(t *testing.T) {
	key, payload := testKeyAndPayload(t, 0, 1<<61)
	signed := signTrustList(t, key, payload)
	backing := newMemStore()

	fetcher := &countingFetcher{body: signed}
	store1 := newSignedStore[TrustList]("trustlist", fetcher, "data", "", &key.PublicKey, backing, fixedClock(1500), logr.Discard(), decodeTrustList)
	_, state := store1.Get(context.Background())
	require.Equal(t, stateFresh, state)

	// A fresh engine instance backed by the same persisted storage, with a
	// fetcher that would fail if ever consulted, must still serve data
	// loaded from disk.
	store2 := newSignedStore[TrustList]("trustlist", &failingFetcher{err: errors.New("should not be called")}, "data", "", &key.PublicKey, backing, fixedClock(1500), logr.Discard(), decodeTrustList)
	data, state := store2.Get(context.Background())
	require.Equal(t, stateFresh, state)
	require.EqualValues(t, 0, data.ValidFrom)
}

func TestSignedStoreRefreshCoalesces(t *testing.T) {
	key, payload := testKeyAndPayload(t, 0, 1<<61)
	signed := signTrustList(t, key, payload)

	fetcher := &countingFetcher{body: signed, delay: 50 * time.Millisecond}
	store := newSignedStore[TrustList]("trustlist", fetcher, "data", "", &key.PublicKey, newMemStore(), fixedClock(1500), logr.Discard(), decodeTrustList)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, store.Refresh(context.Background()))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt64(&fetcher.calls))
}

func TestSignedStoreBadSignatureNeverReplacesCache(t *testing.T) {
	key, payload := testKeyAndPayload(t, 0, 1<<61)
	signed := signTrustList(t, key, payload)

	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	fetcher := &countingFetcher{body: signed}
	store := newSignedStore[TrustList]("trustlist", fetcher, "data", "", &otherKey.PublicKey, newMemStore(), fixedClock(1500), logr.Discard(), decodeTrustList)

	_, state := store.Get(context.Background())
	require.Equal(t, stateEmpty, state) // refresh never succeeded, so the store never left Empty

	err = store.Refresh(context.Background())
	require.Error(t, err)
}

// testClock is a mutable test Clock (built with fixedClock), distinct from
// the root package's FixedClock so this package never imports the root
// package.
type testClock struct {
	mu sync.Mutex
	at int64
}

func fixedClock(unix int64) *testClock { return &testClock{at: unix} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.at, 0)
}

func (c *testClock) set(unix int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = unix
}
