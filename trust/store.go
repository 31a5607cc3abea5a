package trust

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/eudgc/verifier/internal/cose"
	"github.com/eudgc/verifier/storage"
)

// Clock is the minimal wall-clock capability this package needs. It is
// declared independently of the root package's identically-shaped Clock
// interface (rather than imported) so that package trust never imports the
// root verifier package — the root package imports trust, not the other
// way around. Any verifier.Clock implementation already satisfies this
// interface structurally.
type Clock interface {
	Now() time.Time
}

// storeState is the Empty/Fresh/Stale state machine of spec.md §4.3.
type storeState int

const (
	stateEmpty storeState = iota
	stateFresh
	stateStale
)

// Bundle is a freshness-windowed payload shared by all three signed stores
// (trust list, business rules, value sets).
type Bundle[T any] struct {
	ValidFrom  int64
	ValidUntil int64
	Data       T
}

func (b Bundle[T]) fresh(now int64) bool {
	return now >= b.ValidFrom && now <= b.ValidUntil
}

// Decoder projects a verified COSE payload's raw bytes into a typed Bundle.
type Decoder[T any] func(payload []byte) (Bundle[T], error)

// signedStore is the shared fetch/verify/cache/persist engine behind
// TrustStore, BusinessRulesStore, and ValueSetStore (spec.md §4.3, §4.4 —
// "structurally identical to TrustStore"). One generic engine replaces
// three structurally duplicated implementations.
type signedStore[T any] struct {
	name    string
	fetcher Fetcher
	dataURL string
	sigURL  string
	anchor  any // *ecdsa.PublicKey or *rsa.PublicKey, extracted from the trust anchor certificate at construction
	store   storage.Store
	clock   Clock
	logger  logr.Logger
	decode  Decoder[T]

	mu     sync.RWMutex
	state  storeState
	bundle Bundle[T]
	raw    []byte

	refreshMu  sync.Mutex
	refreshing chan struct{}
	lastErr    error
}

func newSignedStore[T any](name string, fetcher Fetcher, dataURL, sigURL string, anchor any, store storage.Store, clock Clock, logger logr.Logger, decode Decoder[T]) *signedStore[T] {
	return &signedStore[T]{
		name:    name,
		fetcher: fetcher,
		dataURL: dataURL,
		sigURL:  sigURL,
		anchor:  anchor,
		store:   store,
		clock:   clock,
		logger:  logger.WithValues("store", name),
		decode:  decode,
		state:   stateEmpty,
	}
}

// snapshot returns the currently cached bundle and state under lock.
func (s *signedStore[T]) snapshot() (Bundle[T], storeState) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bundle, s.state
}

func (s *signedStore[T]) setBundle(b Bundle[T], raw []byte, st storeState) {
	s.mu.Lock()
	s.bundle = b
	s.raw = raw
	s.state = st
	s.mu.Unlock()
}

// Get returns the current bundle data, triggering a disk load (if never
// loaded) and/or a coalesced refresh (if stale) first. Per spec.md §4.3's
// cache policy, a refresh failure is logged but never prevents returning
// whatever is currently cached, even if that is the still-Empty zero value.
func (s *signedStore[T]) Get(ctx context.Context) (T, storeState) {
	bundle, state := s.snapshot()

	if state == stateEmpty {
		if loaded, raw, err := s.loadFromDisk(ctx); err == nil {
			bundle = loaded
			state = windowState(loaded, s.clock.Now().Unix())
			s.setBundle(bundle, raw, state)
		} else {
			s.logger.V(1).Info("no persisted bundle", "err", err)
		}
	}

	now := s.clock.Now().Unix()
	if state != stateFresh || !bundle.fresh(now) {
		if err := s.Refresh(ctx); err != nil {
			s.logger.Error(err, "refresh failed, serving cached bundle")
		}
		bundle, state = s.snapshot()
	}

	// The reported state always reflects the bundle's actual freshness
	// window against the current clock, not merely whatever state a past
	// successful load or refresh recorded — a refresh attempt can fail
	// well after the cached bundle's window has lapsed, and callers must
	// still be told they're looking at stale data (spec.md §4.3).
	if state == stateEmpty {
		return bundle.Data, stateEmpty
	}
	return bundle.Data, windowState(bundle, s.clock.Now().Unix())
}


func windowState[T any](b Bundle[T], now int64) storeState {
	if b.fresh(now) {
		return stateFresh
	}
	return stateStale
}

func (s *signedStore[T]) loadFromDisk(ctx context.Context) (Bundle[T], []byte, error) {
	raw, err := s.store.Load(ctx, s.name)
	if err != nil {
		return Bundle[T]{}, nil, err
	}
	bundle, err := s.decode(raw)
	if err != nil {
		return Bundle[T]{}, nil, fmt.Errorf("trust: decode persisted %s bundle: %w", s.name, err)
	}
	return bundle, raw, nil
}

// Refresh fetches, verifies, and (on success) replaces and persists the
// cached bundle. Concurrent callers coalesce onto a single in-flight
// refresh (spec.md §5: "at most one refresh is in flight per store").
func (s *signedStore[T]) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	if s.refreshing != nil {
		ch := s.refreshing
		s.refreshMu.Unlock()
		<-ch
		s.refreshMu.Lock()
		err := s.lastErr
		s.refreshMu.Unlock()
		return err
	}
	ch := make(chan struct{})
	s.refreshing = ch
	s.refreshMu.Unlock()

	err := s.doRefresh(ctx)

	s.refreshMu.Lock()
	s.lastErr = err
	s.refreshing = nil
	s.refreshMu.Unlock()
	close(ch)

	return err
}

func (s *signedStore[T]) doRefresh(ctx context.Context) error {
	status, body, err := s.fetcher.Fetch(ctx, s.dataURL)
	if err != nil {
		return fmt.Errorf("trust: fetch %s bundle: %w", s.name, err)
	}
	if status != 200 {
		return fmt.Errorf("trust: fetch %s bundle: unexpected status %d", s.name, status)
	}

	// The companion signature-and-manifest object is fetched for parity
	// with spec.md §4.3 step 1 and future manifest-based staleness checks,
	// but verification is against the bundle's own COSE_Sign1 signature
	// (step 3), so a failure here is logged, not fatal.
	if s.sigURL != "" {
		if _, _, err := s.fetcher.Fetch(ctx, s.sigURL); err != nil {
			s.logger.V(1).Info("companion signature/manifest fetch failed", "err", err)
		}
	}

	sign1, err := cose.Parse(body)
	if err != nil {
		return fmt.Errorf("trust: parse %s bundle: %w", s.name, err)
	}
	alg, ok := sign1.Algorithm()
	if !ok {
		return fmt.Errorf("trust: %s bundle: missing algorithm header", s.name)
	}
	if err := cose.Verify(sign1, alg, s.anchor); err != nil {
		return fmt.Errorf("trust: %s bundle signature invalid: %w", s.name, err)
	}

	bundle, err := s.decode(sign1.Payload)
	if err != nil {
		return fmt.Errorf("trust: decode %s bundle: %w", s.name, err)
	}

	now := s.clock.Now().Unix()
	if !bundle.fresh(now) {
		return fmt.Errorf("trust: %s bundle outside its validity window", s.name)
	}

	if err := s.store.Save(ctx, s.name, sign1.Payload); err != nil {
		s.logger.Error(err, "persist refreshed bundle failed")
	}

	s.setBundle(bundle, sign1.Payload, stateFresh)
	return nil
}
