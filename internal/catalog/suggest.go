package catalog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrSuperseded is returned to a suggestion lookup replaced by a newer one for the same key.
var ErrSuperseded = errors.New("catalog: suggestion superseded")

// ErrSuggestLimited is returned when a key exceeds its suggestion rate.
var ErrSuggestLimited = errors.New("catalog: suggestion rate exceeded")

// SuggestFunc performs the actual lookup.
type SuggestFunc func(ctx context.Context, q string) ([]string, error)

// SuggesterConfig tunes a Suggester.
type SuggesterConfig struct {
	Debounce time.Duration
	MinChars int
	Limit    int
	// Rate and Burst bound lookups per key. Zero Rate disables limiting.
	Rate  rate.Limit
	Burst int
	// IdleTTL drops per-key state after inactivity.
	IdleTTL time.Duration
}

// Suggester debounces type-ahead lookups per key (one key per visitor). A newer call
// for the same key cancels the pending or in-flight one, which returns ErrSuperseded.
type Suggester struct {
	lookup SuggestFunc
	cfg    SuggesterConfig

	mu   sync.Mutex
	keys map[string]*suggestKey
	now  func() time.Time
}

type suggestKey struct {
	seq      uint64
	cancel   context.CancelFunc
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSuggester builds a Suggester around lookup.
func NewSuggester(lookup SuggestFunc, cfg SuggesterConfig) *Suggester {
	if cfg.MinChars <= 0 {
		cfg.MinChars = 2
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Suggester{lookup: lookup, cfg: cfg, keys: map[string]*suggestKey{}, now: time.Now}
}

// Suggest waits out the debounce then looks up q. Queries shorter than MinChars
// return nothing without a lookup.
func (s *Suggester) Suggest(ctx context.Context, key, q string) ([]string, error) {
	q = strings.TrimSpace(q)
	if len([]rune(q)) < s.cfg.MinChars {
		s.cancelKey(key)
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	seq, limiter := s.claim(key, cancel)
	defer s.release(key, seq)

	if s.cfg.Debounce > 0 {
		timer := time.NewTimer(s.cfg.Debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, s.cause(ctx, key, seq)
		case <-timer.C:
		}
	}
	if limiter != nil && !limiter.Allow() {
		return nil, ErrSuggestLimited
	}

	out, err := s.lookup(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.cause(ctx, key, seq)
		}
		return nil, err
	}
	if s.superseded(key, seq) {
		return nil, ErrSuperseded
	}
	if len(out) > s.cfg.Limit {
		out = out[:s.cfg.Limit]
	}
	return out, nil
}

func (s *Suggester) claim(key string, cancel context.CancelFunc) (uint64, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		k = &suggestKey{}
		if s.cfg.Rate > 0 {
			k.limiter = rate.NewLimiter(s.cfg.Rate, s.cfg.Burst)
		}
		s.keys[key] = k
	}
	if k.cancel != nil {
		k.cancel()
	}
	k.seq++
	k.cancel = cancel
	k.lastSeen = s.now()
	return k.seq, k.limiter
}

func (s *Suggester) release(key string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[key]; ok && k.seq == seq {
		k.cancel = nil
	}
}

func (s *Suggester) cancelKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[key]; ok {
		k.seq++
		if k.cancel != nil {
			k.cancel()
			k.cancel = nil
		}
	}
}

func (s *Suggester) superseded(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	return !ok || k.seq != seq
}

// cause distinguishes supersession from the caller's own cancellation.
func (s *Suggester) cause(ctx context.Context, key string, seq uint64) error {
	if s.superseded(key, seq) {
		return ErrSuperseded
	}
	return ctx.Err()
}

// Sweep drops keys idle longer than IdleTTL and returns how many were removed.
func (s *Suggester) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.cfg.IdleTTL)
	removed := 0
	for key, k := range s.keys {
		if k.cancel == nil && k.lastSeen.Before(cutoff) {
			delete(s.keys, key)
			removed++
		}
	}
	return removed
}
