package internal

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"slideshow/internal/storage"
)

// FillPolicy decides what Sample returns when fewer items exist than were
// requested.
type FillPolicy string

const (
	// FillRepeat shows every item once, then tops up the remaining slots by
	// drawing with replacement so the layout is always full.
	FillRepeat FillPolicy = "repeat"
	// FillShort returns just the available items, shuffled.
	FillShort FillPolicy = "short"
)

// ParseFillPolicy accepts "repeat" or "short"; empty means FillRepeat.
func ParseFillPolicy(value string) (FillPolicy, error) {
	switch FillPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", FillRepeat:
		return FillRepeat, nil
	case FillShort:
		return FillShort, nil
	default:
		return "", fmt.Errorf("unknown sample fill policy %q (want repeat or short)", value)
	}
}

type ItemReader interface {
	All(ctx context.Context) ([]storage.Item, error)
}

// Sampler draws random subsets of the stored items. It is safe for
// concurrent use.
type Sampler struct {
	items ItemReader
	fill  FillPolicy

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampler(items ItemReader, fill FillPolicy) *Sampler {
	if fill == "" {
		fill = FillRepeat
	}
	return &Sampler{
		items: items,
		fill:  fill,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Sample returns up to n items. With at least n items stored they are n
// distinct items chosen uniformly; with fewer the fill policy applies; with
// none the result is empty and err is nil.
func (s *Sampler) Sample(ctx context.Context, n int) ([]storage.Item, error) {
	if n <= 0 {
		return []storage.Item{}, nil
	}
	items, err := s.items.All(ctx)
	if err != nil {
		return nil, &StoreError{Op: "sample", Err: err}
	}
	size := len(items)
	if size == 0 {
		return []storage.Item{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if size >= n {
		return s.distinct(items, n), nil
	}
	out := s.distinct(items, size)
	if s.fill == FillShort {
		return out, nil
	}
	for len(out) < n {
		out = append(out, items[s.rng.IntN(size)])
	}
	return out, nil
}

// partial Fisher-Yates over a copy so the caller's slice stays put
func (s *Sampler) distinct(items []storage.Item, n int) []storage.Item {
	pool := make([]storage.Item, len(items))
	copy(pool, items)
	for i := 0; i < n; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n:n]
}
