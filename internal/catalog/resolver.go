// Package catalog resolves free-text product references to ranked
// inventory candidates.
//
// Resolution runs two passes over the catalog. The exact pass matches the
// folded query as a substring of a product's name or SKU; its scores are at
// least 1. The fuzzy pass scores normalized edit-distance similarity against
// the name (and its word windows) and SKU containment; its scores are below
// 1. The passes are unioned by product id, keeping the exact score for
// products found by both, so exact matches always rank first.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/stockline/internal/domain"
)

const (
	// DefaultMaxCandidates bounds the candidate set handed to callers.
	// Callers decide how many of them to surface.
	DefaultMaxCandidates = 50

	// DefaultFuzzyThreshold is the minimum similarity for a fuzzy match.
	DefaultFuzzyThreshold = 0.3

	// minSKUContainment is the shortest SKU matched by containment in the
	// fuzzy pass; shorter codes match too many queries.
	minSKUContainment = 3
)

// Source provides the catalog to resolve against.
type Source interface {
	// Products returns every product in the catalog.
	Products(ctx context.Context) ([]domain.Product, error)

	// Product returns one product by id, or an error wrapping a not-found
	// condition.
	Product(ctx context.Context, id string) (domain.Product, error)
}

// Resolver ranks catalog products against free-text queries.
type Resolver struct {
	source         Source
	maxCandidates  int
	fuzzyThreshold float64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMaxCandidates sets the candidate cap (default DefaultMaxCandidates).
func WithMaxCandidates(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// WithFuzzyThreshold sets the fuzzy similarity threshold
// (default DefaultFuzzyThreshold).
func WithFuzzyThreshold(t float64) Option {
	return func(r *Resolver) {
		r.fuzzyThreshold = t
	}
}

// NewResolver creates a Resolver over src.
func NewResolver(src Source, opts ...Option) *Resolver {
	r := &Resolver{
		source:         src,
		maxCandidates:  DefaultMaxCandidates,
		fuzzyThreshold: DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the ranked candidates for query. The result is
// deterministic for an unchanged catalog: ties on score are broken by
// display name, then by id.
func (r *Resolver) Resolve(ctx context.Context, query string) ([]domain.Candidate, error) {
	q := Normalize(query)
	if q == "" {
		return nil, nil
	}

	products, err := r.source.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}

	scored := make(map[string]domain.Candidate)
	for _, p := range products {
		if score, ok := exactScore(q, p); ok {
			scored[p.ID] = p.Candidate(score)
		}
	}
	for _, p := range products {
		if _, found := scored[p.ID]; found {
			continue
		}
		if score, ok := r.fuzzyScore(q, p); ok {
			scored[p.ID] = p.Candidate(score)
		}
	}

	out := make([]domain.Candidate, 0, len(scored))
	for _, c := range scored {
		out = append(out, c)
	}
	sortCandidates(out)
	if len(out) > r.maxCandidates {
		out = out[:r.maxCandidates]
	}
	return out, nil
}

// Suggest returns up to n products most similar to query regardless of the
// fuzzy threshold, for "did you mean" prompts. Products with no similarity
// at all are left out.
func (r *Resolver) Suggest(ctx context.Context, query string, n int) ([]domain.Candidate, error) {
	q := Normalize(query)
	if q == "" || n <= 0 {
		return nil, nil
	}
	products, err := r.source.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest %q: %w", query, err)
	}

	out := make([]domain.Candidate, 0, len(products))
	for _, p := range products {
		if s := bestTokenSimilarity(q, Normalize(p.Name)); s > 0 {
			out = append(out, p.Candidate(s))
		}
	}
	sortCandidates(out)
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Lookup returns the current state of one product.
func (r *Resolver) Lookup(ctx context.Context, id string) (domain.Product, error) {
	return r.source.Product(ctx, id)
}

// IsExact reports whether c came from the exact pass with a full name or
// SKU match.
func IsExact(c domain.Candidate) bool {
	return c.Score >= scoreEqual
}

const (
	scoreEqual     = 2.0
	scorePrefix    = 1.5
	scoreWholeWord = 1.25
	scoreSubstring = 1.0
	scoreSKUInside = 0.95
)

func exactScore(q string, p domain.Product) (float64, bool) {
	name := Normalize(p.Name)
	sku := Normalize(p.SKU)

	switch {
	case name == q || (sku != "" && sku == q):
		return scoreEqual, true
	case strings.HasPrefix(name, q) || (sku != "" && strings.HasPrefix(sku, q)):
		return scorePrefix, true
	case strings.Contains(" "+name+" ", " "+q+" "):
		return scoreWholeWord, true
	case strings.Contains(name, q):
		// Longer coverage of the name ranks higher, staying below whole-word.
		return scoreSubstring + 0.2*float64(len(q))/float64(len(name)), true
	case sku != "" && strings.Contains(sku, q):
		return scoreSubstring, true
	}
	return 0, false
}

func (r *Resolver) fuzzyScore(q string, p domain.Product) (float64, bool) {
	best := bestTokenSimilarity(q, Normalize(p.Name))
	if sku := Normalize(p.SKU); len(sku) >= minSKUContainment && strings.Contains(q, sku) {
		best = max(best, scoreSKUInside)
	}
	if best >= r.fuzzyThreshold && best < scoreSubstring {
		return best, true
	}
	return 0, false
}

func sortCandidates(cs []domain.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		if cs[i].DisplayName != cs[j].DisplayName {
			return cs[i].DisplayName < cs[j].DisplayName
		}
		return cs[i].ID < cs[j].ID
	})
}
