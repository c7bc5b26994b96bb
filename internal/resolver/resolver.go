// Package resolver locates a single Medicare provider record for a name or
// NPI using one filtered fetch and a tiered first-match scan.
package resolver

import (
	"context"
	"strings"

	"github.com/gyeh/medicare-lookup/internal/cms"
	"github.com/rs/zerolog"
)

// DefaultMaxNameResults caps the rows fetched for a last-name search.
const DefaultMaxNameResults = 5000

// Directory is the provider data source. *cms.Client implements it.
type Directory interface {
	Query(ctx context.Context, filters cms.Filters, maxResults int) ([]cms.Row, error)
}

// Resolver holds no per-request state and is safe for concurrent use.
type Resolver struct {
	dir            Directory
	maxNameResults int
	logger         zerolog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithMaxNameResults overrides the row cap for name searches.
func WithMaxNameResults(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxNameResults = n
		}
	}
}

// WithLogger sets the logger for match decisions. The default discards.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver over dir.
func New(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{
		dir:            dir,
		maxNameResults: DefaultMaxNameResults,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig builds the CMS client from cfg and wraps it in a Resolver.
func NewFromConfig(cfg cms.Config, opts ...Option) *Resolver {
	r := New(nil, opts...)
	r.dir = cms.NewClient(cfg, cms.WithLogger(r.logger))
	return r
}

// Resolve returns the best match for req, or nil if no row qualifies.
// Directory errors are returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, req SearchRequest) (*MatchResult, error) {
	n, err := normalize(req)
	if err != nil {
		return nil, err
	}

	filters, size := r.filters(n)
	rows, err := r.dir.Query(ctx, filters, size)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		r.logger.Debug().Str("kind", n.kind.String()).Str("term", req.Term).Msg("no rows returned")
		return nil, nil
	}

	if n.kind == ByNPI {
		return project(rows[0], 0, req, TierNPI)
	}

	idx, tier, err := selectRow(rows, n, req)
	if err != nil || idx < 0 {
		return nil, err
	}
	r.logger.Debug().
		Str("term", req.Term).
		Int("rows", len(rows)).
		Int("index", idx).
		Str("tier", string(tier)).
		Msg("matched provider")
	return project(rows[idx], idx, req, tier)
}

func (r *Resolver) filters(n normalized) (cms.Filters, int) {
	f := cms.Filters{}
	size := r.maxNameResults
	if n.kind == ByNPI {
		f[cms.ColumnNPI] = n.npi
		size = 1
	} else {
		f[cms.ColumnLastOrgName] = n.last
	}
	if n.state != "" {
		f[cms.ColumnState] = n.state
	}
	return f, size
}

// selectRow scans rows once. The first exact-tier row wins immediately;
// otherwise the first partial-tier row seen is returned. idx is -1 when
// nothing qualifies.
func selectRow(rows []cms.Row, n normalized, req SearchRequest) (idx int, tier Tier, err error) {
	first := strings.ToLower(n.first)
	partial := -1

	for i, row := range rows {
		if !row.HasName {
			continue
		}
		for _, col := range []string{cms.ColumnLastOrgName, cms.ColumnFirstName, cms.ColumnState} {
			if row.IsInvalid(col) {
				return -1, "", &ResolutionError{Index: i, Column: col, Request: req}
			}
		}

		if !strings.EqualFold(row.LastOrgName, n.last) {
			continue
		}
		if n.state != "" && !strings.EqualFold(row.State, n.state) {
			continue
		}

		rowFirst := strings.ToLower(row.FirstName)
		if strings.HasPrefix(rowFirst, first) {
			return i, TierExact, nil
		}
		if partial < 0 && strings.Contains(rowFirst, first) {
			partial = i
		}
	}

	if partial >= 0 {
		return partial, TierPartial, nil
	}
	return -1, "", nil
}
