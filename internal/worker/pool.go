package worker

import (
	"context"
	"sync"

	"github.com/gyeh/medicare-lookup/internal/names"
	"github.com/gyeh/medicare-lookup/internal/progress"
	"github.com/gyeh/medicare-lookup/internal/resolver"
	"github.com/rs/zerolog"
)

// Resolver is the single-lookup operation the pool fans out over.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.SearchRequest) (*resolver.MatchResult, error)
}

// Result is the outcome for one request. Match is nil when nothing matched
// or Err is set.
type Result struct {
	Request resolver.SearchRequest
	Match   *resolver.MatchResult
	Err     error
}

// Pool resolves a batch of requests concurrently. A failing request never
// affects its siblings.
type Pool struct {
	Workers  int
	Resolver Resolver
	Progress progress.Manager
	Logger   zerolog.Logger
}

// Run resolves every request and returns results in input order.
func (p *Pool) Run(ctx context.Context, reqs []resolver.SearchRequest) []Result {
	results := make([]Result, len(reqs))

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	mgr := p.Progress
	if mgr == nil {
		mgr = &progress.NoopManager{}
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var matched, notFound, failed int

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, r resolver.SearchRequest) {
			defer wg.Done()

			// Acquire semaphore
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[idx] = Result{Request: r, Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			tracker := mgr.NewTracker(idx, len(reqs), r.Term)
			tracker.SetStage("resolving")

			match, err := p.Resolver.Resolve(ctx, r)
			results[idx] = Result{Request: r, Match: match, Err: err}

			mu.Lock()
			switch {
			case err != nil:
				failed++
				tracker.SetStage("FAILED: " + err.Error())
				p.Logger.Warn().Err(err).Str("term", r.Term).Str("state", r.State).Msg("bulk lookup failed")
			case match == nil:
				notFound++
				tracker.SetStage("not found")
			default:
				matched++
				tracker.SetStage("matched (" + string(match.Tier) + ")")
			}
			mgr.SetOverallStats(matched, notFound, failed)
			mu.Unlock()

			tracker.Done()
		}(i, req)
	}

	wg.Wait()
	return results
}

// Matches returns the successful matches in input order.
func Matches(results []Result) []resolver.MatchResult {
	out := make([]resolver.MatchResult, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.Match != nil {
			out = append(out, *r.Match)
		}
	}
	return out
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Requested int `json:"requested"`
	Matched   int `json:"matched"`
	NotFound  int `json:"not_found"`
	Failed    int `json:"failed"`
}

// Summarize tallies matched, not-found and failed results.
func Summarize(results []Result) Summary {
	s := Summary{Requested: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Match == nil:
			s.NotFound++
		default:
			s.Matched++
		}
	}
	return s
}

// NameRequests turns parsed entries into name searches. An entry's own
// state takes precedence over defaultState.
func NameRequests(entries []names.Entry, defaultState string) []resolver.SearchRequest {
	reqs := make([]resolver.SearchRequest, len(entries))
	for i, e := range entries {
		state := e.State
		if state == "" {
			state = defaultState
		}
		reqs[i] = resolver.NameRequest(e.Name, state)
	}
	return reqs
}
