package analytics

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/EternisAI/fleetwatch/internal/events"
)

const (
	DefaultMaxWindow = 31 * 24 * time.Hour
	DefaultTopN      = 10
)

// Engine reduces event ranges into counts. It keeps no state between calls:
// every result is recomputed from the store.
type Engine struct {
	store     events.Store
	maxWindow time.Duration
}

func NewEngine(store events.Store, maxWindow time.Duration) *Engine {
	if maxWindow <= 0 {
		maxWindow = DefaultMaxWindow
	}
	return &Engine{
		store:     store,
		maxWindow: maxWindow,
	}
}

func (e *Engine) MaxWindow() time.Duration { return e.maxWindow }

type cell struct {
	start time.Time
	group string
}

// Aggregate counts matching events per (slot, group), ordered ascending by
// slot then group. Empty slots are not synthesized.
func (e *Engine) Aggregate(ctx context.Context, q Query) ([]Bucket, error) {
	if err := e.validate(q.Kinds, q.Window); err != nil {
		return nil, err
	}
	if _, err := ParseGroupBy(string(q.GroupBy)); err != nil {
		return nil, err
	}
	if _, err := ParseGranularity(string(q.Granularity)); err != nil {
		return nil, err
	}

	counts := make(map[cell]int64)
	filter := events.Filter{Kinds: q.Kinds, Agent: q.Agent}
	var scanned int64
	for ev, err := range e.store.QueryRange(ctx, filter, q.Window) {
		if err != nil {
			return nil, err
		}
		counts[cell{start: q.Granularity.Floor(ev.Timestamp), group: q.GroupBy.key(ev)}]++
		scanned++
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	buckets := sortedBuckets(counts)

	slog.Debug("Aggregation complete",
		"group_by", q.GroupBy,
		"granularity", q.Granularity,
		"events", scanned,
		"buckets", len(buckets))
	return buckets, nil
}

// TopN returns the N largest groups, count descending with ties broken by
// group key ascending.
func (e *Engine) TopN(ctx context.Context, q TopQuery) ([]GroupCount, error) {
	if err := e.validate(q.Kinds, q.Window); err != nil {
		return nil, err
	}
	if _, err := ParseGroupBy(string(q.GroupBy)); err != nil {
		return nil, err
	}
	if q.N < 1 {
		return nil, fmt.Errorf("%w: n must be at least 1", events.ErrValidation)
	}

	counts := make(map[string]int64)
	for ev, err := range e.store.QueryRange(ctx, events.Filter{Kinds: q.Kinds}, q.Window) {
		if err != nil {
			return nil, err
		}
		counts[q.GroupBy.key(ev)]++
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	return rank(counts, q.N), nil
}

// Overview summarises authenticated sessions in the window in a single scan.
func (e *Engine) Overview(ctx context.Context, window events.Window) (*Overview, error) {
	if err := e.validate(nil, window); err != nil {
		return nil, err
	}

	var total int64
	byAgent := make(map[string]int64)
	byUser := make(map[string]int64)
	hourly := make(map[cell]int64)

	filter := events.Filter{Kinds: []events.Kind{events.KindAuthenticated}}
	for ev, err := range e.store.QueryRange(ctx, filter, window) {
		if err != nil {
			return nil, err
		}
		total++
		agentKey := GroupByAgent.key(ev)
		byAgent[agentKey]++
		byUser[GroupByUser.key(ev)]++
		hourly[cell{start: Hour.Floor(ev.Timestamp), group: agentKey}]++
	}
	if err := events.ContextError(ctx); err != nil {
		return nil, err
	}

	return &Overview{
		Window:        window,
		Total:         total,
		ByAgent:       rank(byAgent, len(byAgent)),
		HourlyByAgent: sortedBuckets(hourly),
		TopUsers:      rank(byUser, DefaultTopN),
	}, nil
}

func (e *Engine) validate(kinds []events.Kind, window events.Window) error {
	if err := window.Validate(e.maxWindow); err != nil {
		return err
	}
	return validateKinds(kinds)
}

func rank(counts map[string]int64, n int) []GroupCount {
	out := make([]GroupCount, 0, len(counts))
	for g, c := range counts {
		out = append(out, GroupCount{Group: g, Count: c})
	}
	slices.SortFunc(out, func(a, b GroupCount) int {
		if a.Count != b.Count {
			return cmp.Compare(b.Count, a.Count)
		}
		return cmp.Compare(a.Group, b.Group)
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedBuckets(counts map[cell]int64) []Bucket {
	out := make([]Bucket, 0, len(counts))
	for c, n := range counts {
		out = append(out, Bucket{Start: c.start, Group: c.group, Count: n})
	}
	slices.SortFunc(out, func(a, b Bucket) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Group, b.Group)
	})
	return out
}
