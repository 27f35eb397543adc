package services

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/metrics"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

// backfillConcurrency bounds parallel mapping calls when a lookup spans
// several (profile, bucket) groups.
const backfillConcurrency = 4

// TravelTimeCache answers travel-time lookups from the persistent store
// and backfills misses from the mapping service. One backfill call per
// (profile, departure bucket) group covers all of that group's missing
// ordered pairs; every returned tuple is upserted, so concurrent
// backfills of the same pairs converge on the same rows.
type TravelTimeCache struct {
	store    ports.TravelTimeStore
	provider ports.MatrixProvider
	nodes    ports.NodeRepository
	bucketer domain.Bucketer
	options  string
}

// NewTravelTimeCache wires the cache. Options names the provider option
// context (e.g. the traffic model) stamped on every entry the cache
// writes; providers that support it receive it with each matrix call.
func NewTravelTimeCache(
	store ports.TravelTimeStore,
	provider ports.MatrixProvider,
	nodes ports.NodeRepository,
	bucketer domain.Bucketer,
	options string,
) *TravelTimeCache {
	return &TravelTimeCache{
		store:    store,
		provider: provider,
		nodes:    nodes,
		bucketer: bucketer,
		options:  options,
	}
}

// Bucketer exposes the bucketing rule so callers derive the same
// departure buckets the cache is keyed by.
func (c *TravelTimeCache) Bucketer() domain.Bucketer { return c.bucketer }

// GetMany answers from the store only; missing keys stay absent. Used
// where a miss must surface instead of triggering an external call.
func (c *TravelTimeCache) GetMany(
	ctx context.Context,
	keys []domain.TravelTimeKey,
) (map[domain.TravelTimeKey]domain.TravelTime, error) {
	found, err := c.store.GetMany(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("travel times: %w", err)
	}
	metrics.TravelTimeLookups.WithLabelValues("hit").Add(float64(len(found)))
	metrics.TravelTimeLookups.WithLabelValues("miss").Add(float64(len(keys) - len(found)))
	return found, nil
}

// Lookup resolves a single pair, backfilling on miss.
func (c *TravelTimeCache) Lookup(
	ctx context.Context,
	originID, destID int64,
	profile string,
	departAt time.Time,
) (domain.TravelTime, error) {
	key := domain.TravelTimeKey{
		OriginID: originID,
		DestID:   destID,
		Profile:  profile,
		Bucket:   c.bucketer.Bucket(departAt),
	}
	got, err := c.Ensure(ctx, []domain.TravelTimeKey{key})
	if err != nil {
		return domain.TravelTime{}, err
	}
	tt, ok := got[key]
	if !ok {
		return domain.TravelTime{}, fmt.Errorf("travel times: %d -> %d at bucket %d: %w",
			originID, destID, key.Bucket, domain.ErrTravelTimeMiss)
	}
	return tt, nil
}

// Ensure answers the given keys, calling the mapping service for any
// that are missing. Duplicate and self-referential keys are dropped.
// Misses are grouped by (profile, bucket) and each group is served by
// exactly one matrix call; groups run in parallel.
func (c *TravelTimeCache) Ensure(
	ctx context.Context,
	keys []domain.TravelTimeKey,
) (_ map[domain.TravelTimeKey]domain.TravelTime, err error) {
	defer obs.Time(ctx, "traveltime.Ensure")(&err)

	uniq := make([]domain.TravelTimeKey, 0, len(keys))
	seen := make(map[domain.TravelTimeKey]struct{}, len(keys))
	for _, k := range keys {
		if k.OriginID == k.DestID {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		uniq = append(uniq, k)
	}
	if len(uniq) == 0 {
		return map[domain.TravelTimeKey]domain.TravelTime{}, nil
	}

	found, err := c.GetMany(ctx, uniq)
	if err != nil {
		return nil, err
	}

	type groupKey struct {
		profile string
		bucket  int64
	}
	groups := map[groupKey][][2]int64{}
	for _, k := range uniq {
		if _, ok := found[k]; ok {
			continue
		}
		gk := groupKey{profile: k.Profile, bucket: k.Bucket}
		groups[gk] = append(groups[gk], [2]int64{k.OriginID, k.DestID})
	}
	if len(groups) == 0 {
		return found, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(backfillConcurrency)

	var mu sync.Mutex
	for gk, pairs := range groups {
		g.Go(func() error {
			entries, err := c.backfill(gctx, gk.profile, gk.bucket, pairs)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, e := range entries {
				found[e.Key] = e
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return found, nil
}

// Rebuild regenerates the full ordered-pair matrix over every
// registered node for one profile and departure time. Returns how many
// entries were written.
func (c *TravelTimeCache) Rebuild(
	ctx context.Context,
	profile string,
	departAt time.Time,
) (_ int, err error) {
	defer obs.Time(ctx, "traveltime.Rebuild")(&err)

	nodes, err := c.nodes.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild travel times: %w", err)
	}
	if len(nodes) < 2 {
		return 0, nil
	}

	pairs := make([][2]int64, 0, len(nodes)*(len(nodes)-1))
	for _, o := range nodes {
		for _, d := range nodes {
			if o.NodeID == d.NodeID {
				continue
			}
			pairs = append(pairs, [2]int64{o.NodeID, d.NodeID})
		}
	}

	entries, err := c.backfill(ctx, profile, c.bucketer.Bucket(departAt), pairs)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// backfill serves one (profile, bucket) group with a single matrix
// call. Nodes without coordinates are geocoded first and the result is
// written back to the registry, so each address is resolved externally
// at most once over the cache's lifetime.
func (c *TravelTimeCache) backfill(
	ctx context.Context,
	profile string,
	bucket int64,
	pairs [][2]int64,
) ([]domain.TravelTime, error) {
	idSet := map[int64]struct{}{}
	originSet := map[int64]struct{}{}
	destSet := map[int64]struct{}{}
	for _, p := range pairs {
		idSet[p[0]] = struct{}{}
		idSet[p[1]] = struct{}{}
		originSet[p[0]] = struct{}{}
		destSet[p[1]] = struct{}{}
	}
	ids := make([]int64, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes, err := c.nodes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("backfill travel times: %w", err)
	}
	for _, id := range ids {
		if _, ok := nodes[id]; !ok {
			return nil, &domain.UnresolvedNodeError{Name: strconv.FormatInt(id, 10)}
		}
	}

	if err := c.enrichCoords(ctx, nodes, ids); err != nil {
		metrics.BackfillCalls.WithLabelValues("error").Inc()
		return nil, err
	}

	points := make([]ports.MatrixPoint, 0, len(ids))
	indexOf := make(map[int64]int, len(ids))
	for i, id := range ids {
		n := nodes[id]
		points = append(points, ports.MatrixPoint{NodeID: id, Coords: *n.Coords})
		indexOf[id] = i
	}

	sources := make([]int, 0, len(originSet))
	dests := make([]int, 0, len(destSet))
	for _, id := range ids {
		if _, ok := originSet[id]; ok {
			sources = append(sources, indexOf[id])
		}
		if _, ok := destSet[id]; ok {
			dests = append(dests, indexOf[id])
		}
	}

	entries, err := c.provider.ComputeMatrix(ctx, ports.MatrixRequest{
		Profile:         profile,
		DepartureBucket: bucket,
		Options:         c.options,
		Points:          points,
		Sources:         sources,
		Dests:           dests,
	})
	if err != nil {
		metrics.BackfillCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("backfill travel times: %w", err)
	}

	tts := make([]domain.TravelTime, 0, len(entries))
	for _, e := range entries {
		tts = append(tts, domain.TravelTime{
			Key: domain.TravelTimeKey{
				OriginID: e.OriginID,
				DestID:   e.DestID,
				Profile:  profile,
				Bucket:   bucket,
			},
			DurationSec:    e.DurationSec,
			DistanceMeters: e.DistanceMeters,
			Options:        c.options,
			Raw:            e.Raw,
		})
	}

	if err := c.store.UpsertMany(ctx, tts); err != nil {
		metrics.BackfillCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("backfill travel times: %w", err)
	}

	metrics.BackfillCalls.WithLabelValues("ok").Inc()
	metrics.BackfillPairs.Observe(float64(len(pairs)))
	return tts, nil
}

// enrichCoords geocodes nodes that lack coordinates and persists the
// result on the registry. Mutates the nodes map in place.
func (c *TravelTimeCache) enrichCoords(ctx context.Context, nodes map[int64]domain.Node, ids []int64) error {
	var addresses []string
	var pending []int64
	for _, id := range ids {
		n := nodes[id]
		if n.HasCoords() {
			continue
		}
		if n.Address == "" {
			return fmt.Errorf("backfill travel times: node %d %q has no coordinates and no address", n.NodeID, n.Name)
		}
		addresses = append(addresses, n.Address)
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}

	results, err := c.provider.GeocodeMany(ctx, addresses)
	if err != nil {
		return fmt.Errorf("backfill travel times: %w", err)
	}

	for _, id := range pending {
		n := nodes[id]
		res, ok := results[n.Address]
		if !ok {
			return fmt.Errorf("backfill travel times: no geocode result for node %d %q", n.NodeID, n.Address)
		}
		if err := c.nodes.SetCoords(ctx, id, res.Coords, res.PlaceRef); err != nil {
			return fmt.Errorf("backfill travel times: %w", err)
		}
		coords := res.Coords
		n.Coords = &coords
		n.PlaceRef = res.PlaceRef
		nodes[id] = n
	}
	return nil
}
