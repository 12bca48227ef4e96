package vmrepo

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/sortlist"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

var _ sortlist.Registry[viewmodel.ViewModel] = (*Repository[viewmodel.ViewModel])(nil)

// RegisterSortListService attaches a sort strategy. The most recently
// registered strategy is active; activating one re-sorts the whole list.
func (r *Repository[V]) RegisterSortListService(key string, s sortlist.Strategy[V]) {
	r.strategyMu.Lock()
	defer r.strategyMu.Unlock()
	r.strategies = slices.DeleteFunc(r.strategies, func(e registeredStrategy[V]) bool { return e.key == key })
	r.strategies = append(r.strategies, registeredStrategy[V]{key: key, strategy: s})
	r.activateLocked(s)
}

// UnregisterSortListService detaches the strategy registered under key. The
// previous strategy becomes active again; without one the list keeps its
// current order.
func (r *Repository[V]) UnregisterSortListService(key string) {
	r.strategyMu.Lock()
	defer r.strategyMu.Unlock()
	n := len(r.strategies)
	r.strategies = slices.DeleteFunc(r.strategies, func(e registeredStrategy[V]) bool { return e.key == key })
	if len(r.strategies) == n {
		return
	}
	var next sortlist.Strategy[V]
	if len(r.strategies) > 0 {
		next = r.strategies[len(r.strategies)-1].strategy
	}
	if next != r.activeStrategy() {
		r.activateLocked(next)
	}
}

// activateLocked must be called with strategyMu held.
func (r *Repository[V]) activateLocked(s sortlist.Strategy[V]) {
	if r.strategySub != nil {
		r.strategySub.Unsubscribe()
		r.strategySub = nil
	}
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()

	if s == nil {
		r.foreignMu.Lock()
		r.foreignSubs.Unsubscribe()
		r.foreignSubs = nil
		r.foreignKeys = nil
		r.foreignMu.Unlock()
		return
	}
	r.logger.Debug("sort strategy activated", "collection", r.collection)
	r.enqueueReset()
	r.strategySub = s.SortingUpdated().Subscribe(func(sortlist.Definition) {
		r.enqueueReset()
	})
}

func (r *Repository[V]) activeStrategy() sortlist.Strategy[V] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.strategy
}

func (r *Repository[V]) enqueueReset() {
	r.pipeline.enqueue(&task{kind: resetTask, run: r.resetSorting})
}

func (r *Repository[V]) enqueueResort() {
	r.pipeline.enqueue(&task{kind: resortTask, run: r.resortAll})
}

func (r *Repository[V]) resetSorting(ctx context.Context) error {
	s := r.activeStrategy()
	if s == nil {
		return nil
	}
	if err := r.updateForeignKeys(ctx, s); err != nil {
		return err
	}
	return r.resortAll(ctx)
}

// updateForeignKeys follows the key-update bus for the foreign fields the
// active comparison depends on.
func (r *Repository[V]) updateForeignKeys(ctx context.Context, s sortlist.Strategy[V]) error {
	r.foreignMu.Lock()
	r.foreignSubs.Unsubscribe()
	r.foreignSubs = nil
	r.foreignMu.Unlock()

	if err := awaitLoaded(ctx, s); err != nil {
		return err
	}
	keys := s.CurrentForeignSortBaseKeys()

	r.foreignMu.Lock()
	defer r.foreignMu.Unlock()
	r.foreignKeys = keys
	for collection := range keys {
		sub := r.collector.NewKeyUpdatesObservable(collection).Subscribe(func(changed []string) {
			r.foreignMu.Lock()
			watched := r.foreignKeys[collection]
			r.foreignMu.Unlock()
			if intersects(watched, changed) {
				r.enqueueResort()
			}
		})
		r.foreignSubs = append(r.foreignSubs, sub)
	}
	return nil
}

func awaitLoaded[V viewmodel.ViewModel](ctx context.Context, s sortlist.Strategy[V]) error {
	select {
	case <-s.Loaded():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resortAll sorts the whole list with the active strategy.
func (r *Repository[V]) resortAll(ctx context.Context) error {
	s := r.activeStrategy()
	if s == nil {
		return nil
	}
	if err := awaitLoaded(ctx, s); err != nil {
		return err
	}
	r.mu.RLock()
	snapshot := slices.Clone(r.sorted)
	r.mu.RUnlock()

	sorted, err := s.Sort(ctx, snapshot)
	if err != nil {
		return err
	}
	r.install(sorted)
	return nil
}

// resortChanged merges new and updated view models into the sorted list. The
// whole list is only re-sorted when a field the comparison depends on changed;
// new view models are sorted among themselves and merged in linearly.
func (r *Repository[V]) resortChanged(ctx context.Context, newIDs, updatedIDs []models.ID, newDeltas, updatedDeltas []*models.Record) error {
	r.mu.Lock()
	s := r.strategy
	for _, id := range updatedIDs {
		r.overwriteLocked(id)
	}
	var fresh []V
	// A new id already in the sorted list was recreated while an earlier task
	// ran. Its slot is stale, so its fields count as changed.
	changedDeltas := slices.Clone(updatedDeltas)
	for i, id := range newIDs {
		vm, ok := r.store[id]
		if !ok {
			continue
		}
		if r.overwriteLocked(id) {
			changedDeltas = append(changedDeltas, newDeltas[i])
			continue
		}
		fresh = append(fresh, vm)
	}
	snapshot := slices.Clone(r.sorted)
	r.mu.Unlock()

	changedKeys := deltaKeys(changedDeltas)
	r.collector.RegisterNewKeyUpdates(r.collection, union(deltaKeys(newDeltas), changedKeys))

	compare := func(a, b V) (int, error) { return cmp.Compare(a.ID(), b.ID()), nil }
	if s != nil {
		if err := awaitLoaded(ctx, s); err != nil {
			return err
		}
		if intersects(s.CurrentSortBaseKeys(), changedKeys) {
			sorted, err := s.Sort(ctx, snapshot)
			if err != nil {
				return err
			}
			snapshot = sorted
		}
		sorted, err := s.Sort(ctx, fresh)
		if err != nil {
			return err
		}
		fresh = sorted
		compare = func(a, b V) (int, error) { return s.Compare(ctx, a, b) }
	} else {
		slices.SortFunc(fresh, func(a, b V) int { return cmp.Compare(a.ID(), b.ID()) })
	}

	merged, err := mergeSorted(snapshot, fresh, compare)
	if err != nil {
		return err
	}
	r.install(merged)
	return nil
}

// overwriteLocked replaces the sorted slot of id with the cached instance and
// reports whether id had a slot.
func (r *Repository[V]) overwriteLocked(id models.ID) bool {
	idx, ok := r.index[id]
	if !ok || idx >= len(r.sorted) {
		return false
	}
	if vm, ok := r.store[id]; ok {
		r.sorted[idx] = vm
	}
	return true
}

// mergeSorted inserts every fresh item before the first existing item it
// compares less than; the remainder is appended.
func mergeSorted[V any](existing, fresh []V, compare func(a, b V) (int, error)) ([]V, error) {
	out := make([]V, 0, len(existing)+len(fresh))
	i := 0
	for _, e := range existing {
		for i < len(fresh) {
			c, err := compare(fresh[i], e)
			if err != nil {
				return nil, err
			}
			if c >= 0 {
				break
			}
			out = append(out, fresh[i])
			i++
		}
		out = append(out, e)
	}
	return append(out, fresh[i:]...), nil
}

// install replaces the sorted list with list, reconciled against the live
// cache: ids deleted in the meantime are dropped, instances are refreshed and
// duplicates removed.
func (r *Repository[V]) install(list []V) {
	r.mu.Lock()
	seen := make(map[models.ID]bool, len(list))
	out := make([]V, 0, len(list))
	for _, vm := range list {
		id := vm.ID()
		if seen[id] {
			continue
		}
		live, ok := r.store[id]
		if !ok {
			continue
		}
		seen[id] = true
		out = append(out, live)
	}
	r.sorted = out
	snap := r.processSortedLocked()
	r.mu.Unlock()

	r.publishSorted(snap)
}

// sortedSnapshot is a numbered copy of the sorted list.
type sortedSnapshot[V viewmodel.ViewModel] struct {
	version uint64
	unsafe  []V
	visible []V
}

// processSortedLocked rebuilds the id index and returns a snapshot of the
// sorted list, unfiltered and accessible only. mu must be held for writing.
func (r *Repository[V]) processSortedLocked() sortedSnapshot[V] {
	r.version++
	snap := sortedSnapshot[V]{
		version: r.version,
		unsafe:  make([]V, len(r.sorted)),
		visible: make([]V, 0, len(r.sorted)),
	}
	r.index = make(map[models.ID]int, len(r.sorted))
	for i, vm := range r.sorted {
		r.index[vm.ID()] = i
		snap.unsafe[i] = vm
		if vm.CanAccess() {
			snap.visible = append(snap.visible, vm)
		}
	}
	return snap
}

// publishSorted emits snap on the sorted observables unless a newer snapshot
// is known. One goroutine publishes at a time: a call arriving meanwhile only
// records its snapshot, and the publisher emits the newest one before it
// returns. Subscribers may call back into the repository.
func (r *Repository[V]) publishSorted(snap sortedSnapshot[V]) {
	r.sortedMu.Lock()
	if snap.version <= r.sortedLatest.version {
		r.sortedMu.Unlock()
		return
	}
	r.sortedLatest = snap
	if r.publishing {
		r.sortedMu.Unlock()
		return
	}
	r.publishing = true
	for {
		cur := r.sortedLatest
		r.sortedMu.Unlock()

		r.sortedUnsafe.Next(cur.unsafe)
		r.sortedVisible.Next(cur.visible)

		r.sortedMu.Lock()
		if r.sortedLatest.version == cur.version {
			r.publishing = false
			r.sortedMu.Unlock()
			return
		}
	}
}

// sortedIndex returns a copy of the id index.
func (r *Repository[V]) sortedIndex() map[models.ID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.index)
}

func deltaKeys(deltas []*models.Record) []string {
	var keys []string
	for _, d := range deltas {
		for _, k := range d.Keys() {
			if !slices.Contains(keys, k) {
				keys = append(keys, k)
			}
		}
	}
	return keys
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, k := range b {
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	return slices.ContainsFunc(a, func(k string) bool { return slices.Contains(b, k) })
}
