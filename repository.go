package vmrepo

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/collation"
	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/sortlist"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

// Fieldsets are the fields a subscription for the collection requests.
type Fieldsets struct {
	Detail []string
	// Routing is set when the collection is addressed by sequential number.
	Routing []string
}

// Option configures a Repository.
type Option[V viewmodel.ViewModel] func(*Repository[V])

// WithTitle sets the title of the view models. Without it Title is empty.
func WithTitle[V viewmodel.ViewModel](fn func(V) string) Option[V] {
	return func(r *Repository[V]) { r.title = fn }
}

// WithListTitle sets the title used in lists. It defaults to the title.
func WithListTitle[V viewmodel.ViewModel](fn func(V) string) Option[V] {
	return func(r *Repository[V]) { r.listTitle = fn }
}

// WithVerboseName sets the singular and plural name of the collection.
func WithVerboseName[V viewmodel.ViewModel](fn func(plural bool) string) Option[V] {
	return func(r *Repository[V]) { r.verboseName = fn }
}

// WithRequestableFields sets the fields a subscription requests; see
// Fieldsets.
func WithRequestableFields[V viewmodel.ViewModel](fields ...string) Option[V] {
	return func(r *Repository[V]) { r.requestable = slices.Clone(fields) }
}

// WithTap installs a hook that sees the accessible list before it is sorted
// by the sort function.
func WithTap[V viewmodel.ViewModel](fn func([]V)) Option[V] {
	return func(r *Repository[V]) { r.tap = fn }
}

// WithOnCreate installs a hook called for every created view model.
func WithOnCreate[V viewmodel.ViewModel](fn func(V)) Option[V] {
	return func(r *Repository[V]) { r.onCreate = fn }
}

type registeredStrategy[V viewmodel.ViewModel] struct {
	key      string
	strategy sortlist.Strategy[V]
}

// Repository caches the view models of one collection and keeps a sorted
// projection of them up to date.
//
// The map of view models and the per-id observables change synchronously in
// ChangedModels, DeleteModels and CommitUpdate. The sorted list is maintained
// by a task pipeline and lags behind; WaitIdle blocks until it caught up.
type Repository[V viewmodel.ViewModel] struct {
	collection string
	collector  *Collector
	logger     logger.Logger

	title       func(V) string
	listTitle   func(V) string
	verboseName func(plural bool) string
	requestable []string
	tap         func([]V)
	onCreate    func(V)

	mu       sync.RWMutex
	store    map[models.ID]V
	subjects map[models.ID]*observable.BehaviorSubject[V]
	sorted   []V
	index    map[models.ID]int
	sortFn   func(a, b V) int
	collator *collation.Collator
	pipes    []func(V)
	// version numbers the sorted snapshots taken under mu.
	version uint64

	// sortedMu guards the latest sorted snapshot and the publisher flag; see
	// publishSorted.
	sortedMu     sync.Mutex
	sortedLatest sortedSnapshot[V]
	publishing   bool

	strategyMu  sync.Mutex
	strategies  []registeredStrategy[V]
	strategy    sortlist.Strategy[V]
	strategySub observable.Subscription

	foreignMu   sync.Mutex
	foreignKeys map[string][]string
	foreignSubs observable.Subscriptions

	storeSubject  *observable.BehaviorSubject[map[models.ID]V]
	unsafeList    *observable.BehaviorSubject[[]V]
	sortFnList    *observable.BehaviorSubject[[]V]
	general       *observable.Subject[V]
	modified      *observable.Subject[[]models.ID]
	sortedUnsafe  *observable.BehaviorSubject[[]V]
	sortedVisible *observable.BehaviorSubject[[]V]
	errs          *observable.Subject[error]

	pipeline *pipeline
	subs     observable.Subscriptions
}

var _ CollectionRepository = (*Repository[viewmodel.ViewModel])(nil)

// New creates the repository of a collection and registers it with c. A nil
// ctor means the constructor is registered on the mapper separately.
func New[V viewmodel.ViewModel](c *Collector, collection string, ctor viewmodel.Constructor[V], opts ...Option[V]) *Repository[V] {
	r := &Repository[V]{
		collection:    collection,
		collector:     c,
		logger:        c.Logger(),
		store:         make(map[models.ID]V),
		subjects:      make(map[models.ID]*observable.BehaviorSubject[V]),
		index:         make(map[models.ID]int),
		sortFn:        func(a, b V) int { return cmp.Compare(a.ID(), b.ID()) },
		collator:      c.Collator(),
		storeSubject:  observable.NewBehaviorSubject(map[models.ID]V{}),
		unsafeList:    observable.NewBehaviorSubject([]V{}),
		sortFnList:    observable.NewBehaviorSubject[[]V](nil),
		general:       observable.NewSubject[V](),
		modified:      observable.NewSubject[[]models.ID](),
		sortedUnsafe:  observable.NewBehaviorSubject([]V{}),
		sortedVisible: observable.NewBehaviorSubject([]V{}),
		errs:          observable.NewSubject[error](),
		sortedLatest:  sortedSnapshot[V]{unsafe: []V{}, visible: []V{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	if ctor != nil {
		RegisterConstructor(c.Mapper(), collection, ctor)
	}

	r.pipeline = newPipeline(r.logger, func(kind taskKind, err error) {
		r.errs.Next(&PipelineError{Collection: r.collection, Task: kind.String(), Err: err})
	})

	// Bursts of commits are folded into one update of the list sorted by the
	// sort function.
	audited := observable.Audit[[]V](r.unsafeList, constants.ViewModelListAuditTime)
	r.subs = append(r.subs,
		audited.Subscribe(r.updateSortFnList),
		c.DataStore().ClearObservable().Subscribe(func(collections []string) {
			if collections == nil || slices.Contains(collections, r.collection) {
				r.clear()
			}
		}),
	)

	c.Mapper().register(r)
	return r
}

// Collection returns the name of the collection.
func (r *Repository[V]) Collection() string {
	return r.collection
}

// Collator returns the collator of the current language.
func (r *Repository[V]) Collator() *collation.Collator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collator
}

// Fieldsets returns the requestable fields. A collection requesting
// sequential_number is also routed by meeting_id and sequential_number.
func (r *Repository[V]) Fieldsets() Fieldsets {
	if len(r.requestable) == 0 {
		return Fieldsets{}
	}
	fs := Fieldsets{Detail: slices.Clone(r.requestable)}
	if slices.Contains(r.requestable, "sequential_number") {
		fs.Routing = []string{"meeting_id", "sequential_number"}
	}
	return fs
}

// RegisterCreateViewModelPipe adds a hook run on every view model created
// after the call.
func (r *Repository[V]) RegisterCreateViewModelPipe(fn func(V)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipes = append(r.pipes, fn)
}

// SetSortFunction replaces the comparator of the list returned by
// SortedViewModelListViaSortFn. The default orders by id.
func (r *Repository[V]) SetSortFunction(fn func(a, b V) int) {
	r.mu.Lock()
	r.sortFn = fn
	ids := slices.Sorted(maps.Keys(r.subjects))
	r.mu.Unlock()
	r.CommitUpdate(ids)
}

func (r *Repository[V]) createViewModel(record *models.Record) (V, error) {
	ctor, ok := constructorFor[V](r.collector.Mapper(), r.collection)
	if !ok {
		var zero V
		return zero, fmt.Errorf("%w: %s", constants.ErrNoViewModelConstructor, r.collection)
	}
	base := viewmodel.NewBase(record)
	vm := ctor(base)

	hooks := viewmodel.Hooks{
		Resolver:    r.collector.Relations().ResolverFor(r.collection),
		VerboseName: r.verboseName,
	}
	if r.title != nil {
		hooks.Title = func() string { return r.title(vm) }
	}
	switch {
	case r.listTitle != nil:
		hooks.ListTitle = func() string { return r.listTitle(vm) }
	case r.title != nil:
		hooks.ListTitle = hooks.Title
	}
	base.Bind(hooks)

	r.mu.RLock()
	pipes := slices.Clone(r.pipes)
	r.mu.RUnlock()
	for _, pipe := range pipes {
		pipe(vm)
	}
	if r.onCreate != nil {
		r.onCreate(vm)
	}
	return vm, nil
}

// ChangedModels rebuilds the view models of ids from the data store. When
// changed is non-nil, it holds the deltas of the records and a task merging
// the models into the sorted list is queued. Ids missing from the data store
// are skipped and reported with constants.ErrRecordNotFound.
func (r *Repository[V]) ChangedModels(ids []models.ID, changed []*models.Record) error {
	deltas := make(map[models.ID]*models.Record, len(changed))
	for _, rec := range changed {
		if rec != nil {
			deltas[rec.ID] = rec
		}
	}

	var (
		errs                    []error
		newIDs, updatedIDs      []models.ID
		newDeltas, updateDeltas []*models.Record
	)
	for _, id := range ids {
		record := r.collector.DataStore().Get(r.collection, id)
		if record == nil {
			errs = append(errs, fmt.Errorf("%w: %s/%d", constants.ErrRecordNotFound, r.collection, id))
			continue
		}
		vm, err := r.createViewModel(record)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}

		r.mu.Lock()
		_, exists := r.store[id]
		r.store[id] = vm
		r.mu.Unlock()

		if exists {
			updatedIDs = append(updatedIDs, id)
			updateDeltas = append(updateDeltas, deltas[id])
		} else {
			newIDs = append(newIDs, id)
			newDeltas = append(newDeltas, deltas[id])
		}
	}

	r.storeSubject.Next(r.storeSnapshot())

	if changed != nil {
		r.pipeline.enqueue(&task{
			kind: generalTask,
			run: func(ctx context.Context) error {
				return r.resortChanged(ctx, newIDs, updatedIDs, newDeltas, updateDeltas)
			},
		})
	}
	return errors.Join(errs...)
}

// DeleteModels removes ids from the cache and from the sorted list.
func (r *Repository[V]) DeleteModels(ids []models.ID) {
	r.mu.Lock()
	var indices []int
	for _, id := range ids {
		delete(r.store, id)
		if idx, ok := r.index[id]; ok {
			indices = append(indices, idx)
		}
	}
	slices.Sort(indices)
	indices = slices.Compact(indices)
	for i := len(indices) - 1; i >= 0; i-- {
		r.sorted = slices.Delete(r.sorted, indices[i], indices[i]+1)
	}
	snap := r.processSortedLocked()
	r.mu.Unlock()

	r.publishSorted(snap)
}

// CommitUpdate publishes the unsorted list, the per-id observables of ids and
// the modified ids.
func (r *Repository[V]) CommitUpdate(ids []models.ID) {
	r.unsafeList.Next(r.ViewModelListUnsafe())
	for _, id := range ids {
		r.mu.RLock()
		subject := r.subjects[id]
		vm, exists := r.store[id]
		r.mu.RUnlock()

		if subject != nil {
			subject.Next(r.accessible(vm, exists))
		}
		if exists {
			r.general.Next(vm)
		}
	}
	r.modified.Next(slices.Clone(ids))
}

func (r *Repository[V]) accessible(vm V, exists bool) V {
	if !exists || viewmodel.IsNil(vm) || !vm.CanAccess() {
		var zero V
		return zero
	}
	return vm
}

// ViewModel returns the view model of id if it exists and is accessible.
func (r *Repository[V]) ViewModel(id models.ID) (V, bool) {
	r.mu.RLock()
	vm, ok := r.store[id]
	r.mu.RUnlock()
	vm = r.accessible(vm, ok)
	return vm, !viewmodel.IsNil(vm)
}

// ViewModelUnsafe returns the view model of id including inaccessible ones.
func (r *Repository[V]) ViewModelUnsafe(id models.ID) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vm, ok := r.store[id]
	return vm, ok
}

// ViewModelList returns all accessible view models ordered by id.
func (r *Repository[V]) ViewModelList() []V {
	return slices.DeleteFunc(r.ViewModelListUnsafe(), func(vm V) bool { return !vm.CanAccess() })
}

// ViewModelListUnsafe returns all view models ordered by id.
func (r *Repository[V]) ViewModelListUnsafe() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Repository[V]) listLocked() []V {
	out := make([]V, 0, len(r.store))
	for _, id := range slices.Sorted(maps.Keys(r.store)) {
		out = append(out, r.store[id])
	}
	return out
}

func (r *Repository[V]) storeSnapshot() map[models.ID]V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.store)
}

// ViewModelObservable emits the accessible view model of id, or the zero
// value while it is missing or inaccessible.
func (r *Repository[V]) ViewModelObservable(id models.ID) observable.Observable[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	subject, ok := r.subjects[id]
	if !ok {
		vm, exists := r.store[id]
		subject = observable.NewBehaviorSubject(r.accessible(vm, exists))
		r.subjects[id] = subject
	}
	return subject
}

// ViewModelListObservable emits the accessible view models sorted by the sort
// function, at most once per short burst of commits.
func (r *Repository[V]) ViewModelListObservable() observable.Observable[[]V] {
	return observable.Filter[[]V](r.sortFnList, func(v []V) bool { return v != nil })
}

// ViewModelListUnsafeObservable emits all view models ordered by id on every
// commit.
func (r *Repository[V]) ViewModelListUnsafeObservable() observable.Observable[[]V] {
	return r.unsafeList
}

// SortedViewModelListViaSortFn returns the last value of
// ViewModelListObservable.
func (r *Repository[V]) SortedViewModelListViaSortFn() []V {
	if list := r.sortFnList.Value(); list != nil {
		return list
	}
	return []V{}
}

// GeneralViewModelObservable emits every committed view model, inaccessible
// ones included.
func (r *Repository[V]) GeneralViewModelObservable() observable.Observable[V] {
	return r.general
}

// ModifiedIDsObservable emits the ids of every commit.
func (r *Repository[V]) ModifiedIDsObservable() observable.Observable[[]models.ID] {
	return r.modified
}

// ViewModelMapObservable emits the cached view models by id after every
// change.
func (r *Repository[V]) ViewModelMapObservable() observable.Observable[map[models.ID]V] {
	return r.storeSubject
}

// SortedViewModelList returns the accessible view models in sort order.
func (r *Repository[V]) SortedViewModelList() []V {
	r.sortedMu.Lock()
	defer r.sortedMu.Unlock()
	return r.sortedLatest.visible
}

// SortedViewModelListObservable emits SortedViewModelList whenever the sorted
// list changes.
func (r *Repository[V]) SortedViewModelListObservable() observable.Observable[[]V] {
	return r.sortedVisible
}

// SortedViewModelListUnsafe returns all view models in sort order,
// inaccessible ones included.
func (r *Repository[V]) SortedViewModelListUnsafe() []V {
	r.sortedMu.Lock()
	defer r.sortedMu.Unlock()
	return r.sortedLatest.unsafe
}

// SortedViewModelListUnsafeObservable emits SortedViewModelListUnsafe
// whenever the sorted list changes.
func (r *Repository[V]) SortedViewModelListUnsafeObservable() observable.Observable[[]V] {
	return r.sortedUnsafe
}

// PipelineErrors emits a *PipelineError for every failed resort task.
func (r *Repository[V]) PipelineErrors() observable.Observable[error] {
	return r.errs
}

// WaitIdle blocks until all queued resort tasks have run.
func (r *Repository[V]) WaitIdle(ctx context.Context) error {
	return r.pipeline.waitIdle(ctx)
}

func (r *Repository[V]) updateSortFnList(list []V) {
	r.mu.RLock()
	sortFn := r.sortFn
	r.mu.RUnlock()

	visible := slices.DeleteFunc(slices.Clone(list), func(vm V) bool { return !vm.CanAccess() })
	if r.tap != nil {
		r.tap(visible)
	}
	slices.SortStableFunc(visible, sortFn)
	r.sortFnList.Next(visible)
}

func (r *Repository[V]) clear() {
	r.mu.Lock()
	r.store = make(map[models.ID]V)
	r.sorted = nil
	snap := r.processSortedLocked()
	r.mu.Unlock()

	r.logger.Debug("repository cleared", "collection", r.collection)
	r.storeSubject.Next(map[models.ID]V{})
	r.unsafeList.Next([]V{})
	r.publishSorted(snap)
}

func (r *Repository[V]) setCollator(c *collation.Collator) {
	r.mu.Lock()
	r.collator = c
	r.mu.Unlock()
	r.updateSortFnList(r.unsafeList.Value())
}

func (r *Repository[V]) lookup(id models.ID) (viewmodel.ViewModel, bool) {
	vm, ok := r.ViewModel(id)
	if !ok {
		return nil, false
	}
	return vm, true
}

func (r *Repository[V]) observe(id models.ID) observable.Observable[viewmodel.ViewModel] {
	return observable.Map(r.ViewModelObservable(id), func(vm V) viewmodel.ViewModel {
		if viewmodel.IsNil(vm) {
			return nil
		}
		return vm
	})
}

// Close stops the pipeline and detaches from the data store and the active
// sort strategy.
func (r *Repository[V]) Close() {
	r.subs.Unsubscribe()

	r.strategyMu.Lock()
	if r.strategySub != nil {
		r.strategySub.Unsubscribe()
		r.strategySub = nil
	}
	r.strategyMu.Unlock()

	r.foreignMu.Lock()
	r.foreignSubs.Unsubscribe()
	r.foreignSubs = nil
	r.foreignMu.Unlock()

	r.pipeline.close()
	r.collector.Mapper().unregister(r)
}
