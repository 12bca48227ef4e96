package vmrepo

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/datastore"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/relations"
	"github.com/openslides/vmrepo/pkg/sortlist"
	"github.com/openslides/vmrepo/pkg/storage"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

type testVM struct {
	*viewmodel.Base
}

func newTestVM(b *viewmodel.Base) *testVM {
	b.SetAccessField("meeting_id")
	return &testVM{Base: b}
}

func vmIDs(list []*testVM) []models.ID {
	out := make([]models.ID, len(list))
	for i, vm := range list {
		out[i] = vm.ID()
	}
	return out
}

func rec(collection string, id models.ID, fields map[string]any) *models.Record {
	if fields == nil {
		fields = map[string]any{}
	}
	if _, ok := fields["meeting_id"]; !ok {
		fields["meeting_id"] = 1
	}
	return models.NewRecord(collection, id, fields)
}

func set(collection string, id models.ID, field string, value any) datastore.FieldChange {
	return datastore.FieldChange{
		FQField: models.FQField{FQID: models.NewFQID(collection, id), Field: field},
		Value:   value,
	}
}

func newTestRepo(t *testing.T, opts ...Option[*testVM]) (*datastore.Store, *Collector, *Repository[*testVM]) {
	t.Helper()
	ds := datastore.New()
	c := NewCollector(ds)
	repo := New(c, "motion", newTestVM, opts...)
	t.Cleanup(c.Close)
	return ds, c, repo
}

func waitIdle(t *testing.T, repos ...CollectionRepository) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, repo := range repos {
		require.NoError(t, repo.WaitIdle(ctx))
	}
}

func weightService(t *testing.T, repo *Repository[*testVM]) *sortlist.Service[*testVM] {
	t.Helper()
	svc := sortlist.New(sortlist.Config[*testVM]{
		StorageKey: "motion_list",
		Options: func() []sortlist.Option[*testVM] {
			return []sortlist.Option[*testVM]{{Property: sortlist.P("weight")}, {Property: sortlist.P("title")}}
		},
		Default:  &sortlist.Definition{SortProperty: sortlist.P("weight"), SortAscending: true},
		Store:    storage.NewMemory(),
		Registry: repo,
		Collator: repo.Collator,
	})
	t.Cleanup(svc.Close)
	require.NoError(t, svc.InitSorting(context.Background()))
	return svc
}

type fakeStrategy struct {
	loaded  chan struct{}
	updated *observable.Subject[sortlist.Definition]
	err     error
	desc    bool
}

func newFakeStrategy() *fakeStrategy {
	loaded := make(chan struct{})
	close(loaded)
	return &fakeStrategy{loaded: loaded, updated: observable.NewSubject[sortlist.Definition]()}
}

func (f *fakeStrategy) compare(a, b *testVM) int {
	c := int(a.ID() - b.ID())
	if f.desc {
		return -c
	}
	return c
}

func (f *fakeStrategy) Loaded() <-chan struct{} { return f.loaded }

func (f *fakeStrategy) Sort(_ context.Context, items []*testVM) ([]*testVM, error) {
	if f.err != nil {
		return nil, f.err
	}
	slices.SortFunc(items, f.compare)
	return items, nil
}

func (f *fakeStrategy) Compare(_ context.Context, a, b *testVM) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.compare(a, b), nil
}

func (f *fakeStrategy) CurrentSortBaseKeys() []string { return []string{"weight"} }

func (f *fakeStrategy) CurrentForeignSortBaseKeys() map[string][]string { return nil }

func (f *fakeStrategy) SortingUpdated() observable.Observable[sortlist.Definition] { return f.updated }

func assertIndexConsistent(t *testing.T, repo *Repository[*testVM]) {
	t.Helper()
	sorted := repo.SortedViewModelListUnsafe()
	index := repo.sortedIndex()
	require.Len(t, index, len(sorted))
	for i, vm := range sorted {
		assert.Equal(t, i, index[vm.ID()], "index of %d", vm.ID())
	}
}

func TestIndexMatchesSortedList(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	rng := rand.New(rand.NewPCG(1, 2))

	for range 200 {
		id := models.ID(rng.IntN(30) + 1)
		if rng.IntN(3) == 0 {
			ds.Delete("motion", id)
		} else {
			ds.Set(rec("motion", id, map[string]any{"weight": rng.IntN(10)}))
		}
	}
	waitIdle(t, repo)

	assertIndexConsistent(t, repo)
	assert.ElementsMatch(t, ds.IDs("motion"), vmIDs(repo.SortedViewModelListUnsafe()))
	assert.True(t, slices.IsSorted(vmIDs(repo.SortedViewModelListUnsafe())))
}

func TestIndexMatchesSortedListWithStrategy(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	weightService(t, repo)
	rng := rand.New(rand.NewPCG(3, 4))

	for range 200 {
		id := models.ID(rng.IntN(30) + 1)
		switch rng.IntN(4) {
		case 0:
			ds.Delete("motion", id)
		case 1:
			if ds.Get("motion", id) != nil {
				ds.Apply([]datastore.FieldChange{set("motion", id, "weight", rng.IntN(10))})
			}
		default:
			ds.Set(rec("motion", id, map[string]any{"weight": rng.IntN(10)}))
		}
	}
	waitIdle(t, repo)

	assertIndexConsistent(t, repo)
	sorted := repo.SortedViewModelListUnsafe()
	assert.ElementsMatch(t, ds.IDs("motion"), vmIDs(sorted))
	assert.True(t, slices.IsSortedFunc(sorted, func(a, b *testVM) int {
		wa, wb := a.Get("weight").(int), b.Get("weight").(int)
		if wa != wb {
			return wa - wb
		}
		return int(a.ID() - b.ID())
	}), "list should be ordered by weight then id: %v", vmIDs(sorted))
}

func TestCommitUpdateTwice(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	ds.Set(rec("motion", 1, nil))

	var (
		modified [][]models.ID
		perID    []*testVM
		general  []*testVM
	)
	subs := observable.Subscriptions{
		repo.ModifiedIDsObservable().Subscribe(func(ids []models.ID) { modified = append(modified, ids) }),
		repo.ViewModelObservable(1).Subscribe(func(vm *testVM) { perID = append(perID, vm) }),
		repo.GeneralViewModelObservable().Subscribe(func(vm *testVM) { general = append(general, vm) }),
	}
	defer subs.Unsubscribe()

	perID = nil
	repo.CommitUpdate([]models.ID{1})
	repo.CommitUpdate([]models.ID{1})

	assert.Equal(t, [][]models.ID{{1}, {1}}, modified)
	assert.Len(t, perID, 2)
	assert.Same(t, perID[0], perID[1])
	assert.Len(t, general, 2)
}

func TestInsertBetweenByWeight(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	weightService(t, repo)

	ds.Set(
		rec("motion", 1, map[string]any{"weight": 5}),
		rec("motion", 9, map[string]any{"weight": 20}),
	)
	waitIdle(t, repo)
	require.Equal(t, []models.ID{1, 9}, vmIDs(repo.SortedViewModelList()))

	ds.Set(rec("motion", 5, map[string]any{"weight": 10}))
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{1, 5, 9}, vmIDs(repo.SortedViewModelList()))
	assertIndexConsistent(t, repo)

	ds.Set(
		rec("motion", 2, map[string]any{"weight": 30}),
		rec("motion", 3, map[string]any{"weight": 1}),
		rec("motion", 4, map[string]any{"weight": 10}),
	)
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{3, 1, 4, 5, 9, 2}, vmIDs(repo.SortedViewModelList()))
}

func TestUpdateResortsOnlyForSortKeys(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	strategy := newFakeStrategy()
	repo.RegisterSortListService("list", strategy)
	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil), rec("motion", 3, nil))
	waitIdle(t, repo)
	require.Equal(t, []models.ID{1, 2, 3}, vmIDs(repo.SortedViewModelList()))

	// The comparison changes but no sort key is touched: the order is kept
	// and the slot holds the new instance.
	strategy.desc = true
	ds.Apply([]datastore.FieldChange{set("motion", 2, "title", "B")})
	waitIdle(t, repo)
	sorted := repo.SortedViewModelList()
	assert.Equal(t, []models.ID{1, 2, 3}, vmIDs(sorted))
	assert.Equal(t, "B", sorted[1].Get("title"))

	strategy.updated.Next(sortlist.Definition{})
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{3, 2, 1}, vmIDs(repo.SortedViewModelList()))
}

func TestDeleteModels(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil), rec("motion", 3, nil))
	waitIdle(t, repo)
	require.Equal(t, []models.ID{1, 2, 3}, vmIDs(repo.SortedViewModelListUnsafe()))

	ds.Delete("motion", 1)
	assert.Equal(t, []models.ID{2, 3}, vmIDs(repo.SortedViewModelListUnsafe()))
	assert.Equal(t, map[models.ID]int{2: 0, 3: 1}, repo.sortedIndex())
	_, ok := repo.ViewModelUnsafe(1)
	assert.False(t, ok)
}

func TestAccessibility(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	ds.Set(
		rec("motion", 1, nil),
		models.NewRecord("motion", 2, map[string]any{"meeting_id": nil}),
	)
	waitIdle(t, repo)

	assert.Equal(t, []models.ID{1}, vmIDs(repo.SortedViewModelList()))
	assert.Equal(t, []models.ID{1, 2}, vmIDs(repo.SortedViewModelListUnsafe()))
	assert.Equal(t, []models.ID{1}, vmIDs(repo.ViewModelList()))
	assert.Equal(t, []models.ID{1, 2}, vmIDs(repo.ViewModelListUnsafe()))

	_, ok := repo.ViewModel(2)
	assert.False(t, ok)
	vm, ok := repo.ViewModelUnsafe(2)
	require.True(t, ok)
	assert.False(t, vm.CanAccess())

	var got *testVM
	sub := repo.ViewModelObservable(2).Subscribe(func(vm *testVM) { got = vm })
	defer sub.Unsubscribe()
	assert.Nil(t, got)
}

func TestChangedModelsErrors(t *testing.T) {
	ds := datastore.New()
	c := NewCollector(ds)
	t.Cleanup(c.Close)
	repo := New[*testVM](c, "unknown", nil)

	ds.Set(rec("unknown", 1, nil))
	err := repo.ChangedModels([]models.ID{1}, nil)
	require.ErrorIs(t, err, constants.ErrNoViewModelConstructor)

	RegisterConstructor[*testVM](c.Mapper(), "unknown", newTestVM)
	err = repo.ChangedModels([]models.ID{1, 42}, nil)
	require.ErrorIs(t, err, constants.ErrRecordNotFound)
	_, ok := repo.ViewModel(1)
	assert.True(t, ok, "ids present in the data store are still processed")
}

func TestPipelineErrorsArePublished(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	boom := errors.New("boom")

	var mu sync.Mutex
	var got []error
	sub := repo.PipelineErrors().Subscribe(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, err)
	})
	defer sub.Unsubscribe()

	strategy := newFakeStrategy()
	strategy.err = boom
	repo.RegisterSortListService("list", strategy)
	ds.Set(rec("motion", 1, nil))
	waitIdle(t, repo)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[0], boom)
	var pe *PipelineError
	require.ErrorAs(t, got[0], &pe)
	assert.Equal(t, "motion", pe.Collection)
	assert.Equal(t, "reset", pe.Task)
	require.ErrorAs(t, got[1], &pe)
	assert.Equal(t, "general", pe.Task)
}

func TestUnregisterActivatesPrevious(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	first := newFakeStrategy()
	second := newFakeStrategy()
	second.desc = true

	repo.RegisterSortListService("first", first)
	repo.RegisterSortListService("second", second)
	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil), rec("motion", 3, nil))
	waitIdle(t, repo)
	require.Equal(t, []models.ID{3, 2, 1}, vmIDs(repo.SortedViewModelList()))

	repo.UnregisterSortListService("second")
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{1, 2, 3}, vmIDs(repo.SortedViewModelList()))
}

func TestUnregisterKeepsOrder(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	strategy := newFakeStrategy()
	strategy.desc = true

	repo.RegisterSortListService("list", strategy)
	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil), rec("motion", 3, nil))
	waitIdle(t, repo)
	require.Equal(t, []models.ID{3, 2, 1}, vmIDs(repo.SortedViewModelList()))

	repo.UnregisterSortListService("list")
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{3, 2, 1}, vmIDs(repo.SortedViewModelList()))

	// Without a strategy new models are merged in by id.
	ds.Set(rec("motion", 4, nil))
	waitIdle(t, repo)
	assert.Equal(t, []models.ID{3, 2, 1, 4}, vmIDs(repo.SortedViewModelList()))
}

func TestForeignKeyResort(t *testing.T) {
	ds := datastore.New()
	c := NewCollector(ds)
	t.Cleanup(c.Close)
	c.Relations().Register(relations.Relation{
		OwnCollection:     "motion",
		OwnField:          "state",
		OwnIDField:        "state_id",
		ForeignCollection: "motion_state",
		Kind:              relations.One,
	})
	states := New(c, "motion_state", newTestVM, WithTitle(func(vm *testVM) string {
		name, _ := vm.Get("name").(string)
		return name
	}))
	motions := New(c, "motion", newTestVM)

	svc := sortlist.New(sortlist.Config[*testVM]{
		StorageKey: "motion_list",
		Options: func() []sortlist.Option[*testVM] {
			return []sortlist.Option[*testVM]{{
				Property:        sortlist.P("state"),
				BaseKeys:        []string{"state_id"},
				ForeignBaseKeys: map[string][]string{"motion_state": {"name"}},
			}}
		},
		Default:  &sortlist.Definition{SortProperty: sortlist.P("state"), SortAscending: true},
		Store:    storage.NewMemory(),
		Registry: motions,
		Collator: motions.Collator,
	})
	t.Cleanup(svc.Close)

	ds.Set(
		rec("motion_state", 1, map[string]any{"name": "accepted"}),
		rec("motion_state", 2, map[string]any{"name": "submitted"}),
	)
	ds.Set(
		rec("motion", 10, map[string]any{"state_id": 2}),
		rec("motion", 11, map[string]any{"state_id": 1}),
	)
	require.NoError(t, svc.InitSorting(context.Background()))
	waitIdle(t, states, motions)
	require.Equal(t, []models.ID{11, 10}, vmIDs(motions.SortedViewModelList()))

	ds.Apply([]datastore.FieldChange{set("motion_state", 1, "name", "withdrawn")})
	waitIdle(t, states, motions)
	assert.Equal(t, []models.ID{10, 11}, vmIDs(motions.SortedViewModelList()))

	// Fields the comparison does not depend on do not resort.
	ds.Apply([]datastore.FieldChange{set("motion_state", 2, "css_class", "red")})
	waitIdle(t, states, motions)
	assert.Equal(t, []models.ID{10, 11}, vmIDs(motions.SortedViewModelList()))
}

func TestClear(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil))
	waitIdle(t, repo)
	require.Len(t, repo.SortedViewModelList(), 2)

	ds.Clear("other")
	assert.Len(t, repo.ViewModelListUnsafe(), 2)

	ds.Clear("motion")
	assert.Empty(t, repo.ViewModelListUnsafe())
	assert.Empty(t, repo.SortedViewModelList())
	assert.Empty(t, repo.SortedViewModelListUnsafe())
	assert.Empty(t, repo.sortedIndex())
}

func TestSortFunctionList(t *testing.T) {
	var tapped atomic.Int32
	ds, _, repo := newTestRepo(t, WithTap(func(list []*testVM) { tapped.Store(int32(len(list))) }))
	ds.Set(
		rec("motion", 1, map[string]any{"weight": 3}),
		rec("motion", 2, map[string]any{"weight": 1}),
		models.NewRecord("motion", 3, map[string]any{"weight": 2}),
	)
	require.Eventually(t, func() bool {
		return cmp.Equal([]models.ID{1, 2}, vmIDs(repo.SortedViewModelListViaSortFn()))
	}, time.Second, time.Millisecond)

	repo.SetSortFunction(func(a, b *testVM) int {
		return a.Get("weight").(int) - b.Get("weight").(int)
	})
	require.Eventually(t, func() bool {
		return cmp.Equal([]models.ID{2, 1}, vmIDs(repo.SortedViewModelListViaSortFn()))
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), tapped.Load())
}

func TestViewModelHooks(t *testing.T) {
	var created []models.ID
	ds, _, repo := newTestRepo(t,
		WithTitle(func(vm *testVM) string { return "Motion " + vm.FQID().String() }),
		WithVerboseName[*testVM](func(plural bool) string {
			if plural {
				return "Motions"
			}
			return "Motion"
		}),
		WithOnCreate(func(vm *testVM) { created = append(created, vm.ID()) }),
	)
	var piped int
	repo.RegisterCreateViewModelPipe(func(*testVM) { piped++ })

	ds.Set(rec("motion", 7, nil))
	vm, ok := repo.ViewModel(7)
	require.True(t, ok)
	assert.Equal(t, "Motion motion/7", vm.Title())
	assert.Equal(t, "Motion motion/7", vm.ListTitle())
	assert.Equal(t, "Motions", vm.VerboseName(true))
	assert.Equal(t, []models.ID{7}, created)
	assert.Equal(t, 1, piped)
}

func TestFieldsets(t *testing.T) {
	_, c, repo := newTestRepo(t, WithRequestableFields[*testVM]("id", "title", "sequential_number"))
	assert.Equal(t, Fieldsets{
		Detail:  []string{"id", "title", "sequential_number"},
		Routing: []string{"meeting_id", "sequential_number"},
	}, repo.Fieldsets())

	other := New(c, "motion_state", newTestVM, WithRequestableFields[*testVM]("id", "name"))
	assert.Nil(t, other.Fieldsets().Routing)
	assert.Equal(t, []string{"motion", "motion_state"}, c.Mapper().Collections())

	typed, ok := RepositoryFor[*testVM](c.Mapper(), "motion")
	require.True(t, ok)
	assert.Same(t, repo, typed)
}

func TestSetLanguage(t *testing.T) {
	_, c, repo := newTestRepo(t)
	assert.Equal(t, "en", repo.Collator().Language().String())
	c.SetLanguage("de")
	assert.Equal(t, "de", repo.Collator().Language().String())
	assert.Equal(t, "de", c.Collator().Language().String())
}

func TestRelationLookup(t *testing.T) {
	ds := datastore.New()
	c := NewCollector(ds)
	t.Cleanup(c.Close)
	c.Relations().Register(relations.Relation{
		OwnCollection:     "motion",
		OwnField:          "state",
		OwnIDField:        "state_id",
		ForeignCollection: "motion_state",
		Kind:              relations.One,
	})
	New(c, "motion_state", newTestVM)
	motions := New(c, "motion", newTestVM)

	ds.Set(rec("motion_state", 1, map[string]any{"name": "submitted"}))
	ds.Set(rec("motion", 5, map[string]any{"state_id": 1}))

	vm, ok := motions.ViewModel(5)
	require.True(t, ok)
	state, ok := vm.Get("state").(viewmodel.ViewModel)
	require.True(t, ok)
	assert.Equal(t, "submitted", state.Get("name"))

	var names []any
	sub := vm.RelationObservable("state").Subscribe(func(v any) {
		if s, ok := v.(viewmodel.ViewModel); ok {
			names = append(names, s.Get("name"))
		} else {
			names = append(names, nil)
		}
	})
	defer sub.Unsubscribe()

	ds.Apply([]datastore.FieldChange{set("motion_state", 1, "name", "accepted")})
	ds.Delete("motion_state", 1)
	assert.Equal(t, []any{"submitted", "accepted", nil}, names)
}

// gateStrategy orders by weight. While armed, its next Sort call blocks until
// release is closed.
type gateStrategy struct {
	*fakeStrategy
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGateStrategy() *gateStrategy {
	return &gateStrategy{
		fakeStrategy: newFakeStrategy(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func byWeight(a, b *testVM) int {
	if wa, wb := a.Get("weight").(int), b.Get("weight").(int); wa != wb {
		return wa - wb
	}
	return int(a.ID() - b.ID())
}

func (g *gateStrategy) Sort(_ context.Context, items []*testVM) ([]*testVM, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	slices.SortFunc(items, byWeight)
	return items, nil
}

func (g *gateStrategy) Compare(_ context.Context, a, b *testVM) (int, error) {
	return byWeight(a, b), nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSortedListSettlesOnLatestState(t *testing.T) {
	ds, _, repo := newTestRepo(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	sub := repo.SortedViewModelListUnsafeObservable().Subscribe(func(list []*testVM) {
		if len(list) == 3 {
			once.Do(func() {
				close(entered)
				<-release
			})
		}
	})
	defer sub.Unsubscribe()

	ds.Set(rec("motion", 1, nil), rec("motion", 2, nil), rec("motion", 3, nil))
	// The worker is stuck publishing [1 2 3] while id 1 is deleted.
	waitFor(t, entered)
	ds.Delete("motion", 1)
	assert.Equal(t, []models.ID{2, 3}, vmIDs(repo.SortedViewModelList()))

	close(release)
	waitIdle(t, repo)

	assert.Equal(t, []models.ID{2, 3}, vmIDs(repo.SortedViewModelList()))
	assert.Equal(t, []models.ID{2, 3}, vmIDs(repo.SortedViewModelListUnsafe()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	visible, err := observable.First(ctx, repo.SortedViewModelListObservable(), nil)
	require.NoError(t, err)
	assert.Equal(t, []models.ID{2, 3}, vmIDs(visible))
	assertIndexConsistent(t, repo)
}

func TestRecreatedIDIsResorted(t *testing.T) {
	ds, _, repo := newTestRepo(t)
	s := newGateStrategy()
	repo.RegisterSortListService("weight", s)

	ds.Set(rec("motion", 1, map[string]any{"weight": 5}), rec("motion", 9, map[string]any{"weight": 20}))
	waitIdle(t, repo)
	require.Equal(t, []models.ID{1, 9}, vmIDs(repo.SortedViewModelListUnsafe()))

	s.armed.Store(true)
	ds.Set(rec("motion", 5, map[string]any{"weight": 10}))
	waitFor(t, s.entered)
	ds.Delete("motion", 5)
	ds.Set(rec("motion", 5, map[string]any{"weight": 30}))
	close(s.release)
	waitIdle(t, repo)

	sorted := repo.SortedViewModelListUnsafe()
	assert.Equal(t, []models.ID{1, 9, 5}, vmIDs(sorted))
	assert.Equal(t, 30, sorted[2].Get("weight"))
	assertIndexConsistent(t, repo)
}
