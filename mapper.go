package vmrepo

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/collation"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

// CollectionRepository is the type-erased view of a Repository used by the
// Collector to route data store notifications and relation lookups.
type CollectionRepository interface {
	Collection() string
	ChangedModels(ids []models.ID, changed []*models.Record) error
	DeleteModels(ids []models.ID)
	CommitUpdate(ids []models.ID)
	Fieldsets() Fieldsets
	WaitIdle(ctx context.Context) error
	Close()

	lookup(id models.ID) (viewmodel.ViewModel, bool)
	observe(id models.ID) observable.Observable[viewmodel.ViewModel]
	clear()
	setCollator(c *collation.Collator)
}

// Mapper maps collection names to view model constructors and repositories.
type Mapper struct {
	mu           sync.RWMutex
	constructors map[string]any
	repositories map[string]CollectionRepository
}

func NewMapper() *Mapper {
	return &Mapper{
		constructors: make(map[string]any),
		repositories: make(map[string]CollectionRepository),
	}
}

// RegisterConstructor sets the view model constructor of a collection.
func RegisterConstructor[V viewmodel.ViewModel](m *Mapper, collection string, ctor viewmodel.Constructor[V]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constructors[collection] = ctor
}

func constructorFor[V viewmodel.ViewModel](m *Mapper, collection string) (viewmodel.Constructor[V], bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ctor, ok := m.constructors[collection].(viewmodel.Constructor[V])
	return ctor, ok && ctor != nil
}

func (m *Mapper) register(repo CollectionRepository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.repositories[repo.Collection()] = repo
}

func (m *Mapper) unregister(repo CollectionRepository) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.repositories[repo.Collection()] == repo {
		delete(m.repositories, repo.Collection())
	}
}

// Repository returns the repository registered for collection.
func (m *Mapper) Repository(collection string) (CollectionRepository, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	repo, ok := m.repositories[collection]
	return repo, ok
}

// RepositoryFor returns the typed repository of a collection.
func RepositoryFor[V viewmodel.ViewModel](m *Mapper, collection string) (*Repository[V], bool) {
	repo, ok := m.Repository(collection)
	if !ok {
		return nil, false
	}
	typed, ok := repo.(*Repository[V])
	return typed, ok
}

// Collections returns the sorted names of all collections with a repository.
func (m *Mapper) Collections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.repositories))
}

func (m *Mapper) all() []CollectionRepository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Collect(maps.Values(m.repositories))
}
