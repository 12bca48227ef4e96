package vmrepo

import (
	"context"
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/collation"
	"github.com/openslides/vmrepo/pkg/datastore"
	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/relations"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

// Collector bundles what every repository shares: the data store, the
// relation manager, the collection mapper, the key-update bus and the current
// language. It forwards data store updates to the repositories.
type Collector struct {
	ds        *datastore.Store
	relations *relations.Manager
	mapper    *Mapper
	logger    logger.Logger

	// keyUpdates maps collection -> changed field names
	keyUpdates   map[string]*observable.Subject[[]string]
	keyUpdatesMu sync.RWMutex

	langMu   sync.RWMutex
	collator *collation.Collator

	sub observable.Subscription
}

var _ relations.Lookup = (*Collector)(nil)

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLogger sets the logger shared by the repositories.
func WithLogger(l logger.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = logger.OrNop(l)
	}
}

// WithLanguage sets the initial language, a BCP 47 tag.
func WithLanguage(lang string) CollectorOption {
	return func(c *Collector) {
		c.collator = collation.Parse(lang)
	}
}

// WithRelations uses m instead of a fresh relation manager.
func WithRelations(m *relations.Manager) CollectorOption {
	return func(c *Collector) {
		c.relations = m
	}
}

// NewCollector wires a collector to ds. Updates of ds are dispatched to the
// registered repositories until Close is called.
func NewCollector(ds *datastore.Store, opts ...CollectorOption) *Collector {
	c := &Collector{
		ds:         ds,
		mapper:     NewMapper(),
		logger:     logger.Nop(),
		keyUpdates: make(map[string]*observable.Subject[[]string]),
		collator:   collation.Parse("en"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.relations == nil {
		c.relations = relations.NewManager()
	}
	c.relations.SetLookup(c)
	c.sub = ds.UpdatesObservable().Subscribe(c.Dispatch)
	return c
}

// DataStore returns the store the collector dispatches from.
func (c *Collector) DataStore() *datastore.Store {
	return c.ds
}

// Relations returns the relation manager shared by the repositories.
func (c *Collector) Relations() *relations.Manager {
	return c.relations
}

// Mapper returns the collection to repository registry.
func (c *Collector) Mapper() *Mapper {
	return c.mapper
}

// Logger returns the collector logger.
func (c *Collector) Logger() logger.Logger {
	return c.logger
}

// Dispatch hands the changed and deleted ids of every collection in u to its
// repository and commits them.
func (c *Collector) Dispatch(u datastore.Update) {
	for _, collection := range u.Collections() {
		repo, ok := c.mapper.Repository(collection)
		if !ok {
			continue
		}
		ids, deltas := u.Changed(collection)
		deleted := u.Deleted(collection)
		if len(deleted) > 0 {
			repo.DeleteModels(deleted)
		}
		if len(ids) > 0 {
			if err := repo.ChangedModels(ids, deltas); err != nil {
				c.logger.Error("failed to update view models", "collection", collection, "error", err)
			}
		}
		repo.CommitUpdate(slices.Concat(ids, deleted))
	}
}

// RegisterNewKeyUpdates announces that fields of a collection changed.
func (c *Collector) RegisterNewKeyUpdates(collection string, keys []string) {
	c.keySubject(collection).Next(slices.Clone(keys))
}

// NewKeyUpdatesObservable emits the field names announced for collection.
func (c *Collector) NewKeyUpdatesObservable(collection string) observable.Observable[[]string] {
	return c.keySubject(collection)
}

func (c *Collector) keySubject(collection string) *observable.Subject[[]string] {
	c.keyUpdatesMu.RLock()
	s, ok := c.keyUpdates[collection]
	c.keyUpdatesMu.RUnlock()
	if ok {
		return s
	}

	c.keyUpdatesMu.Lock()
	defer c.keyUpdatesMu.Unlock()
	if s, ok = c.keyUpdates[collection]; !ok {
		s = observable.NewSubject[[]string]()
		c.keyUpdates[collection] = s
	}
	return s
}

// Collator returns the collator of the current language.
func (c *Collector) Collator() *collation.Collator {
	c.langMu.RLock()
	defer c.langMu.RUnlock()
	return c.collator
}

// SetLanguage switches the collator of every repository and re-sorts their
// lists.
func (c *Collector) SetLanguage(lang string) {
	collator := collation.Parse(lang)
	c.langMu.Lock()
	c.collator = collator
	c.langMu.Unlock()

	c.logger.Info("language changed", "language", collator.Language().String())
	for _, repo := range c.mapper.all() {
		repo.setCollator(collator)
	}
}

// Fieldsets returns the requestable fields of every repository.
func (c *Collector) Fieldsets() map[string]Fieldsets {
	out := make(map[string]Fieldsets)
	for _, collection := range c.mapper.Collections() {
		if repo, ok := c.mapper.Repository(collection); ok {
			out[collection] = repo.Fieldsets()
		}
	}
	return out
}

// ViewModel returns the accessible view model of collection/id.
func (c *Collector) ViewModel(collection string, id models.ID) (viewmodel.ViewModel, bool) {
	repo, ok := c.mapper.Repository(collection)
	if !ok {
		return nil, false
	}
	return repo.lookup(id)
}

// ViewModelObservable follows the view model of collection/id. It reports
// false when the collection has no repository.
func (c *Collector) ViewModelObservable(collection string, id models.ID) (observable.Observable[viewmodel.ViewModel], bool) {
	repo, ok := c.mapper.Repository(collection)
	if !ok {
		return nil, false
	}
	return repo.observe(id), true
}

// WaitIdle blocks until the pipelines of all repositories are idle.
func (c *Collector) WaitIdle(ctx context.Context) error {
	for _, repo := range c.mapper.all() {
		if err := repo.WaitIdle(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close stops dispatching and closes all repositories.
func (c *Collector) Close() {
	c.sub.Unsubscribe()
	for _, repo := range c.mapper.all() {
		repo.Close()
	}
}
