// Package relations resolves foreign-key fields of records into the view
// models of other collections.
package relations

import (
	"slices"
	"sync"

	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

type Kind int

const (
	// One is a single id stored in OwnIDField.
	One Kind = iota
	// Many is a list of ids stored in OwnIDField.
	Many
	// Generic is a single fqid string stored in OwnIDField; the foreign
	// collection is taken from the fqid.
	Generic
	// GenericMany is a list of fqid strings.
	GenericMany
)

type Relation struct {
	OwnCollection string
	// OwnField is the name under which the resolved value is exposed.
	OwnField string
	// OwnIDField holds the foreign key(s).
	OwnIDField        string
	ForeignCollection string
	Kind              Kind
}

// Lookup finds view models across repositories. Only accessible view models
// are returned.
type Lookup interface {
	ViewModel(collection string, id models.ID) (viewmodel.ViewModel, bool)
	ViewModelObservable(collection string, id models.ID) (observable.Observable[viewmodel.ViewModel], bool)
}

type Manager struct {
	mu           sync.RWMutex
	byCollection map[string][]Relation
	lookup       Lookup
}

func NewManager() *Manager {
	return &Manager{byCollection: make(map[string][]Relation)}
}

func (m *Manager) SetLookup(l Lookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookup = l
}

// Register adds relations. A relation with the same collection and own field
// replaces the earlier one.
func (m *Manager) Register(relations ...Relation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rel := range relations {
		list := m.byCollection[rel.OwnCollection]
		list = slices.DeleteFunc(list, func(r Relation) bool { return r.OwnField == rel.OwnField })
		m.byCollection[rel.OwnCollection] = append(list, rel)
	}
}

func (m *Manager) RelationsFor(collection string) []Relation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.byCollection[collection])
}

func (m *Manager) getLookup() Lookup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup
}

// targets returns the fqids the relation points to for record.
func targets(record *models.Record, rel Relation) []models.FQID {
	raw, _ := record.Get(rel.OwnIDField)
	if raw == nil {
		return nil
	}
	switch rel.Kind {
	case One:
		if id, ok := models.ToID(raw); ok {
			return []models.FQID{models.NewFQID(rel.ForeignCollection, id)}
		}
	case Many:
		ids := models.ToIDs(raw)
		out := make([]models.FQID, 0, len(ids))
		for _, id := range ids {
			out = append(out, models.NewFQID(rel.ForeignCollection, id))
		}
		return out
	case Generic:
		if s, ok := raw.(string); ok {
			if fqid, err := models.ParseFQID(s); err == nil {
				return []models.FQID{fqid}
			}
		}
	case GenericMany:
		list, _ := raw.([]any)
		out := make([]models.FQID, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				if fqid, err := models.ParseFQID(s); err == nil {
					out = append(out, fqid)
				}
			}
		}
		return out
	}
	return nil
}

func (r Relation) single() bool {
	return r.Kind == One || r.Kind == Generic
}

// Resolve returns a viewmodel.ViewModel for single relations (nil when
// unresolved) and a []viewmodel.ViewModel for list relations, skipping ids
// that cannot be resolved.
func (m *Manager) Resolve(record *models.Record, rel Relation) any {
	lookup := m.getLookup()
	fqids := targets(record, rel)
	if rel.single() {
		if lookup == nil || len(fqids) == 0 {
			return nil
		}
		vm, ok := lookup.ViewModel(fqids[0].Collection, fqids[0].ID)
		if !ok {
			return nil
		}
		return vm
	}
	out := make([]viewmodel.ViewModel, 0, len(fqids))
	if lookup == nil {
		return out
	}
	for _, fqid := range fqids {
		if vm, ok := lookup.ViewModel(fqid.Collection, fqid.ID); ok {
			out = append(out, vm)
		}
	}
	return out
}

// Observe follows the per-id observables of the related view models. Values
// have the same shape as Resolve.
func (m *Manager) Observe(record *models.Record, rel Relation) observable.Observable[any] {
	lookup := m.getLookup()
	fqids := targets(record, rel)

	var sources []observable.Observable[viewmodel.ViewModel]
	if lookup != nil {
		for _, fqid := range fqids {
			if obs, ok := lookup.ViewModelObservable(fqid.Collection, fqid.ID); ok {
				sources = append(sources, obs)
			}
		}
	}

	if rel.single() {
		if len(sources) == 0 {
			return observable.NewBehaviorSubject[any](nil)
		}
		return observable.Map(sources[0], func(vm viewmodel.ViewModel) any {
			if viewmodel.IsNil(vm) {
				return nil
			}
			return vm
		})
	}
	return observable.Map(observable.CombineLatest(sources), func(vms []viewmodel.ViewModel) any {
		return slices.DeleteFunc(vms, func(vm viewmodel.ViewModel) bool { return viewmodel.IsNil(vm) })
	})
}

// Resolver binds a manager to the relations of one collection, keyed by own
// field, for use by view models.
type Resolver struct {
	manager *Manager
	byField map[string]Relation
}

var _ viewmodel.Resolver = (*Resolver)(nil)

func (m *Manager) ResolverFor(collection string) *Resolver {
	r := &Resolver{manager: m, byField: make(map[string]Relation)}
	for _, rel := range m.RelationsFor(collection) {
		r.byField[rel.OwnField] = rel
	}
	return r
}

func (r *Resolver) Resolve(record *models.Record, name string) (any, bool) {
	rel, ok := r.byField[name]
	if !ok {
		return nil, false
	}
	return r.manager.Resolve(record, rel), true
}

func (r *Resolver) Observe(record *models.Record, name string) (observable.Observable[any], bool) {
	rel, ok := r.byField[name]
	if !ok {
		return nil, false
	}
	return r.manager.Observe(record, rel), true
}
