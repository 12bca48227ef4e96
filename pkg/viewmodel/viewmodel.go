// Package viewmodel defines the UI-facing wrapper around a raw record.
//
// Field reads resolve in a fixed order: a getter defined by the concrete view
// model, then the raw record field, then a declared relation. Relation
// observables are requested explicitly through RelationObservable.
package viewmodel

import (
	"reflect"

	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/observable"
)

type ViewModel interface {
	ID() models.ID
	Collection() string
	FQID() models.FQID
	Model() *models.Record
	CanAccess() bool

	Title() string
	ListTitle() string
	VerboseName(plural bool) string

	// Get resolves a field by name and returns nil if nothing matches.
	Get(name string) any
	Lookup(name string) (any, bool)
	Relation(name string) any
	RelationObservable(name string) observable.Observable[any]
}

// Constructor builds the concrete view model of a collection around its base.
type Constructor[V ViewModel] func(base *Base) V

// Getter computes a derived field.
type Getter func() any

// Resolver resolves the relations declared for a record's collection.
type Resolver interface {
	Resolve(record *models.Record, name string) (any, bool)
	Observe(record *models.Record, name string) (observable.Observable[any], bool)
}

// Hooks are installed by the owning repository when the view model is created.
type Hooks struct {
	Resolver    Resolver
	Title       func() string
	ListTitle   func() string
	VerboseName func(plural bool) string
}

// Base implements ViewModel over a record. Concrete view models embed *Base,
// register their getters in their constructor and may override methods such
// as CanAccess.
type Base struct {
	record      *models.Record
	getters     map[string]Getter
	accessField string
	hooks       Hooks
}

var _ ViewModel = (*Base)(nil)

func NewBase(record *models.Record) *Base {
	if record == nil {
		record = models.NewRecord("", 0, nil)
	}
	return &Base{record: record, getters: make(map[string]Getter)}
}

// DefineGetter registers a derived field. Getters win over raw fields of the
// same name.
func (b *Base) DefineGetter(name string, g Getter) {
	b.getters[name] = g
}

// SetAccessField designates the field that must be set for the view model to
// be accessible.
func (b *Base) SetAccessField(field string) {
	b.accessField = field
}

func (b *Base) Bind(h Hooks) {
	b.hooks = h
}

func (b *Base) ID() models.ID {
	return b.record.ID
}

func (b *Base) Collection() string {
	return b.record.Collection
}

func (b *Base) FQID() models.FQID {
	return b.record.FQID()
}

func (b *Base) Model() *models.Record {
	return b.record
}

func (b *Base) CanAccess() bool {
	if b.accessField == "" {
		return true
	}
	return b.record.Has(b.accessField)
}

func (b *Base) Title() string {
	if b.hooks.Title == nil {
		return b.FQID().String()
	}
	return b.hooks.Title()
}

func (b *Base) ListTitle() string {
	if b.hooks.ListTitle == nil {
		return b.Title()
	}
	return b.hooks.ListTitle()
}

func (b *Base) VerboseName(plural bool) string {
	if b.hooks.VerboseName == nil {
		return b.Collection()
	}
	return b.hooks.VerboseName(plural)
}

func (b *Base) Get(name string) any {
	v, _ := b.Lookup(name)
	return v
}

func (b *Base) Lookup(name string) (any, bool) {
	if g, ok := b.getters[name]; ok {
		return g(), true
	}
	if v, ok := b.record.Get(name); ok {
		return v, true
	}
	if b.hooks.Resolver != nil {
		return b.hooks.Resolver.Resolve(b.record, name)
	}
	return nil, false
}

func (b *Base) Relation(name string) any {
	if b.hooks.Resolver == nil {
		return nil
	}
	v, _ := b.hooks.Resolver.Resolve(b.record, name)
	return v
}

// RelationObservable returns nil if name is not a declared relation.
func (b *Base) RelationObservable(name string) observable.Observable[any] {
	if b.hooks.Resolver == nil {
		return nil
	}
	obs, _ := b.hooks.Resolver.Observe(b.record, name)
	return obs
}

// IsNil reports whether v is nil, including typed nil pointers held in an
// interface.
func IsNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func:
		return rv.IsNil()
	}
	return false
}
