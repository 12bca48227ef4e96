// Package sortlist holds the sort order selected on one list screen, persists
// it and provides the comparison a repository sorts its list with.
package sortlist

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/openslides/vmrepo/pkg/collation"
	"github.com/openslides/vmrepo/pkg/constants"
	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/storage"
	"github.com/openslides/vmrepo/pkg/viewmodel"
	"golang.org/x/text/language"
)

type Config[V viewmodel.ViewModel] struct {
	// StorageKey identifies the list in storage and in the repository.
	StorageKey string
	// Options returns all sort options, hidden ones included.
	Options func() []Option[V]
	// HideSettings returns the dynamic visibility rules. Optional.
	HideSettings func() []HideSetting

	// Default is used when DefaultSource is nil.
	Default *Definition
	// DefaultSource delivers the default definition, possibly later than
	// construction. Nil values mean "not known yet".
	DefaultSource observable.Observable[*Definition]

	Store    storage.Store
	Registry Registry[V]
	// Collator returns the collator for string comparison. Optional.
	Collator func() *collation.Collator
	Logger   logger.Logger
}

type state int

const (
	stateUninitialized state = iota
	stateLoading
	stateReady
)

// published is what the sorting-updated stream is derived from; hidden changes
// count as a change even when the definition stays the same.
type published struct {
	def    Definition
	hidden string
}

type Service[V viewmodel.ViewModel] struct {
	cfg    Config[V]
	logger logger.Logger

	mu               sync.Mutex
	state            state
	definition       *Definition
	isDefaultSorting bool

	hideMu sync.Mutex
	hidden map[string]bool

	defaultDef *observable.BehaviorSubject[*Definition]
	current    *observable.BehaviorSubject[*published]
	subs       observable.Subscriptions

	loaded     chan struct{}
	loadedOnce sync.Once
}

var _ Strategy[viewmodel.ViewModel] = (*Service[viewmodel.ViewModel])(nil)

func New[V viewmodel.ViewModel](cfg Config[V]) *Service[V] {
	if cfg.Store == nil {
		cfg.Store = storage.NewMemory()
	}
	if cfg.Options == nil {
		cfg.Options = func() []Option[V] { return nil }
	}
	if cfg.HideSettings == nil {
		cfg.HideSettings = func() []HideSetting { return nil }
	}
	if cfg.Collator == nil {
		c := collation.New(language.Und)
		cfg.Collator = func() *collation.Collator { return c }
	}
	s := &Service[V]{
		cfg:        cfg,
		logger:     logger.OrNop(cfg.Logger),
		hidden:     make(map[string]bool),
		defaultDef: observable.NewBehaviorSubject[*Definition](nil),
		current:    observable.NewBehaviorSubject[*published](nil),
		loaded:     make(chan struct{}),
	}

	distinctDefault := observable.DistinctUntilChanged[*Definition](s.defaultDef, func(prev, curr *Definition) bool {
		if prev == nil || curr == nil {
			return prev == curr
		}
		return prev.SortProperty.Equal(curr.SortProperty)
	})
	s.subs = append(s.subs, distinctDefault.Subscribe(s.onDefaultDefinition))

	if cfg.DefaultSource != nil {
		s.subs = append(s.subs, cfg.DefaultSource.Subscribe(func(d *Definition) { s.defaultDef.Next(d.clone()) }))
	} else if cfg.Default != nil {
		s.defaultDef.Next(cfg.Default.clone())
	}
	return s
}

func (s *Service[V]) onDefaultDefinition(def *Definition) {
	if def == nil {
		return
	}
	ctx := context.Background()

	s.mu.Lock()
	if s.isDefaultSorting {
		err := s.setSortingLocked(ctx, def.SortProperty, def.SortAscending)
		s.mu.Unlock()
		s.afterChange(err)
		return
	}
	if s.definition != nil && s.definition.SortProperty.Equal(def.SortProperty) {
		err := s.updateSortDefinitionsLocked(ctx)
		s.mu.Unlock()
		s.afterChange(err)
		return
	}
	s.mu.Unlock()
}

func (s *Service[V]) afterChange(err error) {
	if err != nil {
		s.logger.Error("failed to persist sort definition", "key", s.cfg.StorageKey, "error", err)
	}
	s.publish()
}

// Close stops following the default definition source.
func (s *Service[V]) Close() {
	s.subs.Unsubscribe()
}

// RepositorySortingKey is the key the service registers under.
func (s *Service[V]) RepositorySortingKey() string {
	return s.cfg.StorageKey
}

// InitSorting registers the service with its repository and loads the
// persisted definition.
func (s *Service[V]) InitSorting(ctx context.Context) error {
	if s.cfg.Registry != nil {
		s.cfg.Registry.RegisterSortListService(s.cfg.StorageKey, s)
	}
	return s.Load(ctx)
}

// ExitSortService detaches the service from its repository.
func (s *Service[V]) ExitSortService() {
	if s.cfg.Registry != nil {
		s.cfg.Registry.UnregisterSortListService(s.cfg.StorageKey)
	}
}

func (s *Service[V]) Loaded() <-chan struct{} {
	return s.loaded
}

func (s *Service[V]) markLoaded() {
	s.loadedOnce.Do(func() {
		s.state = stateReady
		close(s.loaded)
	})
}

func (s *Service[V]) keys() (property, ascending, deprecated string) {
	return constants.StorageKeySortingProperty + s.cfg.StorageKey,
		constants.StorageKeySortingAscending + s.cfg.StorageKey,
		constants.StorageKeySortingDeprecated + s.cfg.StorageKey
}

// Load reads the persisted definition, migrating the deprecated combined
// format, and falls back to the default definition. Concurrent callers wait
// for the first load.
func (s *Service[V]) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateUninitialized {
		s.mu.Unlock()
		select {
		case <-s.loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.state = stateLoading
	s.mu.Unlock()

	if err := s.load(ctx); err != nil {
		s.mu.Lock()
		if s.state == stateLoading {
			s.state = stateUninitialized
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Service[V]) load(ctx context.Context) error {
	propKey, ascKey, deprecatedKey := s.keys()

	var deprecated Definition
	hasDeprecated, err := s.cfg.Store.Get(ctx, deprecatedKey, &deprecated)
	if err != nil {
		return fmt.Errorf("load %s: %w", deprecatedKey, err)
	}
	var prop Property
	hasProp, err := s.cfg.Store.Get(ctx, propKey, &prop)
	if err != nil {
		return fmt.Errorf("load %s: %w", propKey, err)
	}
	var asc bool
	hasAsc, err := s.cfg.Store.Get(ctx, ascKey, &asc)
	if err != nil {
		return fmt.Errorf("load %s: %w", ascKey, err)
	}

	if hasDeprecated {
		if err := s.cfg.Store.Remove(ctx, deprecatedKey); err != nil {
			return fmt.Errorf("remove %s: %w", deprecatedKey, err)
		}
	}

	var stored *Definition
	if hasDeprecated {
		stored = &deprecated
	}
	if hasProp || hasAsc {
		stored = &Definition{SortProperty: prop, SortAscending: !hasAsc || asc}
	}

	if stored != nil && len(stored.SortProperty) > 0 {
		s.mu.Lock()
		s.definition = stored
		if hasDeprecated {
			err = s.updateSortDefinitionsLocked(ctx)
		} else {
			s.calculateDefaultStatusLocked()
		}
		s.markLoaded()
		s.mu.Unlock()
		s.afterChange(err)
		s.logger.Debug("sort definition loaded", "key", s.cfg.StorageKey, "property", stored.SortProperty.String(), "migrated", hasDeprecated)
		return nil
	}

	def, err := s.defaultDefinition(ctx)
	if err != nil {
		return err
	}
	if !hasAsc {
		asc = def.SortAscending
	}
	if len(prop) == 0 {
		prop = def.SortProperty
	}

	s.mu.Lock()
	s.definition = &Definition{SortProperty: slices.Clone(prop), SortAscending: asc}
	err = s.updateSortDefinitionsLocked(ctx)
	s.markLoaded()
	s.mu.Unlock()
	s.afterChange(err)
	s.logger.Debug("sort definition defaulted", "key", s.cfg.StorageKey, "property", prop.String())
	return nil
}

func (s *Service[V]) defaultDefinition(ctx context.Context) (*Definition, error) {
	if def := s.defaultDef.Value(); def != nil {
		return def, nil
	}
	return observable.First[*Definition](ctx, s.defaultDef, func(d *Definition) bool { return d != nil })
}

// Definition returns a copy of the current definition, or nil before loading.
func (s *Service[V]) Definition() *Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.definition.clone()
}

func (s *Service[V]) SortProperty() Property {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.definition == nil {
		return nil
	}
	return slices.Clone(s.definition.SortProperty)
}

func (s *Service[V]) Ascending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.definition == nil || s.definition.SortAscending
}

func (s *Service[V]) SetAscending(ctx context.Context, ascending bool) error {
	s.mu.Lock()
	if s.definition == nil {
		s.mu.Unlock()
		return constants.ErrNotLoaded
	}
	s.definition.SortAscending = ascending
	err := s.updateSortDefinitionsLocked(ctx)
	s.mu.Unlock()
	s.publish()
	return err
}

// SetSortProperty toggles the direction when property is already selected;
// a different property is selected ascending.
func (s *Service[V]) SetSortProperty(ctx context.Context, property Property) error {
	s.mu.Lock()
	switch {
	case s.definition == nil:
		s.definition = &Definition{SortProperty: slices.Clone(property), SortAscending: true}
	case s.definition.SortProperty.Equal(property):
		s.definition.SortAscending = !s.definition.SortAscending
	default:
		s.definition.SortProperty = slices.Clone(property)
		s.definition.SortAscending = true
	}
	err := s.updateSortDefinitionsLocked(ctx)
	s.markLoaded()
	s.mu.Unlock()
	s.publish()
	return err
}

// SetSorting sets property and direction at once. Before the first load the
// definition is only adopted, not persisted.
func (s *Service[V]) SetSorting(ctx context.Context, property Property, ascending bool) error {
	s.mu.Lock()
	err := s.setSortingLocked(ctx, property, ascending)
	s.markLoaded()
	s.mu.Unlock()
	s.publish()
	return err
}

func (s *Service[V]) setSortingLocked(ctx context.Context, property Property, ascending bool) error {
	if s.definition == nil {
		s.definition = &Definition{SortProperty: slices.Clone(property), SortAscending: ascending}
		s.calculateDefaultStatusLocked()
		return nil
	}
	s.definition.SortProperty = slices.Clone(property)
	s.definition.SortAscending = ascending
	return s.updateSortDefinitionsLocked(ctx)
}

// updateSortDefinitionsLocked persists the definition. The stored property is
// cleared while it equals the default, so a changed default takes effect.
func (s *Service[V]) updateSortDefinitionsLocked(ctx context.Context) error {
	s.calculateDefaultStatusLocked()
	propKey, ascKey, _ := s.keys()
	if s.isDefaultSorting {
		if err := s.cfg.Store.Remove(ctx, propKey); err != nil {
			return err
		}
	} else if err := s.cfg.Store.Set(ctx, propKey, s.definition.SortProperty); err != nil {
		return err
	}
	return s.cfg.Store.Set(ctx, ascKey, s.definition.SortAscending)
}

func (s *Service[V]) calculateDefaultStatusLocked() {
	def := s.defaultDef.Value()
	s.isDefaultSorting = def != nil && s.definition != nil && s.definition.SortProperty.Equal(def.SortProperty)
}

// IsDefaultSorting reports whether the selected property is the default one.
func (s *Service[V]) IsDefaultSorting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDefaultSorting
}

// HasSortOptionSelected reports whether the selection differs from the default.
func (s *Service[V]) HasSortOptionSelected() bool {
	def := s.defaultDef.Value()
	s.mu.Lock()
	defer s.mu.Unlock()
	if def == nil || s.definition == nil {
		return false
	}
	return !s.definition.Equal(*def)
}

func (s *Service[V]) publish() {
	s.mu.Lock()
	if s.definition == nil {
		s.mu.Unlock()
		return
	}
	p := &published{def: *s.definition.clone()}
	s.mu.Unlock()
	p.hidden = s.hiddenKey()
	s.current.Next(p)
}

// SortingUpdated emits the definition whenever it, or the visibility of an
// option, changed. Bursts are delivered once after a short delay.
func (s *Service[V]) SortingUpdated() observable.Observable[Definition] {
	nonNil := observable.Filter[*published](s.current, func(p *published) bool { return p != nil })
	distinct := observable.DistinctUntilChanged(nonNil, func(prev, curr *published) bool {
		return prev.hidden == curr.hidden && prev.def.Equal(curr.def)
	})
	audited := observable.Audit(distinct, constants.SortingUpdatedAuditTime)
	return observable.Map(audited, func(p *published) Definition { return p.def })
}

// IsActive reports whether any option is visible.
func (s *Service[V]) IsActive() bool {
	return len(s.SortOptions()) > 0
}

// SortOptions returns the visible options.
func (s *Service[V]) SortOptions() []Option[V] {
	var visible []Option[V]
	for _, opt := range s.cfg.Options() {
		if !s.shouldHide(opt.Property, true) {
			visible = append(visible, opt)
		}
	}
	return visible
}

// DefaultOption returns the option of the default definition.
func (s *Service[V]) DefaultOption() (Option[V], bool) {
	def := s.defaultDef.Value()
	if def == nil {
		return Option[V]{}, false
	}
	return s.findOption(s.cfg.Options(), def.SortProperty)
}

func (s *Service[V]) findOption(options []Option[V], property Property) (Option[V], bool) {
	for _, opt := range options {
		if opt.Property.Equal(property) {
			return opt, true
		}
	}
	return Option[V]{}, false
}

func (s *Service[V]) IsSameProperty(a, b Property) bool {
	return a.Equal(b)
}

// SortIcon returns "arrow_upward" or "arrow_downward" for the selected option
// and "" for others. It reports false while no definition is loaded.
func (s *Service[V]) SortIcon(opt Option[V]) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.definition == nil {
		return "", false
	}
	if len(s.definition.SortProperty) == 0 || !s.definition.SortProperty.Equal(opt.Property) {
		return "", true
	}
	if s.definition.SortAscending {
		return "arrow_upward", true
	}
	return "arrow_downward", true
}

// SortLabel returns the untranslated label, derived from the property when
// the option has none.
func (s *Service[V]) SortLabel(opt Option[V]) string {
	if opt.Label != "" {
		return opt.Label
	}
	name := opt.Property.String()
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

// shouldHide evaluates the hide settings for every field of property. With
// update set, a flipped visibility is remembered and republished.
func (s *Service[V]) shouldHide(property Property, update bool) bool {
	settings := s.cfg.HideSettings()
	hide := false
	changed := false

	s.hideMu.Lock()
	for _, field := range property {
		for _, setting := range settings {
			if setting.Property != field {
				continue
			}
			hidden := setting.ShouldHide()
			hide = hide || hidden
			if update && s.hidden[field] != hidden {
				s.hidden[field] = hidden
				changed = true
			}
		}
	}
	s.hideMu.Unlock()

	if changed {
		s.publish()
	}
	return hide
}

func (s *Service[V]) hiddenKey() string {
	s.hideMu.Lock()
	defer s.hideMu.Unlock()
	var fields []string
	for field, hidden := range s.hidden {
		if hidden {
			fields = append(fields, field)
		}
	}
	slices.Sort(fields)
	return strings.Join(fields, ",")
}

func (s *Service[V]) currentOption() (Option[V], bool) {
	prop := s.SortProperty()
	if prop == nil {
		return Option[V]{}, false
	}
	return s.findOption(s.SortOptions(), prop)
}

// CurrentSortBaseKeys are the own fields the active comparison depends on.
func (s *Service[V]) CurrentSortBaseKeys() []string {
	opt, ok := s.currentOption()
	if !ok {
		return slices.Clone(s.SortProperty())
	}
	if opt.BaseKeys != nil {
		return slices.Clone(opt.BaseKeys)
	}
	return slices.Clone(opt.Property)
}

// CurrentForeignSortBaseKeys are the fields of other collections the active
// comparison depends on.
func (s *Service[V]) CurrentForeignSortBaseKeys() map[string][]string {
	opt, ok := s.currentOption()
	if !ok || opt.ForeignBaseKeys == nil {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(opt.ForeignBaseKeys))
	for collection, keys := range opt.ForeignBaseKeys {
		out[collection] = slices.Clone(keys)
	}
	return out
}

// comparator captures everything a sort needs, so the comparison itself does
// not lock.
func (s *Service[V]) comparator(ctx context.Context) (func(a, b V) int, error) {
	alternative, err := s.defaultDefinition(ctx)
	if err != nil {
		return nil, err
	}
	def := s.Definition()
	if def == nil {
		return nil, constants.ErrNotLoaded
	}
	property := def.SortProperty
	if s.shouldHide(property, false) {
		property = alternative.SortProperty
	}
	opt, hasOpt := s.findOption(s.cfg.Options(), property)
	collator := s.cfg.Collator()
	ascending := def.SortAscending

	return func(a, b V) int {
		var result int
		if hasOpt && opt.SortFn != nil {
			result = opt.SortFn(a, b, ascending)
		} else {
			result = sortItems(collator, a, b, property, ascending)
		}
		if result != 0 {
			return result
		}
		return cmp.Compare(a.ID(), b.ID())
	}, nil
}

func sortItems[V viewmodel.ViewModel](c *collation.Collator, a, b V, property Property, ascending bool) int {
	for _, field := range property {
		va, vb := a.Get(field), b.Get(field)
		result := CompareValues(c, va, vb)
		if result == 0 {
			continue
		}
		if !ascending && !viewmodel.IsNil(va) && !viewmodel.IsNil(vb) {
			result = -result
		}
		return result
	}
	return 0
}

// Sort sorts items in place by the active definition and returns them. It
// waits for the default definition to be known.
func (s *Service[V]) Sort(ctx context.Context, items []V) ([]V, error) {
	compare, err := s.comparator(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, compare)
	return items, nil
}

func (s *Service[V]) Compare(ctx context.Context, a, b V) (int, error) {
	compare, err := s.comparator(ctx)
	if err != nil {
		return 0, err
	}
	return compare(a, b), nil
}
