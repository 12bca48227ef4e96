package sortlist

import (
	"context"

	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

// SortFn compares two view models for an option and must honor ascending.
type SortFn[V viewmodel.ViewModel] func(a, b V, ascending bool) int

type Option[V viewmodel.ViewModel] struct {
	Property Property
	Label    string
	SortFn   SortFn[V]
	// BaseKeys are the own fields the comparison depends on. Defaults to Property.
	BaseKeys []string
	// ForeignBaseKeys are fields of other collections, by collection, the
	// comparison depends on.
	ForeignBaseKeys map[string][]string
}

// HideSetting suppresses the options sorting by Property while ShouldHide
// returns true.
type HideSetting struct {
	Property   string
	ShouldHide func() bool
}

// Strategy is what a repository needs from a sort-list service.
type Strategy[V viewmodel.ViewModel] interface {
	Loaded() <-chan struct{}
	// Sort sorts in place and returns the slice.
	Sort(ctx context.Context, items []V) ([]V, error)
	Compare(ctx context.Context, a, b V) (int, error)
	CurrentSortBaseKeys() []string
	CurrentForeignSortBaseKeys() map[string][]string
	SortingUpdated() observable.Observable[Definition]
}

// Registry is implemented by repositories.
type Registry[V viewmodel.ViewModel] interface {
	RegisterSortListService(key string, s Strategy[V])
	UnregisterSortListService(key string)
}
