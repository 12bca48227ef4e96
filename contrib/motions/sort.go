package motions

import (
	"cmp"

	"github.com/openslides/vmrepo"
	"github.com/openslides/vmrepo/pkg/logger"
	"github.com/openslides/vmrepo/pkg/observable"
	"github.com/openslides/vmrepo/pkg/sortlist"
	"github.com/openslides/vmrepo/pkg/storage"
)

// SortStorageKey is the storage key of the motion list sorting.
const SortStorageKey = "motion_list"

// DefaultSorting applies when no meeting default is known.
var DefaultSorting = sortlist.Definition{SortProperty: sortlist.P("sort_weight"), SortAscending: true}

type SortConfig struct {
	Store storage.Store
	// HideNumber hides the number option, e.g. while numbers are not used in
	// the meeting. Optional.
	HideNumber func() bool
	// DefaultSource delivers the meeting's default sorting. Optional.
	DefaultSource observable.Observable[*sortlist.Definition]
	Logger        logger.Logger
}

// SortOptions returns the sort options of the motion list.
func SortOptions() []sortlist.Option[*ViewMotion] {
	return []sortlist.Option[*ViewMotion]{
		{Property: sortlist.P("sort_weight"), Label: "Call list"},
		{Property: sortlist.P("number")},
		{Property: sortlist.P("title")},
		{Property: sortlist.P("sequential_number"), Label: "Sequential number"},
		{
			Property: sortlist.P("state"),
			BaseKeys: []string{"state_id"},
			// State titles are their names.
			ForeignBaseKeys: map[string][]string{StateCollection: {"name"}},
		},
		{
			Property: sortlist.P("submitters"),
			Label:    "Submitters",
			SortFn: func(a, b *ViewMotion, ascending bool) int {
				c := cmp.Compare(len(a.Submitters()), len(b.Submitters()))
				if !ascending {
					return -c
				}
				return c
			},
			// The count only depends on submitter_ids.
			BaseKeys: []string{"submitter_ids"},
		},
		{Property: sortlist.P("created"), Label: "Creation date"},
		{Property: sortlist.P("last_modified"), Label: "Last modified"},
	}
}

// NewSortListService creates the motion list sort service for repo. Call
// InitSorting to attach it.
func NewSortListService(repo *vmrepo.Repository[*ViewMotion], cfg SortConfig) *sortlist.Service[*ViewMotion] {
	def := DefaultSorting
	svcCfg := sortlist.Config[*ViewMotion]{
		StorageKey:    SortStorageKey,
		Options:       SortOptions,
		Default:       &def,
		DefaultSource: cfg.DefaultSource,
		Store:         cfg.Store,
		Registry:      repo,
		Collator:      repo.Collator,
		Logger:        cfg.Logger,
	}
	if cfg.HideNumber != nil {
		svcCfg.HideSettings = func() []sortlist.HideSetting {
			return []sortlist.HideSetting{{Property: "number", ShouldHide: cfg.HideNumber}}
		}
	}
	return sortlist.New(svcCfg)
}
