// Package motions provides the view models and repositories of the motion
// collections and the sort-list service of the motion list.
package motions

import (
	"cmp"
	"slices"

	"github.com/openslides/vmrepo"
	"github.com/openslides/vmrepo/pkg/relations"
)

// Relations of the motion collections.
var Relations = []relations.Relation{
	{OwnCollection: MotionCollection, OwnField: "state", OwnIDField: "state_id", ForeignCollection: StateCollection, Kind: relations.One},
	{OwnCollection: MotionCollection, OwnField: "submitters", OwnIDField: "submitter_ids", ForeignCollection: SubmitterCollection, Kind: relations.Many},
	{OwnCollection: StateCollection, OwnField: "workflow", OwnIDField: "workflow_id", ForeignCollection: WorkflowCollection, Kind: relations.One},
	{OwnCollection: StateCollection, OwnField: "next_states", OwnIDField: "next_state_ids", ForeignCollection: StateCollection, Kind: relations.Many},
	{OwnCollection: WorkflowCollection, OwnField: "states", OwnIDField: "state_ids", ForeignCollection: StateCollection, Kind: relations.Many},
	{OwnCollection: WorkflowCollection, OwnField: "first_state", OwnIDField: "first_state_id", ForeignCollection: StateCollection, Kind: relations.One},
	{OwnCollection: SubmitterCollection, OwnField: "motion", OwnIDField: "motion_id", ForeignCollection: MotionCollection, Kind: relations.One},
}

type Repositories struct {
	Motions    *vmrepo.Repository[*ViewMotion]
	States     *vmrepo.Repository[*ViewState]
	Workflows  *vmrepo.Repository[*ViewWorkflow]
	Submitters *vmrepo.Repository[*ViewMotionSubmitter]
}

// Register declares the motion relations on the collector and creates the
// repositories of all motion collections.
func Register(c *vmrepo.Collector) *Repositories {
	c.Relations().Register(Relations...)

	return &Repositories{
		Motions: vmrepo.New(c, MotionCollection, NewViewMotion,
			vmrepo.WithTitle(motionTitle),
			vmrepo.WithListTitle(func(m *ViewMotion) string { return m.RawTitle() }),
			vmrepo.WithVerboseName[*ViewMotion](verbose("Motion", "Motions")),
			vmrepo.WithRequestableFields[*ViewMotion]("id", "meeting_id", "sequential_number", "number", "title",
				"sort_weight", "state_id", "submitter_ids", "created", "last_modified"),
		),
		States: vmrepo.New(c, StateCollection, NewViewState,
			vmrepo.WithTitle(func(s *ViewState) string { return s.Name() }),
			vmrepo.WithVerboseName[*ViewState](verbose("State", "States")),
			vmrepo.WithRequestableFields[*ViewState]("id", "meeting_id", "name", "weight", "workflow_id", "next_state_ids"),
		),
		Workflows: vmrepo.New(c, WorkflowCollection, NewViewWorkflow,
			vmrepo.WithTitle(func(w *ViewWorkflow) string { return w.Name() }),
			vmrepo.WithVerboseName[*ViewWorkflow](verbose("Workflow", "Workflows")),
			vmrepo.WithRequestableFields[*ViewWorkflow]("id", "meeting_id", "sequential_number", "name", "state_ids", "first_state_id"),
		),
		Submitters: vmrepo.New(c, SubmitterCollection, NewViewMotionSubmitter,
			vmrepo.WithVerboseName[*ViewMotionSubmitter](verbose("Submitter", "Submitters")),
			vmrepo.WithRequestableFields[*ViewMotionSubmitter]("id", "meeting_id", "weight", "motion_id", "meeting_user_id"),
		),
	}
}

// Close closes all repositories.
func (r *Repositories) Close() {
	r.Motions.Close()
	r.States.Close()
	r.Workflows.Close()
	r.Submitters.Close()
}

// motionTitle is "<number>: <title>", or the title alone without a number.
func motionTitle(m *ViewMotion) string {
	if n := m.Number(); n != "" {
		return n + ": " + m.RawTitle()
	}
	return m.RawTitle()
}

func verbose(singular, plural string) func(bool) string {
	return func(p bool) string {
		if p {
			return plural
		}
		return singular
	}
}

func sortByWeight(subs []*ViewMotionSubmitter) {
	slices.SortStableFunc(subs, func(a, b *ViewMotionSubmitter) int {
		if c := cmp.Compare(a.Weight(), b.Weight()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
}
