package motions

import (
	"github.com/openslides/vmrepo/pkg/models"
	"github.com/openslides/vmrepo/pkg/viewmodel"
)

const (
	MotionCollection    = "motion"
	StateCollection     = "motion_state"
	WorkflowCollection  = "motion_workflow"
	SubmitterCollection = "motion_submitter"
)

// accessField is set on every record the user may see.
const accessField = "meeting_id"

func stringField(vm viewmodel.ViewModel, name string) string {
	s, _ := vm.Model().Fields[name].(string)
	return s
}

func intField(vm viewmodel.ViewModel, name string) int {
	id, _ := models.ToID(vm.Model().Fields[name])
	return int(id)
}

func relationOne[T viewmodel.ViewModel](vm viewmodel.ViewModel, name string) (T, bool) {
	t, ok := vm.Relation(name).(T)
	return t, ok
}

func relationMany[T viewmodel.ViewModel](vm viewmodel.ViewModel, name string) []T {
	list, _ := vm.Relation(name).([]viewmodel.ViewModel)
	out := make([]T, 0, len(list))
	for _, item := range list {
		if t, ok := item.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

type ViewMotion struct {
	*viewmodel.Base
}

func NewViewMotion(b *viewmodel.Base) *ViewMotion {
	b.SetAccessField(accessField)
	m := &ViewMotion{Base: b}
	b.DefineGetter("state_name", func() any {
		if s, ok := m.State(); ok {
			return s.Name()
		}
		return nil
	})
	b.DefineGetter("submitter_count", func() any {
		return len(models.ToIDs(b.Model().Fields["submitter_ids"]))
	})
	return m
}

func (m *ViewMotion) Number() string {
	return stringField(m, "number")
}

func (m *ViewMotion) RawTitle() string {
	return stringField(m, "title")
}

func (m *ViewMotion) SortWeight() int {
	return intField(m, "sort_weight")
}

func (m *ViewMotion) SequentialNumber() int {
	return intField(m, "sequential_number")
}

func (m *ViewMotion) StateID() models.ID {
	return models.ID(intField(m, "state_id"))
}

func (m *ViewMotion) State() (*ViewState, bool) {
	return relationOne[*ViewState](m, "state")
}

// Submitters returns the resolved submitters ordered by weight.
func (m *ViewMotion) Submitters() []*ViewMotionSubmitter {
	subs := relationMany[*ViewMotionSubmitter](m, "submitters")
	sortByWeight(subs)
	return subs
}

type ViewState struct {
	*viewmodel.Base
}

func NewViewState(b *viewmodel.Base) *ViewState {
	b.SetAccessField(accessField)
	return &ViewState{Base: b}
}

func (s *ViewState) Name() string {
	return stringField(s, "name")
}

func (s *ViewState) Weight() int {
	return intField(s, "weight")
}

func (s *ViewState) IsFinal() bool {
	return len(models.ToIDs(s.Model().Fields["next_state_ids"])) == 0
}

func (s *ViewState) Workflow() (*ViewWorkflow, bool) {
	return relationOne[*ViewWorkflow](s, "workflow")
}

func (s *ViewState) NextStates() []*ViewState {
	return relationMany[*ViewState](s, "next_states")
}

type ViewWorkflow struct {
	*viewmodel.Base
}

func NewViewWorkflow(b *viewmodel.Base) *ViewWorkflow {
	b.SetAccessField(accessField)
	return &ViewWorkflow{Base: b}
}

func (w *ViewWorkflow) Name() string {
	return stringField(w, "name")
}

func (w *ViewWorkflow) States() []*ViewState {
	return relationMany[*ViewState](w, "states")
}

func (w *ViewWorkflow) FirstState() (*ViewState, bool) {
	return relationOne[*ViewState](w, "first_state")
}

type ViewMotionSubmitter struct {
	*viewmodel.Base
}

func NewViewMotionSubmitter(b *viewmodel.Base) *ViewMotionSubmitter {
	b.SetAccessField(accessField)
	return &ViewMotionSubmitter{Base: b}
}

func (s *ViewMotionSubmitter) Weight() int {
	return intField(s, "weight")
}

func (s *ViewMotionSubmitter) MotionID() models.ID {
	return models.ID(intField(s, "motion_id"))
}

func (s *ViewMotionSubmitter) Motion() (*ViewMotion, bool) {
	return relationOne[*ViewMotion](s, "motion")
}
