package workflow

import (
	"fmt"
	"sort"
)

// Revision bookkeeping fields shared by every revision loop.
const (
	FieldRevisionRound = "revision_round"
	FieldNeedsRevision = "needs_revision"
)

// ApprovedField names the approval flag of a component.
func ApprovedField(component string) string { return component + "_approved" }

// FeedbackField names the reviewer feedback of a component.
func FeedbackField(component string) string { return component + "_feedback" }

// RevisionFields returns the schema fields a revision loop over components needs.
func RevisionFields(components ...string) []Field {
	fields := []Field{
		{Name: FieldRevisionRound, Default: 0},
		{Name: FieldNeedsRevision, Default: false},
	}
	for _, c := range components {
		fields = append(fields,
			Field{Name: ApprovedField(c), Default: false},
			Field{Name: FeedbackField(c), Default: ""},
		)
	}
	return fields
}

// SkipIfApproved skips a generator whose component has been approved.
func SkipIfApproved(component string) SkipFunc {
	field := ApprovedField(component)
	return func(s State) bool {
		return GetOr(s, field, false)
	}
}

// Component ties a reviewed output to the node that produces it.
type Component struct {
	Name string
	Node string
}

// RevisionController bounds a reviewer-driven feedback loop. It is bound to
// the reviewer's outgoing edge and evaluated by the executor after the
// reviewer's delta is merged. Round counting and forced termination live
// here, never in a node.
type RevisionController struct {
	maxRounds  int
	components []Component
}

// NewRevisionController creates a controller forcing approval once
// revision_round reaches maxRounds.
func NewRevisionController(maxRounds int, components ...Component) *RevisionController {
	cs := append([]Component(nil), components...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].Name < cs[j].Name })
	return &RevisionController{maxRounds: maxRounds, components: cs}
}

// MaxRounds returns the round ceiling.
func (rc *RevisionController) MaxRounds() int { return rc.maxRounds }

// Components returns the reviewed components sorted by name.
func (rc *RevisionController) Components() []Component {
	return append([]Component(nil), rc.components...)
}

// ComponentNames returns the reviewed component names sorted.
func (rc *RevisionController) ComponentNames() []string {
	out := make([]string, len(rc.components))
	for i, c := range rc.components {
		out[i] = c.Name
	}
	return out
}

func (rc *RevisionController) fields() []string {
	out := []string{FieldRevisionRound, FieldNeedsRevision}
	for _, c := range rc.components {
		out = append(out, ApprovedField(c.Name), FeedbackField(c.Name))
	}
	return out
}

func (rc *RevisionController) targets() []string {
	out := make([]string, 0, len(rc.components)+1)
	for _, c := range rc.components {
		out = append(out, c.Node)
	}
	return append(sortedUnique(out), END)
}

// Approvals snapshots the approval flags of every component.
func (rc *RevisionController) Approvals(s State) map[string]bool {
	out := make(map[string]bool, len(rc.components))
	for _, c := range rc.components {
		out[c.Name] = GetOr(s, ApprovedField(c.Name), false)
	}
	return out
}

// RevisionDecision is the outcome of one controller evaluation.
type RevisionDecision struct {
	Delta Delta
	Route Route
	Round int
	// Limit is set when approvals were forced.
	Limit *RevisionLimitReached
}

// Evaluate advances the round and decides where the loop goes next.
// previous holds approvals observed before the reviewer ran; an approval
// once granted is never withdrawn.
func (rc *RevisionController) Evaluate(previous map[string]bool, s State) RevisionDecision {
	round := GetOr(s, FieldRevisionRound, 0) + 1
	delta := Delta{FieldRevisionRound: round}

	var unapproved []Component
	for _, c := range rc.components {
		approved := previous[c.Name] || GetOr(s, ApprovedField(c.Name), false)
		delta[ApprovedField(c.Name)] = approved
		if !approved {
			unapproved = append(unapproved, c)
		}
	}

	if len(unapproved) == 0 {
		delta[FieldNeedsRevision] = false
		return RevisionDecision{Delta: delta, Route: End(), Round: round}
	}

	if round >= rc.maxRounds {
		names := make([]string, len(unapproved))
		for i, c := range unapproved {
			delta[ApprovedField(c.Name)] = true
			names[i] = c.Name
		}
		delta[FieldNeedsRevision] = false
		return RevisionDecision{
			Delta: delta,
			Route: End(),
			Round: round,
			Limit: &RevisionLimitReached{Round: round, Unapproved: names},
		}
	}

	nodes := make([]string, len(unapproved))
	for i, c := range unapproved {
		nodes[i] = c.Node
	}
	delta[FieldNeedsRevision] = true
	return RevisionDecision{Delta: delta, Route: Fork(sortedUnique(nodes)...), Round: round}
}

func (rc *RevisionController) validate(reviewer string, g *GraphBuilder) error {
	if rc.maxRounds < 1 {
		return &GraphValidationError{Node: reviewer, Reason: fmt.Sprintf("revision loop max rounds must be at least 1, got %d", rc.maxRounds)}
	}
	if len(rc.components) == 0 {
		return &GraphValidationError{Node: reviewer, Reason: "revision loop has no components"}
	}
	seen := make(map[string]bool, len(rc.components))
	for _, c := range rc.components {
		if seen[c.Name] {
			return &GraphValidationError{Node: reviewer, Reason: fmt.Sprintf("duplicate revision component %q", c.Name)}
		}
		seen[c.Name] = true
		if _, ok := g.nodes[c.Node]; !ok {
			return &GraphValidationError{Node: c.Node, Reason: fmt.Sprintf("revision component %q refers to unknown node", c.Name)}
		}
	}
	for _, f := range rc.fields() {
		if !g.schema.Has(f) {
			return &GraphValidationError{Node: reviewer, Reason: fmt.Sprintf("revision field %q missing from schema", f)}
		}
	}
	return nil
}
