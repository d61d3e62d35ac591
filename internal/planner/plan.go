package planner

import (
	"relgraph/internal/typemap"
)

// StepKind identifies how a step fetches its rows.
type StepKind int

const (
	// StepSingle is a root single-row lookup by key columns.
	StepSingle StepKind = iota
	// StepCollection is a root paginated collection.
	StepCollection
	// StepManyToOne batches forward relation lookups with one IN query.
	StepManyToOne
	// StepOneToMany batches reverse relation pages with one window query.
	StepOneToMany
	// StepManyToMany batches junction-joined pages with one window query.
	StepManyToMany
)

func (k StepKind) String() string {
	switch k {
	case StepSingle:
		return "single"
	case StepCollection:
		return "collection"
	case StepManyToOne:
		return "many-to-one"
	case StepOneToMany:
		return "one-to-many"
	default:
		return "many-to-many"
	}
}

// FieldSel maps one fetched column to a response key with its conversion kind.
type FieldSel struct {
	Out    string
	Column string
	Kind   typemap.ScalarKind
	Enum   bool
	List   bool // SET columns materialize as a list of enum values
}

// Step is one fetch in a plan. Regardless of how many parent rows the previous
// step produced, a step issues exactly one SQL query. Steps carry no literal
// argument values; those rebind per execution through Bindings.
type Step struct {
	Kind     StepKind
	Path     string // dotted selection path, doubles as the bindings key
	OutName  string // response key in the parent object
	Table    string
	TypeName string

	Fields     []FieldSel
	Fetch      []string             // columns to fetch: outputs plus join and cursor keys
	FetchKinds []typemap.ScalarKind // conversion kinds aligned with Fetch

	Relation *typemap.Relation // nil for root steps
	Filter   *Filter
	Order    []OrderTerm // collections only
	HasAfter bool

	DefaultLimit int
	MaxLimit     int

	KeyColumns []string // StepSingle lookup columns
	KeyArgs    []string // argument names aligned with KeyColumns
	KeyKinds   []typemap.ScalarKind

	Connection   bool
	WantTotal    bool
	WantPageInfo bool
	WantCursors  bool
	WantNodes    bool

	Children []*Step
}

// Collection reports whether the step returns pages rather than single rows.
func (s *Step) Collection() bool {
	switch s.Kind {
	case StepCollection, StepOneToMany, StepManyToMany:
		return true
	default:
		return false
	}
}

// FetchKind returns the conversion kind recorded for a fetched column, so the
// executor converts join-key values identically on both sides of a batch.
func (s *Step) FetchKind(column string) typemap.ScalarKind {
	if i := s.fetchIndex(column); i >= 0 {
		return s.FetchKinds[i]
	}
	return typemap.ScalarString
}

// BatchKeyWidth returns how many parent key aliases a batch query for this
// step carries alongside each row.
func (s *Step) BatchKeyWidth() int {
	if s.Relation == nil {
		return 0
	}
	if s.Kind == StepManyToMany {
		return len(s.Relation.JunctionLocalFK)
	}
	return len(s.Relation.RemoteColumns)
}

// fetchIndex returns the position of a column in the fetch list, or -1.
func (s *Step) fetchIndex(column string) int {
	for i, c := range s.Fetch {
		if c == column {
			return i
		}
	}
	return -1
}

// addFetch ensures a column is fetched, returning its index.
func (s *Step) addFetch(column string, kind typemap.ScalarKind) int {
	if i := s.fetchIndex(column); i >= 0 {
		return i
	}
	s.Fetch = append(s.Fetch, column)
	s.FetchKinds = append(s.FetchKinds, kind)
	return len(s.Fetch) - 1
}

// Plan is one cached, value-free query plan.
type Plan struct {
	Root *Step
	Hash string
	Cost int
}

// Bindings carries the per-request argument values for a plan, keyed by step
// path. A cached plan plus fresh bindings fully determine the SQL issued.
type Bindings map[string]map[string]any

// Steps returns every step in dependency order, parents before children.
func (p *Plan) Steps() []*Step {
	var all []*Step
	var walk func(s *Step)
	walk = func(s *Step) {
		all = append(all, s)
		for _, child := range s.Children {
			walk(child)
		}
	}
	walk(p.Root)
	return all
}
