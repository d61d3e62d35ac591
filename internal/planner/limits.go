package planner

// Limits caps plan cost so one request cannot fan out unboundedly.
type Limits struct {
	// MaxDepth bounds relation nesting, connection wrappers excluded.
	MaxDepth int
	// MaxPageSize bounds the first argument on any collection.
	MaxPageSize int
	// MaxCost bounds the estimated row fan-out of the whole plan: each
	// collection step multiplies its page size by its ancestors' sizes, and
	// the per-step products are summed.
	MaxCost int
}

// DefaultLimits are permissive enough for interactive use while still bounding
// pathological queries.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:    8,
		MaxPageSize: 500,
		MaxCost:     100000,
	}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxDepth <= 0 {
		l.MaxDepth = d.MaxDepth
	}
	if l.MaxPageSize <= 0 {
		l.MaxPageSize = d.MaxPageSize
	}
	if l.MaxCost <= 0 {
		l.MaxCost = d.MaxCost
	}
	return l
}

// estimateCost walks the step tree. Page sizes are late-bound, so the default
// page size stands in for collections; the executor enforces MaxPageSize on
// the actual first argument at bind time.
func estimateCost(root *Step) int {
	var walk func(s *Step, parentRows int) int
	walk = func(s *Step, parentRows int) int {
		rows := parentRows
		if s.Collection() {
			rows = parentRows * s.DefaultLimit
		}
		cost := rows
		for _, child := range s.Children {
			cost += walk(child, rows)
		}
		return cost
	}
	return walk(root, 1)
}
