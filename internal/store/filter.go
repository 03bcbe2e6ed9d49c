package store

// Op is a comparison operator in a metadata filter clause.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpIn   Op = "in"
	OpNin  Op = "nin"
	OpLike Op = "like"
	OpIlike Op = "ilike"
)

// Clause is a single comparison against a metadata field.
type Clause struct {
	Field string
	Op    Op
	Value any
}

// Filter is the sole authorization gate exposed to backends: equality on
// scope fields plus free-form metadata comparisons, combined with nested
// AND/OR. A zero-value Filter matches everything.
type Filter struct {
	Scope   Scope
	Clauses []Clause
	And     []Filter
	Or      []Filter
}

// Eq is a convenience constructor for a single equality clause filter.
func Eq(field string, value any) Filter {
	return Filter{Clauses: []Clause{{Field: field, Op: OpEq, Value: value}}}
}

// WithScope returns a copy of f scoped to s.
func (f Filter) WithScope(s Scope) Filter {
	f.Scope = s
	return f
}

// IsEmpty reports whether the filter carries no scope and no clauses —
// i.e. it would match every row in the backend, which is only permitted for
// internal callers that explicitly opt into an unfiltered read.
func (f Filter) IsEmpty() bool {
	return f.Scope.IsZero() && len(f.Clauses) == 0 && len(f.And) == 0 && len(f.Or) == 0
}
