package adapter

import "fmt"

// Constraint kinds reported by ConstraintError.
const (
	ConstraintPrimaryKey = "primary key"
	ConstraintForeignKey = "foreign key"
)

// ConstraintError is returned when a declared constraint does not hold for
// the committed table contents. It is deterministic and never worth retrying.
type ConstraintError struct {
	Kind       string
	Name       string
	Table      string
	Column     string
	RefTable   string
	RefColumn  string
	Violations int64
	Detail     string
}

func (e *ConstraintError) Error() string {
	if e.Kind == ConstraintForeignKey {
		return fmt.Sprintf("%s %s violated: %d row(s) of %s.%s have no match in %s.%s",
			e.Kind, e.Name, e.Violations, e.Table, e.Column, e.RefTable, e.RefColumn)
	}
	return fmt.Sprintf("%s %s violated: %d %s in %s.%s",
		e.Kind, e.Name, e.Violations, e.Detail, e.Table, e.Column)
}
