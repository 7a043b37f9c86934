package bank

import (
	"context"

	"github.com/opslayer/membank/internal/model"
)

// Verdict is the governance gate's ruling on one producer output.
type Verdict struct {
	Compliant  bool
	Violations []string
}

// Gate is the constitutional-compliance evaluator consulted once per
// store. Implementations live outside the bank; the bank only consumes
// the verdict.
type Gate interface {
	Evaluate(ctx context.Context, out *model.ProducerOutput) (Verdict, error)
}

// StaticGate passes the producer's own compliance claim through: an output
// with no claim is treated as compliant, an explicit false claim (or listed
// violations) is not.
type StaticGate struct{}

func (StaticGate) Evaluate(_ context.Context, out *model.ProducerOutput) (Verdict, error) {
	v := Verdict{Compliant: true, Violations: out.Violations}
	if out.Compliant != nil && !*out.Compliant {
		v.Compliant = false
	}
	if len(out.Violations) > 0 {
		v.Compliant = false
	}
	return v, nil
}

// CategoryPolicy maps each output category to whether storing it requires
// constitutional compliance. Categories missing from the map require it.
type CategoryPolicy map[model.Category]bool

// DefaultCategoryPolicy requires compliance for every category.
func DefaultCategoryPolicy() CategoryPolicy {
	p := make(CategoryPolicy, len(model.ValidCategories))
	for cat := range model.ValidCategories {
		p[cat] = true
	}
	return p
}

// Requires reports whether a category demands compliance before normal
// retrieval is allowed.
func (p CategoryPolicy) Requires(cat model.Category) bool {
	req, ok := p[cat]
	if !ok {
		return true
	}
	return req
}
