package engine

import (
	"fmt"

	"github.com/ormasoftchile/msgrun/pkg/kernel/schema"
	"github.com/ormasoftchile/msgrun/pkg/kernel/template"
	"github.com/ormasoftchile/msgrun/pkg/transport"
)

// RuntimeStep is the per-run state of one script step. The validation
// pipeline fills it phase by phase; the executor only reads it.
type RuntimeStep struct {
	Index int
	Step  *schema.Step

	// Templates resolved in phase 1, in catalog order.
	Templates []*template.Template

	// Data-file binding from phase 4. DataPath is the file on disk and
	// Fields the prefix-namespaced variable names.
	DataFile *schema.DataFile
	DataPath string
	Fields   []string

	// Connection from phase 2, destination from phase 5.
	Connection  transport.Connection
	Destination transport.Destination
}

func newRuntimeSteps(sc *schema.Script) []*RuntimeStep {
	out := make([]*RuntimeStep, len(sc.Steps))
	for i := range sc.Steps {
		out[i] = &RuntimeStep{Index: i, Step: &sc.Steps[i]}
	}
	return out
}

// Regular reports whether the step sends messages.
func (rs *RuntimeStep) Regular() bool {
	return rs.Step.Kind == schema.StepRegular
}

// Units is the progress estimate for the step: one for a pause, the
// iteration count for a regular step. Folder sizes and data-file lines are
// not counted.
func (rs *RuntimeStep) Units() int {
	if !rs.Regular() {
		return 1
	}
	return rs.Step.IterationCount()
}

func (rs *RuntimeStep) String() string {
	return fmt.Sprintf("step %d (%s)", rs.Index+1, rs.Step.Describe())
}
