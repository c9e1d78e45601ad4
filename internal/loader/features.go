package loader

import (
	"fmt"

	"github.com/keelruntime/keel/internal/registry"
)

// FeatureTable maps a feature name to the ordered module list loaded on
// first reference to that feature. The table is closed: it is declared once
// at wiring time and never grows at runtime. Names not present in the table
// are tolerated as no-ops so stale external references (a feature removed
// in a refactor) do not turn into errors.
type FeatureTable map[string][]registry.Module

// UnknownFeatureError records a load request for a name the table does
// not know. It is never returned to callers; the loader logs it and
// treats the request as a no-op.
type UnknownFeatureError struct {
	Name string
}

func (e UnknownFeatureError) Error() string {
	return fmt.Sprintf("unknown feature %q", e.Name)
}
