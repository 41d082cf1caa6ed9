package cli

import (
	"fmt"
	"strings"

	"github.com/lockstephq/lockstep/internal/engine"
)

// EngineNames lists the selectable engine adapters. The set is closed:
// engines register here, never by runtime discovery.
var EngineNames = []string{"ledger", "vector"}

// newAdapter constructs the named adapter.
func newAdapter(name string, opts engine.Options) (engine.Adapter, error) {
	switch name {
	case "ledger":
		return engine.NewLedger(opts), nil
	case "vector":
		return engine.NewVector(opts), nil
	default:
		return nil, fmt.Errorf("unknown engine %q: must be one of %s",
			name, strings.Join(EngineNames, ", "))
	}
}

// engineLabel renders an adapter as id@version for display.
func engineLabel(a engine.Adapter) string {
	return a.ID() + "@" + a.Version()
}
