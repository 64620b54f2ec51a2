package partmantest

import (
	"context"
	"errors"

	"github.com/alertpart/partman/internal/defstore"
)

// Definitions is a fake Definitions Store: a fixed, in-memory list of
// trigger keys, with an optional forced failure for exercising
// spec.md S6 (cold start with Definitions failure).
type Definitions struct {
	Triggers []defstore.TriggerKey
	FailWith error
}

func (d *Definitions) ListAllTriggers(ctx context.Context) ([]defstore.TriggerKey, error) {
	if d.FailWith != nil {
		return nil, d.FailWith
	}
	out := make([]defstore.TriggerKey, len(d.Triggers))
	copy(out, d.Triggers)
	return out, nil
}

// ErrDefinitionsDown is a canned failure for Definitions.FailWith.
var ErrDefinitionsDown = errors.New("partmantest: definitions store unreachable")
