package alerts

import (
	"fmt"
	"time"

	"github.com/verity/engine/internal/core"
)

// validTransitions is the alert lifecycle table. resolved is terminal;
// open may resolve directly (auto-resolved false positive).
var validTransitions = map[core.AlertStatus][]core.AlertStatus{
	core.AlertOpen:          {core.AlertInvestigating, core.AlertResolved},
	core.AlertInvestigating: {core.AlertResolved},
}

func isValidTransition(from, to core.AlertStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transition applies a lifecycle change and appends it to the alert's
// audit history. The history is append-only; nothing ever rewrites it.
func transition(a *core.ModerationAlert, to core.AlertStatus, actor string) error {
	if !isValidTransition(a.Status, to) {
		return fmt.Errorf("alert %s: %s -> %s: %w", a.ID, a.Status, to, core.ErrInvalidTransition)
	}
	a.History = append(a.History, core.AlertTransition{
		From:      a.Status,
		To:        to,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	})
	a.Status = to
	return nil
}
