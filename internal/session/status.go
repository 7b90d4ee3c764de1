package session

import "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"

// Recompute derives column and session statuses from iteration states.
// It is idempotent and order-independent: applying it after any subset of
// task completions yields a status consistent with what is done so far.
// Mutate calls it on every write, so callers never set statuses directly.
func Recompute(sess *types.Session) {
	var pending, inProgress, completed, failed, enabled int

	for _, model := range types.AllModels() {
		col := sess.Models[model]
		if col == nil || !col.Enabled {
			continue
		}
		enabled++

		col.Status = columnStatus(col)
		switch col.Status {
		case types.ColumnCompleted:
			completed++
		case types.ColumnError:
			failed++
		case types.ColumnInProgress:
			inProgress++
		default:
			pending++
		}
	}

	switch {
	case enabled == 0 || pending == enabled:
		sess.Status = types.SessionPending
	case inProgress > 0 || pending > 0:
		sess.Status = types.SessionInProgress
	case failed == 0:
		sess.Status = types.SessionCompleted
	case completed == 0:
		sess.Status = types.SessionFailed
	default:
		sess.Status = types.SessionPartial
	}
}

// columnStatus mirrors the latest iteration: completed or error when the
// latest is terminal, otherwise in_progress/pending.
func columnStatus(col *types.ModelColumn) types.ColumnStatus {
	if len(col.Iterations) == 0 {
		return types.ColumnPending
	}
	switch col.Iterations[len(col.Iterations)-1].Status {
	case types.IterationCompleted:
		return types.ColumnCompleted
	case types.IterationError:
		return types.ColumnError
	case types.IterationInProgress:
		return types.ColumnInProgress
	default:
		return types.ColumnPending
	}
}
