package store

import (
	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/observe"
)

// JournalHandler returns an event handler that records action outcomes and
// refresh failures. Successful refreshes are not journaled; the poll loop
// would otherwise write a row every few seconds.
func JournalHandler(s Storage, obs *observe.Observer) events.Handler {
	if obs == nil {
		obs = observe.Discard()
	}
	return func(e events.Event) {
		a := &Action{
			Kind:      e.Action,
			Subject:   e.Subject,
			CreatedAt: e.Timestamp,
		}
		switch e.Type {
		case events.ActionSucceeded:
			a.Outcome = OutcomeOK
		case events.ActionRejected:
			a.Outcome = OutcomeRejected
		case events.ActionFailed, events.RefreshFailed:
			a.Outcome = OutcomeFailed
		default:
			return
		}
		if e.Err != nil {
			a.Error = e.Err.Error()
		}
		if err := s.RecordAction(a); err != nil {
			obs.Log().Warn().Str("kind", a.Kind).Err(err).Msg("failed to journal action")
		}
	}
}
