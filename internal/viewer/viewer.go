// Package viewer keeps the memory view state and renders it.
//
// A refresh always replaces the whole snapshot. Each refresh takes a
// sequence number before it starts fetching, and its result is applied only
// if no refresh that started later has been applied already, so overlapping
// refreshes resolve to the most recently started one and never merge.
package viewer

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/memory"
	"github.com/felixgeelhaar/neai/internal/observe"
)

// State is the explicit view state handed to the renderers.
type State struct {
	Snapshot  memory.Snapshot
	Status    string
	Notice    string
	Err       error
	UpdatedAt time.Time
}

// Viewer fetches memory items and owns the current State.
type Viewer struct {
	src memory.Source
	obs *observe.Observer
	bus *events.Bus

	mu        sync.RWMutex
	started   uint64
	applied   uint64
	state     State
	listeners []func(State)
}

// New creates a viewer reading from src.
func New(src memory.Source, obs *observe.Observer, bus *events.Bus) *Viewer {
	if obs == nil {
		obs = observe.Discard()
	}
	return &Viewer{
		src: src,
		obs: obs,
		bus: bus,
	}
}

// OnChange registers fn to receive a copy of the state after every change.
// Listeners may receive states out of order; State.Snapshot.Seq orders them.
func (v *Viewer) OnChange(fn func(State)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// State returns a copy of the current view state.
func (v *Viewer) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.copyLocked()
}

// Refresh fetches the item list and replaces the snapshot. When the fetch
// fails the previous items are kept and the error is recorded.
func (v *Viewer) Refresh(ctx context.Context) error {
	ctx, span := v.obs.StartSpan(ctx, "viewer.Refresh")
	defer span.End()

	v.mu.Lock()
	v.started++
	seq := v.started
	v.mu.Unlock()

	start := time.Now()
	items, err := v.src.List(ctx)
	elapsed := time.Since(start)

	v.mu.Lock()
	if seq <= v.applied {
		v.mu.Unlock()
		v.obs.Log().Debug().Int("seq", int(seq)).Msg("discarding stale memory fetch")
		v.bus.Publish(events.Event{Type: events.RefreshStale, Action: "refresh", Duration: elapsed})
		return nil
	}
	v.applied = seq
	v.state.UpdatedAt = time.Now()
	if err != nil {
		v.state.Err = err
	} else {
		v.state.Err = nil
		v.state.Snapshot = memory.Snapshot{
			Seq:       seq,
			FetchedAt: v.state.UpdatedAt,
			Items:     items,
		}
	}
	st, listeners := v.copyLocked(), slices.Clone(v.listeners)
	v.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		v.obs.Log().Error().Err(err).Msg("failed to refresh memory")
		v.bus.Publish(events.Event{Type: events.RefreshFailed, Action: "refresh", Err: err, Duration: elapsed})
	} else {
		if problems := st.Snapshot.Validate(); len(problems) > 0 {
			v.obs.Log().Warn().Str("problems", strings.Join(problems, "; ")).Msg("memory snapshot has inconsistent items")
		}
		v.bus.Publish(events.Event{Type: events.MemoryRefreshed, Action: "refresh", Count: len(items), Duration: elapsed})
	}

	notify(listeners, st)
	return err
}

// UpdateStatus sets the status label.
func (v *Viewer) UpdateStatus(status string) {
	v.mutate(func(s *State) { s.Status = status })
}

// Notify sets the non-blocking notice shown for failed actions.
func (v *Viewer) Notify(notice string) {
	v.mutate(func(s *State) { s.Notice = notice })
}

// Prompt shows a validation prompt. The viewer shows prompts on the notice line.
func (v *Viewer) Prompt(msg string) {
	v.Notify(msg)
}

// ClearNotice removes the current notice.
func (v *Viewer) ClearNotice() {
	v.Notify("")
}

func (v *Viewer) mutate(fn func(*State)) {
	v.mu.Lock()
	fn(&v.state)
	st, listeners := v.copyLocked(), slices.Clone(v.listeners)
	v.mu.Unlock()
	notify(listeners, st)
}

func (v *Viewer) copyLocked() State {
	st := v.state
	st.Snapshot.Items = slices.Clone(v.state.Snapshot.Items)
	return st
}

func notify(listeners []func(State), st State) {
	for _, fn := range listeners {
		fn(st)
	}
}
