// Package scheduler runs named periodic jobs.
//
// Each job runs on its own ticker. A tick that fires while the previous run
// of the same job is still in flight is dropped, so a job never overlaps
// with itself. Jobs stop when the context passed to Start is cancelled or
// Stop is called; Stop waits for in-flight runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/neai/internal/events"
	"github.com/felixgeelhaar/neai/internal/observe"
	"golang.org/x/sync/semaphore"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrDuplicateJob   = errors.New("job already registered")
)

// Job is a periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// Immediate runs the job once at Start instead of waiting a full interval.
	Immediate bool
	Run       func(ctx context.Context) error
}

type jobState struct {
	Job
	inFlight *semaphore.Weighted
	runs     atomic.Uint64
	dropped  atomic.Uint64
}

// Scheduler owns a set of jobs.
type Scheduler struct {
	obs *observe.Observer
	bus *events.Bus

	mu      sync.Mutex
	jobs    []*jobState
	byName  map[string]*jobState
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New(obs *observe.Observer, bus *events.Bus) *Scheduler {
	if obs == nil {
		obs = observe.Discard()
	}
	return &Scheduler{
		obs:    obs,
		bus:    bus,
		byName: make(map[string]*jobState),
	}
}

// Add registers a job. Jobs must be added before Start.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %s", job.Name, job.Interval)
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run function is required", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if _, exists := s.byName[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	js := &jobState{Job: job, inFlight: semaphore.NewWeighted(1)}
	s.jobs = append(s.jobs, js)
	s.byName[job.Name] = js
	return nil
}

// Start launches every registered job. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, js := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, js)
	}
	s.obs.Log().Debug().Int("jobs", len(s.jobs)).Msg("scheduler started")
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// Runs returns how many times the named job has started.
func (s *Scheduler) Runs(name string) uint64 {
	if js := s.lookup(name); js != nil {
		return js.runs.Load()
	}
	return 0
}

// Dropped returns how many ticks of the named job were dropped.
func (s *Scheduler) Dropped(name string) uint64 {
	if js := s.lookup(name); js != nil {
		return js.dropped.Load()
	}
	return 0
}

func (s *Scheduler) lookup(name string) *jobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	defer s.wg.Done()

	ticker := time.NewTicker(js.Interval)
	defer ticker.Stop()

	if js.Immediate {
		s.fire(ctx, js)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, js)
		}
	}
}

// fire starts a run unless the previous one is still going.
func (s *Scheduler) fire(ctx context.Context, js *jobState) {
	if ctx.Err() != nil {
		return
	}
	if !js.inFlight.TryAcquire(1) {
		js.dropped.Add(1)
		s.obs.Log().Debug().Str("job", js.Name).Msg("previous run still in flight, dropping tick")
		s.bus.Publish(events.Event{Type: events.TickDropped, Action: js.Name})
		return
	}
	js.runs.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer js.inFlight.Release(1)
		if err := js.Run(ctx); err != nil && ctx.Err() == nil {
			s.obs.Log().Warn().Str("job", js.Name).Err(err).Msg("scheduled job failed")
		}
	}()
}
