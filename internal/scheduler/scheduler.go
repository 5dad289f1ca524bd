// Package scheduler runs cron-driven refresh jobs with a durable job store,
// so schedules survive restarts and fires missed within a short grace window
// are recovered on startup.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/marketd/internal/calendar"
	"github.com/aristath/marketd/internal/events"
)

// MisfireGrace is how late a missed fire may be and still run on startup.
// Older misses skip to the next cron occurrence.
const MisfireGrace = 30 * time.Second

// Job is a schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobSnapshot is the introspection view of one registered job.
type JobSnapshot struct {
	ID      string    `json:"id"`
	Spec    string    `json:"spec"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
	Paused  bool      `json:"paused"`
}

type entry struct {
	job    Job
	spec   string
	sched  cron.Schedule
	cronID cron.EntryID
	state  jobState

	// prevNextRun is the next_run persisted before this process registered
	// the job; Start consults it for misfire recovery.
	prevNextRun time.Time

	pendingStartFire bool
}

// Scheduler wraps a cron runner with durable schedules, run recording and
// event publication. All jobs evaluate in Asia/Shanghai.
type Scheduler struct {
	cron  *cron.Cron
	store *JobStore
	bus   *events.Bus
	loc   *time.Location
	log   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	running bool
	wg      sync.WaitGroup

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a stopped scheduler.
func New(store *JobStore, bus *events.Bus, log zerolog.Logger) *Scheduler {
	loc := calendar.Location()
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		store:      store,
		bus:        bus,
		loc:        loc,
		log:        log.With().Str("component", "scheduler").Logger(),
		entries:    make(map[string]*entry),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
	}
}

// AddJob registers a job under a standard 5-field cron spec. The schedule is
// persisted; any record from a previous process (last run, next run, paused
// flag) is merged in. With runOnStart the job also fires once when the
// scheduler starts, on the scheduler's own goroutine, never inline here.
func (s *Scheduler) AddJob(job Job, spec string, runOnStart bool) error {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := job.Name()
	if _, exists := s.entries[id]; exists {
		return fmt.Errorf("job %s already registered", id)
	}

	prior, err := s.store.Get(context.Background(), id)
	if err != nil {
		return err
	}

	e := &entry{
		job:   job,
		spec:  spec,
		sched: sched,
		state: jobState{
			ID:           id,
			Spec:         spec,
			RunOnStart:   runOnStart,
			NextRun:      sched.Next(time.Now().In(s.loc)),
			MisfireGrace: MisfireGrace,
		},
		pendingStartFire: runOnStart,
	}
	if prior != nil {
		e.state.LastRun = prior.LastRun
		e.state.Paused = prior.Paused
		e.prevNextRun = prior.NextRun
	}

	if !e.state.Paused {
		e.cronID = s.cron.Schedule(sched, cron.FuncJob(func() { s.execute(e) }))
	}

	if err := s.store.Save(context.Background(), e.state); err != nil {
		if e.cronID != 0 {
			s.cron.Remove(e.cronID)
		}
		return err
	}
	s.entries[id] = e

	if s.running && e.pendingStartFire {
		e.pendingStartFire = false
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(e)
		}()
	}

	s.log.Info().
		Str("job", id).
		Str("spec", spec).
		Bool("run_on_start", runOnStart).
		Msg("Job registered")
	return nil
}

// Start begins cron dispatch. Startup fires (run-on-start jobs plus misses
// within the grace window) execute sequentially on one background goroutine.
// Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("Scheduler already started, ignoring")
		return
	}
	if s.baseCtx.Err() != nil {
		s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	}

	now := time.Now().In(s.loc)
	var fires []*entry
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		e := s.entries[id]
		if e.state.Paused {
			e.pendingStartFire = false
			e.prevNextRun = time.Time{}
			continue
		}

		fire := e.pendingStartFire
		e.pendingStartFire = false
		if !fire && !e.prevNextRun.IsZero() && !e.prevNextRun.After(now) {
			late := now.Sub(e.prevNextRun)
			if late <= e.state.MisfireGrace {
				fire = true
				s.log.Info().Str("job", id).Dur("late", late).Msg("Recovering missed fire")
			} else {
				s.log.Warn().Str("job", id).Dur("late", late).Msg("Missed fire beyond grace, waiting for next occurrence")
			}
		}
		e.prevNextRun = time.Time{}
		if fire {
			fires = append(fires, e)
		}
	}

	s.cron.Start()
	s.running = true
	count := len(s.entries)
	s.mu.Unlock()

	if len(fires) > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for _, e := range fires {
				if s.baseCtx.Err() != nil {
					return
				}
				s.execute(e)
			}
		}()
	}

	s.log.Info().Int("jobs", count).Int("startup_fires", len(fires)).Msg("Scheduler started")
}

// Shutdown stops cron dispatch and waits for in-flight jobs, bounded by
// ctx. When ctx expires first, running jobs are cancelled and ctx's error
// returned. Calling Shutdown on a stopped scheduler is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.baseCancel()
		s.log.Warn().Msg("Scheduler shutdown timed out, cancelling in-flight jobs")
		return ctx.Err()
	}
}

// RemoveJob unregisters a job and deletes its durable record. Run history
// is kept.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("job %s not registered", id)
	}
	if e.cronID != 0 {
		s.cron.Remove(e.cronID)
		e.cronID = 0
	}
	delete(s.entries, id)

	if err := s.store.Delete(context.Background(), id); err != nil {
		return err
	}
	s.log.Info().Str("job", id).Msg("Job removed")
	return nil
}

// PauseJob detaches a job from the cron runner. The paused flag is durable,
// so the job stays paused across restarts.
func (s *Scheduler) PauseJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("job %s not registered", id)
	}
	if e.state.Paused {
		return nil
	}

	if e.cronID != 0 {
		s.cron.Remove(e.cronID)
		e.cronID = 0
	}
	e.state.Paused = true
	e.state.NextRun = time.Time{}

	if err := s.store.Save(context.Background(), e.state); err != nil {
		return err
	}
	s.log.Info().Str("job", id).Msg("Job paused")
	return nil
}

// ResumeJob reattaches a paused job to the cron runner.
func (s *Scheduler) ResumeJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("job %s not registered", id)
	}
	if !e.state.Paused {
		return nil
	}

	e.state.Paused = false
	e.state.NextRun = e.sched.Next(time.Now().In(s.loc))
	e.cronID = s.cron.Schedule(e.sched, cron.FuncJob(func() { s.execute(e) }))

	if err := s.store.Save(context.Background(), e.state); err != nil {
		return err
	}
	s.log.Info().Str("job", id).Msg("Job resumed")
	return nil
}

// Jobs returns a snapshot of every registered job, ordered by id.
func (s *Scheduler) Jobs() []JobSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().In(s.loc)
	snapshots := make([]JobSnapshot, 0, len(s.entries))
	for _, e := range s.entries {
		snap := JobSnapshot{
			ID:      e.state.ID,
			Spec:    e.spec,
			LastRun: e.state.LastRun,
			Paused:  e.state.Paused,
		}
		if !e.state.Paused {
			snap.NextRun = e.sched.Next(now)
		}
		snapshots = append(snapshots, snap)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// execute runs a job once, recording history and publishing events.
func (s *Scheduler) execute(e *entry) {
	if s.baseCtx.Err() != nil {
		return
	}

	name := e.job.Name()
	started := time.Now()

	s.bus.Publish(events.JobStarted, &events.JobRunData{Job: name})
	s.log.Info().Str("job", name).Msg("Job started")

	// Bookkeeping uses a background context so it survives job cancellation.
	persistCtx := context.Background()
	runID, err := s.store.RecordRunStart(persistCtx, name, started)
	if err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Failed to record run start")
	}

	runErr := runJob(s.baseCtx, e.job)
	duration := time.Since(started)

	s.mu.Lock()
	e.state.LastRun = started
	if !e.state.Paused {
		e.state.NextRun = e.sched.Next(time.Now().In(s.loc))
	}
	state := e.state
	s.mu.Unlock()
	if err := s.store.Save(persistCtx, state); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("Failed to persist job state")
	}

	ok := runErr == nil
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if runID != 0 {
		if err := s.store.RecordRunFinish(persistCtx, runID, time.Now(), ok, errMsg); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Failed to record run finish")
		}
	}

	s.bus.Publish(events.JobCompleted, &events.JobRunData{
		Job:      name,
		OK:       ok,
		Duration: duration.Seconds(),
		Error:    errMsg,
	})

	if runErr != nil {
		s.log.Error().Err(runErr).Str("job", name).Dur("duration", duration).Msg("Job failed")
	} else {
		s.log.Info().Str("job", name).Dur("duration", duration).Msg("Job completed")
	}
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
