// Copyright 2025 The Pipewright Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler owns run state and drives jobs through it in
// dependency order.
//
// The scheduler is a single-writer actor: one goroutine drains a mailbox of
// closures and is the only code that touches RunState. Callers submit
// operations through the mailbox and receive deep-copied results, so there
// are no locks and no aliasing of scheduler-owned memory. Job execution
// happens on separate goroutines that report back through the same mailbox.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/runner"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/internal/tracing"
	"github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	// RunRunning means the run has jobs pending or in flight.
	RunRunning RunStatus = "running"
	// RunSuccess means every job succeeded or was skipped by condition.
	RunSuccess RunStatus = "success"
	// RunFailed means at least one job failed.
	RunFailed RunStatus = "failed"
	// RunStopped means the run was stopped before completion.
	RunStopped RunStatus = "stopped"
	// RunStalled means no job is ready, none are running, and
	// non-terminal jobs remain. Defensive: skip propagation should make
	// this unreachable.
	RunStalled RunStatus = "stalled"
)

// JobState is the lifecycle state of one job within a run.
type JobState string

const (
	// JobPending means the job has not been dispatched.
	JobPending JobState = "pending"
	// JobRunning means the job is executing.
	JobRunning JobState = "running"
	// JobSuccess means the job finished and passed.
	JobSuccess JobState = "success"
	// JobFailed means the job finished and failed.
	JobFailed JobState = "failed"
	// JobSkipped means the job never ran: an upstream job failed, or the
	// run was stopped while it was pending.
	JobSkipped JobState = "skipped"
)

// terminal reports whether a job state is final.
func (s JobState) terminal() bool {
	return s == JobSuccess || s == JobFailed || s == JobSkipped
}

// JobRunner executes one job to completion. Implemented by runner.Runner.
type JobRunner interface {
	RunJob(ctx context.Context, pl *pipeline.Pipeline, job *pipeline.Job, runID string) runner.JobResult
}

var _ JobRunner = (*runner.Runner)(nil)

// HistoryStore is the slice of the history store the scheduler writes to.
type HistoryStore interface {
	CreateRun(ctx context.Context, run history.RunRecord) error
	FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error
	SaveJobResult(ctx context.Context, job history.JobRecord, steps []history.StepRecord, logs []history.LogRecord) error
}

var _ HistoryStore = (*history.Store)(nil)

// JobSnapshot is a read-only copy of one job's observable state.
type JobSnapshot struct {
	Name   string   `json:"name"`
	State  JobState `json:"state"`
	RunsOn string   `json:"runs_on"`
	Needs  []string `json:"needs,omitempty"`
	Steps  []string `json:"steps,omitempty"`

	// Reason explains a skipped or failed state
	Reason string `json:"reason,omitempty"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// RunSnapshot is a read-only copy of the whole run's observable state.
type RunSnapshot struct {
	RunID    string    `json:"run_id"`
	Pipeline string    `json:"pipeline"`
	Source   string    `json:"source,omitempty"`
	Status   RunStatus `json:"status"`

	// Jobs is sorted by name
	Jobs []JobSnapshot `json:"jobs"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Config wires the scheduler's collaborators.
type Config struct {
	// Runner executes dispatched jobs. Required.
	Runner JobRunner

	// History receives run and job records. Optional; nil disables
	// persistence.
	History HistoryStore

	// Bus receives job and run state-change events. Optional.
	Bus *events.Bus

	// MaxParallel caps concurrently running jobs. 0 means unlimited.
	MaxParallel int

	Logger *slog.Logger
}

// jobState is loop-owned per-job state.
type jobState struct {
	state      JobState
	reason     string
	startedAt  time.Time
	finishedAt time.Time
	result     *runner.JobResult
}

// runState is loop-owned state for the current (or most recent) run.
type runState struct {
	id       string
	pipeline *pipeline.Pipeline
	source   string
	graph    *graph.Graph
	status   RunStatus

	jobs      map[string]*jobState
	inDegree  map[string]int
	completed map[string]bool
	running   map[string]bool

	started  bool
	stopping bool

	startedAt  time.Time
	finishedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   *tracing.Span
}

// Scheduler is the run-state actor. Create with New, then Start.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	commands chan func()
	stop     chan struct{}
	quit     chan struct{}

	// baseCtx is the lifetime context from Start; run contexts derive
	// from it, never from a caller's request context.
	baseCtx context.Context

	// state is touched only by the mailbox goroutine.
	state *runState
}

// New creates a scheduler. It does nothing until Start is called.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler requires a job runner")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithComponent(slog.Default(), "scheduler")
	}
	return &Scheduler{
		cfg:      cfg,
		logger:   logger,
		commands: make(chan func(), 64),
		stop:     make(chan struct{}),
		quit:     make(chan struct{}),
	}, nil
}

// Start launches the mailbox goroutine. Run contexts derive from ctx;
// cancelling it stops the active run and exits the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.baseCtx = ctx
	go s.loop(ctx)
	return nil
}

// Shutdown stops the active run, waits for in-flight jobs to report (or
// ctx to expire), and exits the mailbox loop.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if err := s.StopRun(ctx, "daemon shutting down"); err != nil {
		// No active run is the normal case here.
		var conflict *errors.ConflictError
		if !errors.As(err, &conflict) {
			s.logger.Warn("failed to stop active run during shutdown", log.Error(err))
		}
	}

	// Wait for the run to reach a terminal state so job results land in
	// history before the loop exits.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		snap, err := s.Snapshot(ctx)
		if err != nil || snap.Status != RunRunning {
			break
		}
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
		}
	}

	select {
	case <-s.quit:
		return nil
	default:
	}
	close(s.stop)

	select {
	case <-s.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.quit)
	for {
		select {
		case fn := <-s.commands:
			fn()
		case <-s.stop:
			// Run queued commands, then exit.
			for {
				select {
				case fn := <-s.commands:
					fn()
				default:
					return
				}
			}
		case <-ctx.Done():
			s.stopActive("daemon context canceled")
			return
		}
	}
}

// exec submits fn to the mailbox and waits for it to run.
func (s *Scheduler) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case s.commands <- wrapped:
	case <-s.quit:
		return errors.New("scheduler is not running")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-s.quit:
		return errors.New("scheduler is not running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadRun replaces run state with a fresh run of pl. An active run is
// stopped first. On validation or cycle errors no state changes. The new
// run is recorded in history and left in pending state until StartRun.
func (s *Scheduler) LoadRun(ctx context.Context, pl *pipeline.Pipeline, source string) (string, error) {
	var (
		runID string
		err   error
	)
	execErr := s.exec(ctx, func() {
		runID, err = s.load(pl, source)
	})
	if execErr != nil {
		return "", execErr
	}
	return runID, err
}

func (s *Scheduler) load(pl *pipeline.Pipeline, source string) (string, error) {
	g, err := graph.Build(pl.JobList())
	if err != nil {
		return "", err
	}

	if s.state != nil && s.state.status == RunRunning {
		s.stopActive("replaced by reload")
	}

	runCtx, cancel := context.WithCancel(s.baseCtx)
	st := &runState{
		id:        uuid.NewString(),
		pipeline:  pl,
		source:    source,
		graph:     g,
		status:    RunRunning,
		jobs:      make(map[string]*jobState, g.Len()),
		inDegree:  g.InDegrees(),
		completed: make(map[string]bool),
		running:   make(map[string]bool),
		startedAt: time.Now(),
		cancel:    cancel,
	}
	st.ctx, st.span = tracing.StartRun(runCtx, st.id, pl.Name)
	for _, name := range g.Jobs() {
		st.jobs[name] = &jobState{state: JobPending}
	}
	s.state = st

	s.persistCreate(st)
	recordRunStarted()

	s.logger.Info("run loaded",
		log.String(log.RunIDKey, st.id),
		log.String(log.PipelineKey, pl.Name),
		log.Int("jobs", g.Len()))
	return st.id, nil
}

// StartRun begins dispatching the loaded run's ready jobs.
func (s *Scheduler) StartRun(ctx context.Context) error {
	var err error
	execErr := s.exec(ctx, func() {
		st := s.state
		switch {
		case st == nil:
			err = &errors.ConflictError{Op: "start run", Reason: "no pipeline loaded"}
		case st.started && st.status == RunRunning:
			err = &errors.ConflictError{Op: "start run", Reason: "a run is already active"}
		case st.started:
			err = &errors.ConflictError{Op: "start run", Reason: "run already finished, reload to run again"}
		default:
			st.started = true
			s.publish(events.Event{
				Kind:  events.KindRunState,
				RunID: st.id,
				State: string(RunRunning),
			})
			s.logger.Info("run started", log.String(log.RunIDKey, st.id))
			s.advance()
		}
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// StopRun stops the active run: the run context is cancelled (killing in-
// flight containers), pending jobs become skipped, and the run is marked
// stopped once running jobs have reported.
func (s *Scheduler) StopRun(ctx context.Context, reason string) error {
	var err error
	execErr := s.exec(ctx, func() {
		st := s.state
		if st == nil || !st.started || st.status != RunRunning {
			err = &errors.ConflictError{Op: "stop run", Reason: "no active run"}
			return
		}
		if st.stopping {
			return
		}
		s.logger.Info("stopping run",
			log.String(log.RunIDKey, st.id),
			log.String("reason", reason))
		s.beginStop(reason)
		s.advance()
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// ReportCompletion records a job's terminal result and advances the run.
// Reports for a superseded run are dropped.
func (s *Scheduler) ReportCompletion(runID, job string, result runner.JobResult) {
	err := s.exec(context.Background(), func() {
		s.complete(runID, job, result)
	})
	if err != nil {
		s.logger.Debug("completion report dropped",
			log.String(log.RunIDKey, runID),
			log.String(log.JobKey, job),
			log.Error(err))
	}
}

// Snapshot returns a deep copy of the current run's observable state.
func (s *Scheduler) Snapshot(ctx context.Context) (*RunSnapshot, error) {
	var (
		snap *RunSnapshot
		err  error
	)
	execErr := s.exec(ctx, func() {
		if s.state == nil {
			err = &errors.NotFoundError{Resource: "run", ID: "current"}
			return
		}
		snap = s.snapshot()
	})
	if execErr != nil {
		return nil, execErr
	}
	return snap, err
}

// GetAllJobs returns a deep copy of every job's observable state, sorted
// by name.
func (s *Scheduler) GetAllJobs(ctx context.Context) ([]JobSnapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Jobs, nil
}

// GetJobStatus returns one job's observable state.
func (s *Scheduler) GetJobStatus(ctx context.Context, name string) (*JobSnapshot, error) {
	var (
		job *JobSnapshot
		err error
	)
	execErr := s.exec(ctx, func() {
		if s.state == nil {
			err = &errors.NotFoundError{Resource: "run", ID: "current"}
			return
		}
		js, ok := s.state.jobs[name]
		if !ok {
			err = &errors.NotFoundError{Resource: "job", ID: name}
			return
		}
		copied := s.jobSnapshot(name, js)
		job = &copied
	})
	if execErr != nil {
		return nil, execErr
	}
	return job, err
}

// GetReadyJobs returns the names of jobs whose dependencies are all
// satisfied and which have not been dispatched, sorted.
func (s *Scheduler) GetReadyJobs(ctx context.Context) ([]string, error) {
	var (
		ready []string
		err   error
	)
	execErr := s.exec(ctx, func() {
		if s.state == nil {
			err = &errors.NotFoundError{Resource: "run", ID: "current"}
			return
		}
		ready = s.readyJobs()
	})
	if execErr != nil {
		return nil, execErr
	}
	return ready, err
}

// CurrentRunID returns the active run's ID, or empty when none is loaded.
func (s *Scheduler) CurrentRunID(ctx context.Context) string {
	var id string
	_ = s.exec(ctx, func() {
		if s.state != nil {
			id = s.state.id
		}
	})
	return id
}

// The functions below run only on the mailbox goroutine.

// readyJobs lists pending jobs with no unsatisfied dependencies, sorted.
func (s *Scheduler) readyJobs() []string {
	st := s.state
	var ready []string
	for name, js := range st.jobs {
		if js.state == JobPending && st.inDegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)
	return ready
}

// advance dispatches ready jobs up to the parallelism cap and settles the
// run when it has reached a terminal shape.
func (s *Scheduler) advance() {
	st := s.state
	if st == nil || !st.started || st.status != RunRunning {
		return
	}

	if !st.stopping {
		for _, name := range s.readyJobs() {
			if s.cfg.MaxParallel > 0 && len(st.running) >= s.cfg.MaxParallel {
				break
			}
			s.dispatch(name)
		}
	}

	if len(st.running) > 0 {
		return
	}

	allTerminal := true
	var pending []string
	anyFailed := false
	for name, js := range st.jobs {
		switch {
		case !js.state.terminal():
			allTerminal = false
			pending = append(pending, name)
		case js.state == JobFailed:
			anyFailed = true
		}
	}

	if allTerminal {
		switch {
		case st.stopping:
			s.finishRun(RunStopped, "")
		case anyFailed:
			s.finishRun(RunFailed, "")
		default:
			s.finishRun(RunSuccess, "")
		}
		return
	}

	// Nothing running, nothing ready, jobs remain: the run cannot make
	// progress.
	if len(s.readyJobs()) == 0 && !st.stopping {
		sort.Strings(pending)
		stallErr := &errors.StalledError{Pending: pending}
		s.logger.Error("run stalled",
			log.String(log.RunIDKey, st.id),
			log.String("pending", fmt.Sprintf("%v", pending)))
		s.finishRun(RunStalled, stallErr.Error())
	}
}

// dispatch hands one pending job to the runner on its own goroutine.
func (s *Scheduler) dispatch(name string) {
	st := s.state
	js := st.jobs[name]
	js.state = JobRunning
	js.startedAt = time.Now()
	st.running[name] = true
	recordActiveJobs(len(st.running))

	s.publish(events.Event{
		Kind:  events.KindJobState,
		RunID: st.id,
		Job:   name,
		State: string(JobRunning),
	})
	s.logger.Info("job dispatched",
		log.String(log.RunIDKey, st.id),
		log.String(log.JobKey, name))

	pl := st.pipeline
	job := pl.Jobs[name]
	runID := st.id
	ctx := st.ctx
	go func() {
		result := s.cfg.Runner.RunJob(ctx, pl, job, runID)
		s.ReportCompletion(runID, name, result)
	}()
}

// complete applies one job's terminal result.
func (s *Scheduler) complete(runID, name string, result runner.JobResult) {
	st := s.state
	if st == nil || st.id != runID {
		s.logger.Debug("dropping completion for superseded run",
			log.String(log.RunIDKey, runID),
			log.String(log.JobKey, name))
		return
	}
	js, ok := st.jobs[name]
	if !ok || js.state != JobRunning {
		s.logger.Warn("unexpected completion report",
			log.String(log.RunIDKey, runID),
			log.String(log.JobKey, name))
		return
	}

	delete(st.running, name)
	recordActiveJobs(len(st.running))
	js.finishedAt = time.Now()
	js.result = &result

	if result.Status == runner.StatusSuccess {
		js.state = JobSuccess
		st.completed[name] = true
		for _, dependent := range st.graph.Dependents(name) {
			st.inDegree[dependent]--
		}
	} else {
		js.state = JobFailed
		js.reason = fmt.Sprintf("step %s failed", result.FailedStep)
		s.skipDependents(name)
	}
	recordJobCompleted(js.state)

	s.persistJob(st, name, js)
	s.publish(events.Event{
		Kind:   events.KindJobState,
		RunID:  st.id,
		Job:    name,
		State:  string(js.state),
		Reason: js.reason,
	})
	s.logger.Info("job completed",
		log.String(log.RunIDKey, st.id),
		log.String(log.JobKey, name),
		log.String("state", string(js.state)),
		log.Duration("duration", js.finishedAt.Sub(js.startedAt).Milliseconds()))

	s.advance()
}

// skipDependents marks every still-pending transitive dependent of a
// failed job as skipped.
func (s *Scheduler) skipDependents(failed string) {
	st := s.state
	reason := fmt.Sprintf("upstream job %s failed", failed)
	for _, name := range st.graph.TransitiveDependents(failed) {
		js := st.jobs[name]
		if js.state != JobPending {
			continue
		}
		s.skipJob(name, js, reason)
	}
}

// skipJob transitions one pending job to skipped and records it.
func (s *Scheduler) skipJob(name string, js *jobState, reason string) {
	now := time.Now()
	js.state = JobSkipped
	js.reason = reason
	js.startedAt = now
	js.finishedAt = now
	recordJobCompleted(JobSkipped)

	s.persistJob(s.state, name, js)
	s.publish(events.Event{
		Kind:   events.KindJobState,
		RunID:  s.state.id,
		Job:    name,
		State:  string(JobSkipped),
		Reason: reason,
	})
	s.logger.Info("job skipped",
		log.String(log.RunIDKey, s.state.id),
		log.String(log.JobKey, name),
		log.String("reason", reason))
}

// beginStop cancels the run context and skips everything still pending.
func (s *Scheduler) beginStop(reason string) {
	st := s.state
	st.stopping = true
	st.cancel()
	for _, name := range st.graph.Jobs() {
		js := st.jobs[name]
		if js.state == JobPending {
			s.skipJob(name, js, reason)
		}
	}
}

// stopActive force-stops the current run, used when a reload or shutdown
// preempts it. Running jobs keep their goroutines; their reports will be
// dropped as stale once the state is replaced.
func (s *Scheduler) stopActive(reason string) {
	st := s.state
	if st == nil || st.status != RunRunning {
		return
	}
	if !st.stopping {
		s.beginStop(reason)
	}
	// Jobs still running are abandoned: mark them failed so the record
	// is terminal.
	for name, js := range st.jobs {
		if js.state == JobRunning {
			js.state = JobFailed
			js.reason = reason
			js.finishedAt = time.Now()
			delete(st.running, name)
			recordJobCompleted(JobFailed)
			s.persistJob(st, name, js)
		}
	}
	recordActiveJobs(0)
	s.finishRun(RunStopped, "")
}

// finishRun stamps the run's terminal status.
func (s *Scheduler) finishRun(status RunStatus, errMsg string) {
	st := s.state
	st.status = status
	st.finishedAt = time.Now()
	st.cancel()

	if status == RunSuccess {
		st.span.OK()
	} else {
		st.span.Fail(string(status))
	}
	st.span.End()

	s.persistFinish(st, errMsg)
	recordRunCompleted(status)
	s.publish(events.Event{
		Kind:   events.KindRunState,
		RunID:  st.id,
		State:  string(status),
		Reason: errMsg,
	})
	s.logger.Info("run finished",
		log.String(log.RunIDKey, st.id),
		log.String("status", string(status)),
		log.Duration("duration", st.finishedAt.Sub(st.startedAt).Milliseconds()))
}

// snapshot deep-copies the current run state.
func (s *Scheduler) snapshot() *RunSnapshot {
	st := s.state
	snap := &RunSnapshot{
		RunID:      st.id,
		Pipeline:   st.pipeline.Name,
		Source:     st.source,
		Status:     st.status,
		StartedAt:  st.startedAt,
		FinishedAt: st.finishedAt,
		Jobs:       make([]JobSnapshot, 0, len(st.jobs)),
	}
	for _, name := range st.graph.Jobs() {
		snap.Jobs = append(snap.Jobs, s.jobSnapshot(name, st.jobs[name]))
	}
	return snap
}

func (s *Scheduler) jobSnapshot(name string, js *jobState) JobSnapshot {
	def := s.state.pipeline.Jobs[name]
	snap := JobSnapshot{
		Name:       name,
		State:      js.state,
		RunsOn:     def.RunsOn,
		Needs:      append([]string(nil), def.Needs...),
		Reason:     js.reason,
		StartedAt:  js.startedAt,
		FinishedAt: js.finishedAt,
	}
	for _, step := range def.Steps {
		snap.Steps = append(snap.Steps, step.Name)
	}
	return snap
}

func (s *Scheduler) publish(event events.Event) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(event)
}

// History writes are best-effort: a persistence failure is logged and the
// run carries on.

func (s *Scheduler) persistCreate(st *runState) {
	if s.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cfg.History.CreateRun(ctx, history.RunRecord{
		ID:        st.id,
		Pipeline:  st.pipeline.Name,
		Source:    st.source,
		Status:    string(st.status),
		StartedAt: st.startedAt,
	})
	if err != nil {
		s.logger.Warn("failed to record run", log.String(log.RunIDKey, st.id), log.Error(err))
	}
}

func (s *Scheduler) persistFinish(st *runState, errMsg string) {
	if s.cfg.History == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cfg.History.FinishRun(ctx, st.id, string(st.status), errMsg, st.finishedAt)
	if err != nil {
		s.logger.Warn("failed to record run finish", log.String(log.RunIDKey, st.id), log.Error(err))
	}
}

func (s *Scheduler) persistJob(st *runState, name string, js *jobState) {
	if s.cfg.History == nil {
		return
	}
	def := st.pipeline.Jobs[name]
	record := history.JobRecord{
		RunID:      st.id,
		Job:        name,
		Status:     string(js.state),
		RunsOn:     def.RunsOn,
		StartedAt:  js.startedAt,
		FinishedAt: js.finishedAt,
	}

	var (
		steps []history.StepRecord
		lines []history.LogRecord
	)
	if js.result != nil {
		for i, step := range js.result.Steps {
			steps = append(steps, history.StepRecord{
				RunID:      st.id,
				Job:        name,
				Index:      i,
				Name:       step.Name,
				Command:    step.Command,
				Status:     string(step.Status),
				ExitCode:   step.ExitCode,
				StartedAt:  step.StartedAt,
				FinishedAt: step.FinishedAt,
			})
			for _, line := range step.Log {
				lines = append(lines, history.LogRecord{
					RunID:     st.id,
					Job:       name,
					Step:      step.Name,
					Stream:    string(line.Stream),
					Line:      line.Line,
					CreatedAt: line.Time,
				})
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.History.SaveJobResult(ctx, record, steps, lines); err != nil {
		s.logger.Warn("failed to record job result",
			log.String(log.RunIDKey, st.id),
			log.String(log.JobKey, name),
			log.Error(err))
	}
}
