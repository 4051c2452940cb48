package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
	"github.com/custodia-labs/nestsync/internal/core/ports/driving"
	"github.com/custodia-labs/nestsync/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.SyncEngine = (*Scheduler)(nil)

// ErrSchedulerNotRunning is returned when a request needs the scheduler
// loop and Start has not been called (or it has exited).
var ErrSchedulerNotRunning = errors.New("scheduler not running")

// historyKeep is how many outcomes are retained.
const historyKeep = 100

// syncRunner is what the scheduler needs from the orchestrator.
type syncRunner interface {
	Run(ctx context.Context, trigger domain.Trigger) domain.SyncOutcome
	Reconfigure(cfg domain.SyncConfig)
	Config() domain.SyncConfig
	Phase() domain.Phase
	SetPhaseListener(fn func(domain.Phase))
	State(ctx context.Context) (domain.SyncState, error)
	CleanStaging() error
}

// request is one queued trigger.
type request struct {
	id      string
	trigger domain.Trigger
	done    chan domain.SyncOutcome // nil for background triggers
	ctx     context.Context         // nil means the loop's context
}

func (r *request) resolve(outcome domain.SyncOutcome) {
	if r.done != nil {
		r.done <- outcome
	}
}

type jobResult struct {
	req     *request
	outcome domain.SyncOutcome
}

type cancelRequest struct {
	id    string
	reply chan bool
}

type shutdownRequest struct {
	ctx   context.Context
	reply chan domain.SyncOutcome
}

// Scheduler decides when sync attempts run. A single coordinating
// goroutine owns the timer, the busy flag and the one pending manual
// request, so at most one attempt is ever in flight.
//
//   - Timer ticks and watch nudges are dropped while an attempt runs.
//     Ticks arriving sooner than the minimum interval after the previous
//     attempt started are dropped too.
//   - Manual requests queue; a newer one replaces an older one still
//     waiting, which resolves as superseded.
//   - Shutdown waits for the running attempt, drops queued manual work,
//     then runs a final push.
type Scheduler struct {
	runner  syncRunner
	history driven.OutcomeStore

	reqCh      chan *request
	cancelCh   chan cancelRequest
	resetCh    chan struct{}
	shutdownCh chan shutdownRequest

	// intervalFn and minGap are fields so tests can shorten them.
	intervalFn func() time.Duration
	minGap     time.Duration

	mu          sync.Mutex
	running     bool
	doneCh      chan struct{}
	busy        bool
	current     domain.Trigger
	pending     domain.Trigger
	lastOutcome *domain.SyncOutcome

	// startupQueued holds an OnStartup call made before the loop ran.
	startupQueued bool

	subMu   sync.Mutex
	subs    map[int]chan domain.SyncEvent
	nextSub int
}

// NewScheduler creates a scheduler around an orchestrator.
// history may be nil.
func NewScheduler(orch *SyncOrchestrator, history driven.OutcomeStore) *Scheduler {
	return newScheduler(orch, history)
}

func newScheduler(runner syncRunner, history driven.OutcomeStore) *Scheduler {
	s := &Scheduler{
		runner:     runner,
		history:    history,
		reqCh:      make(chan *request),
		cancelCh:   make(chan cancelRequest),
		resetCh:    make(chan struct{}, 1),
		shutdownCh: make(chan shutdownRequest),
		minGap:     domain.MinInterval,
		subs:       make(map[int]chan domain.SyncEvent),
	}
	s.intervalFn = func() time.Duration {
		cfg := runner.Config()
		return cfg.EffectiveInterval()
	}
	runner.SetPhaseListener(s.onPhase)
	return s
}

// Start runs the scheduler loop. It blocks until ctx is cancelled or
// OnShutdown completes.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil // Already running
	}
	s.running = true
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		close(s.doneCh)
		s.mu.Unlock()
	}()

	if err := s.runner.CleanStaging(); err != nil {
		logger.Warn("scheduler: failed to clean staging: %v", err)
	}

	return s.loop(ctx)
}

// loop is the coordinating goroutine.
//
//nolint:gocognit,gocyclo // Single select loop owning all scheduling state
func (s *Scheduler) loop(ctx context.Context) error {
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()

	timer := time.NewTimer(s.intervalFn())
	defer timer.Stop()

	var (
		busy           bool
		pending        *request
		startupPending bool
		lastStart      time.Time
		shutdown       *shutdownRequest
		finalPush      *request
		results        = make(chan jobResult, 1)
	)

	start := func(r *request) {
		busy = true
		lastStart = time.Now()
		s.setBusy(true, r.trigger)
		runCtx := jobCtx
		if r.ctx != nil {
			runCtx = r.ctx
		}
		go s.runJob(runCtx, r, results)
	}

	background := func(trigger domain.Trigger) {
		switch {
		case shutdown != nil:
			return
		case busy:
			logger.Debug("scheduler: %s dropped, sync in progress", trigger)
			s.publish(domain.SyncEvent{Type: domain.EventDropped, Trigger: trigger})
			return
		case trigger == domain.TriggerTick && !lastStart.IsZero() && time.Since(lastStart) < s.minGap:
			logger.Debug("scheduler: %s dropped, last attempt %s ago", trigger, time.Since(lastStart).Round(time.Second))
			s.publish(domain.SyncEvent{Type: domain.EventDropped, Trigger: trigger})
			return
		}
		cfg := s.runner.Config()
		if !cfg.IsActive() {
			return
		}
		start(&request{id: uuid.NewString(), trigger: trigger})
	}

	s.mu.Lock()
	queued := s.startupQueued
	s.startupQueued = false
	s.mu.Unlock()
	if queued {
		start(&request{id: uuid.NewString(), trigger: domain.TriggerStartup})
	}

	beginShutdown := func() {
		finalPush = &request{
			id:      uuid.NewString(),
			trigger: domain.TriggerShutdown,
			ctx:     shutdown.ctx,
		}
		start(finalPush)
	}

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.resolve(canceledOutcome(pending, "scheduler stopped"))
			}
			s.setPending("")
			return ctx.Err()

		case <-timer.C:
			timer.Reset(s.intervalFn())
			background(domain.TriggerTick)

		case <-s.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.intervalFn())

		case r := <-s.reqCh:
			switch {
			case shutdown != nil:
				r.resolve(canceledOutcome(r, "shutting down"))
			case r.trigger == domain.TriggerWatch:
				background(r.trigger)
			case r.trigger == domain.TriggerStartup:
				if busy {
					startupPending = true
				} else {
					start(r)
				}
			case !busy:
				start(r)
			default:
				if pending != nil {
					logger.Debug("scheduler: %s superseded by %s", pending.trigger, r.trigger)
					pending.resolve(canceledOutcome(pending, domain.NoteSuperseded))
				}
				pending = r
				s.setPending(r.trigger)
			}

		case c := <-s.cancelCh:
			if pending != nil && pending.id == c.id {
				pending.resolve(canceledOutcome(pending, "cancelled"))
				pending = nil
				s.setPending("")
				c.reply <- true
			} else {
				c.reply <- false
			}

		case sr := <-s.shutdownCh:
			if shutdown != nil {
				close(sr.reply)
				continue
			}
			shutdown = &sr
			timer.Stop()
			startupPending = false
			if pending != nil {
				pending.resolve(canceledOutcome(pending, "shutting down"))
				pending = nil
				s.setPending("")
			}
			if !busy {
				beginShutdown()
			}

		case res := <-results:
			busy = false
			s.setBusy(false, "")
			s.finish(res)

			if res.req == finalPush {
				shutdown.reply <- res.outcome
				return nil
			}

			switch {
			case shutdown != nil:
				beginShutdown()
			case pending != nil:
				r := pending
				pending = nil
				s.setPending("")
				start(r)
			case startupPending:
				startupPending = false
				start(&request{id: uuid.NewString(), trigger: domain.TriggerStartup})
			}
		}
	}
}

// runJob executes one attempt on a worker goroutine.
func (s *Scheduler) runJob(ctx context.Context, r *request, results chan<- jobResult) {
	s.publish(domain.SyncEvent{Type: domain.EventStarted, Trigger: r.trigger, TicketID: r.id})
	outcome := s.safeRun(ctx, r.trigger)
	s.record(outcome)
	results <- jobResult{req: r, outcome: outcome}
}

// safeRun converts a panic inside an attempt into a failed outcome.
func (s *Scheduler) safeRun(ctx context.Context, trigger domain.Trigger) (outcome domain.SyncOutcome) {
	startedAt := time.Now()
	defer func() {
		if p := recover(); p != nil {
			logger.Error("scheduler: sync attempt panicked: %v", p)
			err := fmt.Errorf("%w: panic: %v", domain.ErrIOFailure, p)
			outcome = domain.SyncOutcome{
				ID:        uuid.NewString(),
				Trigger:   trigger,
				Phase:     domain.PhaseIdle,
				Direction: domain.DirectionNone,
				StartedAt: startedAt,
			}
			finishOutcome(&outcome, err)
		}
	}()
	return s.runner.Run(ctx, trigger)
}

// record stores the outcome in history.
func (s *Scheduler) record(outcome domain.SyncOutcome) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stateSaveTimeout)
	defer cancel()

	if err := s.history.Record(ctx, outcome); err != nil {
		logger.Warn("scheduler: failed to record outcome: %v", err)
		return
	}
	if err := s.history.Prune(ctx, historyKeep); err != nil {
		logger.Warn("scheduler: failed to prune history: %v", err)
	}
}

// finish publishes the outcome and resolves the request's ticket.
func (s *Scheduler) finish(res jobResult) {
	outcome := res.outcome
	s.mu.Lock()
	s.lastOutcome = &outcome
	s.mu.Unlock()

	s.publish(domain.SyncEvent{
		Type:     domain.EventFinished,
		Trigger:  res.req.trigger,
		TicketID: res.req.id,
		Outcome:  &outcome,
	})
	res.req.resolve(outcome)
}

// ==================== Requests ====================

// OnStartup requests the startup pull-if-newer attempt. Called before
// Start, the attempt runs as soon as the loop begins.
func (s *Scheduler) OnStartup() {
	s.mu.Lock()
	if !s.running {
		s.startupQueued = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.send(&request{id: uuid.NewString(), trigger: domain.TriggerStartup}); err != nil {
		logger.Debug("scheduler: startup sync not queued: %v", err)
	}
}

// Nudge asks for an opportunistic auto sync.
func (s *Scheduler) Nudge() {
	if err := s.send(&request{id: uuid.NewString(), trigger: domain.TriggerWatch}); err != nil {
		logger.Debug("scheduler: nudge ignored: %v", err)
	}
}

// Request queues a manual trigger and returns a ticket for its outcome.
func (s *Scheduler) Request(trigger domain.Trigger) (*driving.Ticket, error) {
	if !trigger.IsManual() {
		return nil, fmt.Errorf("%w: %s is not a manual trigger", domain.ErrInvalidInput, trigger)
	}
	done := make(chan domain.SyncOutcome, 1)
	r := &request{id: uuid.NewString(), trigger: trigger, done: done}
	if err := s.send(r); err != nil {
		return nil, err
	}
	return &driving.Ticket{ID: r.id, Trigger: trigger, Done: done}, nil
}

// PullLatest queues a manual pull and waits for its outcome. If the loop is
// not running, the pull runs directly.
func (s *Scheduler) PullLatest(ctx context.Context) (*domain.SyncOutcome, error) {
	return s.await(ctx, domain.TriggerManualPull)
}

// UploadNow queues a manual push and waits for its outcome.
func (s *Scheduler) UploadNow(ctx context.Context) (*domain.SyncOutcome, error) {
	return s.await(ctx, domain.TriggerManualPush)
}

// await queues trigger and waits. Without a running loop the attempt runs
// directly on the caller's goroutine, as one-shot commands need.
func (s *Scheduler) await(ctx context.Context, trigger domain.Trigger) (*domain.SyncOutcome, error) {
	if _, running := s.loopDone(); !running {
		outcome := s.safeRun(ctx, trigger)
		s.record(outcome)
		s.mu.Lock()
		s.lastOutcome = &outcome
		s.mu.Unlock()
		return &outcome, nil
	}

	ticket, err := s.Request(trigger)
	if err != nil {
		return nil, err
	}
	select {
	case outcome := <-ticket.Done:
		return &outcome, nil
	case <-ctx.Done():
		s.Cancel(ticket.ID)
		return nil, ctx.Err()
	}
}

// Cancel withdraws a queued manual request.
func (s *Scheduler) Cancel(ticketID string) bool {
	doneCh, ok := s.loopDone()
	if !ok {
		return false
	}
	reply := make(chan bool, 1)
	select {
	case s.cancelCh <- cancelRequest{id: ticketID, reply: reply}:
		return <-reply
	case <-doneCh:
		return false
	}
}

// Reconfigure applies a new configuration and restarts the timer.
func (s *Scheduler) Reconfigure(cfg domain.SyncConfig) error {
	s.runner.Reconfigure(cfg)
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
	return nil
}

// OnShutdown performs the final push and stops the loop. If the loop is
// not running, the push runs directly. It gives up after the configured
// shutdown timeout or when ctx ends, returning domain.ErrTimeout.
func (s *Scheduler) OnShutdown(ctx context.Context) (*domain.SyncOutcome, error) {
	cfg := s.runner.Config()
	deadlineCtx, cancel := context.WithTimeout(ctx, cfg.EffectiveShutdownTimeout())
	defer cancel()

	reply := make(chan domain.SyncOutcome, 1)

	doneCh, running := s.loopDone()
	if !running {
		go func() { reply <- s.safeRun(deadlineCtx, domain.TriggerShutdown) }()
	} else {
		select {
		case s.shutdownCh <- shutdownRequest{ctx: deadlineCtx, reply: reply}:
		case <-doneCh:
			go func() { reply <- s.safeRun(deadlineCtx, domain.TriggerShutdown) }()
		case <-deadlineCtx.Done():
			return nil, domain.ErrTimeout
		}
	}

	select {
	case outcome, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%w: shutdown already in progress", domain.ErrSyncInProgress)
		}
		if !outcome.Success && deadlineCtx.Err() != nil {
			return nil, domain.ErrTimeout
		}
		return &outcome, nil
	case <-deadlineCtx.Done():
		logger.Warn("scheduler: final push abandoned after %s", cfg.EffectiveShutdownTimeout())
		return nil, domain.ErrTimeout
	}
}

// send hands a request to the loop.
func (s *Scheduler) send(r *request) error {
	doneCh, ok := s.loopDone()
	if !ok {
		return ErrSchedulerNotRunning
	}
	select {
	case s.reqCh <- r:
		return nil
	case <-doneCh:
		return ErrSchedulerNotRunning
	}
}

func (s *Scheduler) loopDone() (chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh, s.running
}

// ==================== Status ====================

// Status returns the current sync status.
func (s *Scheduler) Status(ctx context.Context) (*driving.SyncStatus, error) {
	state, err := s.runner.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	cfg := s.runner.Config()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &driving.SyncStatus{
		Provider:      cfg.Provider,
		Enabled:       cfg.Enabled,
		Running:       s.busy,
		Phase:         s.runner.Phase(),
		PendingManual: s.pending,
		State:         state,
	}
	if s.lastOutcome != nil {
		// Return a copy to avoid race conditions
		last := *s.lastOutcome
		status.LastOutcome = &last
	}
	return status, nil
}

// History returns recent outcomes, most recent first.
func (s *Scheduler) History(ctx context.Context, limit int) ([]domain.SyncOutcome, error) {
	if s.history == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lastOutcome == nil {
			return nil, nil
		}
		return []domain.SyncOutcome{*s.lastOutcome}, nil
	}
	return s.history.History(ctx, limit)
}

func (s *Scheduler) setBusy(busy bool, trigger domain.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
	s.current = trigger
}

func (s *Scheduler) setPending(trigger domain.Trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = trigger
}

// ==================== Events ====================

// Subscribe returns a channel of sync events. Events are dropped for
// subscribers that do not keep up.
func (s *Scheduler) Subscribe() (<-chan domain.SyncEvent, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan domain.SyncEvent, 16)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

func (s *Scheduler) publish(ev domain.SyncEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Scheduler) onPhase(p domain.Phase) {
	s.mu.Lock()
	trigger := s.current
	s.mu.Unlock()
	s.publish(domain.SyncEvent{Type: domain.EventPhase, Trigger: trigger, Phase: p})
}

// canceledOutcome is the outcome delivered for a request that never ran.
func canceledOutcome(r *request, note string) domain.SyncOutcome {
	outcome := domain.SyncOutcome{
		ID:        r.id,
		Trigger:   r.trigger,
		Phase:     domain.PhaseSkipped,
		Direction: domain.DirectionNone,
		Note:      note,
		StartedAt: time.Now(),
	}
	finishOutcome(&outcome, fmt.Errorf("%w: %s", domain.ErrCanceled, note))
	return outcome
}
