// Package scheduler implements the tile-parallel worker pool at the centre of
// the renderer: it owns a fixed set of compute units, queues render tasks by
// priority, dispatches to idle slots, broadcasts reference-orbit and series
// data, and routes each task's single terminal outcome back to its handle.
//
// The scheduler's own bookkeeping is serialised behind one mutex; queue
// mutation and slot assignment never race each other. Compute units execute
// concurrently, one task per slot at a time. Failures never abort the pool:
// a unit error rejects only its current task and the slot is freed. A unit
// panic additionally retires that slot - the pool degrades rather than
// respawning, and Stats surfaces the degradation.
package scheduler

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

var (
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("scheduler is closed")

	// ErrCancelled is the terminal error of a cancelled task. Compute units
	// return it (possibly wrapped) to acknowledge a cooperative cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrUnknownTask is returned by Cancel for ids that are not queued or in
	// flight (including already-terminal tasks).
	ErrUnknownTask = errors.New("unknown task id")
)

// Unit is the execution contract a compute unit offers the scheduler: run one
// dispatched task to a full tile result, honouring the cancel channel at
// iteration-batch boundaries. A cancelled run returns ErrCancelled and no
// result; an errored run returns no result. Units are driven by exactly one
// slot goroutine each, so Run is never called concurrently on one Unit.
type Unit interface {
	Run(d Dispatch) (*fractal.TileResult, error)
}

// Dispatch is the message handed to a unit for one task. The reference data
// is snapshotted at dispatch time: broadcasts arriving later never reach a
// task already in flight.
type Dispatch struct {
	TaskID   string
	Tile     fractal.Tile
	Params   fractal.RenderParams
	Orbit    *fractal.ReferenceOrbit     // nil means direct iteration
	Series   *fractal.SeriesCoefficients // nil means no iteration skip
	Cancel   <-chan struct{}             // closed when the task is cancelled
	Progress func(fraction float64)      // optional, may be called any number of times
}

// Config configures a pool. An explicit instance replaces any notion of a
// process-global pool; tests build as many independent schedulers as needed.
type Config struct {
	Workers int               // Pool size; <= 0 means runtime.NumCPU()
	NewUnit func(id int) Unit // Factory invoked once per worker slot
}

// Stats is a diagnostic snapshot of the pool. It is not used for scheduling
// decisions.
type Stats struct {
	Workers  int `json:"workers"`   // Live worker slots
	Dead     int `json:"dead"`      // Slots retired after a unit panic
	Busy     int `json:"busy"`      // Slots currently executing a task
	Queued   int `json:"queued"`    // Tasks waiting for a slot
	InFlight int `json:"in_flight"` // Tasks dispatched and not yet terminal
}

// Scheduler owns the worker slots and the priority queue.
type Scheduler struct {
	mu     sync.Mutex
	slots  []*workerSlot
	queue  taskQueue
	tasks  map[string]*task // queued and in-flight tasks by id
	orbit  *fractal.ReferenceOrbit
	series *fractal.SeriesCoefficients
	seq    uint64
	closed bool

	wg sync.WaitGroup
}

// workerSlot is scheduler-owned bookkeeping for one compute unit. The unit's
// own retained state (last-broadcast reference data) lives inside the unit;
// the slot only tracks dispatch occupancy.
type workerSlot struct {
	id            int
	unit          Unit
	busy          bool
	currentTaskID string
	dead          bool
	requests      chan *task // capacity 1; only idle slots are sent to
}

// task is the immutable unit of queued work plus its routing state.
type task struct {
	id          string
	tile        fractal.Tile
	params      fractal.RenderParams
	priority    fractal.Priority
	seq         uint64
	submittedAt time.Time

	// Local reference override for glitch-repair micro-tasks. When set, the
	// dispatch uses it instead of the broadcast snapshot.
	localOrbit  *fractal.ReferenceOrbit
	localSeries *fractal.SeriesCoefficients
	hasLocalRef bool

	handle     *Handle
	cancel     chan struct{}
	cancelOnce sync.Once
	heapIndex  int // index in the queue heap, -1 once dispatched or removed

	dispatch *Dispatch // built under the scheduler lock at dispatch time
}

// New constructs a pool and starts its worker slots. Construction is the
// protocol's init step: every unit is built and its slot goroutine running
// before the first Submit can dispatch.
func New(cfg Config) (*Scheduler, error) {
	if cfg.NewUnit == nil {
		return nil, fmt.Errorf("scheduler config requires a unit factory")
	}
	n := cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}

	s := &Scheduler{
		tasks: make(map[string]*task),
	}
	for i := 0; i < n; i++ {
		sl := &workerSlot{
			id:       i,
			unit:     cfg.NewUnit(i),
			requests: make(chan *task, 1),
		}
		s.slots = append(s.slots, sl)
		s.wg.Add(1)
		go s.runSlot(sl)
	}

	s.logEvent("pool_started", map[string]interface{}{"workers": n})
	return s, nil
}

// Submit enqueues one render task and returns its handle immediately; it
// never blocks on pool capacity. The queue orders by priority rank
// descending, then submission order ascending.
func (s *Scheduler) Submit(tile fractal.Tile, params fractal.RenderParams, priority fractal.Priority) (*Handle, error) {
	return s.submit(tile, params, priority, nil, nil, false)
}

// SubmitWithReference enqueues a task that runs against its own local
// reference data instead of the broadcast snapshot. Used for glitch-repair
// micro-tasks, which re-seed from a reference point inside the glitch
// cluster.
func (s *Scheduler) SubmitWithReference(tile fractal.Tile, params fractal.RenderParams, priority fractal.Priority, orbit *fractal.ReferenceOrbit, series *fractal.SeriesCoefficients) (*Handle, error) {
	if orbit == nil {
		return nil, fmt.Errorf("local reference orbit is required")
	}
	if err := orbit.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local reference orbit: %w", err)
	}
	return s.submit(tile, params, priority, orbit, series, true)
}

// SubmitBatch fans one parameter set out over many tiles. There is no
// atomicity across the batch: each task resolves independently, and on a
// submission error the handles created so far are returned alongside it.
func (s *Scheduler) SubmitBatch(tiles []fractal.Tile, params fractal.RenderParams, priority fractal.Priority) ([]*Handle, error) {
	handles := make([]*Handle, 0, len(tiles))
	for _, tile := range tiles {
		h, err := s.Submit(tile, params, priority)
		if err != nil {
			return handles, fmt.Errorf("submitting tile %s: %w", tile.Key(), err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (s *Scheduler) submit(tile fractal.Tile, params fractal.RenderParams, priority fractal.Priority, orbit *fractal.ReferenceOrbit, series *fractal.SeriesCoefficients, localRef bool) (*Handle, error) {
	if err := tile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tile: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid render params: %w", err)
	}
	if err := priority.Validate(); err != nil {
		return nil, fmt.Errorf("invalid priority: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrPoolClosed
	}

	s.seq++
	t := &task{
		id:          uuid.New().String(),
		tile:        tile,
		params:      params,
		priority:    priority,
		seq:         s.seq,
		submittedAt: time.Now(),
		localOrbit:  orbit,
		localSeries: series,
		hasLocalRef: localRef,
		cancel:      make(chan struct{}),
		heapIndex:   -1,
	}
	t.handle = newHandle(t.id, tile.Key())

	heap.Push(&s.queue, t)
	s.tasks[t.id] = t

	s.logEvent("task_submitted", map[string]interface{}{
		"task_id":  t.id,
		"tile":     tile.Key(),
		"priority": string(priority),
	})

	s.processQueueLocked()
	return t.handle, nil
}

// processQueueLocked keeps utilisation maximal: while an idle slot and a
// queued task both exist, pop the highest-priority task and dispatch it. It
// runs synchronously after every submission and every terminal outcome,
// always under the scheduler lock, so it is never concurrent with itself.
func (s *Scheduler) processQueueLocked() {
	for s.queue.Len() > 0 {
		sl := s.idleSlotLocked()
		if sl == nil {
			return
		}

		t := heap.Pop(&s.queue).(*task)
		t.heapIndex = -1

		sl.busy = true
		sl.currentTaskID = t.id

		d := &Dispatch{
			TaskID: t.id,
			Tile:   t.tile,
			Params: t.params,
			Cancel: t.cancel,
		}
		if t.hasLocalRef {
			d.Orbit = t.localOrbit
			d.Series = t.localSeries
		} else {
			d.Orbit = s.orbit
			d.Series = s.series
		}
		h := t.handle
		d.Progress = func(fraction float64) { h.publishProgress(fraction) }
		t.dispatch = d

		// The slot is idle and its channel has capacity one, so this send
		// cannot block while the lock is held.
		sl.requests <- t

		s.logEvent("task_dispatched", map[string]interface{}{
			"task_id":  t.id,
			"slot":     sl.id,
			"priority": string(t.priority),
			"wait_ms":  time.Since(t.submittedAt).Milliseconds(),
		})
	}
}

func (s *Scheduler) idleSlotLocked() *workerSlot {
	for _, sl := range s.slots {
		if !sl.busy && !sl.dead {
			return sl
		}
	}
	return nil
}

// Cancel cancels one task. A still-queued task is removed and resolves as
// cancelled without ever dispatching. An in-flight task gets a cooperative
// signal; its slot stays occupied until the unit acknowledges by returning.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	t, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownTask
	}

	if t.heapIndex >= 0 {
		heap.Remove(&s.queue, t.heapIndex)
		t.heapIndex = -1
		delete(s.tasks, taskID)
		s.mu.Unlock()

		t.handle.resolve(OutcomeCancelled, nil, ErrCancelled)
		s.logEvent("task_cancelled", map[string]interface{}{"task_id": taskID, "stage": "queued"})
		return nil
	}

	s.mu.Unlock()
	t.cancelOnce.Do(func() { close(t.cancel) })
	s.logEvent("cancel_signalled", map[string]interface{}{"task_id": taskID, "stage": "in_flight"})
	return nil
}

// CancelAll cancels every queued and in-flight task. Used on view-invalidating
// events such as a parameter change mid-render.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	var queued []*task
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*task)
		t.heapIndex = -1
		delete(s.tasks, t.id)
		queued = append(queued, t)
	}
	var inflight []*task
	for _, t := range s.tasks {
		inflight = append(inflight, t)
	}
	s.mu.Unlock()

	for _, t := range queued {
		t.handle.resolve(OutcomeCancelled, nil, ErrCancelled)
	}
	for _, t := range inflight {
		t.cancelOnce.Do(func() { close(t.cancel) })
	}

	s.logEvent("cancel_all", map[string]interface{}{
		"queued":    len(queued),
		"in_flight": len(inflight),
	})
}

// SetReferenceOrbit broadcasts a new reference orbit to the pool. The
// snapshot reaches each unit with its next dispatch: tasks already in flight
// keep the data they were dispatched with, and the new snapshot fully
// replaces the previous one.
func (s *Scheduler) SetReferenceOrbit(orbit *fractal.ReferenceOrbit) {
	s.mu.Lock()
	s.orbit = orbit
	s.mu.Unlock()

	if orbit != nil {
		s.logEvent("reference_broadcast", map[string]interface{}{
			"generation": orbit.Generation,
			"length":     len(orbit.Values),
		})
	} else {
		s.logEvent("reference_cleared", map[string]interface{}{})
	}
}

// SetSeriesCoefficients broadcasts new series coefficients, replacing the
// previous set. Same isolation rule as SetReferenceOrbit.
func (s *Scheduler) SetSeriesCoefficients(series *fractal.SeriesCoefficients) {
	s.mu.Lock()
	s.series = series
	s.mu.Unlock()

	if series != nil {
		s.logEvent("series_broadcast", map[string]interface{}{
			"generation": series.Generation,
			"skip":       series.SkipIteration,
		})
	}
}

// Stats reports a diagnostic snapshot of the pool.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Queued: s.queue.Len()}
	for _, sl := range s.slots {
		if sl.dead {
			st.Dead++
			continue
		}
		st.Workers++
		if sl.busy {
			st.Busy++
		}
	}
	st.InFlight = len(s.tasks) - st.Queued
	return st
}

// Close cancels all work, stops the worker slots and waits for them to exit.
// Submit fails with ErrPoolClosed afterwards.
func (s *Scheduler) Close() {
	s.CancelAll()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, sl := range s.slots {
		close(sl.requests)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logEvent("pool_closed", map[string]interface{}{})
}

// runSlot drives one worker slot: execute dispatched tasks sequentially until
// the scheduler closes the channel or the unit panics.
func (s *Scheduler) runSlot(sl *workerSlot) {
	defer s.wg.Done()
	for t := range sl.requests {
		if !s.executeTask(sl, t) {
			// Unit panicked. The slot is retired rather than respawned; the
			// degraded pool size is visible through Stats.
			return
		}
	}
}

// executeTask runs one task on the slot's unit and resolves its handle with
// exactly one terminal outcome. Returns false if the unit panicked.
func (s *Scheduler) executeTask(sl *workerSlot, t *task) bool {
	var (
		res      *fractal.TileResult
		err      error
		panicked bool
	)

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				err = fmt.Errorf("compute unit panic: %v", r)
			}
		}()
		res, err = sl.unit.Run(*t.dispatch)
	}()

	s.mu.Lock()
	sl.busy = false
	sl.currentTaskID = ""
	if panicked {
		sl.dead = true
	}
	delete(s.tasks, t.id)
	s.mu.Unlock()

	switch {
	case err == nil:
		if res == nil {
			err = fmt.Errorf("unit returned no result and no error")
			t.handle.resolve(OutcomeFailed, nil, err)
			s.logEvent("task_failed", map[string]interface{}{"task_id": t.id, "error": err.Error()})
			break
		}
		t.handle.resolve(OutcomeCompleted, res, nil)
		s.logEvent("task_completed", map[string]interface{}{
			"task_id":  t.id,
			"slot":     sl.id,
			"glitches": len(res.Glitches),
		})

	case errors.Is(err, ErrCancelled):
		t.handle.resolve(OutcomeCancelled, nil, ErrCancelled)
		s.logEvent("task_cancelled", map[string]interface{}{"task_id": t.id, "stage": "in_flight"})

	default:
		// Isolated failure: only this task rejects, the pool continues.
		t.handle.resolve(OutcomeFailed, nil, err)
		s.logEvent("task_failed", map[string]interface{}{"task_id": t.id, "error": err.Error()})
	}

	if panicked {
		s.logEvent("worker_dead", map[string]interface{}{"slot": sl.id, "task_id": t.id})
	}

	s.mu.Lock()
	if !s.closed {
		s.processQueueLocked()
	}
	s.mu.Unlock()

	return !panicked
}

// logEvent logs a structured event in JSON format.
func (s *Scheduler) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "scheduler"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Scheduler] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}

// WaitAll waits for every given handle to reach a terminal state or for the
// context to end, whichever comes first. Convenience for batch callers.
func WaitAll(ctx context.Context, handles []*Handle) error {
	for _, h := range handles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.Done():
		}
	}
	return nil
}
