package scheduler

import (
	"context"
	"sync"

	"github.com/goldstargamingtv-droid/abyss-explorer-sub003/pkg/fractal"
)

// Outcome is the terminal state of a task. A handle resolves to exactly one
// outcome; no further messages are delivered for the task id afterwards.
type Outcome string

const (
	// OutcomeCompleted means the full tile result buffer was delivered
	OutcomeCompleted Outcome = "completed"

	// OutcomeCancelled means the task was cancelled before or during execution
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeFailed means the compute unit rejected the task with an error
	OutcomeFailed Outcome = "failed"
)

// Handle is the caller's future for one submitted task. It resolves
// asynchronously; the submitting code never blocks unless it chooses to
// Wait. Terminal-state exclusivity is structural: resolve runs once.
type Handle struct {
	taskID  string
	tileKey string

	done     chan struct{}
	progress chan fractal.ProgressUpdate
	once     sync.Once

	mu      sync.RWMutex
	outcome Outcome
	result  *fractal.TileResult
	err     error
}

func newHandle(taskID, tileKey string) *Handle {
	return &Handle{
		taskID:   taskID,
		tileKey:  tileKey,
		done:     make(chan struct{}),
		progress: make(chan fractal.ProgressUpdate, 16),
	}
}

// TaskID returns the id the scheduler assigned to the task.
func (h *Handle) TaskID() string { return h.taskID }

// TileKey returns the key of the tile this task renders, for result routing.
func (h *Handle) TileKey() string { return h.tileKey }

// Done is closed when the task reaches its terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Progress delivers zero or more progress updates while the task runs. The
// channel is closed on resolution. Updates are dropped, not blocked on, when
// the consumer lags.
func (h *Handle) Progress() <-chan fractal.ProgressUpdate { return h.progress }

// Outcome returns the terminal outcome, or false while the task is pending.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
	default:
		return "", false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outcome, true
}

// Result returns the tile result after resolution. Cancelled tasks return
// ErrCancelled and no partial buffer; failed tasks return the unit's error.
// Before Done is closed both values are nil, so callers should Wait or
// select on Done first.
func (h *Handle) Result() (*fractal.TileResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.result, h.err
}

// Wait blocks until the task resolves or the context ends, returning the
// result or the terminal error.
func (h *Handle) Wait(ctx context.Context) (*fractal.TileResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.Result()
	}
}

// resolve records the single terminal outcome. Subsequent calls are no-ops,
// which structurally enforces at-most-one terminal message per task.
func (h *Handle) resolve(outcome Outcome, result *fractal.TileResult, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.outcome = outcome
		h.result = result
		h.err = err
		h.mu.Unlock()
		close(h.done)
		close(h.progress)
	})
}

// publishProgress forwards a progress fraction to the handle's channel. It
// never blocks: updates are dropped when the buffer is full, and ignored once
// the task is terminal.
func (h *Handle) publishProgress(fraction float64) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.progress <- fractal.ProgressUpdate{TaskID: h.taskID, Fraction: fraction}:
	default:
	}
}
