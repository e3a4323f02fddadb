package crawler

import (
	"context"
	"errors"
	"sync"

	"github.com/nao1215/statecrawl/internal/model"
)

// ErrQueueExhausted is returned by AwaitNewTask when there is no pending
// action left and no worker is processing a state that could add more.
var ErrQueueExhausted = errors.New("candidate queue exhausted")

// CandidateQueue holds the candidate actions that have not been fired yet,
// grouped by the state they belong to.
//
// A state is handed to exactly one worker at a time by AwaitNewTask. While
// the worker holds it the state is in flight: it is not available to other
// workers and it keeps the queue from reporting itself empty. The worker
// drains actions one by one with PollAction, so an action leaves the queue
// the moment it is selected and can never be handed out twice.
type CandidateQueue struct {
	mu sync.Mutex

	// pending holds the not yet selected actions of each state, in order.
	pending map[int][]model.CandidateAction

	// seen holds the keys of every action ever enqueued per state.
	seen map[int]map[string]struct{}

	// available is the FIFO of states with pending actions that no worker
	// holds. queued mirrors it for membership tests.
	available []*model.State
	queued    map[int]bool

	// processing holds the ids of states currently held by a worker.
	processing map[int]bool
	inFlight   int

	// changed is closed and replaced whenever waiters should look again.
	changed chan struct{}
}

// NewCandidateQueue creates an empty queue.
func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{
		pending:    make(map[int][]model.CandidateAction),
		seen:       make(map[int]map[string]struct{}),
		queued:     make(map[int]bool),
		processing: make(map[int]bool),
		changed:    make(chan struct{}),
	}
}

// Enqueue adds the state's candidate actions that were not enqueued before.
// A state without new actions is left alone.
func (q *CandidateQueue) Enqueue(state *model.State) {
	candidates := state.Candidates()
	if len(candidates) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := q.seen[state.ID]
	if seen == nil {
		seen = make(map[string]struct{}, len(candidates))
		q.seen[state.ID] = seen
	}

	added := 0
	for _, a := range candidates {
		key := a.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		q.pending[state.ID] = append(q.pending[state.ID], a)
		added++
	}
	if added == 0 {
		return
	}

	q.publishLocked(state)
	q.broadcastLocked()
}

// AwaitNewTask blocks until a state with pending actions is available and
// hands it to the caller, who must call TaskDone when finished with it.
// It returns ErrQueueExhausted when nothing is pending and no other worker
// is in flight, and the context error when ctx is cancelled.
func (q *CandidateQueue) AwaitNewTask(ctx context.Context) (*model.State, error) {
	for {
		q.mu.Lock()
		if len(q.available) > 0 {
			state := q.available[0]
			q.available[0] = nil
			q.available = q.available[1:]
			delete(q.queued, state.ID)
			q.processing[state.ID] = true
			q.inFlight++
			q.mu.Unlock()
			return state, nil
		}
		if q.inFlight == 0 {
			q.mu.Unlock()
			return nil, ErrQueueExhausted
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// PollAction removes and returns the next pending action of state.
// The boolean is false when the state has nothing left.
func (q *CandidateQueue) PollAction(state *model.State) (model.CandidateAction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions := q.pending[state.ID]
	if len(actions) == 0 {
		return model.CandidateAction{}, false
	}
	next := actions[0]
	if len(actions) == 1 {
		delete(q.pending, state.ID)
	} else {
		q.pending[state.ID] = actions[1:]
	}
	return next, true
}

// TaskDone releases a state obtained from AwaitNewTask. If actions remain,
// the state becomes available again.
func (q *CandidateQueue) TaskDone(state *model.State) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.processing[state.ID] {
		return
	}
	delete(q.processing, state.ID)
	q.inFlight--
	q.publishLocked(state)
	q.broadcastLocked()
}

// IsEmpty reports whether no action is pending and no worker holds a
// state. A worker still processing a state keeps the queue non-empty,
// because the state may yet produce new candidates.
func (q *CandidateQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight == 0 && len(q.pending) == 0
}

// PendingCount returns the number of actions not yet selected.
func (q *CandidateQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, actions := range q.pending {
		n += len(actions)
	}
	return n
}

// InFlight returns the number of states currently held by workers.
func (q *CandidateQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// publishLocked makes state available if it has pending actions and is
// neither held by a worker nor already queued.
func (q *CandidateQueue) publishLocked(state *model.State) {
	if len(q.pending[state.ID]) == 0 || q.processing[state.ID] || q.queued[state.ID] {
		return
	}
	q.available = append(q.available, state)
	q.queued[state.ID] = true
}

func (q *CandidateQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
