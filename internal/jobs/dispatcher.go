package jobs

import (
	"context"
	"sync"

	"github.com/MimeLyc/findoc-analyzer/pkg/log"
)

// Handler processes one dispatched job id.
type Handler func(ctx context.Context, id string)

// Dispatcher hands job ids to the runner. Dispatch never blocks the caller.
type Dispatcher interface {
	Dispatch(id string)
}

// NopDispatcher drops ids. An api-only process uses it and leaves the work
// to a worker process polling the store.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(string) {}

// Queue is an in-process worker pool. An id already waiting in the buffer is
// not enqueued a second time.
type Queue struct {
	workerCount int

	mu         sync.Mutex
	pending    map[string]struct{}
	started    bool
	pendingIDs chan string
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewQueue(workerCount, size int) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	if size <= 0 {
		size = 256
	}
	return &Queue{
		workerCount: workerCount,
		pending:     make(map[string]struct{}),
		pendingIDs:  make(chan string, size),
		stopCh:      make(chan struct{}),
	}
}

// Dispatch schedules id. Ids dispatched before Start wait in the buffer.
func (q *Queue) Dispatch(id string) {
	q.mu.Lock()
	if _, ok := q.pending[id]; ok {
		q.mu.Unlock()
		log.Debug("Job %s already pending, skip dispatch", id)
		return
	}
	q.pending[id] = struct{}{}
	q.mu.Unlock()

	select {
	case q.pendingIDs <- id:
	default:
		go func() {
			select {
			case q.pendingIDs <- id:
			case <-q.stopCh:
			}
		}()
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start(handle Handler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(handle)
	}
}

// Stop waits for running handlers to return. Ids still buffered are dropped;
// they remain queued in the store.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
		q.wg.Wait()
	})
}

func (q *Queue) worker(handle Handler) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pendingIDs:
			q.mu.Lock()
			delete(q.pending, id)
			q.mu.Unlock()

			handle(context.Background(), id)
		}
	}
}
