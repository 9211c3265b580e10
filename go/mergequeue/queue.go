package mergequeue

import (
	"container/heap"
	"sync"

	"github.com/pkg/errors"
)

// ErrQueueShutdown is returned to a blocked or future push once Shutdown
// has been called.
var ErrQueueShutdown = errors.New("queue_shutdown")

// Less reports whether row a sorts before row b. A nil Less means the
// backing index has no defined order (e.g. a bounding-box spatial query):
// with a nil Less no row compares less than another (itemLess returns
// false), so cross-producer order is whatever the heap leaves it as, but
// per-producer FIFO is still preserved by the one-in-flight-item window
// below.
type Less func(a, b any) bool

// Queue is a bounded, multi-producer priority merge queue. Each of N
// producers may have at most one item in flight at a time; Push blocks
// until the previous item from that producer has been popped. Pop
// returns the globally smallest item across all producers, where
// sentinels sort strictly before data rows (see Kind/kindRank), blocking
// until every producer has either supplied its next item or called Done.
type Queue struct {
	less Less

	mu     sync.Mutex
	cond   *sync.Cond
	slots  []slot
	ready  readyHeap
	closed bool
}

type slot struct {
	item Item
	has  bool
	done bool
}

func (s *slot) waiting() bool { return !s.done && !s.has }

// New returns a Queue for exactly n producers (indices 0..n-1), ordering
// data rows with less (which may be nil; see Less).
func New(n int, less Less) *Queue {
	q := &Queue{
		less:  less,
		slots: make([]slot, n),
	}
	q.cond = sync.NewCond(&q.mu)
	q.ready.q = q
	return q
}

// Push delivers item on behalf of producerID. It blocks while the queue
// still holds an unread item from that producer. Returns ErrQueueShutdown
// if the queue has been shut down.
func (q *Queue) Push(producerID int, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.slots[producerID].has && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return ErrQueueShutdown
	}
	q.slots[producerID].item = item
	q.slots[producerID].has = true
	heap.Push(&q.ready, producerID)
	q.cond.Broadcast()
	return nil
}

// Done declares that producerID will push no more items.
func (q *Queue) Done(producerID int) {
	q.mu.Lock()
	q.slots[producerID].done = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pop returns the smallest item across all producers, blocking until
// every producer has either enqueued a next item or signaled Done. It
// returns Closed once all producers are done and the queue is empty, or
// immediately after Shutdown.
func (q *Queue) Pop() Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return Closed
		}
		if q.allReady() {
			break
		}
		q.cond.Wait()
	}
	if q.ready.Len() == 0 {
		return Closed
	}
	producerID := heap.Pop(&q.ready).(int)
	item := q.slots[producerID].item
	q.slots[producerID].has = false
	q.cond.Broadcast()
	return item
}

func (q *Queue) allReady() bool {
	for i := range q.slots {
		if q.slots[i].waiting() {
			return false
		}
	}
	return true
}

// Flush is a consumer-side fence: because this Queue holds at most one
// item per producer (no internal batching), a subsequent Pop already
// reflects the latest pushed state. Flush exists to satisfy callers that
// expect an explicit drain point before re-checking queue state.
func (q *Queue) Flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
}

// Shutdown unblocks every blocked or future Push with ErrQueueShutdown,
// and causes Pop to return Closed immediately.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// itemLess orders sentinels before rows (by kindRank), then rows by the
// caller comparator.
func (q *Queue) itemLess(a, b Item) bool {
	ra, rb := kindRank[a.Kind], kindRank[b.Kind]
	if ra != rb {
		return ra < rb
	}
	if a.Kind == KindRow && q.less != nil {
		return q.less(a.Row, b.Row)
	}
	return false
}

// readyHeap is a container/heap of producer ids currently holding an
// unread item, ordered by itemLess over their items.
type readyHeap struct {
	q   *Queue
	ids []int
}

func (h *readyHeap) Len() int { return len(h.ids) }
func (h *readyHeap) Less(i, j int) bool {
	return h.q.itemLess(h.q.slots[h.ids[i]].item, h.q.slots[h.ids[j]].item)
}
func (h *readyHeap) Swap(i, j int) { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *readyHeap) Push(x any)    { h.ids = append(h.ids, x.(int)) }
func (h *readyHeap) Pop() any {
	old := h.ids
	n := len(old)
	v := old[n-1]
	h.ids = old[:n-1]
	return v
}
