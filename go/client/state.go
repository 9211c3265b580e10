package client

import (
	"github.com/estuary/viewmerge/go/protocol"
	"github.com/estuary/viewmerge/go/recvworker"
)

// command is one unit of work executed on the coordinator goroutine; run
// mutates state synchronously, inline inside the coordinator's select
// loop. A run that writes a frame blocks on that socket write, and the
// select loop does not run until the write returns.
type command struct {
	run func(st *state)
}

// requestResult is delivered to a caller once its pending request's
// response arrives.
type requestResult struct {
	reqID uint32
	reply recvworker.Reply
}

// pendingRequest tracks one in-flight request/response pair. partition
// and registerStream are set by add_stream so handleResponse can create
// the StreamQueue on a successful failoverlog reply without the caller
// goroutine touching state directly. removeStreamReqID is set by
// remove_stream so handleResponse can tear down the original stream's
// StreamQueue once the close is acknowledged.
type pendingRequest struct {
	result chan requestResult

	registerStream    bool
	partition         uint16
	removeStreamReqID uint32
}

// streamQueue buffers events for one req-id between get_stream_event
// calls. Per spec.md §8 invariant 6, at most one of waiters/events is
// ever non-empty: an arriving event is handed straight to a waiter if one
// is registered, rather than being enqueued alongside it.
type streamQueue struct {
	partition uint16
	events    []recvworker.StreamEvent
	waiters   []chan eventResult
}

type eventResult struct {
	event recvworker.StreamEvent
	err   error
}

// state is the coordinator goroutine's private, single-writer state:
// pending requests, stream queues, active streams, and the request-id
// counter (spec.md §5 "client state ... owned by a single coordinator
// task").
type state struct {
	cfg Config

	nextReqID     uint32
	pending       map[uint32]pendingRequest
	queues        map[uint32]*streamQueue
	activeStreams map[uint16]uint32 // partition -> req-id
}

func newState(cfg Config) *state {
	return &state{
		cfg:           cfg,
		nextReqID:     2, // 0 and 1 are consumed by the bootstrap handshake
		pending:       map[uint32]pendingRequest{},
		queues:        map[uint32]*streamQueue{},
		activeStreams: map[uint16]uint32{},
	}
}

// allocReqID returns the next request-id, wrapping at cfg.opaqueWidth()
// per spec.md §4.7 "Request-ID allocation".
func (st *state) allocReqID() uint32 {
	var id = st.nextReqID
	st.nextReqID++
	if st.nextReqID >= st.cfg.opaqueWidth() {
		st.nextReqID = 0
	}
	return id
}

// handleResponse delivers a StreamResponse to its pending waiter. A
// response with no pending registration is discarded (spec.md §4.7
// "Dispatch invariant").
func (st *state) handleResponse(resp recvworker.StreamResponse) {
	var pr, ok = st.pending[resp.ReqID]
	if !ok {
		return
	}
	delete(st.pending, resp.ReqID)

	if pr.registerStream && resp.Reply.Kind == recvworker.ReplyFailoverLog {
		st.queues[resp.ReqID] = &streamQueue{partition: pr.partition}
		st.activeStreams[pr.partition] = resp.ReqID
	}
	if pr.removeStreamReqID != 0 {
		var closeAck = resp.Reply.Kind == recvworker.ReplyOK ||
			(resp.Reply.Kind == recvworker.ReplyError && resp.Reply.ErrKind == "vbucket_stream_not_found")
		if closeAck {
			st.removeQueue(pr.removeStreamReqID)
		}
	}

	pr.result <- requestResult{reqID: resp.ReqID, reply: resp.Reply}
}

// handleEvent delivers a StreamEvent to its StreamQueue: directly to a
// waiter if one is registered, else enqueued. An event with no
// StreamQueue is discarded (covers the remove_stream/in-flight-event race
// named in spec.md §4.7). A stream_end handed to a waiter removes the
// StreamQueue at once; a queued stream_end removes it when
// get_stream_event pops it.
func (st *state) handleEvent(ev recvworker.StreamEvent) {
	var q, ok = st.queues[ev.ReqID]
	if !ok {
		return
	}

	if len(q.waiters) > 0 {
		var w = q.waiters[0]
		q.waiters = q.waiters[1:]
		w <- eventResult{event: ev}
		if ev.Variant == protocol.VariantStreamEnd {
			st.removeQueue(ev.ReqID)
		}
		return
	}
	q.events = append(q.events, ev)
}

// removeQueue tears down the StreamQueue for reqID, waking any remaining
// waiters with a synthetic stream_end so a racing get_stream_event caller
// observes termination rather than hanging forever (spec.md §8 scenario
// "stream teardown").
func (st *state) removeQueue(reqID uint32) {
	var q = st.queues[reqID]
	if q == nil {
		return
	}
	for _, w := range q.waiters {
		w <- eventResult{event: recvworker.StreamEvent{ReqID: reqID, Variant: protocol.VariantStreamEnd}}
	}
	delete(st.activeStreams, q.partition)
	delete(st.queues, reqID)
}

// terminateAll fails every pending request and waiter when the Receive
// Worker itself dies (spec.md §5 "fatal to client").
func (st *state) terminateAll(err error) {
	for id, pr := range st.pending {
		close(pr.result)
		delete(st.pending, id)
	}
	for id, q := range st.queues {
		for _, w := range q.waiters {
			w <- eventResult{err: err}
		}
		delete(st.queues, id)
	}
}
