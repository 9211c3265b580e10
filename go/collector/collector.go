// Package collector implements the Row Collector: a stateful fold that
// turns items popped from the merge queue into caller-visible callback
// invocations, enforcing skip/limit and the {start,total} handshake.
package collector

import "github.com/estuary/viewmerge/go/mergequeue"

// EventKind discriminates the variants of Event delivered to a Callback.
type EventKind int

const (
	EventStart EventKind = iota
	EventRow
	EventError
	EventDebugInfo
	EventStop
)

// Event is one callback invocation, as specified by spec.md §6's callback
// contract: callback(event, acc) -> {ok, acc'} | {stop, reply}.
type Event struct {
	Kind EventKind

	Total       int // EventStart
	Row         any // EventRow
	ErrSource   string
	ErrReason   string // EventError
	DebugSource string
	DebugBlob   any // EventDebugInfo
}

// Outcome is the caller callback's response to an Event.
type Outcome struct {
	Acc   any
	Stop  bool
	Reply any
}

// Callback is the user-supplied fold function driving one query.
type Callback func(event Event, acc any) Outcome

// ResultKind reports what Feed did with one popped mergequeue.Item.
type ResultKind int

const (
	// ResultContinue means the merge should keep draining the queue.
	ResultContinue ResultKind = iota
	// ResultStop means the callback asked to stop, or limit/Closed ended
	// the stream; Reply holds the query's final reply.
	ResultStop
	// ResultTerminal means a RevisionMismatch or SetViewOutdated sentinel
	// was popped; these propagate to the coordinator untouched (spec.md
	// §4.4 step 6), rather than going through the user callback.
	ResultTerminal
)

// Result is the outcome of one Collector.Feed call.
type Result struct {
	Kind     ResultKind
	Reply    any
	Terminal mergequeue.Item
}

// Collector folds mergequeue.Items into Callback invocations. It begins
// in "counting" mode, accumulating RowCount sentinels from every
// producer; once every producer's count has arrived (or the first
// non-RowCount item appears) it emits EventStart and switches to row
// mode, applying skip then limit to each data row.
type Collector struct {
	callback    Callback
	preprocess  func(row any) any
	acc         any
	pendingRows int
	total       int
	started     bool
	skip        int
	limit       int
	limited     bool
}

// New returns a Collector expecting a RowCount from each of producers
// backing indexes before switching to row mode. preprocess may be nil.
func New(producers int, skip, limit int, acc any, preprocess func(any) any, callback Callback) *Collector {
	if preprocess == nil {
		preprocess = func(r any) any { return r }
	}
	return &Collector{
		callback:    callback,
		preprocess:  preprocess,
		acc:         acc,
		pendingRows: producers,
		skip:        skip,
		limit:       limit,
		limited:     true,
	}
}

// Acc returns the current accumulator value.
func (c *Collector) Acc() any { return c.acc }

// Feed applies one popped item to the fold, invoking the callback as
// needed and returning what the coordinator should do next.
func (c *Collector) Feed(item mergequeue.Item) Result {
	if item.Kind == mergequeue.KindRevisionMismatch || item.Kind == mergequeue.KindSetViewOutdated {
		return Result{Kind: ResultTerminal, Terminal: item}
	}

	if !c.started {
		if item.Kind == mergequeue.KindRowCount {
			c.pendingRows--
			c.total += item.Count
			if c.pendingRows > 0 {
				return Result{Kind: ResultContinue}
			}
		}
		c.started = true
		if res, stop := c.emit(Event{Kind: EventStart, Total: c.total}); stop {
			return res
		}
		if item.Kind == mergequeue.KindRowCount {
			// The count that triggered start carries no further payload.
			return Result{Kind: ResultContinue}
		}
	}

	switch item.Kind {
	case mergequeue.KindRow:
		if c.skip > 0 {
			c.skip--
			return Result{Kind: ResultContinue}
		}
		if c.limited && c.limit <= 0 {
			return Result{Kind: ResultStop, Reply: c.acc}
		}
		var row = c.preprocess(item.Row)
		res, stop := c.emit(Event{Kind: EventRow, Row: row})
		if stop {
			return res
		}
		if c.limited {
			c.limit--
			if c.limit <= 0 {
				return c.close()
			}
		}
		return Result{Kind: ResultContinue}
	case mergequeue.KindError:
		res, stop := c.emit(Event{Kind: EventError, ErrSource: item.ErrSource, ErrReason: item.ErrReason})
		if stop {
			return res
		}
		return Result{Kind: ResultContinue}
	case mergequeue.KindDebugInfo:
		res, stop := c.emit(Event{Kind: EventDebugInfo, DebugSource: item.DebugSource, DebugBlob: item.DebugBlob})
		if stop {
			return res
		}
		return Result{Kind: ResultContinue}
	case mergequeue.KindClosed:
		return c.close()
	default:
		return Result{Kind: ResultContinue}
	}
}

// close delivers the EventStop marker, whose callback return value
// becomes the query's final reply (spec.md §4.2).
func (c *Collector) close() Result {
	var out = c.callback(Event{Kind: EventStop}, c.acc)
	return Result{Kind: ResultStop, Reply: out.Reply}
}

func (c *Collector) emit(event Event) (Result, bool) {
	var out = c.callback(event, c.acc)
	c.acc = out.Acc
	if out.Stop {
		return Result{Kind: ResultStop, Reply: out.Reply}, true
	}
	return Result{}, false
}
