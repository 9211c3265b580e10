// Package mergequeue implements a bounded, multi-producer priority queue
// that merges ordered row streams from N producers into a single stream
// of the globally smallest item.
package mergequeue

import "fmt"

// Kind discriminates the variants of Item. Sentinels sort strictly before
// data rows, in the precedence declared by kindRank.
type Kind int

const (
	KindRevisionMismatch Kind = iota
	KindSetViewOutdated
	KindError
	KindRowCount
	KindDebugInfo
	KindRow
	KindClosed
)

// kindRank orders sentinel kinds ahead of KindRow; KindClosed is never
// compared (see Queue.Pop) but is ranked last for completeness.
var kindRank = map[Kind]int{
	KindRevisionMismatch: 0,
	KindSetViewOutdated:  1,
	KindError:            2,
	KindRowCount:         3,
	KindDebugInfo:        4,
	KindRow:              5,
	KindClosed:           6,
}

// Item is one QueueItem as defined by the merge protocol: exactly one of
// the fields below is meaningful, selected by Kind.
type Item struct {
	Kind Kind

	// KindRow.
	Row any
	// KindRowCount.
	Count int
	// KindError.
	ErrSource string
	ErrReason string
	// KindDebugInfo.
	DebugSource string
	DebugBlob   any
}

func (i Item) String() string {
	switch i.Kind {
	case KindRow:
		return fmt.Sprintf("Row(%v)", i.Row)
	case KindRowCount:
		return fmt.Sprintf("RowCount(%d)", i.Count)
	case KindError:
		return fmt.Sprintf("Error(%s, %s)", i.ErrSource, i.ErrReason)
	case KindDebugInfo:
		return fmt.Sprintf("DebugInfo(%s)", i.DebugSource)
	case KindRevisionMismatch:
		return "RevisionMismatch"
	case KindSetViewOutdated:
		return "SetViewOutdated"
	case KindClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Row constructs a data-row Item.
func Row(row any) Item { return Item{Kind: KindRow, Row: row} }

// RowCount constructs a row-count sentinel Item.
func RowCount(n int) Item { return Item{Kind: KindRowCount, Count: n} }

// Error constructs a per-producer error sentinel Item.
func Error(source, reason string) Item {
	return Item{Kind: KindError, ErrSource: source, ErrReason: reason}
}

// DebugInfo constructs a diagnostic passthrough Item.
func DebugInfo(source string, blob any) Item {
	return Item{Kind: KindDebugInfo, DebugSource: source, DebugBlob: blob}
}

// RevisionMismatch is the sentinel demanding query restart.
var RevisionMismatch = Item{Kind: KindRevisionMismatch}

// SetViewOutdated is the sentinel demanding caller-visible failure.
var SetViewOutdated = Item{Kind: KindSetViewOutdated}

// Closed marks a producer finished normally.
var Closed = Item{Kind: KindClosed}
