// Package folder implements Folder Workers: one per backing index,
// pulling rows from a local set-view or a remote HTTP endpoint and
// publishing them into the merge queue (spec.md §4.3).
package folder

import (
	"context"
	"errors"

	"github.com/estuary/viewmerge/go/index"
	"github.com/estuary/viewmerge/go/mergequeue"
	"github.com/estuary/viewmerge/go/ops"
)

// LocalFolder drives a FoldFunc against a local set-view and publishes
// its rows into a mergequeue.Queue.
type LocalFolder struct {
	ProducerID int
	Source     string // identifies the backing index in Error items.
	Fold       index.FoldFunc
}

// Run executes the fold to completion, always signaling Done on exit. A
// fold error is surfaced as an Error item unless it's the queue's own
// shutdown error, which is swallowed (the parent is already tearing
// everything down).
func (f *LocalFolder) Run(ctx context.Context, q *mergequeue.Queue) {
	defer q.Done(f.ProducerID)

	var err = f.Fold(ctx, func(item mergequeue.Item) error {
		return q.Push(f.ProducerID, item)
	})
	if err == nil {
		return
	}
	if errors.Is(err, mergequeue.ErrQueueShutdown) {
		return
	}
	ops.WithFields(ops.Fields{"source": f.Source, "err": err}).
		Warn("local folder worker failed")
	_ = q.Push(f.ProducerID, mergequeue.Error(f.Source, err.Error()))
}
