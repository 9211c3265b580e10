// Package coordinator implements the Merge Coordinator: the query
// lifecycle that resolves a design document, enforces the revision gate,
// spawns Folder Workers, drains the merge queue through a Row Collector,
// and guarantees teardown of every worker and queue on every exit path
// (spec.md §4.4).
package coordinator

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/estuary/viewmerge/go/collector"
	"github.com/estuary/viewmerge/go/ddoc"
	"github.com/estuary/viewmerge/go/folder"
	"github.com/estuary/viewmerge/go/index"
	"github.com/estuary/viewmerge/go/mergequeue"
	"github.com/estuary/viewmerge/go/ops"
)

// Sentinel errors, per spec.md §7.
var (
	ErrNotFound           = errors.New("not_found")
	ErrRevisionMismatch   = errors.New("revision_mismatch")
	ErrRevisionSyncFailed = errors.New("revision_sync_failed")
	ErrSetViewOutdated    = errors.New("set_view_outdated")

	errRetry = errors.New("retry")
)

const (
	defaultMaxRetries    = 30
	defaultRetryInterval = time.Second
)

// DesiredRevision is the MergeRequest's revision expectation: either
// Auto (accept whatever the store currently has) or a concrete Rev that
// must match exactly.
type DesiredRevision struct {
	Auto bool
	Rev  string
}

// Request is the immutable configuration for one query (spec.md §3
// MergeRequest), already parsed from HTTP by the external collaborator
// named in spec.md §6.
type Request struct {
	DDocSet   string
	DDocID    string
	IndexName string
	ViewArgs  any

	Specs   []index.Spec
	Desired DesiredRevision

	QueryParams url.Values
	Skip, Limit int
	Timeout     time.Duration

	Preprocess func(row any) any
	Callback   collector.Callback
	Acc        any
}

// Coordinator owns one Store, observer, and HTTP client across many
// queries; it holds no per-query state between calls to Query.
type Coordinator struct {
	Store         ddoc.Store
	Stats         ops.QueryStats
	HTTPClient    *http.Client
	MaxRetries    int
	RetryInterval time.Duration
}

func (c *Coordinator) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return defaultMaxRetries
}

func (c *Coordinator) retryInterval() time.Duration {
	if c.RetryInterval > 0 {
		return c.RetryInterval
	}
	return defaultRetryInterval
}

// New constructs a Coordinator whose design-document lookups are cached
// in front of backing, since the revision gate re-resolves the ddoc on
// every retry attempt (spec.md §4.4 step 1-2) and a bounded LRU avoids
// round-tripping to the store on the common no-change path. Query
// invalidates the cached entry itself before each retry, so a drifted
// revision is always re-fetched from backing rather than served stale.
func New(backing ddoc.Store, cacheSize int, stats ops.QueryStats, httpClient *http.Client) (*Coordinator, error) {
	var store, err = ddoc.NewCachingStore(backing, cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "constructing coordinator")
	}
	return &Coordinator{Store: store, Stats: stats, HTTPClient: httpClient}, nil
}

// invalidator is implemented by Store wrappers that cache resolved
// design documents, such as ddoc.CachingStore. Query type-asserts for it
// so a plain ddoc.Store (no caching) works unchanged.
type invalidator interface {
	Invalidate(set, id string)
}

// Query runs one merge query to completion, retrying on revision drift
// for up to MaxRetries attempts in all (spec.md §4.4 Retry loop).
func (c *Coordinator) Query(ctx context.Context, module index.Module, req Request) (any, error) {
	var start = time.Now()
	var reply any
	var err error

	for attempt := 0; attempt < c.maxRetries(); attempt++ {
		reply, err = c.attempt(ctx, module, req)
		if errors.Is(err, errRetry) {
			if inv, ok := c.Store.(invalidator); ok {
				inv.Invalidate(req.DDocSet, req.DDocID)
			}
			ops.WithFields(ops.Fields{"ddoc_set": req.DDocSet, "ddoc_id": req.DDocID, "attempt": attempt}).
				Warn("revision drifted mid-query, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryInterval()):
			}
			continue
		}
		break
	}
	if errors.Is(err, errRetry) {
		ops.WithFields(ops.Fields{"ddoc_set": req.DDocSet, "ddoc_id": req.DDocID, "attempts": c.maxRetries()}).
			Warn("revision sync failed, exhausted retries")
		err = ErrRevisionSyncFailed
	}

	if c.Stats != nil {
		c.Stats.Record(req.DDocID, req.IndexName, time.Since(start).Seconds())
	}
	return reply, err
}

// attempt runs steps 1-7 of spec.md §4.4 once, returning errRetry when
// the query must be retried under an Auto-revision mismatch.
func (c *Coordinator) attempt(ctx context.Context, module index.Module, req Request) (any, error) {
	var doc, err = c.Store.GetDDoc(ctx, req.DDocSet, req.DDocID)
	if err != nil {
		if errors.Is(err, ddoc.ErrNotFound) {
			ops.WithFields(ops.Fields{"ddoc_set": req.DDocSet, "ddoc_id": req.DDocID}).Warn("design document not found")
			return nil, ErrNotFound
		}
		ops.WithFields(ops.Fields{"ddoc_set": req.DDocSet, "ddoc_id": req.DDocID, "err": err}).Warn("resolving design document failed")
		return nil, errors.Wrap(err, "resolving design document")
	}

	if !req.Desired.Auto && doc.Revision != req.Desired.Rev {
		ops.WithFields(ops.Fields{"ddoc_id": req.DDocID, "want": req.Desired.Rev, "got": doc.Revision}).
			Warn("revision mismatch")
		return nil, ErrRevisionMismatch
	}

	if len(req.Specs) == 1 && req.Specs[0].Local != nil {
		return c.fastPath(ctx, module, req, doc)
	}
	return c.fullMerge(ctx, module, req, doc)
}

// fastPath implements spec.md §4.4's single-spec fast path: bypass the
// OMQ/FW machinery entirely.
func (c *Coordinator) fastPath(ctx context.Context, module index.Module, req Request, doc ddoc.DesignDoc) (any, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var col = collector.New(1, req.Skip, req.Limit, req.Acc, req.Preprocess, req.Callback)
	var reply, err = module.SimpleSetViewQuery(ctx, req.ViewArgs, func(row any) (bool, error) {
		var res = col.Feed(mergequeue.Row(row))
		return res.Kind != collector.ResultContinue, nil
	})
	if err != nil {
		ops.WithFields(ops.Fields{"ddoc_id": req.DDocID, "index_name": req.IndexName, "err": err}).
			Warn("fast-path set view query failed")
		return nil, err
	}
	return reply, nil
}

// fullMerge implements spec.md §4.4 steps 3-7: build funs, spawn one
// Folder Worker per spec under a cancellable scope, and drain the queue
// through a Collector, guaranteeing teardown on every exit path.
func (c *Coordinator) fullMerge(ctx context.Context, module index.Module, req Request, doc ddoc.DesignDoc) (reply any, err error) {
	var less, preprocess, makeErr = module.MakeFuns(req.DDocID, doc.Revision, req.IndexName, req.ViewArgs)
	if makeErr != nil {
		ops.WithFields(ops.Fields{"ddoc_id": req.DDocID, "index_name": req.IndexName, "err": makeErr}).
			Warn("constructing merge functions failed")
		return nil, errors.Wrap(makeErr, "constructing merge functions")
	}

	var q = mergequeue.New(len(req.Specs), mergequeue.Less(less))
	var group, gctx = errgroup.WithContext(ctx)

	for i, spec := range req.Specs {
		var producerID, s = i, spec
		group.Go(func() error {
			c.runFolder(gctx, q, producerID, module, s, req, doc)
			return nil
		})
	}

	defer func() {
		// Cleanup per spec.md §4.4 step 7: shut down OMQ first so any
		// blocked FW wakes with queue_shutdown, then wait for every FW.
		q.Shutdown()
		_ = group.Wait()
	}()

	var col = collector.New(len(req.Specs), req.Skip, req.Limit, req.Acc, preprocess, req.Callback)
	for {
		var item = q.Pop()
		var res = col.Feed(item)
		switch res.Kind {
		case collector.ResultContinue:
			continue
		case collector.ResultStop:
			return res.Reply, nil
		case collector.ResultTerminal:
			switch res.Terminal.Kind {
			case mergequeue.KindRevisionMismatch:
				if req.Desired.Auto {
					return nil, errRetry
				}
				ops.WithFields(ops.Fields{"ddoc_id": req.DDocID}).Warn("revision mismatch signaled by folder worker")
				return nil, ErrRevisionMismatch
			case mergequeue.KindSetViewOutdated:
				ops.WithFields(ops.Fields{"ddoc_id": req.DDocID}).Warn("set view outdated signaled by folder worker")
				return nil, ErrSetViewOutdated
			}
		}
	}
}

func (c *Coordinator) runFolder(ctx context.Context, q *mergequeue.Queue, producerID int, module index.Module, spec index.Spec, req Request, doc ddoc.DesignDoc) {
	switch {
	case spec.Local != nil:
		var fw = &folder.LocalFolder{
			ProducerID: producerID,
			Source:     spec.Local.SetName,
			Fold:       module.FoldLocal(*spec.Local, req.ViewArgs),
		}
		fw.Run(ctx, q)
	case spec.Remote != nil:
		var remoteSpec = *spec.Remote
		remoteSpec.EJSON.DDocRevision = doc.Revision
		var fw = &folder.RemoteFolder{
			ProducerID:  producerID,
			Source:      spec.Remote.URL,
			Client:      c.HTTPClient,
			Spec:        remoteSpec,
			QueryParams: req.QueryParams,
			Timeout:     req.Timeout,
		}
		fw.Run(ctx, q)
	default:
		q.Done(producerID)
	}
}
