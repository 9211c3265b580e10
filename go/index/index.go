// Package index declares the capability contract a backing-index
// implementation must satisfy, and the typed EJSON payload shape sent to
// remote indexes. Per spec.md §9, this is represented as a trait object
// (Module) rather than runtime dynamic dispatch, and EJSON is a typed
// record with well-known keys plus a passthrough bag, converted at the
// HTTP boundary only (never carried internally as a bare map).
package index

import (
	"context"
	"encoding/json"

	"github.com/estuary/viewmerge/go/mergequeue"
)

// Spec is one backing-index reference within a MergeRequest: either a
// Local set-view spec or a Remote HTTP spec.
type Spec struct {
	Local  *LocalSpec
	Remote *RemoteSpec
}

// LocalSpec names a local set-view.
type LocalSpec struct {
	SetName  string
	DDocID   string
	ViewName string
}

// RemoteSpec names a remote merge endpoint.
type RemoteSpec struct {
	URL     string
	EJSON   EJSONBody
	SSLOpts SSLOptions
	Timeout int // seconds; not read by go/coordinator or go/folder, which apply Request.Timeout
}

// SSLOptions holds TLS settings for a remote spec. folder.RemoteFolder
// does not apply them: requests go through its http.Client unchanged.
type SSLOptions struct {
	InsecureSkipVerify bool
	CAFile             string
}

// EJSONBody is the untyped-looking, but internally typed, payload sent to
// a remote merge endpoint: a handful of well-known keys plus passthrough.
type EJSONBody struct {
	// DDocRevision is injected iff revision-checking is enabled (spec.md §4.3).
	DDocRevision string                     `json:"ddoc_revision,omitempty"`
	EJSONSpec    json.RawMessage            `json:"ejson_spec"`
	Extra        map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra alongside the well-known keys.
func (b EJSONBody) MarshalJSON() ([]byte, error) {
	var m = map[string]json.RawMessage{}
	for k, v := range b.Extra {
		m[k] = v
	}
	if b.DDocRevision != "" {
		var raw, _ = json.Marshal(b.DDocRevision)
		m["ddoc_revision"] = raw
	}
	if b.EJSONSpec != nil {
		m["ejson_spec"] = b.EJSONSpec
	}
	return json.Marshal(m)
}

// LessFunc orders two rows produced by this index's fold/merge. A nil
// LessFunc means the index has no intrinsic order (spatial/bounding-box
// queries); see mergequeue.Less.
type LessFunc func(a, b any) bool

// FoldFunc drives one Local Folder Worker's fold over its own backing
// set-view shard, invoking push for each produced row (and once, before
// the first row, with the row-count if known).
type FoldFunc func(ctx context.Context, push func(mergequeue.Item) error) error

// CollectorFunc preprocesses one raw row before it reaches the caller
// callback (spec.md §4.2 "passed through a preprocess function").
type CollectorFunc func(row any) any

// Module is the capability record an index-type implementation provides,
// matching the index module contract of spec.md §6.
type Module interface {
	// ParseHTTPParams extracts this index type's view arguments from the
	// incoming HTTP request.
	ParseHTTPParams(params map[string][]string, ddocID, indexName string, extra map[string]string) (viewArgs any, err error)

	// ViewQS renders view arguments and merge params into a query string
	// for a remote merge request.
	ViewQS(viewArgs any, mergeParams map[string][]string) (string, error)

	// ProcessExtraParams folds extra passthrough parameters into an EJSON body.
	ProcessExtraParams(extra map[string]string, body EJSONBody) (EJSONBody, error)

	// MakeFuns builds the comparator and row-preprocessor driving one
	// query against a resolved design document. The generic
	// drain-queue-through-collector loop (spec.md §4.2's Row Collector)
	// is owned by go/coordinator and go/collector, not by the module,
	// since its behavior is fully specified and does not vary per index
	// type.
	MakeFuns(ddocID, ddocRevision, indexName string, viewArgs any) (LessFunc, CollectorFunc, error)

	// FoldLocal returns the FoldFunc a Local Folder Worker should run for
	// one local set-view shard (spec.md §4.3's Local FW). Called once per
	// LocalSpec, since each names a distinct shard/replica of the view.
	FoldLocal(spec LocalSpec, viewArgs any) FoldFunc

	// GetSkipAndLimit extracts skip/limit from HTTP params.
	GetSkipAndLimit(params map[string][]string) (skip, limit int, err error)

	// SimpleSetViewQuery executes the single-spec fast path directly
	// against a local set-view, bypassing the OMQ/FW machinery.
	SimpleSetViewQuery(ctx context.Context, viewArgs any, callback func(row any) (stop bool, err error)) (reply any, err error)
}
