// Package ops carries the ambient observability concerns this spec
// always exercises (spec.md §9 "global timing stats") even though
// spec.md's non-goals exclude the store and HTTP surface that would
// otherwise own an observability layer.
package ops

import log "github.com/sirupsen/logrus"

// Fields is a typed alias kept so call sites read the same way the
// teacher's go/shuffle and go/consumer packages do: log.WithFields(ops.Fields{...}).
type Fields = log.Fields

// Entry is the logger handle returned by WithFields.
type Entry = log.Entry

// WithFields returns an entry carrying the given structured fields, used
// by the log call sites in go/folder, go/coordinator and go/recvworker.
func WithFields(f Fields) *Entry {
	return log.WithFields(f)
}
