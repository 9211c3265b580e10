// Package recvworker implements the Receive Worker: the single goroutine
// that owns the read side of the streaming protocol socket, translating
// wire frames into domain-level StreamResponse and StreamEvent messages
// for the Streaming Protocol Client's coordinator goroutine.
package recvworker

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/estuary/viewmerge/go/ops"
	"github.com/estuary/viewmerge/go/protocol"
)

// ReplyKind discriminates the variants of a translated response reply.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyFailoverLog
	ReplyRollback
	ReplyError
)

// Reply is the domain-level translation of a response frame's status and
// body, per spec.md §4.6 step 3.
type Reply struct {
	Kind ReplyKind

	FailoverLog []protocol.FailoverEntry // ReplyFailoverLog
	RollbackSeq uint64                   // ReplyRollback
	ErrKind     string                   // ReplyError; one of the mapped kinds below
	ErrStatus   protocol.Status          // ReplyError, kind == "" (unmapped)
	Stats       map[string]string        // ReplyOK, when produced by a stats request
}

// StreamResponse is dispatched for every response opcode (stream-request,
// failover-log, stream-close, stats).
type StreamResponse struct {
	ReqID uint32
	Reply Reply
}

// StreamEvent is dispatched for every event opcode (snapshot marker,
// mutation, deletion/expiration, stream-end).
type StreamEvent struct {
	ReqID   uint32
	Variant protocol.Variant
	Frame   protocol.Frame
}

// Worker owns the read side of one connection and emits translated
// messages on Responses/Events until the connection errors or ctx-less
// Run returns.
type Worker struct {
	Conn      io.Reader
	Responses chan<- StreamResponse
	Events    chan<- StreamEvent

	statsAccum map[uint32]map[string]string
}

// mapStatus translates a response status per spec.md §4.6's bit-exact
// status table, returning "" for an unmapped status. ROLLBACK is not
// mapped here: dispatchResponse decodes its seq from the body of a
// stream-request response.
func mapStatus(status protocol.Status) string {
	switch status {
	case protocol.StatusKeyNotFound:
		return "wrong_partition_version"
	case protocol.StatusERange:
		return "wrong_start_sequence_number"
	case protocol.StatusKeyEExists:
		return "vbucket_stream_already_exists"
	case protocol.StatusNotMyVBucket:
		return "vbucket_stream_not_found"
	case protocol.StatusSASLAuthFailed:
		return "sasl_auth_failed"
	default:
		return ""
	}
}

// Run reads frames until the connection errors, dispatching translated
// messages as it goes. It returns the terminal read, decode or dispatch
// error (never nil);
// per spec.md §4.6 step 5 and §5 "fatal to client", the caller stops the
// whole SPC on this return.
func (w *Worker) Run() error {
	var header = make([]byte, protocol.HeaderLen)
	for {
		if _, err := io.ReadFull(w.Conn, header); err != nil {
			var wrapped = errors.Wrap(err, "reading frame header")
			ops.WithFields(ops.Fields{"err": err}).Warn("receive worker terminating: frame header read failed")
			return wrapped
		}
		var h, err = protocol.DecodeHeader(header)
		if err != nil {
			var wrapped = errors.Wrap(err, "decoding frame header")
			ops.WithFields(ops.Fields{"err": err}).Warn("receive worker terminating: frame header decode failed")
			return wrapped
		}

		var body = make([]byte, h.BodyLen)
		if h.BodyLen > 0 {
			if _, err := io.ReadFull(w.Conn, body); err != nil {
				var wrapped = errors.Wrap(err, "reading frame body")
				ops.WithFields(ops.Fields{"req_id": h.RequestID, "opcode": h.Opcode, "err": err}).
					Warn("receive worker terminating: frame body read failed")
				return wrapped
			}
		}

		if err := w.dispatch(h, body); err != nil {
			ops.WithFields(ops.Fields{"req_id": h.RequestID, "opcode": h.Opcode, "err": err}).
				Warn("receive worker terminating: dispatch failed")
			return err
		}
	}
}

func (w *Worker) dispatch(h protocol.Header, body []byte) error {
	switch h.Opcode {
	case protocol.OpStreamRequest, protocol.OpFailoverLog, protocol.OpStreamClose:
		return w.dispatchResponse(h, body)
	case protocol.OpSeqStat:
		return w.dispatchStats(h, body)
	case protocol.OpSnapshotMarker, protocol.OpSnapshotMutation,
		protocol.OpSnapshotDeletion, protocol.OpSnapshotExpiration, protocol.OpStreamEnd:
		var frame, err = protocol.DecodeFrame(h, body)
		if err != nil {
			return err
		}
		w.Events <- StreamEvent{ReqID: h.RequestID, Variant: frame.Variant, Frame: frame}
		return nil
	default:
		return fmt.Errorf("unknown opcode %d", h.Opcode)
	}
}

func (w *Worker) dispatchResponse(h protocol.Header, body []byte) error {
	var reply = Reply{Kind: ReplyOK}

	switch {
	case h.Status == protocol.StatusOK && h.Opcode == protocol.OpFailoverLog:
		var frame, err = protocol.DecodeFrame(h, body)
		if err != nil {
			return err
		}
		reply = Reply{Kind: ReplyFailoverLog, FailoverLog: frame.FailoverLog}
	case h.Status == protocol.StatusRollback && h.Opcode == protocol.OpStreamRequest:
		if len(body) < 8 {
			return errors.New("short rollback body")
		}
		reply = Reply{Kind: ReplyRollback, RollbackSeq: binary.BigEndian.Uint64(body[:8])}
	case h.Status != protocol.StatusOK:
		if kind := mapStatus(h.Status); kind != "" {
			ops.WithFields(ops.Fields{"req_id": h.RequestID, "opcode": h.Opcode, "status": h.Status, "kind": kind}).
				Warn("protocol response error")
			reply = Reply{Kind: ReplyError, ErrKind: kind}
		} else {
			ops.WithFields(ops.Fields{"req_id": h.RequestID, "opcode": h.Opcode, "status": h.Status}).
				Warn("unmapped protocol response error")
			reply = Reply{Kind: ReplyError, ErrStatus: h.Status}
		}
	}

	w.Responses <- StreamResponse{ReqID: h.RequestID, Reply: reply}
	return nil
}

// dispatchStats accumulates key/value pairs per spec.md §4.6 step 4: a
// zero-body frame terminates one request-id's run, at which point the
// full accumulated list is dispatched as a single StreamResponse.
func (w *Worker) dispatchStats(h protocol.Header, body []byte) error {
	if w.statsAccum == nil {
		w.statsAccum = map[uint32]map[string]string{}
	}
	if len(body) == 0 {
		var pairs = w.statsAccum[h.RequestID]
		delete(w.statsAccum, h.RequestID)
		w.Responses <- StreamResponse{ReqID: h.RequestID, Reply: Reply{Kind: ReplyOK, Stats: pairs}}
		return nil
	}

	var key = string(body[:h.KeyLen])
	var value = string(body[h.KeyLen:])
	if w.statsAccum[h.RequestID] == nil {
		w.statsAccum[h.RequestID] = map[string]string{}
	}
	w.statsAccum[h.RequestID][key] = value
	return nil
}
