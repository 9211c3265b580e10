package client

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/estuary/viewmerge/go/protocol"
	"github.com/estuary/viewmerge/go/recvworker"
)

// Rollback is AddStream/EnumDocsSince's reply when the server demands the
// consumer resume from an earlier sequence.
type Rollback struct{ Seq uint64 }

// AddStream allocates the next request-id, sends a stream-request frame,
// and waits for the reply. On a failoverlog reply the coordinator
// simultaneously creates this req-id's StreamQueue and records it in
// ActiveStreams (spec.md §4.7 "add_stream").
func (c *Client) AddStream(partition uint16, partVersion uint64, startSeq, endSeq uint64) (uint32, recvworker.Reply, error) {
	var result = make(chan requestResult, 1)
	c.cmds <- command{run: func(st *state) {
		var reqID = st.allocReqID()
		st.pending[reqID] = pendingRequest{result: result, registerStream: true, partition: partition}

		var raw = protocol.EncodeStreamRequest(reqID, partition, protocol.StreamRequestExtras{
			StartSeq: startSeq, EndSeq: endSeq, PartUUID: partVersion,
		})
		if _, err := c.conn.Write(raw); err != nil {
			delete(st.pending, reqID)
			c.logger().WithField("err", err).Warn("writing stream-request frame failed")
			result <- requestResult{reqID: reqID, reply: recvworker.Reply{Kind: recvworker.ReplyError, ErrKind: "closed"}}
		}
	}}

	var res, ok = <-result
	if !ok {
		return 0, recvworker.Reply{}, errors.New("closed")
	}
	return res.reqID, res.reply, nil
}

// RemoveStream looks up the active req-id for partition and sends a
// stream-close; on ok or vbucket_stream_not_found the StreamQueue is
// removed (spec.md §4.7 "remove_stream").
func (c *Client) RemoveStream(partition uint16) error {
	var result = make(chan requestResult, 1)
	var notActive = make(chan struct{}, 1)
	c.cmds <- command{run: func(st *state) {
		var streamReqID, ok = st.activeStreams[partition]
		if !ok {
			notActive <- struct{}{}
			return
		}
		var closeReqID = st.allocReqID()
		st.pending[closeReqID] = pendingRequest{result: result, removeStreamReqID: streamReqID}
		if _, err := c.conn.Write(protocol.EncodeStreamClose(closeReqID, partition)); err != nil {
			delete(st.pending, closeReqID)
			c.logger().WithField("err", err).Warn("writing stream-close frame failed")
			result <- requestResult{reply: recvworker.Reply{Kind: recvworker.ReplyError, ErrKind: "closed"}}
		}
	}}

	select {
	case <-notActive:
		return ErrStreamNotFound
	case res, ok := <-result:
		if !ok {
			return errors.New("closed")
		}
		if res.reply.Kind == recvworker.ReplyError && res.reply.ErrKind != "vbucket_stream_not_found" {
			return errors.New(res.reply.ErrKind)
		}
		return nil
	}
}

// GetStreamEvent pops the next queued event for req-id, or suspends until
// one arrives or the stream ends (spec.md §4.7 "get_stream_event").
func (c *Client) GetStreamEvent(reqID uint32) (recvworker.StreamEvent, error) {
	var result = make(chan eventResult, 1)
	c.cmds <- command{run: func(st *state) {
		var q, ok = st.queues[reqID]
		if !ok {
			result <- eventResult{err: ErrStreamNotFound}
			return
		}
		if len(q.events) > 0 {
			var ev = q.events[0]
			q.events = q.events[1:]
			result <- eventResult{event: ev}
			if ev.Variant == protocol.VariantStreamEnd {
				st.removeQueue(reqID)
			}
			return
		}
		q.waiters = append(q.waiters, result)
	}}

	var res = <-result
	return res.event, res.err
}

// ListStreams returns the partitions with an active StreamQueue.
func (c *Client) ListStreams() []uint16 {
	var result = make(chan []uint16, 1)
	c.cmds <- command{run: func(st *state) {
		var parts = make([]uint16, 0, len(st.activeStreams))
		for p := range st.activeStreams {
			parts = append(parts, p)
		}
		result <- parts
	}}
	return <-result
}

func seqStatKey(partition uint16) string {
	return fmt.Sprintf("vb_%d:high_seqno", partition)
}

// GetSequenceNumber issues a stats request and parses the single known
// stat (spec.md §4.7 "get_sequence_number").
func (c *Client) GetSequenceNumber(partition uint16) (uint64, error) {
	var result = make(chan requestResult, 1)
	c.cmds <- command{run: func(st *state) {
		var reqID = st.allocReqID()
		st.pending[reqID] = pendingRequest{result: result}
		if _, err := c.conn.Write(protocol.EncodeSeqStatRequest(reqID, partition)); err != nil {
			delete(st.pending, reqID)
			c.logger().WithField("err", err).Warn("writing stats request frame failed")
			result <- requestResult{reply: recvworker.Reply{Kind: recvworker.ReplyError, ErrKind: "closed"}}
		}
	}}

	var res, ok = <-result
	if !ok {
		return 0, errors.New("closed")
	}
	if res.reply.Kind == recvworker.ReplyError {
		if res.reply.ErrKind == "vbucket_stream_not_found" {
			return 0, errors.New("not_my_vbucket")
		}
		return 0, errors.New("stats request failed")
	}
	var raw, found = res.reply.Stats[seqStatKey(partition)]
	if !found {
		return 0, errors.New("not_my_vbucket")
	}
	return strconv.ParseUint(raw, 10, 64)
}

// GetFailoverLog issues a failover-log request for partition.
func (c *Client) GetFailoverLog(partition uint16) ([]protocol.FailoverEntry, error) {
	var result = make(chan requestResult, 1)
	c.cmds <- command{run: func(st *state) {
		var reqID = st.allocReqID()
		st.pending[reqID] = pendingRequest{result: result}
		if _, err := c.conn.Write(protocol.EncodeFailoverLogRequest(reqID, partition)); err != nil {
			delete(st.pending, reqID)
			c.logger().WithField("err", err).Warn("writing failover-log request frame failed")
			result <- requestResult{reply: recvworker.Reply{Kind: recvworker.ReplyError, ErrKind: "closed"}}
		}
	}}

	var res, ok = <-result
	if !ok {
		return nil, errors.New("closed")
	}
	if res.reply.Kind != recvworker.ReplyFailoverLog {
		return nil, errors.New("unexpected failover-log reply")
	}
	if len(res.reply.FailoverLog) == 0 {
		return nil, ErrNoFailoverLog
	}
	return res.reply.FailoverLog, nil
}

// EnumDocsSince tries each partition version in order, falling through to
// the next on wrong_partition_version; on success it drives
// get_stream_event in a loop, folding each mutation/deletion into acc and
// skipping snapshot markers, until stream_end. Exhausting all versions
// yields Rollback{0} (spec.md §4.7 "enum_docs_since").
func (c *Client) EnumDocsSince(partition uint16, versions []uint64, startSeq, endSeq uint64, foldFn func(doc any, acc any) any, acc any) (any, error) {
	for _, version := range versions {
		var reqID, reply, err = c.AddStream(partition, version, startSeq, endSeq)
		if err != nil {
			return nil, err
		}

		switch reply.Kind {
		case recvworker.ReplyRollback:
			return Rollback{Seq: reply.RollbackSeq}, nil
		case recvworker.ReplyError:
			if reply.ErrKind == "wrong_partition_version" {
				continue
			}
			if reply.ErrKind != "" {
				return nil, errors.New(reply.ErrKind)
			}
			return nil, fmt.Errorf("add_stream failed: status %d", reply.ErrStatus)
		case recvworker.ReplyFailoverLog:
			if c.cfg.MaxFailoverLogSize > 0 && len(reply.FailoverLog) > c.cfg.MaxFailoverLogSize {
				return nil, ErrTooLargeFailoverLog
			}
			return c.drainStream(reqID, foldFn, acc)
		}
	}
	return Rollback{Seq: 0}, nil
}

func (c *Client) drainStream(reqID uint32, foldFn func(doc any, acc any) any, acc any) (any, error) {
	for {
		var ev, err = c.GetStreamEvent(reqID)
		if err != nil {
			return nil, err
		}
		switch ev.Variant {
		case protocol.VariantSnapshotMutation:
			acc = foldFn(ev.Frame.Mutation, acc)
		case protocol.VariantSnapshotDeletion, protocol.VariantSnapshotExpiration:
			acc = foldFn(ev.Frame.Deletion, acc)
		case protocol.VariantSnapshotMarker:
			// brackets a consistent-snapshot boundary; no fold action.
		case protocol.VariantStreamEnd:
			return acc, nil
		}
	}
}
