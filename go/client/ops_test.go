package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estuary/viewmerge/go/protocol"
)

func TestGetSequenceNumberParsesKnownStat(t *testing.T) {
	var c, server = newTestClient(t, Config{})

	var resultCh = make(chan uint64, 1)
	var errCh = make(chan error, 1)
	go func() {
		var seq, err = c.GetSequenceNumber(3)
		errCh <- err
		resultCh <- seq
	}()

	var reqHeader = readRequestHeader(t, server)
	require.Equal(t, protocol.OpSeqStat, reqHeader.Opcode)

	// one key/value pair frame, then a zero-body terminator.
	var key, value = "vb_3:high_seqno", "42"
	var body = make([]byte, len(key)+len(value))
	copy(body, key)
	copy(body[len(key):], value)
	writeFrame(t, server, protocol.Header{Opcode: protocol.OpSeqStat, RequestID: reqHeader.RequestID, KeyLen: uint16(len(key))}, body)
	writeFrame(t, server, protocol.Header{Opcode: protocol.OpSeqStat, RequestID: reqHeader.RequestID}, nil)

	require.NoError(t, <-errCh)
	require.Equal(t, uint64(42), <-resultCh)
}

func TestGetFailoverLogReturnsEntries(t *testing.T) {
	var c, server = newTestClient(t, Config{})

	var resultCh = make(chan []protocol.FailoverEntry, 1)
	var errCh = make(chan error, 1)
	go func() {
		var log, err = c.GetFailoverLog(5)
		errCh <- err
		resultCh <- log
	}()

	var reqHeader = readRequestHeader(t, server)
	require.Equal(t, protocol.OpFailoverLog, reqHeader.Opcode)

	writeFrame(t, server, protocol.Header{
		Opcode: protocol.OpFailoverLog, Status: protocol.StatusOK, RequestID: reqHeader.RequestID,
	}, failoverLogBody([]protocol.FailoverEntry{{UUID: 0x1, Seq: 99}, {UUID: 0x0, Seq: 0}}))

	require.NoError(t, <-errCh)
	require.Equal(t, []protocol.FailoverEntry{{UUID: 0x1, Seq: 99}, {UUID: 0x0, Seq: 0}}, <-resultCh)
}

func TestGetFailoverLogEmptyIsError(t *testing.T) {
	var c, server = newTestClient(t, Config{})

	var errCh = make(chan error, 1)
	go func() {
		var _, err = c.GetFailoverLog(5)
		errCh <- err
	}()

	var reqHeader = readRequestHeader(t, server)
	writeFrame(t, server, protocol.Header{
		Opcode: protocol.OpFailoverLog, Status: protocol.StatusOK, RequestID: reqHeader.RequestID,
	}, nil)

	require.ErrorIs(t, <-errCh, ErrNoFailoverLog)
}

func TestListStreamsReflectsActiveStreams(t *testing.T) {
	var c, server = newTestClient(t, Config{})

	require.Empty(t, c.ListStreams())

	var addDone = make(chan struct{})
	go func() {
		defer close(addDone)
		var _, _, err = c.AddStream(7, 0xC, 0, 10)
		require.NoError(t, err)
	}()

	var reqHeader = readRequestHeader(t, server)
	writeFrame(t, server, protocol.Header{
		Opcode: protocol.OpFailoverLog, Status: protocol.StatusOK, RequestID: reqHeader.RequestID,
	}, failoverLogBody([]protocol.FailoverEntry{{UUID: 0xC, Seq: 0}}))

	select {
	case <-addDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for add_stream")
	}

	require.Equal(t, []uint16{7}, c.ListStreams())
}
