package recvworker

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estuary/viewmerge/go/protocol"
)

func frame(h protocol.Header, body []byte) []byte {
	h.BodyLen = uint32(len(body))
	return append(h.Encode(), body...)
}

func TestDispatchesFailoverLogResponse(t *testing.T) {
	var body = make([]byte, 16)
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.OpFailoverLog, Status: protocol.StatusOK, RequestID: 5}, body))

	var responses = make(chan StreamResponse, 1)
	var w = &Worker{Conn: &wire, Responses: responses, Events: make(chan StreamEvent, 1)}

	require.Error(t, w.Run()) // EOF after the one frame
	var resp = <-responses
	require.Equal(t, uint32(5), resp.ReqID)
	require.Equal(t, ReplyFailoverLog, resp.Reply.Kind)
	require.Len(t, resp.Reply.FailoverLog, 1)
}

func TestDispatchesRollbackResponse(t *testing.T) {
	var body = make([]byte, 8)
	body[7] = 250
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.OpStreamRequest, Status: protocol.StatusRollback, RequestID: 9}, body))

	var responses = make(chan StreamResponse, 1)
	var w = &Worker{Conn: &wire, Responses: responses, Events: make(chan StreamEvent, 1)}

	require.Error(t, w.Run())
	var resp = <-responses
	require.Equal(t, ReplyRollback, resp.Reply.Kind)
	require.Equal(t, uint64(250), resp.Reply.RollbackSeq)
}

func TestMapsKeyNotFoundToWrongPartitionVersion(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.OpStreamRequest, Status: protocol.StatusKeyNotFound, RequestID: 1}, nil))

	var responses = make(chan StreamResponse, 1)
	var w = &Worker{Conn: &wire, Responses: responses, Events: make(chan StreamEvent, 1)}

	require.Error(t, w.Run())
	var resp = <-responses
	require.Equal(t, ReplyError, resp.Reply.Kind)
	require.Equal(t, "wrong_partition_version", resp.Reply.ErrKind)
}

func TestUnmappedStatusCarriesRawCode(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.OpStreamClose, Status: protocol.Status(0x99), RequestID: 2}, nil))

	var responses = make(chan StreamResponse, 1)
	var w = &Worker{Conn: &wire, Responses: responses, Events: make(chan StreamEvent, 1)}

	require.Error(t, w.Run())
	var resp = <-responses
	require.Equal(t, ReplyError, resp.Reply.Kind)
	require.Equal(t, "", resp.Reply.ErrKind)
	require.Equal(t, protocol.Status(0x99), resp.Reply.ErrStatus)
}

func TestStatsAccumulateUntilZeroBodyTerminator(t *testing.T) {
	var wire bytes.Buffer
	var kv = func(k, v string) []byte { return []byte(k + v) }
	wire.Write(frame(protocol.Header{Opcode: protocol.OpSeqStat, RequestID: 3, KeyLen: 3}, kv("vb0", "100")))
	wire.Write(frame(protocol.Header{Opcode: protocol.OpSeqStat, RequestID: 3, KeyLen: 3}, kv("vb1", "200")))
	wire.Write(frame(protocol.Header{Opcode: protocol.OpSeqStat, RequestID: 3}, nil)) // terminator

	var responses = make(chan StreamResponse, 1)
	var w = &Worker{Conn: &wire, Responses: responses, Events: make(chan StreamEvent, 1)}

	require.Error(t, w.Run())
	var resp = <-responses
	require.Equal(t, map[string]string{"vb0": "100", "vb1": "200"}, resp.Reply.Stats)
}

func TestSnapshotMutationDispatchesAsEvent(t *testing.T) {
	var body = make([]byte, 24+3)
	body[24], body[25], body[26] = 'k', 'e', 'y'
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.OpSnapshotMutation, RequestID: 4, KeyLen: 3}, body))

	var events = make(chan StreamEvent, 1)
	var w = &Worker{Conn: &wire, Responses: make(chan StreamResponse, 1), Events: events}

	require.Error(t, w.Run())
	var ev = <-events
	require.Equal(t, uint32(4), ev.ReqID)
	require.Equal(t, protocol.VariantSnapshotMutation, ev.Variant)
	require.Equal(t, []byte("key"), ev.Frame.Mutation.Key)
}

func TestUnknownOpcodeTerminatesWorker(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(protocol.Header{Opcode: protocol.Opcode(250), RequestID: 1}, nil))

	var w = &Worker{Conn: &wire, Responses: make(chan StreamResponse, 1), Events: make(chan StreamEvent, 1)}
	require.Error(t, w.Run())
}
