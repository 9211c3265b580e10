package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	var h = Header{
		Magic:       MagicResponse,
		Opcode:      OpStreamRequest,
		Status:      StatusRollback,
		KeyLen:      4,
		ExtrasLen:   8,
		PartitionID: 17,
		BodyLen:     99,
		RequestID:   0xdeadbeef,
		CAS:         0x0102030405060708,
	}
	var got, err = DecodeHeader(h.Encode())
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHeaderShortBuffer(t *testing.T) {
	var _, err = DecodeHeader(make([]byte, HeaderLen-1))
	require.Error(t, err)
}

func TestDecodeFailoverLogBody(t *testing.T) {
	var h = Header{Opcode: OpFailoverLog}
	var body = make([]byte, 32)
	for i := range body {
		body[i] = byte(i)
	}
	var f, err = DecodeFrame(h, body)
	require.NoError(t, err)
	require.Equal(t, VariantFailoverLog, f.Variant)
	require.Len(t, f.FailoverLog, 2)
}

func TestDecodeMutationBody(t *testing.T) {
	var h = Header{Opcode: OpSnapshotMutation, KeyLen: 3}
	var body = make([]byte, mutationFixedLen+3+5)
	body[mutationFixedLen+0] = 'k'
	body[mutationFixedLen+1] = 'e'
	body[mutationFixedLen+2] = 'y'
	copy(body[mutationFixedLen+3:], []byte("value"))

	var f, err = DecodeFrame(h, body)
	require.NoError(t, err)
	require.Equal(t, VariantSnapshotMutation, f.Variant)
	require.Equal(t, []byte("key"), f.Mutation.Key)
	require.Equal(t, []byte("value"), f.Mutation.Value)
}

func TestDecodeDeletionAndExpirationShareShape(t *testing.T) {
	var h = Header{Opcode: OpSnapshotDeletion, KeyLen: 2}
	var body = make([]byte, deletionFixedLen+2)
	body[deletionFixedLen] = 'a'
	body[deletionFixedLen+1] = 'b'

	var f, err = DecodeFrame(h, body)
	require.NoError(t, err)
	require.Equal(t, VariantSnapshotDeletion, f.Variant)
	require.Equal(t, []byte("ab"), f.Deletion.Key)

	h.Opcode = OpSnapshotExpiration
	f, err = DecodeFrame(h, body)
	require.NoError(t, err)
	require.Equal(t, VariantSnapshotExpiration, f.Variant)
}

func TestDecodeFrameRejectsUnknownOpcode(t *testing.T) {
	var _, err = DecodeFrame(Header{Opcode: Opcode(200)}, nil)
	require.Error(t, err)
}

func TestEncodeStreamRequestCarriesExtras(t *testing.T) {
	var raw = EncodeStreamRequest(7, 3, StreamRequestExtras{Flags: 1, StartSeq: 4, EndSeq: 10, PartUUID: 0xabc})
	var h, err = DecodeHeader(raw[:HeaderLen])
	require.NoError(t, err)
	require.Equal(t, OpStreamRequest, h.Opcode)
	require.Equal(t, uint16(3), h.PartitionID)
	require.Equal(t, uint32(7), h.RequestID)
	require.Equal(t, uint32(28), h.BodyLen)
}
