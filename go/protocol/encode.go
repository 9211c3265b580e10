package protocol

import "encoding/binary"

// EncodeSASLAuth builds a SASL-auth request frame carrying mechanism and
// credential bytes as the frame body.
func EncodeSASLAuth(reqID uint32, mechanism, credentials string) []byte {
	var body = append([]byte(mechanism), credentials...)
	var h = Header{
		Magic:     MagicRequest,
		Opcode:    OpSASLAuth,
		KeyLen:    uint16(len(mechanism)),
		BodyLen:   uint32(len(body)),
		RequestID: reqID,
	}
	return append(h.Encode(), body...)
}

// EncodeOpenConnection builds an open-connection request frame naming the
// client's connection name.
func EncodeOpenConnection(reqID uint32, name string) []byte {
	var h = Header{
		Magic:     MagicRequest,
		Opcode:    OpOpenConnection,
		KeyLen:    uint16(len(name)),
		BodyLen:   uint32(len(name)),
		RequestID: reqID,
	}
	return append(h.Encode(), name...)
}

// StreamRequestExtras is the fixed-width extras payload of a stream-request
// frame: flags, start sequence, end sequence, partition version (UUID).
type StreamRequestExtras struct {
	Flags        uint32
	StartSeq     uint64
	EndSeq       uint64
	PartUUID     uint64
}

// EncodeStreamRequest builds a stream-request frame for one partition.
func EncodeStreamRequest(reqID uint32, partition uint16, extras StreamRequestExtras) []byte {
	var eb = make([]byte, 28)
	binary.BigEndian.PutUint32(eb[0:4], extras.Flags)
	binary.BigEndian.PutUint64(eb[4:12], extras.StartSeq)
	binary.BigEndian.PutUint64(eb[12:20], extras.EndSeq)
	binary.BigEndian.PutUint64(eb[20:28], extras.PartUUID)

	var h = Header{
		Magic:       MagicRequest,
		Opcode:      OpStreamRequest,
		ExtrasLen:   uint8(len(eb)),
		PartitionID: partition,
		BodyLen:     uint32(len(eb)),
		RequestID:   reqID,
	}
	return append(h.Encode(), eb...)
}

// EncodeStreamClose builds a stream-close request frame for one partition.
func EncodeStreamClose(reqID uint32, partition uint16) []byte {
	var h = Header{
		Magic:       MagicRequest,
		Opcode:      OpStreamClose,
		PartitionID: partition,
		RequestID:   reqID,
	}
	return h.Encode()
}

// EncodeSeqStatRequest builds a stats request frame for one partition.
func EncodeSeqStatRequest(reqID uint32, partition uint16) []byte {
	var h = Header{
		Magic:       MagicRequest,
		Opcode:      OpSeqStat,
		PartitionID: partition,
		RequestID:   reqID,
	}
	return h.Encode()
}

// EncodeFailoverLogRequest builds a failover-log request frame for one
// partition.
func EncodeFailoverLogRequest(reqID uint32, partition uint16) []byte {
	var h = Header{
		Magic:       MagicRequest,
		Opcode:      OpFailoverLog,
		PartitionID: partition,
		RequestID:   reqID,
	}
	return h.Encode()
}
