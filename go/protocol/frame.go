// Package protocol implements Protocol Framing: the binary header and
// body codec for the streaming event protocol, modeled on the DCP wire
// format. All multi-byte integers are big-endian.
package protocol

import (
	"encoding/binary"
	"fmt"
)

// Magic bytes identify a request vs. a response frame.
const (
	MagicRequest  byte = 0x80
	MagicResponse byte = 0x81
)

// Opcode identifies the operation or event carried by a frame.
type Opcode byte

const (
	OpSASLAuth Opcode = iota
	OpOpenConnection
	OpStreamRequest
	OpStreamClose
	OpSeqStat
	OpFailoverLog
	OpSnapshotMarker
	OpSnapshotMutation
	OpSnapshotDeletion
	OpSnapshotExpiration
	OpStreamEnd
)

// Status is the response status code.
type Status uint16

const (
	StatusOK              Status = 0x00
	StatusKeyNotFound     Status = 0x01
	StatusKeyEExists      Status = 0x02
	StatusERange          Status = 0x22
	StatusNotMyVBucket    Status = 0x07
	StatusRollback        Status = 0x23
	StatusSASLAuthFailed  Status = 0x20
)

// HeaderLen is the fixed size of every frame header, in bytes:
// magic(1) + opcode(1) + status(2) + key_len(2) + extras_len(1) +
// partition(2) + body_len(4) + request_id(4) + cas(8).
const HeaderLen = 25

// Header is the fixed-width frame header preceding every frame body.
type Header struct {
	Magic       byte
	Opcode      Opcode
	Status      Status // meaningful on response frames only
	KeyLen      uint16
	ExtrasLen   uint8
	PartitionID uint16
	BodyLen     uint32
	RequestID   uint32
	CAS         uint64
}

// Encode writes h in wire format.
func (h Header) Encode() []byte {
	var buf = make([]byte, HeaderLen)
	buf[0] = h.Magic
	buf[1] = byte(h.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], uint16(h.Status))
	binary.BigEndian.PutUint16(buf[4:6], h.KeyLen)
	buf[6] = h.ExtrasLen
	binary.BigEndian.PutUint16(buf[7:9], h.PartitionID)
	binary.BigEndian.PutUint32(buf[9:13], h.BodyLen)
	binary.BigEndian.PutUint32(buf[13:17], h.RequestID)
	binary.BigEndian.PutUint64(buf[17:25], h.CAS)
	return buf
}

// DecodeHeader parses a HeaderLen-byte buffer into a Header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	return Header{
		Magic:       buf[0],
		Opcode:      Opcode(buf[1]),
		Status:      Status(binary.BigEndian.Uint16(buf[2:4])),
		KeyLen:      binary.BigEndian.Uint16(buf[4:6]),
		ExtrasLen:   buf[6],
		PartitionID: binary.BigEndian.Uint16(buf[7:9]),
		BodyLen:     binary.BigEndian.Uint32(buf[9:13]),
		RequestID:   binary.BigEndian.Uint32(buf[13:17]),
		CAS:         binary.BigEndian.Uint64(buf[17:25]),
	}, nil
}
