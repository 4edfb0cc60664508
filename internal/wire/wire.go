// Package wire implements the store's on-socket protocol: a 16-byte
// frame header, fixed-size Request/Reply payload structs, and raw
// 20-byte notification frames. Marshaling is explicit field-by-field
// encoding/binary, grounded on the teacher's internal/uapi/marshal.go
// (marshalIOCmd/unmarshalIOCmd and friends), in preference to the
// teacher's unsafe-pointer directMarshal fallback: every payload here
// has a stable, spec-defined layout, so there's no case that needs it.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/shmstore/internal/constants"
	"github.com/ehrlich-b/shmstore/internal/types"
)

// ErrShort is returned by the Unmarshal functions when the supplied
// buffer is smaller than the structure being decoded.
type ErrShort struct {
	Want, Got int
}

func (e *ErrShort) Error() string {
	return fmt.Sprintf("wire: short buffer: want %d bytes, got %d", e.Want, e.Got)
}

// Header is the 16-byte frame preamble that precedes every Request and
// Reply payload: (type int64, length int64).
type Header struct {
	Type   int64
	Length int64
}

// MarshalHeader encodes h into a fresh 16-byte buffer.
func MarshalHeader(h Header) []byte {
	buf := make([]byte, constants.FrameHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(h.Type))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Length))
	return buf
}

// UnmarshalHeader decodes a 16-byte frame preamble.
func UnmarshalHeader(data []byte) (Header, error) {
	if len(data) < constants.FrameHeaderSize {
		return Header{}, &ErrShort{Want: constants.FrameHeaderSize, Got: len(data)}
	}
	return Header{
		Type:   int64(binary.LittleEndian.Uint64(data[0:8])),
		Length: int64(binary.LittleEndian.Uint64(data[8:16])),
	}, nil
}

// Request is the fixed-size payload carried by CREATE/GET/CONTAINS/
// SEAL/DELETE requests: { id: 20 bytes, data_size, metadata_size: int64,
// addr: 4 bytes, port: int32 }. addr/port are accepted on the wire for
// client compatibility but unused by the core (spec.md §6).
type Request struct {
	ID           types.ObjectID
	DataSize     int64
	MetadataSize int64
	Addr         [4]byte
	Port         int32
}

// MarshalRequest encodes r into a fresh RequestPayloadSize buffer.
func MarshalRequest(r Request) []byte {
	buf := make([]byte, constants.RequestPayloadSize)
	off := 0
	copy(buf[off:off+constants.ObjectIDSize], r.ID[:])
	off += constants.ObjectIDSize
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.DataSize))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(r.MetadataSize))
	off += 8
	copy(buf[off:off+4], r.Addr[:])
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.Port))
	return buf
}

// UnmarshalRequest decodes a RequestPayloadSize buffer into a Request.
func UnmarshalRequest(data []byte) (Request, error) {
	if len(data) < constants.RequestPayloadSize {
		return Request{}, &ErrShort{Want: constants.RequestPayloadSize, Got: len(data)}
	}
	var r Request
	off := 0
	copy(r.ID[:], data[off:off+constants.ObjectIDSize])
	off += constants.ObjectIDSize
	r.DataSize = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	r.MetadataSize = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	off += 8
	copy(r.Addr[:], data[off:off+4])
	off += 4
	r.Port = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	return r, nil
}

// Reply is the fixed-size payload carried back on CREATE/GET/CONTAINS/
// SEAL replies (DELETE sends no reply): { data_offset, metadata_offset, map_size,
// data_size, metadata_size: int64; has_object, store_fd_val: int32 }.
// Replies for CREATE/GET/SEAL additionally carry one passed fd via
// ancillary data; CONTAINS carries no fd (spec.md §6).
type Reply struct {
	DataOffset     int64
	MetadataOffset int64
	MapSize        int64
	DataSize       int64
	MetadataSize   int64
	HasObject      int32
	StoreFDVal     int32
}

// MarshalReply encodes r into a fresh ReplyPayloadSize buffer.
func MarshalReply(r Reply) []byte {
	buf := make([]byte, constants.ReplyPayloadSize)
	off := 0
	for _, v := range []int64{r.DataOffset, r.MetadataOffset, r.MapSize, r.DataSize, r.MetadataSize} {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(v))
		off += 8
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.HasObject))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(r.StoreFDVal))
	return buf
}

// UnmarshalReply decodes a ReplyPayloadSize buffer into a Reply.
func UnmarshalReply(data []byte) (Reply, error) {
	if len(data) < constants.ReplyPayloadSize {
		return Reply{}, &ErrShort{Want: constants.ReplyPayloadSize, Got: len(data)}
	}
	var r Reply
	off := 0
	vals := make([]int64, 5)
	for i := range vals {
		vals[i] = int64(binary.LittleEndian.Uint64(data[off : off+8]))
		off += 8
	}
	r.DataOffset, r.MetadataOffset, r.MapSize, r.DataSize, r.MetadataSize = vals[0], vals[1], vals[2], vals[3], vals[4]
	r.HasObject = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	r.StoreFDVal = int32(binary.LittleEndian.Uint32(data[off : off+4]))
	return r, nil
}

// MarshalNotification encodes a single notification frame: the raw
// 20-byte identifier, no header (spec.md §6).
func MarshalNotification(id types.ObjectID) []byte {
	buf := make([]byte, constants.NotificationFrameSize)
	copy(buf, id[:])
	return buf
}

// UnmarshalNotification decodes a single notification frame.
func UnmarshalNotification(data []byte) (types.ObjectID, error) {
	if len(data) < constants.NotificationFrameSize {
		return types.ObjectID{}, &ErrShort{Want: constants.NotificationFrameSize, Got: len(data)}
	}
	var id types.ObjectID
	copy(id[:], data[:constants.NotificationFrameSize])
	return id, nil
}
