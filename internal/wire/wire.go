// Package wire encodes and decodes the fixed-size ring slot records
// exchanged with the back-end. All fields are little-endian. The codec
// is pure: it never allocates, blocks, or fails except by panicking on a
// programmer error (a slot buffer shorter than the fixed record size).
package wire

import "encoding/binary"

// Record sizes, in bytes.
const (
	RxReqSize  = 8
	RxRespSize = 8
	TxReqSize  = 12
	TxRespSize = 4
)

// TxFlag values carried in a TX request's flags field. Only MoreData is
// interpreted internally; the rest are advertised bits a backend may
// act on.
type TxFlag uint16

const (
	TxFlagCsumBlank     TxFlag = 1 << 0
	TxFlagDataValidated TxFlag = 1 << 1
	TxFlagMoreData      TxFlag = 1 << 2
	TxFlagExtraInfo     TxFlag = 1 << 3
)

func (f TxFlag) Has(bit TxFlag) bool { return f&bit != 0 }

// EncodeRxReq packs an RX request record: id, padding, gref.
func EncodeRxReq(id uint16, gref uint32, slot []byte) {
	mustFit(slot, RxReqSize)
	binary.LittleEndian.PutUint16(slot[0:2], id)
	binary.LittleEndian.PutUint16(slot[2:4], 0)
	binary.LittleEndian.PutUint32(slot[4:8], gref)
}

// DecodeRxResp unpacks an RX response record: id, offset, flags,
// status. A positive status is the length of the filled buffer; a
// negative status is a backend error code.
func DecodeRxResp(slot []byte) (id uint16, offset uint16, flags uint16, status int16) {
	mustFit(slot, RxRespSize)
	id = binary.LittleEndian.Uint16(slot[0:2])
	offset = binary.LittleEndian.Uint16(slot[2:4])
	flags = binary.LittleEndian.Uint16(slot[4:6])
	status = int16(binary.LittleEndian.Uint16(slot[6:8]))
	return
}

// EncodeTxReq packs a TX request record: gref, offset, flags, id,
// size.
func EncodeTxReq(id uint16, gref uint32, offset uint16, flags TxFlag, size uint16, slot []byte) {
	mustFit(slot, TxReqSize)
	binary.LittleEndian.PutUint32(slot[0:4], gref)
	binary.LittleEndian.PutUint16(slot[4:6], offset)
	binary.LittleEndian.PutUint16(slot[6:8], uint16(flags))
	binary.LittleEndian.PutUint16(slot[8:10], id)
	binary.LittleEndian.PutUint16(slot[10:12], size)
}

// DecodeTxResp unpacks a TX response record: id, status.
func DecodeTxResp(slot []byte) (id uint16, status int16) {
	mustFit(slot, TxRespSize)
	id = binary.LittleEndian.Uint16(slot[0:2])
	status = int16(binary.LittleEndian.Uint16(slot[2:4]))
	return
}

// mustFit aborts on a programmer error: the caller handed the codec a
// slot view shorter than the record it is packing or unpacking into.
// This can only happen if ring indexing is wrong, so it is not a
// recoverable runtime condition.
func mustFit(slot []byte, want int) {
	if len(slot) < want {
		panic("wire: slot buffer shorter than fixed record size")
	}
}
