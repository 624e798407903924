package rawstore

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

type opFlag uint8

// minOpSize = flag + kind + container + page + version + slot + id +
// reserved + count + nextID + status + dataLen
const minOpSize = 12

const (
	opFlagSet opFlag = 1 << iota
	opDataCompressed
)

// Marshal encodes the operation as a log record. The record data is
// compressed when that makes it shorter.
func (op *Operation) Marshal(compressor Compressor) []byte {
	var flag opFlag
	if op.Flag {
		flag |= opFlagSet
	}
	data := op.Data
	if compressor != nil && len(data) > 0 {
		dataC := compressor(data)
		if len(dataC) < len(data) {
			data = dataC
			flag |= opDataCompressed
		}
	}

	buf := bytes.NewBuffer(make([]byte, 0, minOpSize+len(data)+32))
	buf.WriteByte(byte(flag))
	buf.WriteByte(byte(op.Kind))
	var tmp [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(tmp[:], v)
		buf.Write(tmp[:n])
	}
	putVarint := func(v int64) {
		n := binary.PutVarint(tmp[:], v)
		buf.Write(tmp[:n])
	}
	putUvarint(op.Page.Container)
	putVarint(op.Page.Page)
	putVarint(op.Version)
	putUvarint(uint64(op.Slot))
	putVarint(int64(op.RecordID))
	putUvarint(uint64(op.Reserved))
	putUvarint(uint64(op.Count))
	putVarint(int64(op.NextRecordID))
	buf.WriteByte(op.Status)
	putUvarint(uint64(len(data)))
	buf.Write(data)
	return buf.Bytes()
}

// Unmarshal decodes a log record written by Marshal.
func (op *Operation) Unmarshal(data []byte, decompressor DeCompressor) error {
	if len(data) < minOpSize {
		return errors.Errorf("log record of %d bytes is shorter than %d", len(data), minOpSize)
	}
	reader := bytes.NewReader(data)
	_flag, _ := reader.ReadByte()
	flag := opFlag(_flag)
	kind, _ := reader.ReadByte()
	if flag&opDataCompressed != 0 && decompressor == nil {
		return errors.New("log record is compressed but decompressor is nil")
	}

	var err error
	uvarint := func(what string) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		if v, err = binary.ReadUvarint(reader); err != nil {
			err = errors.Wrapf(err, "failed to read %s", what)
		}
		return v
	}
	varint := func(what string) int64 {
		if err != nil {
			return 0
		}
		var v int64
		if v, err = binary.ReadVarint(reader); err != nil {
			err = errors.Wrapf(err, "failed to read %s", what)
		}
		return v
	}

	*op = Operation{Kind: OpKind(kind), Flag: flag&opFlagSet != 0}
	op.Page.Container = uvarint("container")
	op.Page.Page = varint("page")
	op.Version = varint("version")
	op.Slot = int(uvarint("slot"))
	op.RecordID = int32(varint("record id"))
	op.Reserved = int(uvarint("reserved"))
	op.Count = int(uvarint("count"))
	op.NextRecordID = int32(varint("next record id"))
	if err != nil {
		return err
	}
	if op.Status, err = reader.ReadByte(); err != nil {
		return errors.Wrap(err, "failed to read status")
	}
	n := uvarint("data length")
	if err != nil {
		return err
	}
	if n > uint64(reader.Len()) {
		return errors.Errorf("data length %d exceeds remaining %d bytes", n, reader.Len())
	}
	if n > 0 {
		op.Data = make([]byte, n)
		if _, err = reader.Read(op.Data); err != nil {
			return errors.Wrap(err, "failed to read data")
		}
	}
	if flag&opDataCompressed != 0 {
		if op.Data, err = decompressor(op.Data); err != nil {
			return errors.Wrap(err, "failed to decompress data")
		}
	}
	return nil
}
