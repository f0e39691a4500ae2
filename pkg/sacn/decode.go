package sacn

import (
	"bytes"
	"encoding/binary"
)

// Decode parses a data or synchronization packet. It never panics; malformed input
// yields a *DecodeError.
func Decode(b []byte) (Packet, error) {
	if len(b) < framingPDUOffset {
		return nil, decodeErr(ErrShortPacket, "root", "%d bytes", len(b))
	}

	if v := binary.BigEndian.Uint16(b[0:2]); v != preambleSize {
		return nil, decodeErr(ErrPreamble, "root.preamble", "0x%04x", v)
	}
	if v := binary.BigEndian.Uint16(b[2:4]); v != postambleSize {
		return nil, decodeErr(ErrPostamble, "root.postamble", "0x%04x", v)
	}
	if !bytes.Equal(b[4:16], ACNPacketIdentifier[:]) {
		return nil, decodeErr(ErrIdentifier, "root.identifier", "%q", b[4:16])
	}
	if err := checkPDU(b, rootPDUOffset, "root"); err != nil {
		return nil, err
	}

	var cid [16]byte
	copy(cid[:], b[22:38])

	switch vector := binary.BigEndian.Uint32(b[18:22]); vector {
	case vectorRootData:
		return decodeData(b, cid)
	case vectorRootExtended:
		return decodeExtended(b, cid)
	default:
		return nil, decodeErr(ErrVector, "root.vector", "0x%08x", vector)
	}
}

func decodeData(b []byte, cid [16]byte) (*DataPacket, error) {
	if len(b) < dataHeaderSize {
		return nil, decodeErr(ErrShortPacket, "framing", "%d bytes", len(b))
	}
	if err := checkPDU(b, framingPDUOffset, "framing"); err != nil {
		return nil, err
	}
	if v := binary.BigEndian.Uint32(b[40:44]); v != vectorFramingData {
		return nil, decodeErr(ErrVector, "framing.vector", "0x%08x", v)
	}
	if b[108] > MaxPriority {
		return nil, decodeErr(ErrPriority, "framing.priority", "%d", b[108])
	}
	if err := checkPDU(b, dmpPDUOffset, "dmp"); err != nil {
		return nil, err
	}
	if b[117] != vectorDMPSetProperty {
		return nil, decodeErr(ErrVector, "dmp.vector", "0x%02x", b[117])
	}
	if b[118] != dmpAddressDataType {
		return nil, decodeErr(ErrDMPFormat, "dmp.address_type", "0x%02x", b[118])
	}
	if v := binary.BigEndian.Uint16(b[119:121]); v != 0 {
		return nil, decodeErr(ErrDMPFormat, "dmp.first_address", "%d", v)
	}
	if v := binary.BigEndian.Uint16(b[121:123]); v != 1 {
		return nil, decodeErr(ErrDMPFormat, "dmp.increment", "%d", v)
	}
	count := int(binary.BigEndian.Uint16(b[123:125]))
	if count < 1 || count > MaxSlots+1 || count != len(b)-dataHeaderSize+1 {
		return nil, decodeErr(ErrLength, "dmp.count", "count %d for %d bytes", count, len(b))
	}

	p := &DataPacket{
		CID:         cid,
		SourceName:  string(bytes.TrimRight(b[44:108], "\x00")),
		Priority:    b[108],
		SyncAddress: binary.BigEndian.Uint16(b[109:111]),
		Sequence:    b[111],
		Options:     optionsFromByte(b[112]),
		Universe:    binary.BigEndian.Uint16(b[113:115]),
		StartCode:   b[125],
	}
	if slots := count - 1; slots > 0 {
		p.Data = make([]byte, slots)
		copy(p.Data, b[dataHeaderSize:])
	}
	return p, nil
}

func decodeExtended(b []byte, cid [16]byte) (*SyncPacket, error) {
	if len(b) < framingPDUOffset+6 {
		return nil, decodeErr(ErrShortPacket, "framing", "%d bytes", len(b))
	}
	if v := binary.BigEndian.Uint32(b[40:44]); v != vectorFramingSync {
		return nil, decodeErr(ErrVector, "framing.vector", "0x%08x", v)
	}
	if len(b) != SyncPacketSize {
		return nil, decodeErr(ErrLength, "sync", "%d bytes, want %d", len(b), SyncPacketSize)
	}
	if err := checkPDU(b, framingPDUOffset, "framing"); err != nil {
		return nil, err
	}

	return &SyncPacket{
		CID:         cid,
		Sequence:    b[44],
		SyncAddress: binary.BigEndian.Uint16(b[45:47]),
	}, nil
}

// checkPDU verifies the flags/length field at offset against the bytes remaining.
func checkPDU(b []byte, offset int, layer string) error {
	flags, length := SplitFlagsAndLength(binary.BigEndian.Uint16(b[offset : offset+2]))
	if flags != flagsNibble {
		return decodeErr(ErrFlags, layer+".flags", "0x%x", flags)
	}
	if want := len(b) - offset; length != want {
		return decodeErr(ErrLength, layer+".length", "%d, want %d", length, want)
	}
	return nil
}
