// Package sacn provides ANSI E1.31 (Streaming ACN) packet encoding and decoding.
package sacn

import (
	"encoding/binary"
	"net"
)

const (
	// DefaultPort is the standard sACN UDP port.
	DefaultPort = 5568
	// MaxPriority is the highest priority a source may announce.
	MaxPriority uint8 = 200
	// DefaultPriority is the priority used when none is configured.
	DefaultPriority uint8 = 100
	// MinUniverse and MaxUniverse bound the universe numbers usable for data.
	MinUniverse uint16 = 1
	MaxUniverse uint16 = 63999
	// SourceNameLength is the size of the UTF-8 source name field.
	SourceNameLength = 64
	// MaxSlots is the number of DMX slots after the start code.
	MaxSlots = 512

	// DataPacketSize is the size of a full data packet (start code + 512 slots).
	DataPacketSize = dataHeaderSize + MaxSlots
	// SyncPacketSize is the fixed size of a synchronization packet.
	SyncPacketSize = 49

	preambleSize  uint16 = 0x0010
	postambleSize uint16 = 0x0000

	vectorRootData       uint32 = 0x00000004
	vectorRootExtended   uint32 = 0x00000008
	vectorFramingData    uint32 = 0x00000002
	vectorFramingSync    uint32 = 0x00000001
	vectorDMPSetProperty byte   = 0x02
	dmpAddressDataType   byte   = 0xa1

	flagsNibble = 0x7

	// Offsets of the PDU flags/length fields. Each length counts from its own offset
	// to the end of the packet.
	rootPDUOffset    = 16
	framingPDUOffset = 38
	dmpPDUOffset     = 115
	// dataHeaderSize covers everything up to and including the start code.
	dataHeaderSize = 126
)

// Options bits in the data framing layer.
const (
	optionPreview          byte = 0x80
	optionStreamTerminated byte = 0x40
	optionForceSync        byte = 0x20
)

// ACNPacketIdentifier is the fixed 12-byte ACN root layer identifier ("ASC-E1.17").
var ACNPacketIdentifier = [12]byte{0x41, 0x53, 0x43, 0x2d, 0x45, 0x31, 0x2e, 0x31, 0x37, 0x00, 0x00, 0x00}

// FlagsAndLength packs a PDU length with the fixed 0x7 flags nibble.
func FlagsAndLength(length int) uint16 {
	return 0x7000 | (uint16(length) & 0x0FFF)
}

// SplitFlagsAndLength unpacks a flags/length field.
func SplitFlagsAndLength(v uint16) (flags uint8, length int) {
	return uint8(v >> 12), int(v & 0x0FFF)
}

// ValidUniverse reports whether a universe number may carry data.
func ValidUniverse(u uint16) bool {
	return u >= MinUniverse && u <= MaxUniverse
}

// MulticastAddr returns the multicast group for a universe (239.255.hi.lo).
func MulticastAddr(universe uint16) net.IP {
	return net.IPv4(239, 255, byte(universe>>8), byte(universe))
}

// Packet is a decoded sACN packet: *DataPacket or *SyncPacket.
type Packet interface {
	Encode() []byte
	isPacket()
}

// Options holds the data framing option flags.
type Options struct {
	Preview          bool
	StreamTerminated bool
	ForceSync        bool
}

func (o Options) bits() byte {
	var b byte
	if o.Preview {
		b |= optionPreview
	}
	if o.StreamTerminated {
		b |= optionStreamTerminated
	}
	if o.ForceSync {
		b |= optionForceSync
	}
	return b
}

func optionsFromByte(b byte) Options {
	return Options{
		Preview:          b&optionPreview != 0,
		StreamTerminated: b&optionStreamTerminated != 0,
		ForceSync:        b&optionForceSync != 0,
	}
}

// DataPacket is an E1.31 data packet carrying one universe of slots.
type DataPacket struct {
	CID         [16]byte
	SourceName  string
	Priority    uint8
	SyncAddress uint16
	Sequence    uint8
	Options     Options
	Universe    uint16
	StartCode   byte
	// Data holds up to 512 slot values following the start code.
	Data []byte
}

func (*DataPacket) isPacket() {}

// Encode serializes the packet. Data beyond 512 slots is dropped and a source name
// longer than 64 bytes is truncated.
func (p *DataPacket) Encode() []byte {
	data := p.Data
	if len(data) > MaxSlots {
		data = data[:MaxSlots]
	}
	size := dataHeaderSize + len(data)
	buf := make([]byte, size)

	putRootLayer(buf, size, vectorRootData, p.CID)

	// Framing layer
	binary.BigEndian.PutUint16(buf[38:40], FlagsAndLength(size-framingPDUOffset))
	binary.BigEndian.PutUint32(buf[40:44], vectorFramingData)
	copy(buf[44:44+SourceNameLength], p.SourceName)
	buf[108] = p.Priority
	binary.BigEndian.PutUint16(buf[109:111], p.SyncAddress)
	buf[111] = p.Sequence
	buf[112] = p.Options.bits()
	binary.BigEndian.PutUint16(buf[113:115], p.Universe)

	// DMP layer
	binary.BigEndian.PutUint16(buf[115:117], FlagsAndLength(size-dmpPDUOffset))
	buf[117] = vectorDMPSetProperty
	buf[118] = dmpAddressDataType
	binary.BigEndian.PutUint16(buf[119:121], 0x0000) // first property address
	binary.BigEndian.PutUint16(buf[121:123], 0x0001) // address increment
	binary.BigEndian.PutUint16(buf[123:125], uint16(len(data)+1))
	buf[125] = p.StartCode
	copy(buf[dataHeaderSize:], data)

	return buf
}

// SyncPacket is an E1.31 synchronization packet.
type SyncPacket struct {
	CID         [16]byte
	Sequence    uint8
	SyncAddress uint16
}

func (*SyncPacket) isPacket() {}

// Encode serializes the packet into its fixed 49 bytes.
func (p *SyncPacket) Encode() []byte {
	buf := make([]byte, SyncPacketSize)

	putRootLayer(buf, SyncPacketSize, vectorRootExtended, p.CID)

	binary.BigEndian.PutUint16(buf[38:40], FlagsAndLength(SyncPacketSize-framingPDUOffset))
	binary.BigEndian.PutUint32(buf[40:44], vectorFramingSync)
	buf[44] = p.Sequence
	binary.BigEndian.PutUint16(buf[45:47], p.SyncAddress)
	// buf[47:49] reserved, left zero

	return buf
}

// putRootLayer writes the 38-byte root layer shared by every packet type.
func putRootLayer(buf []byte, size int, vector uint32, cid [16]byte) {
	binary.BigEndian.PutUint16(buf[0:2], preambleSize)
	binary.BigEndian.PutUint16(buf[2:4], postambleSize)
	copy(buf[4:16], ACNPacketIdentifier[:])
	binary.BigEndian.PutUint16(buf[16:18], FlagsAndLength(size-rootPDUOffset))
	binary.BigEndian.PutUint32(buf[18:22], vector)
	copy(buf[22:38], cid[:])
}
