// Package artnet provides Art-Net protocol packet building and parsing.
package artnet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// OpCodePoll is the Art-Net operation code for node discovery.
	OpCodePoll uint16 = 0x2000
	// OpCodePollReply is the Art-Net operation code for a node's poll answer.
	OpCodePollReply uint16 = 0x2100
	// OpCodeDMX is the Art-Net operation code for DMX data (OpOutput).
	OpCodeDMX uint16 = 0x5000
	// ProtocolVersion is the Art-Net protocol version.
	ProtocolVersion uint16 = 14
	// DMXDataLength is the number of DMX channels per universe.
	DMXDataLength uint16 = 512
	// HeaderSize is the ArtDMX header length before channel data.
	HeaderSize = 18
	// PacketSize is the total size of an Art-Net DMX packet.
	PacketSize = HeaderSize + int(DMXDataLength)
	// PollPacketSize is the size of an ArtPoll packet.
	PollPacketSize = 14
	// DefaultPort is the standard Art-Net UDP port.
	DefaultPort = 6454

	// pollTalkToMe asks nodes to reply to changes and send diagnostics unicast.
	pollTalkToMe byte = 0x06
)

var (
	// ErrNotArtNet is returned when a packet lacks the Art-Net identifier.
	ErrNotArtNet = errors.New("artnet: missing Art-Net identifier")
	// ErrOpCode is returned when a packet carries an unexpected operation.
	ErrOpCode = errors.New("artnet: unexpected opcode")
	// ErrMalformed is returned when lengths in a packet disagree.
	ErrMalformed = errors.New("artnet: malformed packet")
	// ErrPortAddress is returned for out-of-range Net/SubNet/Universe values.
	ErrPortAddress = errors.New("artnet: port-address out of range")
)

// ArtNetID is the Art-Net packet identifier.
var ArtNetID = []byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// PortAddress is the 15-bit Art-Net universe address: Net (7 bits), SubNet (4 bits)
// and Universe (4 bits).
type PortAddress uint16

// NewPortAddress composes a port-address from its parts.
func NewPortAddress(net, subNet, universe int) (PortAddress, error) {
	if net < 0 || net > 0x7f || subNet < 0 || subNet > 0x0f || universe < 0 || universe > 0x0f {
		return 0, fmt.Errorf("%w: net=%d subnet=%d universe=%d", ErrPortAddress, net, subNet, universe)
	}
	return PortAddress(net<<8 | subNet<<4 | universe), nil
}

// PortAddressFromUniverse maps a 1-based application universe onto a port-address,
// so universe 1 is 0:0:0.
func PortAddressFromUniverse(universe int) (PortAddress, error) {
	if universe < 1 || universe > 0x8000 {
		return 0, fmt.Errorf("%w: universe %d", ErrPortAddress, universe)
	}
	return PortAddress(universe - 1), nil
}

// Net returns the 7-bit Net part.
func (p PortAddress) Net() uint8 { return uint8(p>>8) & 0x7f }

// SubNet returns the 4-bit SubNet part.
func (p PortAddress) SubNet() uint8 { return uint8(p>>4) & 0x0f }

// Universe returns the 4-bit Universe part.
func (p PortAddress) Universe() uint8 { return uint8(p) & 0x0f }

// SubUni returns the combined SubNet/Universe byte used on the wire.
func (p PortAddress) SubUni() uint8 { return uint8(p) }

func (p PortAddress) String() string {
	return fmt.Sprintf("%d:%d:%d", p.Net(), p.SubNet(), p.Universe())
}

// BuildDMXPacket creates an ArtDMX packet for the given port-address.
// Channels should be exactly 512 bytes; shorter data is zero padded.
// A sequence of 0 disables receiver-side reordering.
func BuildDMXPacket(port PortAddress, channels []byte, sequence byte) []byte {
	packet := make([]byte, PacketSize)

	// Art-Net header
	copy(packet[0:8], ArtNetID)                                // ID (8 bytes): "Art-Net\0"
	binary.LittleEndian.PutUint16(packet[8:10], OpCodeDMX)     // OpCode (2 bytes): 0x5000 for DMX
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion) // Protocol version (2 bytes): 14
	packet[12] = sequence                                      // Sequence (1 byte)
	packet[13] = 0                                             // Physical input port (1 byte): 0
	packet[14] = port.SubUni()                                 // SubUni (1 byte)
	packet[15] = port.Net()                                    // Net (1 byte)
	binary.BigEndian.PutUint16(packet[16:18], DMXDataLength)   // Data length (2 bytes): 512

	// DMX data (512 channels)
	if len(channels) >= int(DMXDataLength) {
		copy(packet[HeaderSize:], channels[:DMXDataLength])
	} else {
		copy(packet[HeaderSize:HeaderSize+len(channels)], channels)
	}

	return packet
}

// BuildPollPacket creates an ArtPoll discovery packet.
func BuildPollPacket() []byte {
	packet := make([]byte, PollPacketSize)
	copy(packet[0:8], ArtNetID)
	binary.LittleEndian.PutUint16(packet[8:10], OpCodePoll)
	binary.BigEndian.PutUint16(packet[10:12], ProtocolVersion)
	packet[12] = pollTalkToMe
	packet[13] = 0 // diagnostics priority
	return packet
}

// OpCode returns the operation code of an Art-Net packet.
func OpCode(b []byte) (uint16, error) {
	if len(b) < 10 || !bytes.Equal(b[0:8], ArtNetID) {
		return 0, ErrNotArtNet
	}
	return binary.LittleEndian.Uint16(b[8:10]), nil
}

// DMXPacket is a parsed ArtDMX packet.
type DMXPacket struct {
	Sequence byte
	Physical byte
	Port     PortAddress
	Data     []byte
}

// ParseDMXPacket decodes an ArtDMX packet.
func ParseDMXPacket(b []byte) (*DMXPacket, error) {
	op, err := OpCode(b)
	if err != nil {
		return nil, err
	}
	if op != OpCodeDMX {
		return nil, fmt.Errorf("%w: 0x%04x", ErrOpCode, op)
	}
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte header", ErrMalformed, len(b))
	}
	length := int(binary.BigEndian.Uint16(b[16:18]))
	if length > int(DMXDataLength) || len(b) < HeaderSize+length {
		return nil, fmt.Errorf("%w: length %d in %d bytes", ErrMalformed, length, len(b))
	}

	p := &DMXPacket{
		Sequence: b[12],
		Physical: b[13],
		Port:     PortAddress(uint16(b[15]&0x7f)<<8 | uint16(b[14])),
		Data:     make([]byte, length),
	}
	copy(p.Data, b[HeaderSize:HeaderSize+length])
	return p, nil
}
