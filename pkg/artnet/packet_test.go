package artnet

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestBuildDMXPacket(t *testing.T) {
	tests := []struct {
		name       string
		port       PortAddress
		wantSubUni byte
		wantNet    byte
	}{
		{
			name:       "Port 0:0:0",
			port:       0,
			wantSubUni: 0,
			wantNet:    0,
		},
		{
			name:       "Port 0:0:3",
			port:       3,
			wantSubUni: 3,
			wantNet:    0,
		},
		{
			name:       "Port 2:1:5",
			port:       PortAddress(2<<8 | 1<<4 | 5),
			wantSubUni: 0x15,
			wantNet:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packet := BuildDMXPacket(tt.port, make([]byte, 512), 0)

			if len(packet) != PacketSize {
				t.Errorf("BuildDMXPacket() packet size = %d, want %d", len(packet), PacketSize)
			}

			if gotID := string(packet[0:8]); gotID != "Art-Net\x00" {
				t.Errorf("BuildDMXPacket() ID = %q, want %q", gotID, "Art-Net\x00")
			}

			// OpCode is little-endian
			if gotOpCode := binary.LittleEndian.Uint16(packet[8:10]); gotOpCode != 0x5000 {
				t.Errorf("BuildDMXPacket() OpCode = 0x%04x, want 0x5000", gotOpCode)
			}

			// Protocol version is big-endian
			if gotVersion := binary.BigEndian.Uint16(packet[10:12]); gotVersion != ProtocolVersion {
				t.Errorf("BuildDMXPacket() Protocol Version = %d, want %d", gotVersion, ProtocolVersion)
			}

			if packet[12] != 0 {
				t.Errorf("BuildDMXPacket() Sequence = %d, want 0", packet[12])
			}

			if packet[14] != tt.wantSubUni {
				t.Errorf("BuildDMXPacket() SubUni = 0x%02x, want 0x%02x", packet[14], tt.wantSubUni)
			}
			if packet[15] != tt.wantNet {
				t.Errorf("BuildDMXPacket() Net = %d, want %d", packet[15], tt.wantNet)
			}

			if gotLength := binary.BigEndian.Uint16(packet[16:18]); gotLength != 512 {
				t.Errorf("BuildDMXPacket() Length = %d, want 512", gotLength)
			}
		})
	}
}

func TestBuildDMXPacket_ChannelData(t *testing.T) {
	channels := make([]byte, 512)
	channels[0] = 255
	channels[100] = 128
	channels[511] = 64

	packet := BuildDMXPacket(0, channels, 0)

	if packet[18] != 255 {
		t.Errorf("BuildDMXPacket() channel 1 = %d, want 255", packet[18])
	}
	if packet[18+100] != 128 {
		t.Errorf("BuildDMXPacket() channel 101 = %d, want 128", packet[18+100])
	}
	if packet[18+511] != 64 {
		t.Errorf("BuildDMXPacket() channel 512 = %d, want 64", packet[18+511])
	}
}

func TestBuildDMXPacket_ShortChannelArray(t *testing.T) {
	packet := BuildDMXPacket(0, []byte{100, 200}, 0)

	if packet[18] != 100 || packet[19] != 200 {
		t.Errorf("BuildDMXPacket() channels 1-2 = %d,%d, want 100,200", packet[18], packet[19])
	}

	// Remaining channels should be zero-padded
	if packet[20] != 0 {
		t.Errorf("BuildDMXPacket() channel 3 = %d, want 0", packet[20])
	}
}

func TestBuildDMXPacket_EmptyChannels(t *testing.T) {
	packet := BuildDMXPacket(0, nil, 0)

	if len(packet) != PacketSize {
		t.Errorf("BuildDMXPacket() with nil channels size = %d, want %d", len(packet), PacketSize)
	}

	for i := HeaderSize; i < PacketSize; i++ {
		if packet[i] != 0 {
			t.Errorf("BuildDMXPacket() channel at offset %d = %d, want 0", i-HeaderSize, packet[i])
			break
		}
	}
}

func TestNewPortAddress(t *testing.T) {
	tests := []struct {
		name                  string
		net, subNet, universe int
		want                  PortAddress
		wantErr               bool
	}{
		{"zero", 0, 0, 0, 0, false},
		{"max", 127, 15, 15, 0x7fff, false},
		{"mixed", 1, 2, 3, 0x0123, false},
		{"net too large", 128, 0, 0, 0, true},
		{"subnet too large", 0, 16, 0, 0, true},
		{"negative universe", 0, 0, -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPortAddress(tt.net, tt.subNet, tt.universe)
			if tt.wantErr {
				if !errors.Is(err, ErrPortAddress) {
					t.Errorf("NewPortAddress() error = %v, want ErrPortAddress", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewPortAddress() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NewPortAddress() = 0x%04x, want 0x%04x", got, tt.want)
			}
			if int(got.Net()) != tt.net || int(got.SubNet()) != tt.subNet || int(got.Universe()) != tt.universe {
				t.Errorf("parts = %d:%d:%d, want %d:%d:%d", got.Net(), got.SubNet(), got.Universe(), tt.net, tt.subNet, tt.universe)
			}
		})
	}
}

func TestPortAddressFromUniverse(t *testing.T) {
	p, err := PortAddressFromUniverse(1)
	if err != nil || p != 0 {
		t.Errorf("PortAddressFromUniverse(1) = %v, %v, want 0:0:0", p, err)
	}

	p, err = PortAddressFromUniverse(17)
	if err != nil || p.String() != "0:1:0" {
		t.Errorf("PortAddressFromUniverse(17) = %v, %v, want 0:1:0", p, err)
	}

	if _, err := PortAddressFromUniverse(0); !errors.Is(err, ErrPortAddress) {
		t.Errorf("PortAddressFromUniverse(0) error = %v", err)
	}
}

func TestBuildPollPacket(t *testing.T) {
	packet := BuildPollPacket()

	if len(packet) != PollPacketSize {
		t.Fatalf("BuildPollPacket() size = %d, want %d", len(packet), PollPacketSize)
	}
	op, err := OpCode(packet)
	if err != nil || op != OpCodePoll {
		t.Errorf("OpCode() = 0x%04x, %v, want 0x2000", op, err)
	}
	if packet[12] != 0x06 {
		t.Errorf("TalkToMe = 0x%02x, want 0x06", packet[12])
	}
}

func TestParseDMXPacket(t *testing.T) {
	port, _ := NewPortAddress(3, 4, 5)
	channels := []byte{1, 2, 3}
	packet := BuildDMXPacket(port, channels, 9)

	got, err := ParseDMXPacket(packet)
	if err != nil {
		t.Fatalf("ParseDMXPacket() error = %v", err)
	}
	if got.Port != port {
		t.Errorf("Port = %v, want %v", got.Port, port)
	}
	if got.Sequence != 9 {
		t.Errorf("Sequence = %d, want 9", got.Sequence)
	}
	if len(got.Data) != 512 || got.Data[2] != 3 || got.Data[3] != 0 {
		t.Errorf("Data = %v...", got.Data[:4])
	}
}

func TestParseDMXPacket_Errors(t *testing.T) {
	if _, err := ParseDMXPacket([]byte("garbage!!!")); !errors.Is(err, ErrNotArtNet) {
		t.Errorf("garbage error = %v, want ErrNotArtNet", err)
	}
	if _, err := ParseDMXPacket(BuildPollPacket()); !errors.Is(err, ErrOpCode) {
		t.Errorf("poll error = %v, want ErrOpCode", err)
	}
	truncated := BuildDMXPacket(0, nil, 0)[:100]
	if _, err := ParseDMXPacket(truncated); !errors.Is(err, ErrMalformed) {
		t.Errorf("truncated error = %v, want ErrMalformed", err)
	}
}
