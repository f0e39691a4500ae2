package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/sacn"
)

var captureStart = time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)

type udpPacket struct {
	dstPort int
	payload []byte
}

// writeCapture builds an Ethernet/IPv4/UDP pcap stream.
func writeCapture(t *testing.T, packets ...udpPacket) []byte {
	t.Helper()
	var out bytes.Buffer
	w := pcapgo.NewWriter(&out)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	for i, p := range packets {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x01, 0, 0x5e, 0x7f, 0, 1},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 1, 10),
			DstIP:    net.IPv4(239, 255, 0, 1),
		}
		udp := &layers.UDP{SrcPort: 50000, DstPort: layers.UDPPort(p.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		require.NoError(t, gopacket.SerializeLayers(buf,
			gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
			eth, ip, udp, gopacket.Payload(p.payload)))
		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     captureStart.Add(time.Duration(i) * 25 * time.Millisecond),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return out.Bytes()
}

func sacnData(universe uint16, seq uint8, data ...byte) []byte {
	return (&sacn.DataPacket{
		CID:        [16]byte{1, 2, 3},
		SourceName: "Desk",
		Priority:   100,
		Sequence:   seq,
		Universe:   universe,
		Data:       data,
	}).Encode()
}

func testCapture(t *testing.T) []byte {
	return writeCapture(t,
		udpPacket{sacn.DefaultPort, sacnData(1, 1, 255, 0, 128)},
		udpPacket{sacn.DefaultPort, sacnData(2, 1, 10)},
		udpPacket{sacn.DefaultPort, (&sacn.SyncPacket{Sequence: 4, SyncAddress: 7}).Encode()},
		udpPacket{artnet.DefaultPort, artnet.BuildDMXPacket(0, []byte{0, 50}, 3)},
		udpPacket{artnet.DefaultPort, artnet.BuildPollPacket()},
		udpPacket{sacn.DefaultPort, []byte("garbage")},
		udpPacket{9999, []byte("other")},
	)
}

func TestInspectPCAP(t *testing.T) {
	var records []Record
	sum, err := inspectPCAP(bytes.NewReader(testCapture(t)), Filter{Channels: 2}, func(r Record) {
		records = append(records, r)
	})
	require.NoError(t, err)

	assert.Equal(t, 7, sum.Packets)
	assert.Equal(t, 3, sum.SACN)
	assert.Equal(t, 1, sum.ArtNet)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, map[uint16]int{1: 2, 2: 1}, sum.Universes)

	require.Len(t, records, 4)
	first := records[0]
	assert.Equal(t, protoSACN, first.Protocol)
	assert.Equal(t, "Desk", first.Source)
	assert.Equal(t, "192.168.1.10", first.From)
	assert.Equal(t, captureStart, first.Time.UTC())
	assert.Equal(t, 2, first.Active)
	assert.Equal(t, []int{255, 0}, first.Channels)
	assert.Equal(t, "01020300-0000-0000-0000-000000000000", first.CID)

	assert.True(t, records[2].Sync)
	assert.Equal(t, uint16(7), records[2].Universe)

	art := records[3]
	assert.Equal(t, protoArtNet, art.Protocol)
	assert.Equal(t, uint16(1), art.Universe, "port-address 0 is universe 1")
	assert.Equal(t, "0:0:0", art.PortAddress)
	assert.Equal(t, uint8(3), art.Sequence)
	assert.Equal(t, 1, art.Active)
}

func TestInspectPCAP_UniverseFilter(t *testing.T) {
	var records []Record
	_, err := inspectPCAP(bytes.NewReader(testCapture(t)), Filter{Universe: 2}, func(r Record) {
		records = append(records, r)
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint16(2), records[0].Universe)
	assert.Empty(t, records[0].Channels)
}

func TestInspectPCAP_NotPCAP(t *testing.T) {
	_, err := inspectPCAP(strings.NewReader("not a capture"), Filter{}, func(Record) {})
	assert.Error(t, err)
}

func TestPCAPCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "show.pcap")
	require.NoError(t, os.WriteFile(path, testCapture(t), 0o600))

	var out bytes.Buffer
	cmd := newCommand()
	cmd.Writer = &out
	require.NoError(t, cmd.Run(context.Background(), []string{"sacn-inspect", "pcap", "--json", "-u", "1", path}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3, "two universe-1 frames and a summary")

	var rec Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, protoSACN, rec.Protocol)

	var sum Summary
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &sum))
	assert.Equal(t, 7, sum.Packets)
}

func TestPCAPCommand_Errors(t *testing.T) {
	cmd := newCommand()
	cmd.Writer = &bytes.Buffer{}
	assert.Error(t, cmd.Run(context.Background(), []string{"sacn-inspect", "pcap"}))

	cmd = newCommand()
	cmd.Writer = &bytes.Buffer{}
	assert.Error(t, cmd.Run(context.Background(), []string{"sacn-inspect", "pcap", "-u", "64000", "x.pcap"}))
}

func TestPrinter_Text(t *testing.T) {
	var out bytes.Buffer
	p := printer{w: &out}
	p.record(Record{Time: captureStart, Protocol: protoSACN, Universe: 1, Sequence: 9, Priority: 100,
		Source: "Desk", Active: 1, Channels: []int{255}, Terminated: true})

	line := out.String()
	assert.Contains(t, line, `src="Desk"`)
	assert.Contains(t, line, "active=1 [255]")
	assert.Contains(t, line, "[terminated]")

	out.Reset()
	p.record(Record{Time: captureStart, Protocol: protoArtNet, Universe: 19, PortAddress: "0:1:2", Active: 0})
	assert.Contains(t, out.String(), "port=0:1:2")
}
