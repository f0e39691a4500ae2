package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/sacn"
)

const (
	protoSACN   = "sacn"
	protoArtNet = "artnet"
)

// Record is one decoded packet.
type Record struct {
	Time     time.Time `json:"time"`
	Protocol string    `json:"protocol"`
	From     string    `json:"from,omitempty"`
	Source   string    `json:"source,omitempty"`
	CID      string    `json:"cid,omitempty"`
	Universe uint16    `json:"universe"`
	// PortAddress is the Art-Net Net:SubNet:Universe as sent on the wire.
	PortAddress string `json:"portAddress,omitempty"`
	Sequence    uint8  `json:"sequence"`
	Priority    uint8  `json:"priority,omitempty"`
	Sync        bool   `json:"sync,omitempty"`
	Preview     bool   `json:"preview,omitempty"`
	Terminated  bool   `json:"terminated,omitempty"`
	Active      int    `json:"active"`
	Channels    []int  `json:"channels,omitempty"`
}

// Filter selects and trims records.
type Filter struct {
	Universe uint16 // 0 matches every universe
	Channels int    // leading channels to include
}

// Summary counts what a capture contained.
type Summary struct {
	Packets   int            `json:"packets"`
	SACN      int            `json:"sacn"`
	ArtNet    int            `json:"artnet"`
	Errors    int            `json:"errors"`
	Universes map[uint16]int `json:"universes"`
}

func newSummary() Summary {
	return Summary{Universes: make(map[uint16]int)}
}

func (s *Summary) add(r Record) {
	switch r.Protocol {
	case protoSACN:
		s.SACN++
	case protoArtNet:
		s.ArtNet++
	}
	if !r.Sync {
		s.Universes[r.Universe]++
	}
}

// decodeSACN decodes an E1.31 payload. ok is false when the filter rejects it.
func decodeSACN(payload []byte, f Filter) (Record, bool, error) {
	pkt, err := sacn.Decode(payload)
	if err != nil {
		return Record{}, false, err
	}
	switch p := pkt.(type) {
	case *sacn.DataPacket:
		if f.Universe != 0 && p.Universe != f.Universe {
			return Record{}, false, nil
		}
		r := Record{
			Protocol:   protoSACN,
			Source:     p.SourceName,
			CID:        uuid.UUID(p.CID).String(),
			Universe:   p.Universe,
			Sequence:   p.Sequence,
			Priority:   p.Priority,
			Preview:    p.Options.Preview,
			Terminated: p.Options.StreamTerminated,
		}
		fillChannels(&r, p.Data, f.Channels)
		return r, true, nil
	case *sacn.SyncPacket:
		if f.Universe != 0 && p.SyncAddress != f.Universe {
			return Record{}, false, nil
		}
		return Record{
			Protocol: protoSACN,
			CID:      uuid.UUID(p.CID).String(),
			Universe: p.SyncAddress,
			Sequence: p.Sequence,
			Sync:     true,
		}, true, nil
	}
	return Record{}, false, fmt.Errorf("unexpected packet %T", pkt)
}

// decodeArtNet decodes an ArtDMX payload. Other opcodes are skipped.
func decodeArtNet(payload []byte, f Filter) (Record, bool, error) {
	op, err := artnet.OpCode(payload)
	if err != nil {
		return Record{}, false, err
	}
	if op != artnet.OpCodeDMX {
		return Record{}, false, nil
	}
	p, err := artnet.ParseDMXPacket(payload)
	if err != nil {
		return Record{}, false, err
	}
	// Universe assumes the engine's default mapping, universe N at port-address N-1.
	// Nodes patched with an explicit Net:SubNet:Universe are identified by PortAddress.
	universe := uint16(p.Port) + 1
	if f.Universe != 0 && universe != f.Universe {
		return Record{}, false, nil
	}
	r := Record{
		Protocol:    protoArtNet,
		Universe:    universe,
		PortAddress: p.Port.String(),
		Sequence:    p.Sequence,
	}
	fillChannels(&r, p.Data, f.Channels)
	return r, true, nil
}

func fillChannels(r *Record, data []byte, n int) {
	for _, v := range data {
		if v != 0 {
			r.Active++
		}
	}
	if n > len(data) {
		n = len(data)
	}
	r.Channels = make([]int, n)
	for i := 0; i < n; i++ {
		r.Channels[i] = int(data[i])
	}
}

// decodeUDP dispatches on destination port.
func decodeUDP(dstPort int, payload []byte, f Filter) (Record, bool, error) {
	switch dstPort {
	case sacn.DefaultPort:
		return decodeSACN(payload, f)
	case artnet.DefaultPort:
		return decodeArtNet(payload, f)
	}
	return Record{}, false, nil
}

// inspectPCAP decodes every sACN and Art-Net packet in a pcap stream.
func inspectPCAP(r io.Reader, f Filter, emit func(Record)) (Summary, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read pcap header: %w", err)
	}

	sum := newSummary()
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, fmt.Errorf("failed to read packet %d: %w", sum.Packets+1, err)
		}
		sum.Packets++

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		rec, ok, err := decodeUDP(int(udp.DstPort), udp.Payload, f)
		if err != nil {
			sum.Errors++
			continue
		}
		if !ok {
			continue
		}
		rec.Time = packet.Metadata().Timestamp
		if ip, ok := packet.NetworkLayer().(*layers.IPv4); ok {
			rec.From = ip.SrcIP.String()
		}
		sum.add(rec)
		emit(rec)
	}
}

// printer writes records as text lines or JSON lines.
type printer struct {
	w    io.Writer
	json bool
}

func (p printer) record(r Record) {
	if p.json {
		_ = json.NewEncoder(p.w).Encode(r)
		return
	}
	var flags []string
	if r.Sync {
		flags = append(flags, "sync")
	}
	if r.Preview {
		flags = append(flags, "preview")
	}
	if r.Terminated {
		flags = append(flags, "terminated")
	}
	line := fmt.Sprintf("%s %-6s u=%-5d seq=%-3d", r.Time.Format("15:04:05.000"), r.Protocol, r.Universe, r.Sequence)
	if r.Protocol == protoSACN && !r.Sync {
		line += fmt.Sprintf(" prio=%-3d src=%q", r.Priority, r.Source)
	}
	if r.PortAddress != "" {
		line += " port=" + r.PortAddress
	}
	if r.From != "" {
		line += " from=" + r.From
	}
	if !r.Sync {
		line += fmt.Sprintf(" active=%d %v", r.Active, r.Channels)
	}
	if len(flags) > 0 {
		line += " [" + strings.Join(flags, ",") + "]"
	}
	fmt.Fprintln(p.w, line)
}

func (p printer) summary(s Summary) {
	if p.json {
		_ = json.NewEncoder(p.w).Encode(s)
		return
	}
	fmt.Fprintf(p.w, "%d packets: %d sACN, %d Art-Net, %d undecodable\n", s.Packets, s.SACN, s.ArtNet, s.Errors)
	ids := make([]int, 0, len(s.Universes))
	for u := range s.Universes {
		ids = append(ids, int(u))
	}
	sort.Ints(ids)
	for _, u := range ids {
		fmt.Fprintf(p.w, "  universe %d: %d frames\n", u, s.Universes[uint16(u)])
	}
}
