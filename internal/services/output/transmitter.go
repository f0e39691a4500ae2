package output

import (
	"fmt"

	"github.com/bbernstein/lacylights-engine/internal/services/artnet"
	"github.com/bbernstein/lacylights-engine/internal/services/sacn"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// Kind identifies the protocol behind a Transmitter.
type Kind int

const (
	KindSacn Kind = iota + 1
	KindArtnet
)

func (k Kind) String() string {
	switch k {
	case KindSacn:
		return "sacn"
	case KindArtnet:
		return "artnet"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Transmitter is one output of the scheduler: either an sACN source or an
// Art-Net transmitter. Only the constructors below produce valid values.
type Transmitter struct {
	kind   Kind
	sacn   *sacn.Source
	artnet *artnet.Transmitter
}

// SacnTransmitter wraps a started sACN source.
func SacnTransmitter(src *sacn.Source) Transmitter {
	return Transmitter{kind: KindSacn, sacn: src}
}

// ArtnetTransmitter wraps an Art-Net transmitter.
func ArtnetTransmitter(tx *artnet.Transmitter) Transmitter {
	return Transmitter{kind: KindArtnet, artnet: tx}
}

// Kind reports the protocol.
func (t Transmitter) Kind() Kind {
	return t.kind
}

// Name returns the configured output name.
func (t Transmitter) Name() string {
	switch t.kind {
	case KindSacn:
		return t.sacn.Name()
	case KindArtnet:
		return t.artnet.Status().Name
	}
	return ""
}

// Transmit hands a resolved frame to the output. sACN sources queue it for their
// own goroutine; Art-Net sends synchronously on the caller's goroutine.
func (t Transmitter) Transmit(frame *dmx.Multiverse) {
	switch t.kind {
	case KindSacn:
		t.sacn.Submit(frame)
	case KindArtnet:
		t.artnet.Transmit(frame)
	}
}

// Stop terminates the output. sACN sources send their stream-terminated packets.
func (t Transmitter) Stop() {
	switch t.kind {
	case KindSacn:
		t.sacn.Stop()
	case KindArtnet:
		_ = t.artnet.Close()
	}
}

// Poll sends an ArtPoll from an Art-Net output. sACN has no poll, so sent is false
// for sACN sources.
func (t Transmitter) Poll() (sent bool, err error) {
	if t.kind != KindArtnet {
		return false, nil
	}
	if err := t.artnet.Poll(); err != nil {
		return false, err
	}
	return true, nil
}

// Status is the JSON view of one output. Exactly one of Sacn and Artnet is set.
type Status struct {
	Kind   string         `json:"kind"`
	Sacn   *sacn.Status   `json:"sacn,omitempty"`
	Artnet *artnet.Status `json:"artnet,omitempty"`
}

// Status returns the output's counters.
func (t Transmitter) Status() Status {
	st := Status{Kind: t.kind.String()}
	switch t.kind {
	case KindSacn:
		s := t.sacn.Status()
		st.Sacn = &s
	case KindArtnet:
		a := t.artnet.Status()
		st.Artnet = &a
	}
	return st
}
