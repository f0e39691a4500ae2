// Package artnet sends ArtDMX frames to Art-Net nodes and discovers nodes on the network.
package artnet

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/network"
	"github.com/bbernstein/lacylights-engine/pkg/artnet"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
)

// ErrClosed is returned when sending on a closed transmitter.
var ErrClosed = errors.New("artnet: transmitter closed")

const errorLogInterval = 5 * time.Second

// Config describes one Art-Net output.
type Config struct {
	Name string
	// Destination is an IP, an interface name, "localhost" or "global-broadcast".
	Destination string
	Port        int
	// Universe is the local universe sent to the node.
	Universe    dmx.UniverseID
	PortAddress artnet.PortAddress
}

// Status is a point-in-time view of a transmitter.
type Status struct {
	Name        string `json:"name"`
	Destination string `json:"destination"`
	Universe    uint16 `json:"universe"`
	PortAddress string `json:"portAddress"`
	PacketsSent uint64 `json:"packetsSent"`
	SendErrors  uint64 `json:"sendErrors"`
	LastError   string `json:"lastError,omitempty"`
}

// Transmitter owns one broadcast-capable UDP socket and sends one ArtDMX packet per
// SendDMX call. There is no sequencing, priority or synchronization.
type Transmitter struct {
	cfg  Config
	log  *logger.Log
	dest *net.UDPAddr

	mu      sync.Mutex
	conn    *net.UDPConn
	lastErr string
	lastLog time.Time

	packetsSent atomic.Uint64
	sendErrors  atomic.Uint64
}

// NewTransmitter resolves the destination and binds the socket.
func NewTransmitter(cfg Config, log *logger.Log) (*Transmitter, error) {
	if cfg.Universe == 0 {
		return nil, fmt.Errorf("artnet %q: %w", cfg.Name, dmx.ErrUniverseOutOfRange)
	}
	if cfg.Port == 0 {
		cfg.Port = artnet.DefaultPort
	}

	ip, err := network.ResolveDestination(cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("artnet %q: %w", cfg.Name, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("artnet %q: bind: %w", cfg.Name, err)
	}
	if err := setBroadcast(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("artnet %q: enable broadcast: %w", cfg.Name, err)
	}

	t := &Transmitter{
		cfg:  cfg,
		log:  log.Module("artnet").With(logger.Fields{"node": cfg.Name}),
		dest: &net.UDPAddr{IP: ip, Port: cfg.Port},
		conn: conn,
	}
	t.log.WithFields(map[string]interface{}{
		"dest":     t.dest.String(),
		"universe": cfg.Universe,
		"port":     cfg.PortAddress.String(),
	}).Info("🎭 Art-Net output ready")
	return t, nil
}

// Universe returns the local universe this transmitter sends.
func (t *Transmitter) Universe() dmx.UniverseID {
	return t.cfg.Universe
}

// SendDMX wraps up to 512 bytes in an ArtDMX packet and sends it once.
func (t *Transmitter) SendDMX(data []byte) error {
	return t.write(artnet.BuildDMXPacket(t.cfg.PortAddress, data, 0))
}

// Transmit sends the transmitter's universe from a resolved frame. Errors are
// counted and logged, never returned.
func (t *Transmitter) Transmit(frame *dmx.Multiverse) {
	data, _ := frame.Universe(t.cfg.Universe)
	if err := t.SendDMX(data[:]); err != nil {
		t.recordError(err)
	}
}

// Poll broadcasts an ArtPoll so nodes announce themselves.
func (t *Transmitter) Poll() error {
	return t.write(artnet.BuildPollPacket())
}

func (t *Transmitter) write(b []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrClosed
	}

	if _, err := conn.WriteToUDP(b, t.dest); err != nil {
		return err
	}
	t.packetsSent.Add(1)
	return nil
}

func (t *Transmitter) recordError(err error) {
	t.sendErrors.Add(1)

	t.mu.Lock()
	t.lastErr = err.Error()
	logNow := time.Since(t.lastLog) >= errorLogInterval
	if logNow {
		t.lastLog = time.Now()
	}
	t.mu.Unlock()

	if logNow {
		t.log.WithError(err).Warn("Art-Net send failed")
	}
}

// Close releases the socket.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// Status reports the transmitter's counters.
func (t *Transmitter) Status() Status {
	t.mu.Lock()
	lastErr := t.lastErr
	t.mu.Unlock()

	return Status{
		Name:        t.cfg.Name,
		Destination: t.dest.String(),
		Universe:    uint16(t.cfg.Universe),
		PortAddress: t.cfg.PortAddress.String(),
		PacketsSent: t.packetsSent.Load(),
		SendErrors:  t.sendErrors.Load(),
		LastError:   lastErr,
	}
}
