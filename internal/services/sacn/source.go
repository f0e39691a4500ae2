// Package sacn runs sACN (E1.31) sources that stream resolved universes to the network.
package sacn

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/pkg/dmx"
	e131 "github.com/bbernstein/lacylights-engine/pkg/sacn"
)

// terminateRepeats is how many stream-terminated packets are sent per universe at Stop.
const terminateRepeats = 3

// errorLogInterval limits send error logging per source.
const errorLogInterval = 5 * time.Second

// UniverseMap forwards a local universe to a destination universe number on the wire.
type UniverseMap struct {
	Local       dmx.UniverseID
	Destination uint16
}

// Config describes one sACN source.
type Config struct {
	Name string
	CID  uuid.UUID
	// Destination is a unicast IP. Empty means the per-universe multicast group.
	Destination string
	Port        int
	Priority    uint8
	Preview     bool
	// SyncAddress is the synchronization universe; 0 disables synchronization.
	SyncAddress uint16
	ForceSync   bool
	Universes   []UniverseMap
}

// DeriveCID returns a stable per-source CID from the installation CID and the source name.
func DeriveCID(installation uuid.UUID, name string) uuid.UUID {
	return uuid.NewSHA1(installation, []byte(name))
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	if c.Priority > e131.MaxPriority {
		return fmt.Errorf("%w: %d", ErrPriority, c.Priority)
	}
	if len(c.Name) > e131.SourceNameLength {
		return fmt.Errorf("%w: %q", ErrSourceName, c.Name)
	}
	if c.CID == uuid.Nil {
		return ErrCID
	}
	if len(c.Universes) == 0 {
		return ErrNoUniverses
	}
	// Each destination owns one sequence counter, so two locals cannot share it.
	destinations := make(map[uint16]bool, len(c.Universes))
	for _, u := range c.Universes {
		if u.Local == 0 || u.Local > dmx.MaxUniverseID {
			return fmt.Errorf("%w: local %d", ErrUniverse, u.Local)
		}
		if !e131.ValidUniverse(u.Destination) {
			return fmt.Errorf("%w: destination %d", ErrUniverse, u.Destination)
		}
		if destinations[u.Destination] {
			return fmt.Errorf("%w: destination %d used twice", ErrUniverse, u.Destination)
		}
		destinations[u.Destination] = true
	}
	if c.SyncAddress != 0 && !e131.ValidUniverse(c.SyncAddress) {
		return fmt.Errorf("%w: sync address %d", ErrUniverse, c.SyncAddress)
	}
	if c.Destination != "" && net.ParseIP(c.Destination).To4() == nil {
		return fmt.Errorf("%w: %q", ErrDestination, c.Destination)
	}
	return nil
}

// Status is a point-in-time view of a source.
type Status struct {
	Name          string   `json:"name"`
	CID           string   `json:"cid"`
	Running       bool     `json:"running"`
	Destination   string   `json:"destination"`
	Priority      uint8    `json:"priority"`
	Universes     []uint16 `json:"universes"`
	FramesSent    uint64   `json:"framesSent"`
	PacketsSent   uint64   `json:"packetsSent"`
	SendErrors    uint64   `json:"sendErrors"`
	FramesDropped uint64   `json:"framesDropped"`
	LastError     string   `json:"lastError,omitempty"`
}

// Source streams its assigned universes. Frames are handed in with Submit by the
// scheduler and sent from the source's own goroutine.
type Source struct {
	cfg Config
	log *logger.Log

	universes []UniverseMap
	dests     map[uint16]*net.UDPAddr
	syncDest  *net.UDPAddr

	mailbox chan *dmx.Multiverse
	stopCh  chan struct{}
	done    chan struct{}

	mu       sync.Mutex
	conn     *net.UDPConn
	running  bool
	lastErr  string
	lastLog  time.Time
	sequence map[uint16]uint8
	syncSeq  uint8
	lastData map[uint16][]byte

	framesSent    atomic.Uint64
	packetsSent   atomic.Uint64
	sendErrors    atomic.Uint64
	framesDropped atomic.Uint64
}

// NewSource validates cfg and prepares a source. No socket is opened until Start.
func NewSource(cfg Config, log *logger.Log) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("source %q: %w", cfg.Name, err)
	}
	if cfg.Port == 0 {
		cfg.Port = e131.DefaultPort
	}

	universes := append([]UniverseMap(nil), cfg.Universes...)
	sort.Slice(universes, func(i, j int) bool { return universes[i].Destination < universes[j].Destination })

	s := &Source{
		cfg:       cfg,
		log:       log.Module("sacn").With(logger.Fields{"source": cfg.Name}),
		universes: universes,
		dests:     make(map[uint16]*net.UDPAddr, len(universes)),
		mailbox:   make(chan *dmx.Multiverse, 1),
		sequence:  make(map[uint16]uint8, len(universes)),
		lastData:  make(map[uint16][]byte, len(universes)),
	}
	for _, u := range universes {
		s.dests[u.Destination] = s.destination(u.Destination)
	}
	if s.syncing() {
		s.syncDest = s.destination(cfg.SyncAddress)
	}
	return s, nil
}

func (s *Source) destination(universe uint16) *net.UDPAddr {
	if s.cfg.Destination != "" {
		return &net.UDPAddr{IP: net.ParseIP(s.cfg.Destination), Port: s.cfg.Port}
	}
	return &net.UDPAddr{IP: e131.MulticastAddr(universe), Port: s.cfg.Port}
}

func (s *Source) syncing() bool {
	return s.cfg.ForceSync && s.cfg.SyncAddress != 0
}

// Name returns the configured source name.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Start binds the outbound socket and starts the send loop.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyActive
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return fmt.Errorf("source %q: bind: %w", s.cfg.Name, err)
	}

	s.conn = conn
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.sendLoop(conn, s.stopCh, s.done)

	s.log.WithFields(map[string]interface{}{
		"priority":  s.cfg.Priority,
		"universes": len(s.universes),
		"dest":      s.describeDestination(),
	}).Info("📡 sACN source started")
	return nil
}

// Submit hands the latest resolved frame to the send loop. It never blocks; an
// unsent older frame is replaced.
func (s *Source) Submit(frame *dmx.Multiverse) {
	select {
	case s.mailbox <- frame:
		return
	default:
	}

	select {
	case <-s.mailbox:
		s.framesDropped.Add(1)
	default:
	}

	select {
	case s.mailbox <- frame:
	default:
		s.framesDropped.Add(1)
	}
}

// Stop sends stream-terminated packets, stops the loop and closes the socket.
func (s *Source) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	close(stopCh)
	<-done

	s.mu.Lock()
	_ = s.conn.Close()
	s.conn = nil
	s.mu.Unlock()

	s.log.Info("sACN source stopped")
}

func (s *Source) sendLoop(conn *net.UDPConn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			s.terminate(conn)
			return
		case frame := <-s.mailbox:
			s.sendFrame(conn, frame)
		}
	}
}

// sendFrame sends one Data packet per universe, then a Sync packet when synchronizing.
func (s *Source) sendFrame(conn *net.UDPConn, frame *dmx.Multiverse) {
	for _, u := range s.universes {
		data, _ := frame.Universe(u.Local)
		pkt := s.dataPacket(u.Destination, data[:], e131.Options{Preview: s.cfg.Preview})
		s.send(conn, pkt.Encode(), s.dests[u.Destination])
	}

	if s.syncing() {
		s.mu.Lock()
		seq := s.syncSeq
		s.syncSeq++
		s.mu.Unlock()

		pkt := &e131.SyncPacket{CID: s.cfg.CID, Sequence: seq, SyncAddress: s.cfg.SyncAddress}
		s.send(conn, pkt.Encode(), s.syncDest)
	}
	s.framesSent.Add(1)
}

func (s *Source) terminate(conn *net.UDPConn) {
	for _, u := range s.universes {
		s.mu.Lock()
		data := s.lastData[u.Destination]
		s.mu.Unlock()

		for i := 0; i < terminateRepeats; i++ {
			pkt := s.dataPacket(u.Destination, data, e131.Options{Preview: s.cfg.Preview, StreamTerminated: true})
			s.send(conn, pkt.Encode(), s.dests[u.Destination])
		}
	}
}

func (s *Source) dataPacket(universe uint16, data []byte, opts e131.Options) *e131.DataPacket {
	s.mu.Lock()
	seq := s.sequence[universe]
	s.sequence[universe] = seq + 1
	s.lastData[universe] = data
	s.mu.Unlock()

	pkt := &e131.DataPacket{
		CID:        s.cfg.CID,
		SourceName: s.cfg.Name,
		Priority:   s.cfg.Priority,
		Sequence:   seq,
		Options:    opts,
		Universe:   universe,
		Data:       data,
	}
	if s.syncing() {
		pkt.SyncAddress = s.cfg.SyncAddress
		pkt.Options.ForceSync = true
	}
	return pkt
}

func (s *Source) send(conn *net.UDPConn, b []byte, dest *net.UDPAddr) {
	if _, err := conn.WriteToUDP(b, dest); err != nil {
		s.sendErrors.Add(1)

		s.mu.Lock()
		s.lastErr = err.Error()
		logNow := time.Since(s.lastLog) >= errorLogInterval
		if logNow {
			s.lastLog = time.Now()
		}
		s.mu.Unlock()

		if logNow {
			s.log.WithError(err).WithField("dest", dest.String()).Warn("sACN send failed")
		}
		return
	}
	s.packetsSent.Add(1)
}

func (s *Source) describeDestination() string {
	if s.cfg.Destination != "" {
		return fmt.Sprintf("%s:%d", s.cfg.Destination, s.cfg.Port)
	}
	return "multicast"
}

// Status reports the source's counters.
func (s *Source) Status() Status {
	s.mu.Lock()
	running, lastErr := s.running, s.lastErr
	s.mu.Unlock()

	universes := make([]uint16, len(s.universes))
	for i, u := range s.universes {
		universes[i] = u.Destination
	}

	return Status{
		Name:          s.cfg.Name,
		CID:           s.cfg.CID.String(),
		Running:       running,
		Destination:   s.describeDestination(),
		Priority:      s.cfg.Priority,
		Universes:     universes,
		FramesSent:    s.framesSent.Load(),
		PacketsSent:   s.packetsSent.Load(),
		SendErrors:    s.sendErrors.Load(),
		FramesDropped: s.framesDropped.Load(),
		LastError:     lastErr,
	}
}
