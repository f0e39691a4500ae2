package artnet

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	goartnet "github.com/Haba1234/go-artnet"

	"github.com/bbernstein/lacylights-engine/internal/logger"
	"github.com/bbernstein/lacylights-engine/internal/services/network"
)

// Node is a discovered Art-Net node.
type Node struct {
	Name         string   `json:"name"`
	IP           string   `json:"ip"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Description  string   `json:"description,omitempty"`
	Outputs      []string `json:"outputs"`
}

// Discovery listens for ArtPollReply packets through a go-artnet controller and keeps
// the list of nodes answering on the network.
type Discovery struct {
	log        *logger.Log
	controller *goartnet.Controller
	ip         net.IP

	mu      sync.Mutex
	running bool
}

// NewDiscovery prepares a discovery controller bound to the given local IPv4 address,
// or to the first non-loopback interface when address is empty.
func NewDiscovery(address string, log *logger.Log) (*Discovery, error) {
	ip, err := localIP(address)
	if err != nil {
		return nil, err
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	return &Discovery{
		log:        log.Module("artnet-discovery"),
		controller: goartnet.NewController(host, ip, goartnet.NewDefaultLogger("info"), goartnet.MaxFPS(1)),
		ip:         ip,
	}, nil
}

func localIP(address string) (net.IP, error) {
	if address != "" {
		ip := net.ParseIP(address).To4()
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", network.ErrUnknownDestination, address)
		}
		return ip, nil
	}

	ifaces, err := network.ListInterfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Kind == "localhost" || iface.Kind == "global" {
			continue
		}
		return net.ParseIP(iface.Address).To4(), nil
	}
	return nil, fmt.Errorf("%w: no usable interface for discovery", network.ErrUnknownDestination)
}

// Start begins polling for nodes.
func (d *Discovery) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}
	if err := d.controller.Start(); err != nil {
		return fmt.Errorf("failed to start Art-Net discovery: %w", err)
	}
	d.running = true
	d.log.WithField("ip", d.ip.String()).Info("🔍 Art-Net discovery started")
	return nil
}

// Stop ends polling.
func (d *Discovery) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.controller.Stop()
	d.running = false
}

// Nodes returns the nodes currently known to the controller.
func (d *Discovery) Nodes() []Node {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if !running {
		return []Node{}
	}

	nodes := make([]Node, 0, len(d.controller.Nodes))
	for _, n := range d.controller.Nodes {
		nodes = append(nodes, nodeInfo(n))
	}
	return nodes
}

func nodeInfo(n *goartnet.ControlledNode) Node {
	outputs := make([]string, 0, len(n.Node.OutputPorts))
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, p.Address.String())
	}
	return Node{
		Name:         n.Node.Name,
		IP:           n.UDPAddress.IP.String(),
		Manufacturer: n.Node.Manufacturer,
		Description:  n.Node.Description,
		Outputs:      outputs,
	}
}
