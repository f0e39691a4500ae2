// Package network enumerates local IPv4 interfaces and resolves the destination
// addresses used by the Art-Net and sACN transmitters.
package network

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrUnknownDestination is returned when a destination names no IP or interface.
var ErrUnknownDestination = errors.New("network: unknown destination")

const (
	// GlobalBroadcast is the limited broadcast destination name.
	GlobalBroadcast = "global-broadcast"
	// Localhost is the loopback destination name.
	Localhost = "localhost"
)

// Interface is one usable output destination.
type Interface struct {
	Name        string `json:"name"`
	Address     string `json:"address"`
	Broadcast   string `json:"broadcast"`
	Kind        string `json:"kind"` // "ethernet", "wifi", "other", "localhost", "global"
	Description string `json:"description"`
}

// Kind guesses the interface type from common naming patterns.
func Kind(ifaceName string) string {
	name := strings.ToLower(ifaceName)

	// en0 is typically WiFi on macOS
	if name == "en0" {
		return "wifi"
	}
	if strings.HasPrefix(name, "wl") || strings.Contains(name, "wifi") || strings.Contains(name, "wireless") {
		return "wifi"
	}
	if strings.HasPrefix(name, "eth") || strings.HasPrefix(name, "en") {
		return "ethernet"
	}
	return "other"
}

func kindIcon(kind string) string {
	switch kind {
	case "wifi":
		return "📶"
	case "ethernet":
		return "🌐"
	case "localhost":
		return "🏠"
	case "global":
		return "🌍"
	default:
		return "📡"
	}
}

// calculateBroadcast computes the broadcast address from IP and netmask
func calculateBroadcast(ip net.IP, mask net.IPMask) net.IP {
	if ip == nil || mask == nil {
		return nil
	}

	ip4 := ip.To4()
	if ip4 == nil {
		return nil
	}

	if len(mask) == 16 {
		mask = mask[12:16]
	}
	if len(mask) != 4 {
		return nil
	}

	broadcast := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		broadcast[i] = ip4[i] | ^mask[i]
	}
	return broadcast
}

// ListInterfaces returns the broadcast-capable IPv4 interfaces, ethernet first, then
// wifi and others, followed by the localhost and global broadcast pseudo-interfaces.
func ListInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	rank := map[string]int{"ethernet": 0, "wifi": 1, "other": 2}
	buckets := make([][]Interface, 3)

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			ip4 := ipNet.IP.To4()
			broadcast := calculateBroadcast(ip4, ipNet.Mask)
			// Skip point-to-point links
			if broadcast == nil || broadcast.Equal(ip4) {
				continue
			}

			kind := Kind(iface.Name)
			buckets[rank[kind]] = append(buckets[rank[kind]], Interface{
				Name:        iface.Name,
				Address:     ip4.String(),
				Broadcast:   broadcast.String(),
				Kind:        kind,
				Description: fmt.Sprintf("%s %s broadcast (%s)", kindIcon(kind), iface.Name, broadcast),
			})
		}
	}

	var out []Interface
	for _, b := range buckets {
		out = append(out, b...)
	}
	return append(out,
		Interface{
			Name:        Localhost,
			Address:     "127.0.0.1",
			Broadcast:   "127.0.0.1",
			Kind:        "localhost",
			Description: kindIcon("localhost") + " Localhost (for testing only)",
		},
		Interface{
			Name:        GlobalBroadcast,
			Address:     "0.0.0.0",
			Broadcast:   "255.255.255.255",
			Kind:        "global",
			Description: kindIcon("global") + " Global Broadcast (255.255.255.255)",
		},
	), nil
}

// ResolveDestination turns a configured destination into an IPv4 address. It accepts
// an IP literal, an interface name (its subnet broadcast), "localhost", or
// "global-broadcast". Empty means global broadcast.
func ResolveDestination(dest string) (net.IP, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" || dest == GlobalBroadcast {
		return net.IPv4bcast, nil
	}
	if dest == Localhost {
		return net.IPv4(127, 0, 0, 1), nil
	}
	if ip := net.ParseIP(dest); ip != nil {
		if ip.To4() == nil {
			return nil, fmt.Errorf("%w: %s is not IPv4", ErrUnknownDestination, dest)
		}
		return ip.To4(), nil
	}

	ifaces, err := ListInterfaces()
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(dest, "-broadcast")
	for _, iface := range ifaces {
		if iface.Name == name {
			return net.ParseIP(iface.Broadcast).To4(), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownDestination, dest)
}
